package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the exchange service collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	RequestsCreated     prometheus.Counter
	AcceptTotal         *prometheus.CounterVec // result=accepted|noop|conflict|invalid|error
	RejectTotal         *prometheus.CounterVec // reason=declined|competing
	ExchangeTransitions *prometheus.CounterVec // status=IN_PROGRESS|COMPLETED|...
	NotifyFailures      *prometheus.CounterVec // kind=<event kind>
	OpLatencyMS         *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookswap_requests_created_total",
			Help: "Total exchange requests created",
		}),
		AcceptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookswap_accept_total",
				Help: "Total accept attempts by result",
			},
			[]string{"result"},
		),
		RejectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookswap_reject_total",
				Help: "Total rejected requests by reason",
			},
			[]string{"reason"},
		),
		ExchangeTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookswap_exchange_transitions_total",
				Help: "Total exchange status transitions by target status",
			},
			[]string{"status"},
		),
		NotifyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookswap_notify_failures_total",
				Help: "Notifications or journal writes that failed and were dropped",
			},
			[]string{"kind"},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookswap_op_latency_ms",
				Help:    "Latency of exchange operations (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2048ms
			},
			[]string{"op"},
		),
	}

	reg.MustRegister(
		m.RequestsCreated,
		m.AcceptTotal,
		m.RejectTotal,
		m.ExchangeTransitions,
		m.NotifyFailures,
		m.OpLatencyMS,
	)

	return m
}

// ObserveLatency records the time elapsed since start for op
func (m *Metrics) ObserveLatency(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OpLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

// IncRequestCreated counts a created request
func (m *Metrics) IncRequestCreated() {
	if m == nil {
		return
	}
	m.RequestsCreated.Inc()
}

// IncAccept counts an accept attempt by result
func (m *Metrics) IncAccept(result string) {
	if m == nil {
		return
	}
	m.AcceptTotal.WithLabelValues(result).Inc()
}

// IncReject counts rejected requests
func (m *Metrics) IncReject(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RejectTotal.WithLabelValues(reason).Add(float64(n))
}

// IncTransition counts an exchange entering status
func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.ExchangeTransitions.WithLabelValues(status).Inc()
}

// IncNotifyFailure counts a dropped notification or journal entry
func (m *Metrics) IncNotifyFailure(kind string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(kind).Inc()
}
