package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookswap/internal/models"
	"bookswap/internal/obs"
	"bookswap/internal/storage"
)

type delivery struct {
	recipient *models.Member
	event     models.Event
}

// Batch collects events produced inside a transaction so they can be
// delivered once it has committed.
type Batch struct {
	items []delivery
}

// Add queues a notification to recipient, journaled as event
func (b *Batch) Add(recipient models.Member, event models.Event) {
	event.RecipientID = recipient.ID
	b.items = append(b.items, delivery{recipient: &recipient, event: event})
}

// Record queues a journal-only event
func (b *Batch) Record(event models.Event) {
	b.items = append(b.items, delivery{event: event})
}

// Len returns the number of queued events
func (b *Batch) Len() int {
	return len(b.items)
}

// Dispatcher delivers batches to the notifier and the journal. Failures are
// logged and counted, never returned.
type Dispatcher struct {
	notifier Notifier
	journal  storage.Journal
	logger   *zap.Logger
	metrics  *obs.Metrics
	now      func() time.Time
}

// NewDispatcher creates a dispatcher; journal and metrics may be nil
func NewDispatcher(notifier Notifier, journal storage.Journal, logger *zap.Logger, metrics *obs.Metrics) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		journal:  journal,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Deliver sends every queued event
func (d *Dispatcher) Deliver(ctx context.Context, b *Batch) {
	if b == nil {
		return
	}
	for _, it := range b.items {
		ev := it.event
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = d.now().UTC()
		}

		if d.journal != nil {
			if err := d.journal.RecordEvent(ctx, ev); err != nil {
				d.metrics.IncNotifyFailure(string(ev.Kind))
				d.logger.Warn("Failed to journal event",
					zap.Error(err),
					zap.String("kind", string(ev.Kind)),
					zap.String("exchange_id", ev.ExchangeID),
					zap.String("request_id", ev.RequestID),
				)
			}
		}

		if it.recipient == nil || d.notifier == nil {
			continue
		}
		if err := d.notifier.Notify(ctx, *it.recipient, ev.Kind, ev.Payload); err != nil {
			d.metrics.IncNotifyFailure(string(ev.Kind))
			d.logger.Warn("Failed to deliver notification",
				zap.Error(err),
				zap.String("kind", string(ev.Kind)),
				zap.String("recipient_id", it.recipient.ID),
			)
		}
	}
}
