package models

import "time"

// EventKind identifies a lifecycle event delivered to members and journaled
type EventKind string

const (
	EventRequestCreated           EventKind = "request_created"
	EventRequestAccepted          EventKind = "request_accepted"
	EventRequestRejected          EventKind = "request_rejected"
	EventRequestRejectedCompeting EventKind = "request_rejected_competing"
	EventTrackSet                 EventKind = "track_set"
	EventBookReceived             EventKind = "book_received"
	EventExchangeInProgress       EventKind = "exchange_in_progress"
	EventExchangeCompleted        EventKind = "exchange_completed"
	EventExchangeProblems         EventKind = "exchange_problems"
	EventExchangeCancelled        EventKind = "exchange_cancelled"
)

// Event represents a lifecycle event
type Event struct {
	ID          string            `json:"id"`
	Kind        EventKind         `json:"kind"`
	OccurredAt  time.Time         `json:"occurred_at"`
	RequestID   string            `json:"request_id,omitempty"`
	ExchangeID  string            `json:"exchange_id,omitempty"`
	ActorID     string            `json:"actor_id,omitempty"`
	RecipientID string            `json:"recipient_id,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
}
