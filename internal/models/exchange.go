package models

import "time"

// NoTrack marks a shipment sent without a tracking number
const NoTrack = "NO_TRACK"

// ExchangeStatus is the state of an exchange
type ExchangeStatus string

const (
	ExchangeOffered          ExchangeStatus = "OFFERED"
	ExchangeConfirmed        ExchangeStatus = "CONFIRMED"
	ExchangeRejected         ExchangeStatus = "REJECTED"
	ExchangeInProgress       ExchangeStatus = "IN_PROGRESS"
	ExchangeCompleted        ExchangeStatus = "COMPLETED"
	ExchangeProblems         ExchangeStatus = "PROBLEMS"
	ExchangeCancelledByAdmin ExchangeStatus = "CANCELLED_BY_ADMIN"
)

// Valid reports whether s is a known exchange status
func (s ExchangeStatus) Valid() bool {
	switch s {
	case ExchangeOffered, ExchangeConfirmed, ExchangeRejected, ExchangeInProgress,
		ExchangeCompleted, ExchangeProblems, ExchangeCancelledByAdmin:
		return true
	}
	return false
}

// Terminal reports whether no further lifecycle transition is possible
func (s ExchangeStatus) Terminal() bool {
	return s == ExchangeCompleted || s == ExchangeCancelledByAdmin
}

// Exchange is a confirmed bilateral trade between two members.
//
// Member1 is the sender of the accepted request and Member2 its receiver.
// Book1 travels from Member1 to Member2, Book2 from Member2 to Member1.
// Track1/Received1 belong to Member1, Track2/Received2 to Member2.
type Exchange struct {
	ID          string         `json:"id"`
	RequestID   string         `json:"request_id"`
	Member1ID   string         `json:"member1_id"`
	Member2ID   string         `json:"member2_id"`
	Book1ID     string         `json:"book1_id"`
	Book2ID     string         `json:"book2_id"`
	Address1    Address        `json:"address1"`
	Address2    Address        `json:"address2"`
	Track1      string         `json:"track1,omitempty"`
	Track2      string         `json:"track2,omitempty"`
	Received1   bool           `json:"received1"`
	Received2   bool           `json:"received2"`
	Status      ExchangeStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Version     int64          `json:"version"`
}

// Side returns 1 or 2 for a participant and 0 for anyone else
func (e Exchange) Side(memberID string) int {
	switch memberID {
	case e.Member1ID:
		return 1
	case e.Member2ID:
		return 2
	}
	return 0
}

// Counterpart returns the other participant's id
func (e Exchange) Counterpart(memberID string) string {
	if memberID == e.Member1ID {
		return e.Member2ID
	}
	return e.Member1ID
}

// BothTracked reports whether both shipment slots are filled
func (e Exchange) BothTracked() bool {
	return e.Track1 != "" && e.Track2 != ""
}

// BothReceived reports whether both participants confirmed receipt
func (e Exchange) BothReceived() bool {
	return e.Received1 && e.Received2
}

// ExchangeFilter narrows exchange lookups; zero fields match everything
type ExchangeFilter struct {
	Status   ExchangeStatus
	MemberID string // member1 or member2
}
