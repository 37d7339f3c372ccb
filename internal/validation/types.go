package validation

import "bookswap/internal/models"

// Address is the postal address payload
type Address struct {
	Recipient  string `json:"recipient" validate:"max=200"`
	Line       string `json:"line" validate:"max=200"`
	City       string `json:"city" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"max=100"`
}

// Model converts the payload to models.Address
func (a Address) Model() models.Address {
	return models.Address(a)
}

// CreateMemberRequest is the payload for POST /members
type CreateMemberRequest struct {
	ID             string  `json:"id,omitempty" validate:"max=64"` // generated when empty
	Name           string  `json:"name" validate:"required,notblank,max=200"`
	Email          string  `json:"email,omitempty" validate:"omitempty,email"`
	TelegramChatID int64   `json:"telegram_chat_id,omitempty"`
	Address        Address `json:"address"`
}

// CreateBookRequest is the payload for POST /books
type CreateBookRequest struct {
	ID          string `json:"id,omitempty" validate:"max=64"`
	Title       string `json:"title" validate:"required,notblank,max=300"`
	Author      string `json:"author,omitempty" validate:"max=200"`
	Description string `json:"description,omitempty" validate:"max=2000"`
}

// CreateExchangeRequest is the payload for POST /requests:
// the sender wants book_id from the receiver.
type CreateExchangeRequest struct {
	SenderID   string `json:"sender_id" validate:"required"`
	ReceiverID string `json:"receiver_id" validate:"required"`
	BookID     string `json:"book_id" validate:"required"`
	Comment    string `json:"comment,omitempty" validate:"max=1000"`
}

// AcceptRequest is the payload for POST /requests/:id/accept
type AcceptRequest struct {
	ActorID      string `json:"actor_id" validate:"required"`       // must be the receiver
	ChosenBookID string `json:"chosen_book_id" validate:"required"` // one of the sender's offered books
}

// RejectRequest is the payload for POST /requests/:id/reject
type RejectRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
}

// TrackRequest is the payload for POST /exchanges/:id/track
type TrackRequest struct {
	MemberID string `json:"member_id" validate:"required"`
	Track    string `json:"track" validate:"required,notblank,max=64"`
}

// MemberActionRequest is the payload for exchange actions taken by a participant
type MemberActionRequest struct {
	MemberID string `json:"member_id" validate:"required"`
}
