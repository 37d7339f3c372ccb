package models

import (
	"fmt"
	"strings"
	"time"
)

// Address is a postal delivery address
type Address struct {
	Recipient  string `json:"recipient"`
	Line       string `json:"line"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IsZero reports whether no address field is set
func (a Address) IsZero() bool {
	return a == Address{}
}

// String formats the address on a single line
func (a Address) String() string {
	var parts []string
	for _, p := range []string{a.Recipient, a.Line, a.PostalCode + " " + a.City, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Member represents a community member taking part in exchanges
type Member struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	TelegramChatID int64   `json:"telegram_chat_id,omitempty"`
	Address        Address `json:"address"`
}

// Book represents a book record
type Book struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description,omitempty"`
}

// Describe returns a short human readable description of the book
func (b Book) Describe() string {
	if b.Author == "" {
		return fmt.Sprintf("%q", b.Title)
	}
	return fmt.Sprintf("%q by %s", b.Title, b.Author)
}

// RequestStatus is the state of an exchange request
type RequestStatus string

const (
	RequestActual   RequestStatus = "ACTUAL"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestRejected RequestStatus = "REJECTED"
)

// Valid reports whether s is a known request status
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestActual, RequestAccepted, RequestRejected:
		return true
	}
	return false
}

// Request is a member's standing offer to trade one of their offered books
// for a specific book offered by another member.
type Request struct {
	ID                string        `json:"id"`
	SenderID          string        `json:"sender_id"`
	ReceiverID        string        `json:"receiver_id"`
	BookSenderWants   string        `json:"book_sender_wants"`
	BookReceiverWants string        `json:"book_receiver_wants,omitempty"` // set once, at acceptance
	Status            RequestStatus `json:"status"`
	Comment           string        `json:"comment,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Version           int64         `json:"version"`
}

// Involves reports whether the member is the sender or the receiver
func (r Request) Involves(memberID string) bool {
	return r.SenderID == memberID || r.ReceiverID == memberID
}

// RequestFilter narrows request lookups; zero fields match everything
type RequestFilter struct {
	Status   RequestStatus
	MemberID string // sender or receiver
}
