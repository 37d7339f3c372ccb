// Package library applies the collection changes that accompany an exchange:
// withdrawing committed books from the offered sets and swapping ownership
// once both books arrived.
//
// Both operations must run inside a storage transaction; they perform
// several independent writes and rely on the caller for atomicity.
package library

import (
	"context"
	"fmt"

	"bookswap/internal/models"
)

// Store is the subset of storage.Library these operations need
type Store interface {
	LibraryContains(ctx context.Context, memberID, bookID string) (bool, error)
	AddToLibrary(ctx context.Context, memberID, bookID string) error
	RemoveFromLibrary(ctx context.Context, memberID, bookID string) error
	RemoveFromOffered(ctx context.Context, memberID, bookID string) error
}

// Offer identifies a book in a member's offered set
type Offer struct {
	MemberID string
	BookID   string
}

// Move is one ownership change of a finalized exchange
type Move struct {
	BookID string
	From   string
	To     string
}

// Withdraw removes committed books from their owners' offered sets
func Withdraw(ctx context.Context, s Store, offers ...Offer) error {
	for _, o := range offers {
		if err := s.RemoveFromOffered(ctx, o.MemberID, o.BookID); err != nil {
			return fmt.Errorf("withdraw book %s of %s: %w", o.BookID, o.MemberID, err)
		}
	}
	return nil
}

// Moves returns the ownership changes of an exchange: Book1 goes from
// Member1 to Member2 and Book2 from Member2 to Member1.
func Moves(e models.Exchange) []Move {
	return []Move{
		{BookID: e.Book1ID, From: e.Member1ID, To: e.Member2ID},
		{BookID: e.Book2ID, From: e.Member2ID, To: e.Member1ID},
	}
}

// Transfer swaps ownership of the two exchanged books. All removals run
// before the additions so a member never holds both copies mid-transfer.
func Transfer(ctx context.Context, s Store, e models.Exchange) error {
	moves := Moves(e)

	for _, m := range moves {
		owns, err := s.LibraryContains(ctx, m.From, m.BookID)
		if err != nil {
			return fmt.Errorf("check library of %s: %w", m.From, err)
		}
		if !owns {
			continue
		}
		if err := s.RemoveFromLibrary(ctx, m.From, m.BookID); err != nil {
			return fmt.Errorf("remove book %s from %s: %w", m.BookID, m.From, err)
		}
	}

	for _, m := range moves {
		if err := s.AddToLibrary(ctx, m.To, m.BookID); err != nil {
			return fmt.Errorf("add book %s to %s: %w", m.BookID, m.To, err)
		}
	}
	return nil
}
