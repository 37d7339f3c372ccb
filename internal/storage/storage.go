package storage

import (
	"context"

	"bookswap/internal/models"
)

// Members defines member and book record operations
type Members interface {
	CreateMember(ctx context.Context, member models.Member) (models.Member, error)
	GetMember(ctx context.Context, id string) (models.Member, error)
	CreateBook(ctx context.Context, book models.Book) (models.Book, error)
	GetBook(ctx context.Context, id string) (models.Book, error)

	// GrantAddressAccess lets viewerID see ownerID's delivery address
	GrantAddressAccess(ctx context.Context, ownerID, viewerID string) error
	CanViewAddress(ctx context.Context, viewerID, ownerID string) (bool, error)
}

// Library defines per-member collection operations.
// Every mutation is idempotent.
type Library interface {
	LibraryContains(ctx context.Context, memberID, bookID string) (bool, error)
	AddToLibrary(ctx context.Context, memberID, bookID string) error
	RemoveFromLibrary(ctx context.Context, memberID, bookID string) error
	ListLibrary(ctx context.Context, memberID string) ([]models.Book, error)

	// Offered books are a subset of the library; adding to offered
	// requires the book to be in the member's library.
	OfferedContains(ctx context.Context, memberID, bookID string) (bool, error)
	AddToOffered(ctx context.Context, memberID, bookID string) error
	RemoveFromOffered(ctx context.Context, memberID, bookID string) error
	ListOffered(ctx context.Context, memberID string) ([]models.Book, error)

	// BookOwners returns the ids of members holding the book in their library
	BookOwners(ctx context.Context, bookID string) ([]string, error)
}

// Requests defines exchange request persistence
type Requests interface {
	CreateRequest(ctx context.Context, request models.Request) error
	GetRequest(ctx context.Context, id string) (models.Request, error)

	// UpdateRequest stores request if the stored version equals request.Version
	// and increments it. A version mismatch returns models.ErrConflict.
	UpdateRequest(ctx context.Context, request models.Request) (models.Request, error)

	// ListActualRequestsForBook returns ACTUAL requests wanting bookID, oldest first
	ListActualRequestsForBook(ctx context.Context, bookID string) ([]models.Request, error)
	FindRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
}

// Exchanges defines exchange persistence
type Exchanges interface {
	CreateExchange(ctx context.Context, exchange models.Exchange) error
	GetExchange(ctx context.Context, id string) (models.Exchange, error)

	// UpdateExchange follows the same versioning rule as UpdateRequest
	UpdateExchange(ctx context.Context, exchange models.Exchange) (models.Exchange, error)
	SearchExchanges(ctx context.Context, filter models.ExchangeFilter) ([]models.Exchange, error)
}

// Journal defines the append-only lifecycle event history
type Journal interface {
	RecordEvent(ctx context.Context, event models.Event) error
	GetLastEvents(ctx context.Context, limit int) ([]models.Event, error)
	GetExchangeEvents(ctx context.Context, exchangeID string) ([]models.Event, error)
}

// Storage defines the interface for data storage operations
type Storage interface {
	Members
	Library
	Requests
	Exchanges

	// InTx runs fn atomically. Reads and writes made through tx are either
	// all committed or none are; other readers never observe partial state.
	// Calling InTx on tx runs fn inside the same transaction.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Storage) error) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
