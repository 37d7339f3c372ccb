// Package matcher creates exchange requests and resolves the requests that
// compete for the same book when one of them is accepted.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookswap/internal/exchange"
	"bookswap/internal/keylock"
	"bookswap/internal/library"
	"bookswap/internal/models"
	"bookswap/internal/notify"
	"bookswap/internal/obs"
	"bookswap/internal/storage"
)

// AcceptPolicy decides which request of a competing set may be accepted
type AcceptPolicy string

const (
	// ReceiverChoice lets the receiver accept any competing request
	ReceiverChoice AcceptPolicy = "receiver_choice"
	// OldestFirst only allows accepting the oldest competing request
	OldestFirst AcceptPolicy = "oldest_first"
)

// Valid reports whether p is a known policy
func (p AcceptPolicy) Valid() bool {
	return p == ReceiverChoice || p == OldestFirst
}

// Matcher owns requests until they reach a terminal status
type Matcher struct {
	db         storage.Storage
	lifecycle  *exchange.Lifecycle
	dispatcher *notify.Dispatcher
	locks      *keylock.Locker
	logger     *zap.Logger
	metrics    *obs.Metrics
	policy     AcceptPolicy
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithPolicy sets the accept policy, ReceiverChoice by default
func WithPolicy(p AcceptPolicy) Option {
	return func(m *Matcher) {
		m.policy = p
	}
}

// WithMetrics enables metrics collection
func WithMetrics(metrics *obs.Metrics) Option {
	return func(m *Matcher) {
		m.metrics = metrics
	}
}

// WithLocker shares a keylock.Locker with other services
func WithLocker(locks *keylock.Locker) Option {
	return func(m *Matcher) {
		m.locks = locks
	}
}

// New creates a Matcher. Exchanges are opened through lifecycle, and the
// matcher reads its clock from it.
func New(db storage.Storage, lifecycle *exchange.Lifecycle, dispatcher *notify.Dispatcher, logger *zap.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		db:         db,
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		locks:      keylock.New(),
		logger:     logger,
		policy:     ReceiverChoice,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CreateRequestParams describes a new request: SenderID wants BookID from ReceiverID
type CreateRequestParams struct {
	SenderID   string
	ReceiverID string
	BookID     string
	Comment    string
}

// AcceptRequestParams describes an acceptance: ActorID must be the receiver,
// ChosenBookID is the sender's book the receiver wants in return.
type AcceptRequestParams struct {
	RequestID    string
	ActorID      string
	ChosenBookID string
}

func bookKey(bookID string) string {
	return "book:" + bookID
}

// CreateRequest persists an ACTUAL request and notifies the receiver.
// Libraries are not touched until the request is accepted.
func (m *Matcher) CreateRequest(ctx context.Context, p CreateRequestParams) (models.Request, error) {
	defer m.metrics.ObserveLatency("create_request", time.Now())

	if p.SenderID == "" || p.ReceiverID == "" || p.BookID == "" {
		return models.Request{}, fmt.Errorf("sender, receiver and book are required: %w", models.ErrValidation)
	}
	if p.SenderID == p.ReceiverID {
		return models.Request{}, fmt.Errorf("cannot request a book from yourself: %w", models.ErrValidation)
	}

	unlock := m.locks.Lock(bookKey(p.BookID))
	defer unlock()

	var (
		created models.Request
		batch   notify.Batch
	)
	err := m.db.InTx(ctx, func(ctx context.Context, tx storage.Storage) error {
		sender, err := tx.GetMember(ctx, p.SenderID)
		if err != nil {
			return err
		}
		receiver, err := tx.GetMember(ctx, p.ReceiverID)
		if err != nil {
			return err
		}
		book, err := tx.GetBook(ctx, p.BookID)
		if err != nil {
			return err
		}

		offered, err := tx.OfferedContains(ctx, receiver.ID, book.ID)
		if err != nil {
			return fmt.Errorf("check offered books: %w", err)
		}
		if !offered {
			return fmt.Errorf("book %s not offered by %s: %w", book.ID, receiver.ID, models.ErrValidation)
		}

		pending, err := tx.ListActualRequestsForBook(ctx, book.ID)
		if err != nil {
			return fmt.Errorf("list requests for book %s: %w", book.ID, err)
		}
		// one ACTUAL request per sender and book, whichever owner it went to
		for _, r := range pending {
			if r.SenderID == sender.ID {
				return fmt.Errorf("request %s for book %s is already pending: %w", r.ID, book.ID, models.ErrValidation)
			}
		}

		now := m.lifecycle.Now()
		created = models.Request{
			ID:              uuid.NewString(),
			SenderID:        sender.ID,
			ReceiverID:      receiver.ID,
			BookSenderWants: book.ID,
			Status:          models.RequestActual,
			Comment:         strings.TrimSpace(p.Comment),
			CreatedAt:       now,
			UpdatedAt:       now,
			Version:         1,
		}
		if err := tx.CreateRequest(ctx, created); err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		batch.Add(receiver, models.Event{
			Kind:       models.EventRequestCreated,
			OccurredAt: now,
			RequestID:  created.ID,
			ActorID:    sender.ID,
			Payload: map[string]string{
				notify.KeyBook:        book.Describe(),
				notify.KeyCounterpart: sender.Name,
				notify.KeyComment:     created.Comment,
			},
		})
		return nil
	})
	if err != nil {
		m.logger.Warn("Failed to create request",
			zap.Error(err),
			zap.String("sender_id", p.SenderID),
			zap.String("receiver_id", p.ReceiverID),
			zap.String("book_id", p.BookID),
		)
		return models.Request{}, err
	}

	m.metrics.IncRequestCreated()
	m.logger.Info("Request created",
		zap.String("request_id", created.ID),
		zap.String("sender_id", created.SenderID),
		zap.String("receiver_id", created.ReceiverID),
		zap.String("book_id", created.BookSenderWants),
	)
	m.dispatcher.Deliver(ctx, &batch)
	return created, nil
}

// AcceptRequest accepts a request, rejects every other ACTUAL request for the
// same book, whichever owner it was sent to, and opens the exchange, all in one
// transaction. Accepting a REJECTED request is a no-op returning a zero
// Exchange; accepting an ACCEPTED one returns models.ErrConflict.
func (m *Matcher) AcceptRequest(ctx context.Context, p AcceptRequestParams) (models.Exchange, error) {
	defer m.metrics.ObserveLatency("accept_request", time.Now())

	req, err := m.db.GetRequest(ctx, p.RequestID)
	if err != nil {
		return models.Exchange{}, err
	}

	// BookSenderWants never changes, so the key read outside the lock is stable
	unlock := m.locks.Lock(bookKey(req.BookSenderWants))
	defer unlock()

	var (
		opened   models.Exchange
		noop     bool
		rejected int
		batch    notify.Batch
	)
	err = m.db.InTx(ctx, func(ctx context.Context, tx storage.Storage) error {
		req, err := tx.GetRequest(ctx, p.RequestID)
		if err != nil {
			return err
		}

		switch req.Status {
		case models.RequestRejected:
			noop = true
			return nil
		case models.RequestAccepted:
			return fmt.Errorf("request %s already accepted: %w", req.ID, models.ErrConflict)
		}

		if p.ActorID != req.ReceiverID {
			return fmt.Errorf("only the receiver may accept request %s: %w", req.ID, models.ErrValidation)
		}
		if p.ChosenBookID == "" {
			return fmt.Errorf("a book in return must be chosen: %w", models.ErrValidation)
		}

		chosenOffered, err := tx.OfferedContains(ctx, req.SenderID, p.ChosenBookID)
		if err != nil {
			return fmt.Errorf("check offered books: %w", err)
		}
		if !chosenOffered {
			return fmt.Errorf("book %s not offered by %s: %w", p.ChosenBookID, req.SenderID, models.ErrValidation)
		}
		wantedOffered, err := tx.OfferedContains(ctx, req.ReceiverID, req.BookSenderWants)
		if err != nil {
			return fmt.Errorf("check offered books: %w", err)
		}
		if !wantedOffered {
			return fmt.Errorf("book %s no longer offered by %s: %w", req.BookSenderWants, req.ReceiverID, models.ErrValidation)
		}

		competing, err := m.competingSet(ctx, tx, req)
		if err != nil {
			return err
		}
		if m.policy == OldestFirst && competing[0].ID != req.ID {
			return fmt.Errorf("request %s must be decided first: %w", competing[0].ID, models.ErrValidation)
		}

		now := m.lifecycle.Now()
		req.Status = models.RequestAccepted
		req.BookReceiverWants = p.ChosenBookID
		req.UpdatedAt = now
		accepted, err := tx.UpdateRequest(ctx, req)
		if err != nil {
			return fmt.Errorf("accept request %s: %w", req.ID, err)
		}

		err = library.Withdraw(ctx, tx,
			library.Offer{MemberID: accepted.ReceiverID, BookID: accepted.BookSenderWants},
			library.Offer{MemberID: accepted.SenderID, BookID: accepted.BookReceiverWants},
		)
		if err != nil {
			return err
		}
		if err := tx.GrantAddressAccess(ctx, accepted.SenderID, accepted.ReceiverID); err != nil {
			return fmt.Errorf("grant address access: %w", err)
		}
		if err := tx.GrantAddressAccess(ctx, accepted.ReceiverID, accepted.SenderID); err != nil {
			return fmt.Errorf("grant address access: %w", err)
		}

		opened, err = m.lifecycle.Open(ctx, tx, accepted)
		if err != nil {
			return err
		}

		sender, err := tx.GetMember(ctx, accepted.SenderID)
		if err != nil {
			return err
		}
		receiver, err := tx.GetMember(ctx, accepted.ReceiverID)
		if err != nil {
			return err
		}
		wanted := m.bookTitle(ctx, tx, accepted.BookSenderWants)
		batch.Add(sender, models.Event{
			Kind:       models.EventRequestAccepted,
			OccurredAt: now,
			RequestID:  accepted.ID,
			ExchangeID: opened.ID,
			ActorID:    receiver.ID,
			Payload: map[string]string{
				notify.KeyBook:        wanted,
				notify.KeyOtherBook:   m.bookTitle(ctx, tx, accepted.BookReceiverWants),
				notify.KeyCounterpart: receiver.Name,
			},
		})

		for _, other := range competing {
			if other.ID == accepted.ID {
				continue
			}
			if err := m.reject(ctx, tx, other, models.EventRequestRejectedCompeting, receiver.ID, wanted, now, &batch); err != nil {
				return err
			}
			rejected++
		}
		return nil
	})
	if err != nil {
		m.metrics.IncAccept(acceptResult(err))
		m.logger.Warn("Failed to accept request",
			zap.Error(err),
			zap.String("request_id", p.RequestID),
			zap.String("actor_id", p.ActorID),
		)
		return models.Exchange{}, err
	}

	if noop {
		m.metrics.IncAccept("noop")
		m.logger.Warn("Request already rejected, accept ignored",
			zap.String("request_id", p.RequestID),
			zap.String("actor_id", p.ActorID),
		)
		return models.Exchange{}, nil
	}

	m.metrics.IncAccept("accepted")
	m.metrics.IncReject("competing", rejected)
	m.logger.Info("Request accepted",
		zap.String("request_id", p.RequestID),
		zap.String("exchange_id", opened.ID),
		zap.String("book_id", req.BookSenderWants),
		zap.Int("rejected_competing", rejected),
	)
	m.dispatcher.Deliver(ctx, &batch)
	return opened, nil
}

// competingSet returns every ACTUAL request wanting the same book, whoever
// it was sent to, oldest first. req itself is always part of it.
func (m *Matcher) competingSet(ctx context.Context, tx storage.Storage, req models.Request) ([]models.Request, error) {
	all, err := tx.ListActualRequestsForBook(ctx, req.BookSenderWants)
	if err != nil {
		return nil, fmt.Errorf("list requests for book %s: %w", req.BookSenderWants, err)
	}

	for _, r := range all {
		if r.ID == req.ID {
			return all, nil
		}
	}
	return nil, fmt.Errorf("request %s changed concurrently: %w", req.ID, models.ErrConflict)
}

// RejectRequest declines a request. Either participant may reject it;
// rejecting twice is a no-op.
func (m *Matcher) RejectRequest(ctx context.Context, requestID, actorID string) error {
	defer m.metrics.ObserveLatency("reject_request", time.Now())

	req, err := m.db.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	unlock := m.locks.Lock(bookKey(req.BookSenderWants))
	defer unlock()

	var (
		changed bool
		batch   notify.Batch
	)
	err = m.db.InTx(ctx, func(ctx context.Context, tx storage.Storage) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.Involves(actorID) {
			return fmt.Errorf("member %s is not part of request %s: %w", actorID, req.ID, models.ErrValidation)
		}

		switch req.Status {
		case models.RequestRejected:
			return nil
		case models.RequestAccepted:
			return fmt.Errorf("request %s already accepted: %w", req.ID, models.ErrState)
		}

		changed = true
		return m.reject(ctx, tx, req, models.EventRequestRejected, actorID, m.bookTitle(ctx, tx, req.BookSenderWants), m.lifecycle.Now(), &batch)
	})
	if err != nil {
		m.logger.Warn("Failed to reject request",
			zap.Error(err),
			zap.String("request_id", requestID),
			zap.String("actor_id", actorID),
		)
		return err
	}
	if !changed {
		m.logger.Debug("Request already rejected", zap.String("request_id", requestID))
		return nil
	}

	m.metrics.IncReject("declined", 1)
	m.logger.Info("Request rejected",
		zap.String("request_id", requestID),
		zap.String("actor_id", actorID),
	)
	m.dispatcher.Deliver(ctx, &batch)
	return nil
}

// reject moves req to REJECTED and queues the notification to its sender
func (m *Matcher) reject(ctx context.Context, tx storage.Storage, req models.Request, kind models.EventKind,
	actorID, bookTitle string, now time.Time, b *notify.Batch) error {
	req.Status = models.RequestRejected
	req.UpdatedAt = now
	if _, err := tx.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("reject request %s: %w", req.ID, err)
	}

	sender, err := tx.GetMember(ctx, req.SenderID)
	if err != nil {
		return err
	}
	b.Add(sender, models.Event{
		Kind:       kind,
		OccurredAt: now,
		RequestID:  req.ID,
		ActorID:    actorID,
		Payload:    map[string]string{notify.KeyBook: bookTitle},
	})
	return nil
}

// GetRequest returns a request by id
func (m *Matcher) GetRequest(ctx context.Context, id string) (models.Request, error) {
	return m.db.GetRequest(ctx, id)
}

// FindRequests returns requests by status and participant, oldest first
func (m *Matcher) FindRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown request status %q: %w", filter.Status, models.ErrValidation)
	}
	return m.db.FindRequests(ctx, filter)
}

func (m *Matcher) bookTitle(ctx context.Context, tx storage.Storage, bookID string) string {
	book, err := tx.GetBook(ctx, bookID)
	if err != nil {
		return bookID
	}
	return book.Describe()
}

func acceptResult(err error) string {
	switch {
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrNotFound):
		return "invalid"
	default:
		return "error"
	}
}
