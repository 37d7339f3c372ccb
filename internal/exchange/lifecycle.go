package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookswap/internal/keylock"
	"bookswap/internal/models"
	"bookswap/internal/notify"
	"bookswap/internal/obs"
	"bookswap/internal/storage"
)

// DefaultStaleAfterDays is the calendar day, counting the creation day as
// day 1, from which an unfinished exchange may be flagged PROBLEMS.
const DefaultStaleAfterDays = 30

// AddressVisibility decides whether a participant's address is copied into
// the exchange snapshot seen by the other participant.
type AddressVisibility string

const (
	// AddressOnAccept copies an address only when the owner granted access
	// to the viewer; accepting a request grants it in both directions.
	AddressOnAccept AddressVisibility = "on_accept"
	// AddressOpen always copies the address.
	AddressOpen AddressVisibility = "open"
)

// Lifecycle drives exchanges from CONFIRMED to a final state
type Lifecycle struct {
	db                storage.Storage
	journal           storage.Journal
	locks             *keylock.Locker
	dispatcher        *notify.Dispatcher
	logger            *zap.Logger
	metrics           *obs.Metrics
	now               func() time.Time
	staleAfterDays    int
	addressVisibility AddressVisibility
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// WithStaleAfterDays overrides DefaultStaleAfterDays
func WithStaleAfterDays(days int) Option {
	return func(l *Lifecycle) {
		if days > 0 {
			l.staleAfterDays = days
		}
	}
}

// WithAddressVisibility sets the address snapshot policy
func WithAddressVisibility(v AddressVisibility) Option {
	return func(l *Lifecycle) {
		l.addressVisibility = v
	}
}

// WithMetrics enables metrics collection
func WithMetrics(m *obs.Metrics) Option {
	return func(l *Lifecycle) {
		l.metrics = m
	}
}

// WithLocker shares a keylock.Locker with other services
func WithLocker(locks *keylock.Locker) Option {
	return func(l *Lifecycle) {
		l.locks = locks
	}
}

// WithJournal enables History
func WithJournal(j storage.Journal) Option {
	return func(l *Lifecycle) {
		l.journal = j
	}
}

// New creates a Lifecycle
func New(db storage.Storage, dispatcher *notify.Dispatcher, logger *zap.Logger, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		db:                db,
		locks:             keylock.New(),
		dispatcher:        dispatcher,
		logger:            logger,
		now:               time.Now,
		staleAfterDays:    DefaultStaleAfterDays,
		addressVisibility: AddressOnAccept,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Now returns the lifecycle clock's current time in UTC
func (l *Lifecycle) Now() time.Time {
	return l.now().UTC()
}

// Open creates a CONFIRMED exchange for an accepted request. It must be
// called inside the caller's transaction; tx receives every write.
func (l *Lifecycle) Open(ctx context.Context, tx storage.Storage, req models.Request) (models.Exchange, error) {
	if req.Status != models.RequestAccepted || req.BookReceiverWants == "" {
		return models.Exchange{}, fmt.Errorf("request %s is not accepted: %w", req.ID, models.ErrState)
	}

	sender, err := tx.GetMember(ctx, req.SenderID)
	if err != nil {
		return models.Exchange{}, err
	}
	receiver, err := tx.GetMember(ctx, req.ReceiverID)
	if err != nil {
		return models.Exchange{}, err
	}

	address1, err := l.snapshotAddress(ctx, tx, sender, receiver.ID)
	if err != nil {
		return models.Exchange{}, err
	}
	address2, err := l.snapshotAddress(ctx, tx, receiver, sender.ID)
	if err != nil {
		return models.Exchange{}, err
	}

	now := l.Now()
	ex := models.Exchange{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Member1ID: sender.ID,
		Member2ID: receiver.ID,
		Book1ID:   req.BookReceiverWants,
		Book2ID:   req.BookSenderWants,
		Address1:  address1,
		Address2:  address2,
		Status:    models.ExchangeConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if err := tx.CreateExchange(ctx, ex); err != nil {
		return models.Exchange{}, fmt.Errorf("create exchange: %w", err)
	}

	l.metrics.IncTransition(string(models.ExchangeConfirmed))
	l.logger.Info("Exchange opened",
		zap.String("exchange_id", ex.ID),
		zap.String("request_id", req.ID),
		zap.String("member1_id", ex.Member1ID),
		zap.String("member2_id", ex.Member2ID),
	)
	return ex, nil
}

// snapshotAddress returns owner's address as visible to viewerID
func (l *Lifecycle) snapshotAddress(ctx context.Context, tx storage.Storage, owner models.Member, viewerID string) (models.Address, error) {
	if l.addressVisibility == AddressOpen {
		return owner.Address, nil
	}
	granted, err := tx.CanViewAddress(ctx, viewerID, owner.ID)
	if err != nil {
		return models.Address{}, fmt.Errorf("check address access: %w", err)
	}
	if !granted {
		return models.Address{}, nil
	}
	return owner.Address, nil
}

// GetExchange returns an exchange by id
func (l *Lifecycle) GetExchange(ctx context.Context, id string) (models.Exchange, error) {
	return l.db.GetExchange(ctx, id)
}

// SearchExchanges returns exchanges matching the filter
func (l *Lifecycle) SearchExchanges(ctx context.Context, filter models.ExchangeFilter) ([]models.Exchange, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown exchange status %q: %w", filter.Status, models.ErrValidation)
	}
	return l.db.SearchExchanges(ctx, filter)
}

// History returns the journaled events of an exchange, oldest first
func (l *Lifecycle) History(ctx context.Context, id string) ([]models.Event, error) {
	if _, err := l.db.GetExchange(ctx, id); err != nil {
		return nil, err
	}
	if l.journal == nil {
		return []models.Event{}, nil
	}
	events, err := l.journal.GetExchangeEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history of exchange %s: %w", id, err)
	}
	return events, nil
}

// mutation changes ex in place and reports whether it must be persisted
type mutation func(ctx context.Context, tx storage.Storage, ex *models.Exchange, b *notify.Batch) (bool, error)

// mutate serialises fn with every other mutation of the same exchange and
// runs it in one transaction. Events are delivered after commit.
func (l *Lifecycle) mutate(ctx context.Context, op, exchangeID string, fn mutation) (models.Exchange, error) {
	start := time.Now()
	defer l.metrics.ObserveLatency(op, start)

	unlock := l.locks.Lock("exchange:" + exchangeID)
	defer unlock()

	var (
		result models.Exchange
		batch  notify.Batch
		from   models.ExchangeStatus
	)
	err := l.db.InTx(ctx, func(ctx context.Context, tx storage.Storage) error {
		ex, err := tx.GetExchange(ctx, exchangeID)
		if err != nil {
			return err
		}
		from = ex.Status

		changed, err := fn(ctx, tx, &ex, &batch)
		if err != nil {
			return err
		}
		if !changed {
			result = ex
			return nil
		}

		ex.UpdatedAt = l.Now()
		result, err = tx.UpdateExchange(ctx, ex)
		return err
	})
	if err != nil {
		l.logger.Warn("Exchange operation failed",
			zap.Error(err),
			zap.String("op", op),
			zap.String("exchange_id", exchangeID),
		)
		return models.Exchange{}, err
	}

	if result.Status != from {
		l.metrics.IncTransition(string(result.Status))
		l.logger.Info("Exchange status changed",
			zap.String("exchange_id", exchangeID),
			zap.String("from", string(from)),
			zap.String("to", string(result.Status)),
		)
	}

	l.dispatcher.Deliver(ctx, &batch)
	return result, nil
}

func participant(ex models.Exchange, memberID string) (int, error) {
	side := ex.Side(memberID)
	if side == 0 {
		return 0, fmt.Errorf("member %s is not part of exchange %s: %w", memberID, ex.ID, models.ErrValidation)
	}
	return side, nil
}

// requireActive rejects shipment and receipt updates outside the delivery phase
func requireActive(ex models.Exchange) error {
	switch ex.Status {
	case models.ExchangeConfirmed, models.ExchangeInProgress, models.ExchangeProblems:
		return nil
	}
	return fmt.Errorf("exchange %s is %s: %w", ex.ID, ex.Status, models.ErrState)
}

func (l *Lifecycle) event(ex models.Exchange, kind models.EventKind, actorID string, payload map[string]string) models.Event {
	return models.Event{
		Kind:       kind,
		OccurredAt: l.Now(),
		RequestID:  ex.RequestID,
		ExchangeID: ex.ID,
		ActorID:    actorID,
		Payload:    payload,
	}
}

// members loads both participants for notifications. A failed lookup is
// logged and reported as ok=false; it never fails the transition.
func (l *Lifecycle) members(ctx context.Context, tx storage.Storage, ex models.Exchange) (m1, m2 models.Member, ok bool) {
	var err error
	if m1, err = tx.GetMember(ctx, ex.Member1ID); err == nil {
		m2, err = tx.GetMember(ctx, ex.Member2ID)
	}
	if err != nil {
		l.logger.Warn("Skipping notifications, participant lookup failed",
			zap.Error(err),
			zap.String("exchange_id", ex.ID),
		)
		return m1, m2, false
	}
	return m1, m2, true
}

func (l *Lifecycle) bookTitle(ctx context.Context, tx storage.Storage, bookID string) string {
	book, err := tx.GetBook(ctx, bookID)
	if err != nil {
		return bookID
	}
	return book.Describe()
}
