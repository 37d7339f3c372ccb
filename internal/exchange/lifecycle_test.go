package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookswap/internal/models"
	"bookswap/internal/notify"
	"bookswap/internal/storage"
	"bookswap/internal/storage/stubs"
)

type sent struct {
	recipient string
	kind      models.EventKind
	payload   map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient models.Member, kind models.EventKind, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{recipient: recipient.ID, kind: kind, payload: payload})
	return n.err
}

func (n *recordingNotifier) of(kind models.EventKind) []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sent
	for _, s := range n.sent {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t.Add(12 * time.Hour)
}

type fixture struct {
	db       *stubs.MockDB
	notifier *recordingNotifier
	clock    *clock
	lc       *Lifecycle
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		db:       stubs.NewMockDB(),
		notifier: &recordingNotifier{},
		clock:    &clock{t: day("2024-03-01")},
	}

	for _, m := range []models.Member{
		{ID: "alice", Name: "Alice", Email: "alice@example.com", Address: models.Address{City: "Riga", Line: "Brivibas 1"}},
		{ID: "bob", Name: "Bob", Email: "bob@example.com", Address: models.Address{City: "Tartu", Line: "Raatuse 2"}},
		{ID: "carol", Name: "Carol"},
	} {
		_, err := f.db.CreateMember(ctx, m)
		require.NoError(t, err)
	}
	for _, b := range []models.Book{
		{ID: "x", Title: "Dune", Author: "Frank Herbert"},
		{ID: "y", Title: "Solaris", Author: "Stanislaw Lem"},
	} {
		_, err := f.db.CreateBook(ctx, b)
		require.NoError(t, err)
	}
	require.NoError(t, f.db.AddToLibrary(ctx, "alice", "y"))
	require.NoError(t, f.db.AddToLibrary(ctx, "bob", "x"))

	dispatcher := notify.NewDispatcher(f.notifier, f.db, zap.NewNop(), nil)
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.lc = New(f.db, dispatcher, zap.NewNop(), opts...)
	return f
}

// open creates the exchange alice (sender, wants x) and bob (receiver, chose y) agreed on
func (f *fixture) open(t *testing.T) models.Exchange {
	t.Helper()
	ctx := context.Background()

	req := models.Request{
		ID:                "req-1",
		SenderID:          "alice",
		ReceiverID:        "bob",
		BookSenderWants:   "x",
		BookReceiverWants: "y",
		Status:            models.RequestAccepted,
		CreatedAt:         f.clock.Now(),
		UpdatedAt:         f.clock.Now(),
		Version:           2,
	}
	require.NoError(t, f.db.CreateRequest(ctx, req))

	var ex models.Exchange
	err := f.db.InTx(ctx, func(ctx context.Context, tx storage.Storage) error {
		for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
			if err := tx.GrantAddressAccess(ctx, pair[0], pair[1]); err != nil {
				return err
			}
		}
		var err error
		ex, err = f.lc.Open(ctx, tx, req)
		return err
	})
	require.NoError(t, err)
	return ex
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	ex := f.open(t)

	assert.Equal(t, models.ExchangeConfirmed, ex.Status)
	assert.Equal(t, "alice", ex.Member1ID)
	assert.Equal(t, "bob", ex.Member2ID)
	assert.Equal(t, "y", ex.Book1ID)
	assert.Equal(t, "x", ex.Book2ID)
	assert.Equal(t, "Riga", ex.Address1.City)
	assert.Equal(t, "Tartu", ex.Address2.City)
	assert.Equal(t, int64(1), ex.Version)
	assert.Equal(t, day("2024-03-01"), ex.CreatedAt)

	stored, err := f.lc.GetExchange(context.Background(), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, ex, stored)
}

func TestOpen_HidesAddressWithoutAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := models.Request{ID: "r", SenderID: "alice", ReceiverID: "bob", BookSenderWants: "x", BookReceiverWants: "y", Status: models.RequestAccepted}
	var ex models.Exchange
	err := f.db.InTx(ctx, func(ctx context.Context, tx storage.Storage) error {
		var err error
		ex, err = f.lc.Open(ctx, tx, req)
		return err
	})
	require.NoError(t, err)
	assert.True(t, ex.Address1.IsZero())
	assert.True(t, ex.Address2.IsZero())
}

func TestOpen_AddressOpenPolicy(t *testing.T) {
	f := newFixture(t, WithAddressVisibility(AddressOpen))
	ctx := context.Background()

	req := models.Request{ID: "r", SenderID: "alice", ReceiverID: "bob", BookSenderWants: "x", BookReceiverWants: "y", Status: models.RequestAccepted}
	var ex models.Exchange
	err := f.db.InTx(ctx, func(ctx context.Context, tx storage.Storage) error {
		var err error
		ex, err = f.lc.Open(ctx, tx, req)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "Riga", ex.Address1.City)
	assert.Equal(t, "Tartu", ex.Address2.City)
}

func TestOpen_RequiresAcceptedRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := models.Request{ID: "r", SenderID: "alice", ReceiverID: "bob", BookSenderWants: "x", Status: models.RequestActual}
	err := f.db.InTx(ctx, func(ctx context.Context, tx storage.Storage) error {
		_, err := f.lc.Open(ctx, tx, req)
		return err
	})
	assert.True(t, errors.Is(err, models.ErrState))

	exchanges, err := f.lc.SearchExchanges(ctx, models.ExchangeFilter{})
	require.NoError(t, err)
	assert.Empty(t, exchanges)
}

func TestSearchExchanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ex := f.open(t)

	got, err := f.lc.SearchExchanges(ctx, models.ExchangeFilter{MemberID: "bob"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ex.ID, got[0].ID)

	got, err = f.lc.SearchExchanges(ctx, models.ExchangeFilter{MemberID: "carol"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.lc.SearchExchanges(ctx, models.ExchangeFilter{Status: models.ExchangeCompleted})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = f.lc.SearchExchanges(ctx, models.ExchangeFilter{Status: "LOST"})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestGetExchange_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.lc.GetExchange(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestHistory(t *testing.T) {
	f := newFixture(t, WithJournal(nil))
	ctx := context.Background()
	ex := f.open(t)

	events, err := f.lc.History(ctx, ex.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = f.lc.History(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	f.lc.journal = f.db
	_, err = f.lc.SetNoTrack(ctx, ex.ID, "alice")
	require.NoError(t, err)

	events, err = f.lc.History(ctx, ex.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTrackSet, events[0].Kind)
	assert.Equal(t, "alice", events[0].ActorID)
	assert.Equal(t, models.NoTrack, events[0].Payload["track"])
	assert.NotEmpty(t, events[0].ID)
}
