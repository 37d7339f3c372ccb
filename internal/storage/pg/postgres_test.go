package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	postgresTC "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"bookswap/internal/exchange"
	"bookswap/internal/matcher"
	"bookswap/internal/models"
	"bookswap/internal/notify"
	"bookswap/internal/storage"
	"bookswap/migrations"
)

// setupTestDB starts PostgreSQL in a container and applies the migrations
func setupTestDB(t *testing.T) (*PostgresDB, func()) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	container, err := postgresTC.Run(ctx,
		"postgres:16-alpine",
		postgresTC.WithDatabase("bookswap"),
		postgresTC.WithUsername("bookswap"),
		postgresTC.WithPassword("bookswap"),
		postgresTC.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, migrations.Up(ctx, migrations.TargetPostgres, dsn), "Failed to run migrations")

	db, err := NewPostgresDB(ctx, dsn)
	require.NoError(t, err, "Failed to connect to PostgreSQL")

	cleanup := func() {
		db.Close()
		container.Terminate(ctx)
	}
	return db, cleanup
}

func seed(t *testing.T, db *PostgresDB) {
	t.Helper()
	ctx := context.Background()

	for _, m := range []models.Member{
		{ID: "alice", Name: "Alice", Email: "alice@example.com", Address: models.Address{City: "Riga", Country: "LV"}},
		{ID: "bob", Name: "Bob", Email: "bob@example.com", TelegramChatID: 42, Address: models.Address{City: "Tartu"}},
		{ID: "carol", Name: "Carol"},
	} {
		_, err := db.CreateMember(ctx, m)
		require.NoError(t, err)
	}
	for _, b := range []models.Book{
		{ID: "x", Title: "Dune", Author: "Frank Herbert"},
		{ID: "y", Title: "Solaris", Author: "Stanislaw Lem"},
		{ID: "z", Title: "Roadside Picnic"},
	} {
		_, err := db.CreateBook(ctx, b)
		require.NoError(t, err)
	}
	for _, o := range [][2]string{{"bob", "x"}, {"alice", "y"}, {"carol", "z"}} {
		require.NoError(t, db.AddToLibrary(ctx, o[0], o[1]))
		require.NoError(t, db.AddToOffered(ctx, o[0], o[1]))
	}
}

func TestPostgresDB_MembersAndLibrary(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seed(t, db)
	ctx := context.Background()

	bob, err := db.GetMember(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(42), bob.TelegramChatID)
	assert.Equal(t, "Tartu", bob.Address.City)

	_, err = db.CreateMember(ctx, models.Member{ID: "bob", Name: "Bob again"})
	assert.True(t, errors.Is(err, models.ErrConflict))
	_, err = db.GetMember(ctx, "ghost")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	err = db.AddToOffered(ctx, "alice", "x")
	assert.True(t, errors.Is(err, models.ErrValidation))
	err = db.AddToOffered(ctx, "ghost", "x")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	err = db.AddToLibrary(ctx, "ghost", "x")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	// idempotent
	require.NoError(t, db.AddToOffered(ctx, "bob", "x"))
	require.NoError(t, db.AddToLibrary(ctx, "bob", "x"))

	offered, err := db.ListOffered(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, offered, 1)
	assert.Equal(t, "Dune", offered[0].Title)

	require.NoError(t, db.RemoveFromLibrary(ctx, "bob", "x"))
	ok, err := db.OfferedContains(ctx, "bob", "x")
	require.NoError(t, err)
	assert.False(t, ok, "offer cascades with the library entry")

	owners, err := db.BookOwners(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, owners)

	require.NoError(t, db.GrantAddressAccess(ctx, "alice", "bob"))
	require.NoError(t, db.GrantAddressAccess(ctx, "alice", "bob"))
	ok, err = db.CanViewAddress(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.CanViewAddress(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresDB_RequestsAndExchanges(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seed(t, db)
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	req := models.Request{
		ID: "r1", SenderID: "alice", ReceiverID: "bob", BookSenderWants: "x",
		Status: models.RequestActual, Comment: "please", CreatedAt: created, UpdatedAt: created, Version: 1,
	}
	require.NoError(t, db.CreateRequest(ctx, req))

	got, err := db.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, req, got)

	req.Status = models.RequestAccepted
	req.BookReceiverWants = "y"
	updated, err := db.UpdateRequest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	_, err = db.UpdateRequest(ctx, req)
	assert.True(t, errors.Is(err, models.ErrConflict))

	actual, err := db.ListActualRequestsForBook(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, actual)

	found, err := db.FindRequests(ctx, models.RequestFilter{Status: models.RequestAccepted, MemberID: "bob"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "y", found[0].BookReceiverWants)

	ex := models.Exchange{
		ID: "e1", RequestID: "r1", Member1ID: "alice", Member2ID: "bob", Book1ID: "y", Book2ID: "x",
		Address1: models.Address{City: "Riga", Country: "LV"}, Address2: models.Address{City: "Tartu"},
		Status: models.ExchangeConfirmed, CreatedAt: created, UpdatedAt: created, Version: 1,
	}
	require.NoError(t, db.CreateExchange(ctx, ex))

	stored, err := db.GetExchange(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, ex, stored)

	completed := created.Add(48 * time.Hour)
	ex.Received1, ex.Received2 = true, true
	ex.Status = models.ExchangeCompleted
	ex.CompletedAt = &completed
	ex, err = db.UpdateExchange(ctx, ex)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ex.Version)

	stored, err = db.GetExchange(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, completed.Equal(*stored.CompletedAt))

	exchanges, err := db.SearchExchanges(ctx, models.ExchangeFilter{MemberID: "alice", Status: models.ExchangeCompleted})
	require.NoError(t, err)
	assert.Len(t, exchanges, 1)
	exchanges, err = db.SearchExchanges(ctx, models.ExchangeFilter{MemberID: "carol"})
	require.NoError(t, err)
	assert.Empty(t, exchanges)
}

func TestPostgresDB_InTxRollback(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seed(t, db)
	ctx := context.Background()

	err := db.InTx(ctx, func(ctx context.Context, tx storage.Storage) error {
		if err := tx.RemoveFromLibrary(ctx, "alice", "y"); err != nil {
			return err
		}
		return tx.AddToLibrary(ctx, "ghost", "y")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	ok, err := db.LibraryContains(ctx, "alice", "y")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresDB_ExchangeFlow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seed(t, db)
	ctx := context.Background()

	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(zap.NewNop()), nil, zap.NewNop(), nil)
	lc := exchange.New(db, dispatcher, zap.NewNop())
	m := matcher.New(db, lc, dispatcher, zap.NewNop())

	fromAlice, err := m.CreateRequest(ctx, matcher.CreateRequestParams{SenderID: "alice", ReceiverID: "bob", BookID: "x"})
	require.NoError(t, err)
	fromCarol, err := m.CreateRequest(ctx, matcher.CreateRequestParams{SenderID: "carol", ReceiverID: "bob", BookID: "x"})
	require.NoError(t, err)

	ex, err := m.AcceptRequest(ctx, matcher.AcceptRequestParams{RequestID: fromAlice.ID, ActorID: "bob", ChosenBookID: "y"})
	require.NoError(t, err)
	assert.Equal(t, "Riga", ex.Address1.City)

	lost, err := db.GetRequest(ctx, fromCarol.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, lost.Status)

	for _, member := range []string{"alice", "bob"} {
		_, err = lc.SetNoTrack(ctx, ex.ID, member)
		require.NoError(t, err)
	}
	for _, member := range []string{"alice", "bob"} {
		ex, err = lc.ReceiveBook(ctx, ex.ID, member)
		require.NoError(t, err)
	}
	assert.Equal(t, models.ExchangeCompleted, ex.Status)

	library, err := db.ListLibrary(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, library, 1)
	assert.Equal(t, "x", library[0].ID)
}
