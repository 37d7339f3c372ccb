// Package pg implements the transactional store on PostgreSQL.
package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"

	"bookswap/internal/models"
	"bookswap/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	dialectPostgres = "postgres"

	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PostgresDB implements storage.Storage. The value handed to InTx callbacks
// runs every statement in the transaction and locks the rows it reads for
// update.
type PostgresDB struct {
	pool *pgxpool.Pool
	q    querier
	tx   bool
}

var _ storage.Storage = (*PostgresDB)(nil)

// NewPostgresDB connects to PostgreSQL
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresDB{pool: pool, q: pool}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *PostgresDB) Initialize(ctx context.Context) error {
	return nil
}

// InTx runs fn in a transaction, committing when it returns nil
func (db *PostgresDB) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Storage) error) error {
	if db.tx {
		return fn(ctx, db)
	}
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PostgresDB{pool: db.pool, q: tx, tx: true})
	})
}

// Close closes the connection pool
func (db *PostgresDB) Close() error {
	if db.pool != nil && !db.tx {
		db.pool.Close()
	}
	return nil
}

// forUpdate returns the row locking clause for reads inside a transaction
func (db *PostgresDB) forUpdate() string {
	if db.tx {
		return " FOR UPDATE"
	}
	return ""
}

// wrap attaches the domain error matching a PostgreSQL failure
func wrap(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%s: %w: %w", what, models.ErrConflict, err)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", what, models.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func columns(names []string) []any {
	cols := make([]any, len(names))
	for i, n := range names {
		cols[i] = n
	}
	return cols
}

func (db *PostgresDB) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := db.q.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func joinCols(names []string) string {
	return strings.Join(names, ", ")
}
