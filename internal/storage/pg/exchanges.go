package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"bookswap/internal/models"
)

var exchangeColumns = []string{
	"id", "request_id", "member1_id", "member2_id", "book1_id", "book2_id",
	"address1", "address2", "track1", "track2", "received1", "received2",
	"status", "created_at", "updated_at", "completed_at", "version",
}

func scanExchange(row scanner) (models.Exchange, error) {
	var (
		e                  models.Exchange
		address1, address2 []byte
		status             string
		completedAt        *time.Time
	)
	err := row.Scan(&e.ID, &e.RequestID, &e.Member1ID, &e.Member2ID, &e.Book1ID, &e.Book2ID,
		&address1, &address2, &e.Track1, &e.Track2, &e.Received1, &e.Received2,
		&status, &e.CreatedAt, &e.UpdatedAt, &completedAt, &e.Version)
	if err != nil {
		return models.Exchange{}, err
	}
	if err := json.Unmarshal(address1, &e.Address1); err != nil {
		return models.Exchange{}, fmt.Errorf("failed to decode address1: %w", err)
	}
	if err := json.Unmarshal(address2, &e.Address2); err != nil {
		return models.Exchange{}, fmt.Errorf("failed to decode address2: %w", err)
	}
	e.Status = models.ExchangeStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		e.CompletedAt = &t
	}
	return e, nil
}

func encodeAddresses(e models.Exchange) ([]byte, []byte, error) {
	address1, err := json.Marshal(e.Address1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode address1: %w", err)
	}
	address2, err := json.Marshal(e.Address2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode address2: %w", err)
	}
	return address1, address2, nil
}

// CreateExchange stores a new exchange
func (db *PostgresDB) CreateExchange(ctx context.Context, e models.Exchange) error {
	address1, address2, err := encodeAddresses(e)
	if err != nil {
		return err
	}

	_, err = db.q.Exec(ctx,
		`INSERT INTO exchanges (`+joinCols(exchangeColumns)+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.RequestID, e.Member1ID, e.Member2ID, e.Book1ID, e.Book2ID,
		address1, address2, e.Track1, e.Track2, e.Received1, e.Received2,
		string(e.Status), e.CreatedAt, e.UpdatedAt, e.CompletedAt, e.Version)
	if err != nil {
		return wrap(err, "failed to create exchange "+e.ID)
	}
	return nil
}

// GetExchange returns an exchange by id, locking it inside a transaction
func (db *PostgresDB) GetExchange(ctx context.Context, id string) (models.Exchange, error) {
	e, err := scanExchange(db.q.QueryRow(ctx,
		`SELECT `+joinCols(exchangeColumns)+` FROM exchanges WHERE id = $1`+db.forUpdate(), id))
	if err != nil {
		return models.Exchange{}, wrap(err, "exchange "+id)
	}
	return e, nil
}

// UpdateExchange stores the exchange when its version matches. Participants,
// books and address snapshots are immutable and not written.
func (db *PostgresDB) UpdateExchange(ctx context.Context, e models.Exchange) (models.Exchange, error) {
	tag, err := db.q.Exec(ctx,
		`UPDATE exchanges
		 SET track1 = $2, track2 = $3, received1 = $4, received2 = $5, status = $6,
		     updated_at = $7, completed_at = $8, version = version + 1
		 WHERE id = $1 AND version = $9`,
		e.ID, e.Track1, e.Track2, e.Received1, e.Received2, string(e.Status),
		e.UpdatedAt, e.CompletedAt, e.Version)
	if err != nil {
		return models.Exchange{}, wrap(err, "failed to update exchange "+e.ID)
	}
	if tag.RowsAffected() == 0 {
		current, err := db.GetExchange(ctx, e.ID)
		if err != nil {
			return models.Exchange{}, err
		}
		return models.Exchange{}, fmt.Errorf("exchange %s version %d, stored %d: %w",
			e.ID, e.Version, current.Version, models.ErrConflict)
	}
	e.Version++
	return e, nil
}

// SearchExchanges returns exchanges matching the filter, oldest first
func (db *PostgresDB) SearchExchanges(ctx context.Context, filter models.ExchangeFilter) ([]models.Exchange, error) {
	ds := goqu.Dialect(dialectPostgres).
		From("exchanges").
		Select(columns(exchangeColumns)...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(filter.Status)))
	}
	if filter.MemberID != "" {
		ds = ds.Where(goqu.Or(
			goqu.C("member1_id").Eq(filter.MemberID),
			goqu.C("member2_id").Eq(filter.MemberID),
		))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build exchanges query: %w", err)
	}

	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(err, "failed to search exchanges")
	}
	defer rows.Close()

	exchanges := make([]models.Exchange, 0)
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "failed to read exchanges")
	}
	return exchanges, nil
}
