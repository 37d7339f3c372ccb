package pg

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"bookswap/internal/models"
)

var requestColumns = []string{
	"id", "sender_id", "receiver_id", "book_sender_wants", "book_receiver_wants",
	"status", "comment", "created_at", "updated_at", "version",
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanRequest(row scanner) (models.Request, error) {
	var (
		r      models.Request
		status string
		chosen *string
	)
	err := row.Scan(&r.ID, &r.SenderID, &r.ReceiverID, &r.BookSenderWants, &chosen,
		&status, &r.Comment, &r.CreatedAt, &r.UpdatedAt, &r.Version)
	if err != nil {
		return models.Request{}, err
	}
	if chosen != nil {
		r.BookReceiverWants = *chosen
	}
	r.Status = models.RequestStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// CreateRequest stores a new request
func (db *PostgresDB) CreateRequest(ctx context.Context, r models.Request) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO requests (`+joinCols(requestColumns)+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.SenderID, r.ReceiverID, r.BookSenderWants, nullable(r.BookReceiverWants),
		string(r.Status), r.Comment, r.CreatedAt, r.UpdatedAt, r.Version)
	if err != nil {
		return wrap(err, "failed to create request "+r.ID)
	}
	return nil
}

// GetRequest returns a request by id. It never locks the row: the competing
// set is locked in creation order by ListActualRequestsForBook instead.
func (db *PostgresDB) GetRequest(ctx context.Context, id string) (models.Request, error) {
	r, err := scanRequest(db.q.QueryRow(ctx,
		`SELECT `+joinCols(requestColumns)+` FROM requests WHERE id = $1`, id))
	if err != nil {
		return models.Request{}, wrap(err, "request "+id)
	}
	return r, nil
}

// UpdateRequest stores the request when its version matches
func (db *PostgresDB) UpdateRequest(ctx context.Context, r models.Request) (models.Request, error) {
	tag, err := db.q.Exec(ctx,
		`UPDATE requests
		 SET book_receiver_wants = $2, status = $3, comment = $4, updated_at = $5, version = version + 1
		 WHERE id = $1 AND version = $6`,
		r.ID, nullable(r.BookReceiverWants), string(r.Status), r.Comment, r.UpdatedAt, r.Version)
	if err != nil {
		return models.Request{}, wrap(err, "failed to update request "+r.ID)
	}
	if tag.RowsAffected() == 0 {
		current, err := db.GetRequest(ctx, r.ID)
		if err != nil {
			return models.Request{}, err
		}
		return models.Request{}, fmt.Errorf("request %s version %d, stored %d: %w",
			r.ID, r.Version, current.Version, models.ErrConflict)
	}
	r.Version++
	return r, nil
}

// ListActualRequestsForBook returns ACTUAL requests for the wanted book, oldest first
func (db *PostgresDB) ListActualRequestsForBook(ctx context.Context, bookID string) ([]models.Request, error) {
	rows, err := db.q.Query(ctx,
		`SELECT `+joinCols(requestColumns)+` FROM requests
		 WHERE book_sender_wants = $1 AND status = $2
		 ORDER BY created_at, id`+db.forUpdate(),
		bookID, string(models.RequestActual))
	if err != nil {
		return nil, wrap(err, "failed to list requests for book "+bookID)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// FindRequests returns requests matching the filter, oldest first
func (db *PostgresDB) FindRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	ds := goqu.Dialect(dialectPostgres).
		From("requests").
		Select(columns(requestColumns)...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(filter.Status)))
	}
	if filter.MemberID != "" {
		ds = ds.Where(goqu.Or(
			goqu.C("sender_id").Eq(filter.MemberID),
			goqu.C("receiver_id").Eq(filter.MemberID),
		))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build requests query: %w", err)
	}

	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(err, "failed to find requests")
	}
	defer rows.Close()

	return collectRequests(rows)
}

type rowIterator interface {
	scanner
	Next() bool
	Err() error
}

func collectRequests(rows rowIterator) ([]models.Request, error) {
	requests := make([]models.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "failed to read requests")
	}
	return requests, nil
}
