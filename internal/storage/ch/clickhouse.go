// Package ch stores the lifecycle event journal in ClickHouse.
package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	jsoniter "github.com/json-iterator/go"

	"bookswap/internal/models"
	"bookswap/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const eventColumns = `id, kind, occurred_at, request_id, exchange_id, actor_id, recipient_id, payload`

type ClickHouseDB struct {
	conn clickhouse.Conn
}

var _ storage.Journal = (*ClickHouseDB)(nil)

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	return nil
}

// RecordEvent appends a lifecycle event to the journal
func (db *ClickHouseDB) RecordEvent(ctx context.Context, event models.Event) error {
	payload, err := json.MarshalToString(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	err = db.conn.Exec(ctx, `INSERT INTO exchange_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Kind), event.OccurredAt.UTC(), event.RequestID, event.ExchangeID,
		event.ActorID, event.RecipientID, payload)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// GetLastEvents returns the last N events
func (db *ClickHouseDB) GetLastEvents(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := db.conn.Query(ctx, `SELECT `+eventColumns+` FROM exchange_events ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get last events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetExchangeEvents returns the events of one exchange in the order they occurred
func (db *ClickHouseDB) GetExchangeEvents(ctx context.Context, exchangeID string) ([]models.Event, error) {
	rows, err := db.conn.Query(ctx, `SELECT `+eventColumns+` FROM exchange_events WHERE exchange_id = ? ORDER BY occurred_at, id`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

type eventRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows eventRows) ([]models.Event, error) {
	events := make([]models.Event, 0)
	for rows.Next() {
		var (
			event      models.Event
			kind       string
			occurredAt time.Time
			payload    string
		)
		if err := rows.Scan(&event.ID, &kind, &occurredAt, &event.RequestID, &event.ExchangeID,
			&event.ActorID, &event.RecipientID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Kind = models.EventKind(kind)
		event.OccurredAt = occurredAt.UTC()
		if payload != "" && payload != "null" {
			if err := json.UnmarshalFromString(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode payload of event %s: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
