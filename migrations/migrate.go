package migrations

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ClickHouse/clickhouse-go/v2" // registers the "clickhouse" driver
	_ "github.com/jackc/pgx/v5/stdlib"         // registers the "pgx" driver
	"github.com/pressly/goose/v3"
)

// Target names a database with its own migration set
type Target string

const (
	TargetPostgres   Target = "postgres"
	TargetClickHouse Target = "clickhouse"
)

// Open opens a database/sql handle for goose
func Open(target Target, dsn string) (*sql.DB, error) {
	driver := "pgx"
	if target == TargetClickHouse {
		driver = "clickhouse"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", target, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", target, err)
	}
	return db, nil
}

// Configure points goose at the embedded migrations of target and returns
// the directory to pass to goose commands.
func Configure(target Target) (string, error) {
	switch target {
	case TargetPostgres:
		goose.SetBaseFS(Postgres)
	case TargetClickHouse:
		goose.SetBaseFS(ClickHouse)
	default:
		return "", fmt.Errorf("unknown migration target %q", target)
	}
	if err := goose.SetDialect(string(target)); err != nil {
		return "", fmt.Errorf("failed to set dialect: %w", err)
	}
	return string(target), nil
}

// Up applies every pending migration of target
func Up(ctx context.Context, target Target, dsn string) error {
	db, err := Open(target, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	dir, err := Configure(target)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", target, err)
	}
	return nil
}
