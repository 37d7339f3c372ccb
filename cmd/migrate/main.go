// Command migrate applies the embedded goose migrations to PostgreSQL or
// ClickHouse.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"bookswap/internal/config"
	"bookswap/migrations"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using existing environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var target string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage bookswap database migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&target, "target", "t", string(migrations.TargetPostgres),
		"database to migrate: postgres or clickhouse")

	withDB := func(use, short string, fn func(ctx context.Context, db *sql.DB, dir string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				t := migrations.Target(target)
				dir, err := migrations.Configure(t)
				if err != nil {
					return err
				}
				dsn, err := dsnFor(t)
				if err != nil {
					return err
				}
				db, err := migrations.Open(t, dsn)
				if err != nil {
					return err
				}
				defer db.Close()

				log.Printf("Connected to %s, running %s", t, use)
				return fn(cmd.Context(), db, dir)
			},
		}
	}

	root.AddCommand(
		withDB("up", "Apply all pending migrations", func(ctx context.Context, db *sql.DB, dir string) error {
			if err := goose.UpContext(ctx, db, dir); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Println("Migrations completed successfully")
			return nil
		}),
		withDB("down", "Roll back the latest migration", func(ctx context.Context, db *sql.DB, dir string) error {
			if err := goose.DownContext(ctx, db, dir); err != nil {
				return fmt.Errorf("failed to rollback migration: %w", err)
			}
			log.Println("Rollback completed successfully")
			return nil
		}),
		withDB("status", "Print the status of all migrations", func(ctx context.Context, db *sql.DB, dir string) error {
			if err := goose.StatusContext(ctx, db, dir); err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			return nil
		}),
		withDB("version", "Print the current schema version", func(ctx context.Context, db *sql.DB, dir string) error {
			version, err := goose.GetDBVersionContext(ctx, db)
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			log.Printf("Current version: %d", version)
			return nil
		}),
		newCreateCmd(&target),
	)
	return root
}

// newCreateCmd writes a new sequential SQL migration into the source tree
func newCreateCmd(target *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new SQL migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := migrations.Target(*target)
			if t != migrations.TargetPostgres && t != migrations.TargetClickHouse {
				return fmt.Errorf("unknown migration target %q", t)
			}
			goose.SetSequential(true)
			if err := goose.Create(nil, filepath.Join(dir, string(t)), args[0], "sql"); err != nil {
				return fmt.Errorf("failed to create migration: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./migrations", "migrations source directory")
	return cmd
}

func dsnFor(target migrations.Target) (string, error) {
	if target == migrations.TargetPostgres {
		dsn := os.Getenv("POSTGRES_DSN")
		if dsn == "" {
			return "", fmt.Errorf("POSTGRES_DSN is required")
		}
		return dsn, nil
	}

	port, err := strconv.Atoi(getEnv("CLICKHOUSE_PORT", "9000"))
	if err != nil {
		return "", fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
	}
	cfg := config.Config{
		ClickHouseHost:     getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort:     port,
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "default"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		ClickHouseUseTLS:   getEnv("CLICKHOUSE_USE_TLS", "false") == "true",
	}
	return cfg.ClickHouseDSN(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
