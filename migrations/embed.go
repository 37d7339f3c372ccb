// Package migrations embeds the goose migrations of both databases.
package migrations

import "embed"

// Postgres holds the transactional schema, rooted at "postgres"
//
//go:embed postgres/*.sql
var Postgres embed.FS

// ClickHouse holds the event journal schema, rooted at "clickhouse"
//
//go:embed clickhouse/*.sql
var ClickHouse embed.FS
