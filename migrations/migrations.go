// Package migrations embeds the goose SQL migrations for each database.
package migrations

import "embed"

// Postgres holds the option store schema under "postgres".
//
//go:embed postgres/*.sql
var Postgres embed.FS

// ClickHouse holds the sync history schema under "clickhouse".
//
//go:embed clickhouse/*.sql
var ClickHouse embed.FS
