// Package ddl embeds the idempotent schema scripts applied at startup.
package ddl

import _ "embed"

//go:embed postgres.sql
var Postgres string

//go:embed clickhouse.sql
var ClickHouse string
