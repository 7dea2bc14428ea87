// Package migrations embeds the goose SQL migrations for the pool schema.
package migrations

import "embed"

// TableName is the goose version table.
const TableName = "schema_migrations"

// FS holds every migration file, applied in version order by goose.
//
//go:embed *.sql
var FS embed.FS
