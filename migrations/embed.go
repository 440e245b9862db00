// Package migrations embeds the schema and seed SQL applied by `opsbridge migrate`.
package migrations

import "embed"

// FS holds sql/*.up.sql, sql/*.down.sql and seeds/*.sql.
//
//go:embed sql seeds
var FS embed.FS

const (
	SQLDir   = "sql"
	SeedsDir = "seeds"
)
