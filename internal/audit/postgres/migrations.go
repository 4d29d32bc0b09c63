package postgres

import "embed"

// MigrationsFS embeds this package's goose migration files so the
// migration runner never depends on a working directory at deploy time.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
