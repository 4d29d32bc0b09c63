package storefactory

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for goose
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver for goose

	auditpostgres "github.com/zetherion-ai/opscore/internal/audit/postgres"
	auditsqlite "github.com/zetherion-ai/opscore/internal/audit/sqlite"
)

// migratePostgres opens its own short-lived *sql.DB over dsn (goose needs
// database/sql, not a pgxpool.Pool) and applies every pending migration
// embedded in the postgres package.
func migratePostgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	migrations, err := fs.Sub(auditpostgres.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load postgres migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("build postgres migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply postgres migrations: %w", err)
	}
	return nil
}

// migrateSQLite applies every pending migration embedded in the sqlite
// package against the database file at path.
func migrateSQLite(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	migrations, err := fs.Sub(auditsqlite.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load sqlite migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("build sqlite migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply sqlite migrations: %w", err)
	}
	return nil
}
