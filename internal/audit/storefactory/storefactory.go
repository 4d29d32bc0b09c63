// Package storefactory builds the audit.Store backend (C5) named by a
// deployment profile's storage configuration.
package storefactory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zetherion-ai/opscore/internal/audit"
	"github.com/zetherion-ai/opscore/internal/audit/postgres"
	"github.com/zetherion-ai/opscore/internal/audit/sqlite"
	"github.com/zetherion-ai/opscore/internal/config"
)

// Open builds the configured audit.Store backend and returns a close func
// releasing any underlying connection pool alongside it.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (audit.Store, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Username, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port,
			cfg.Database.Database, cfg.Database.SSLMode,
		)
		if err := migratePostgres(ctx, dsn); err != nil {
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if pingErr := pool.Ping(ctx); pingErr != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", pingErr)
		}
		store := postgres.New(pool, logger)
		return store, pool.Close, nil

	case config.StorageBackendSQLite, "":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.FilesystemPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite data directory: %w", err)
		}
		if err := migrateSQLite(ctx, cfg.Storage.FilesystemPath); err != nil {
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		store, err := sqlite.Open(cfg.Storage.FilesystemPath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
