package storefactory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetherion-ai/opscore/internal/audit"
	"github.com/zetherion-ai/opscore/internal/config"
)

func TestOpen_SQLiteBackendMigratesAndOpens(t *testing.T) {
	cfg := config.Config{
		Profile: config.ProfileLite,
		Storage: config.StorageConfig{
			Backend:        config.StorageBackendSQLite,
			FilesystemPath: filepath.Join(t.TempDir(), "nested", "audit.db"),
		},
	}

	store, closeFn, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer closeFn()

	snap := audit.MetricsSnapshot{}
	_, err = store.SaveSnapshot(context.Background(), snap)
	assert.NoError(t, err)
}

func TestOpen_SQLiteBackendIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	cfg := config.Config{
		Storage: config.StorageConfig{Backend: config.StorageBackendSQLite, FilesystemPath: path},
	}

	store1, close1, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	close1()

	store2, close2, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer close2()

	assert.NotNil(t, store1)
	assert.NotNil(t, store2)
}

func TestOpen_UnknownBackendErrors(t *testing.T) {
	cfg := config.Config{
		Storage: config.StorageConfig{Backend: config.StorageBackend("mongodb")},
	}

	_, _, err := Open(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown storage backend")
}
