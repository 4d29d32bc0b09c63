package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ProfileLite, cfg.Profile)
	assert.Equal(t, StorageBackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Observer.HeartbeatInterval)
	assert.True(t, cfg.Healer.Enabled)
	assert.True(t, cfg.Updater.PauseOnFailure)
}

func TestValidate_RejectsMismatchedProfileAndBackend(t *testing.T) {
	cfg := &Config{
		Profile:  ProfileStandard,
		Storage:  StorageConfig{Backend: StorageBackendSQLite},
		Server:   ServerConfig{Port: 8080},
		Observer: ObserverConfig{HeartbeatInterval: 5 * time.Minute},
		Prober:   ProberConfig{Retries: 3},
	}

	err := cfg.Validate()
	assert.ErrorContains(t, err, "storage.backend=postgres")
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 0},
		Observer: ObserverConfig{HeartbeatInterval: 5 * time.Minute},
		Prober:   ProberConfig{Retries: 1},
	}

	err := cfg.Validate()
	assert.ErrorContains(t, err, "invalid server port")
}

func TestValidate_RequiresPositiveHeartbeatInterval(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 8080},
		Observer: ObserverConfig{HeartbeatInterval: 0},
		Prober:   ProberConfig{Retries: 1},
	}

	err := cfg.Validate()
	assert.ErrorContains(t, err, "heartbeat_interval")
}
