package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full opscore configuration surface, shared by both
// the observer and updater binaries. Each binary only reads the sections it
// needs.
type Config struct {
	// Profile selects the deployment profile: "lite" (embedded SQLite audit
	// store, single process) or "standard" (Postgres-backed, optional Redis
	// distributed lock for multi-replica updaters).
	Profile DeploymentProfile `mapstructure:"profile"`

	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	App      AppConfig      `mapstructure:"app"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	Prober   ProberConfig   `mapstructure:"prober"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Healer   HealerConfig   `mapstructure:"healer"`
	Observer ObserverConfig `mapstructure:"observer"`
	Updater  UpdaterConfig  `mapstructure:"updater"`
}

// DeploymentProfile represents the deployment profile type.
type DeploymentProfile string

const (
	// ProfileLite is single-node deployment with embedded SQLite storage.
	ProfileLite DeploymentProfile = "lite"
	// ProfileStandard is the Postgres-backed, HA-ready deployment.
	ProfileStandard DeploymentProfile = "standard"
)

// StorageConfig holds audit-store backend configuration.
type StorageConfig struct {
	Backend        StorageBackend `mapstructure:"backend"`
	FilesystemPath string         `mapstructure:"filesystem_path"`
}

// StorageBackend represents the audit-store implementation.
type StorageBackend string

const (
	StorageBackendSQLite   StorageBackend = "sqlite"
	StorageBackendPostgres StorageBackend = "postgres"
)

// ServerConfig holds the updater sidecar HTTP server configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig holds Postgres connection configuration for the "standard"
// profile audit store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// RedisConfig holds the optional distributed apply-lock backend used when
// multiple updater sidecar replicas share one deployment target.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig holds process-identity configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// ProberConfig configures the health-check prober (C1).
type ProberConfig struct {
	Retries        int           `mapstructure:"retries"`
	DelaySeconds   time.Duration `mapstructure:"delay_seconds"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds"`
}

// AnalyzerConfig holds health analyzer (C4) settings. BaselineWindow is
// loaded and defaulted here but not read by internal/observer, whose
// baseline window is a fixed six samples.
type AnalyzerConfig struct {
	BaselineWindow int `mapstructure:"baseline_window"`
}

// HealerConfig configures the self-healer (C6).
type HealerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CooldownSeconds time.Duration `mapstructure:"cooldown_seconds"`
	OllamaBaseURL   string        `mapstructure:"ollama_base_url"`
}

// ObserverConfig configures the observer loop (C7). The tick cadence itself
// (analyze every 6th beat, daily report every 288th) is part of the observer
// package's fixed contract, not a deployment knob, so only owner routing and
// the standalone binary's ticker pace live here.
type ObserverConfig struct {
	AlertOwnerIDs []string `mapstructure:"alert_owner_ids"`

	// HeartbeatInterval paces the standalone opscore-observer binary's
	// internal ticker when no external scheduler drives OnHeartbeat. At the
	// default 5m, the observer's hardcoded 6-tick analysis modulus and
	// 288-tick daily-report modulus land on a 30-minute analysis cadence
	// and a 24-hour daily report.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// UpdaterConfig configures the blue/green update executor and its control
// API (C8/C9).
type UpdaterConfig struct {
	ProjectDir        string        `mapstructure:"project_dir"`
	ComposeFile       string        `mapstructure:"compose_file"`
	StatePath         string        `mapstructure:"state_path"`
	RouteConfigPath   string        `mapstructure:"route_config_path"`
	SecretPath        string        `mapstructure:"secret_path"`
	PauseOnFailure    bool          `mapstructure:"pause_on_failure"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	HealthCheckConfig ProberConfig  `mapstructure:"health_check"`
}

// LoadConfig loads configuration from an optional YAML file plus
// environment variables, applying defaults first.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OPSCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("profile", "lite")
	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("storage.filesystem_path", "/data/opscore-audit.db")

	viper.SetDefault("server.port", 9090)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "opscore")
	viper.SetDefault("database.username", "opscore")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.min_connections", 2)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "10s")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.lock_ttl", "2m")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("app.name", "opscore")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("prober.retries", 3)
	viper.SetDefault("prober.delay_seconds", "2s")
	viper.SetDefault("prober.timeout_seconds", "5s")

	viper.SetDefault("analyzer.baseline_window", 12)

	viper.SetDefault("healer.enabled", true)
	viper.SetDefault("healer.cooldown_seconds", "5m")
	viper.SetDefault("healer.ollama_base_url", "http://localhost:11434")

	viper.SetDefault("observer.heartbeat_interval", "5m")

	viper.SetDefault("updater.project_dir", "/project")
	viper.SetDefault("updater.compose_file", "/project/docker-compose.yml")
	viper.SetDefault("updater.state_path", "/app/data/updater-state.json")
	viper.SetDefault("updater.route_config_path", "/project/config/traefik/dynamic/updater-routes.yml")
	viper.SetDefault("updater.secret_path", "/app/data/updater.secret")
	viper.SetDefault("updater.pause_on_failure", true)
	viper.SetDefault("updater.command_timeout", "5m")
	viper.SetDefault("updater.health_check.retries", 5)
	viper.SetDefault("updater.health_check.delay_seconds", "3s")
	viper.SetDefault("updater.health_check.timeout_seconds", "5s")
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Profile == ProfileStandard && c.Storage.Backend != StorageBackendPostgres {
		return fmt.Errorf("profile %q requires storage.backend=postgres", c.Profile)
	}

	if c.Profile == ProfileLite && c.Storage.Backend == StorageBackendPostgres {
		return fmt.Errorf("profile %q cannot use storage.backend=postgres", c.Profile)
	}

	if c.Observer.HeartbeatInterval <= 0 {
		return fmt.Errorf("observer.heartbeat_interval must be positive")
	}

	if c.Prober.Retries < 1 {
		return fmt.Errorf("prober.retries must be at least 1")
	}

	return nil
}
