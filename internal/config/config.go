package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all terminal configuration loaded from environment variables.
type Config struct {
	App     AppConfig
	Server  ServerConfig
	Backend BackendConfig
	Store   StoreConfig
	Sync    SyncConfig
	Cache   CacheConfig
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"tillpoint-possync"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	TerminalID  string `envconfig:"POS_TERMINAL_ID" default:"terminal-1"`
}

// ServerConfig holds settings for the localhost status HTTP surface.
type ServerConfig struct {
	Host            string        `envconfig:"STATUS_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"STATUS_PORT" default:"8090"`
	ReadTimeout     time.Duration `envconfig:"STATUS_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"STATUS_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"STATUS_SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"STATUS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// BackendConfig holds settings for the external POS REST API.
type BackendConfig struct {
	BaseURL        string        `envconfig:"POS_API_URL" default:"http://localhost:8080/api/v1"`
	AuthToken      string        `envconfig:"POS_API_TOKEN" default:""`
	RequestTimeout time.Duration `envconfig:"POS_API_TIMEOUT" default:"10s"`
	ProbeHost      string        `envconfig:"POS_PROBE_HOST" default:""` // derived from BaseURL when empty
	ProbeInterval  time.Duration `envconfig:"POS_PROBE_INTERVAL" default:"15s"`
}

// StoreConfig holds local persistent store settings.
type StoreConfig struct {
	Path          string        `envconfig:"STORE_PATH" default:"./data/possync.db"`
	QuotaBytes    int64         `envconfig:"STORE_QUOTA_BYTES" default:"536870912"` // 512 MiB
	RetryAttempts int           `envconfig:"STORE_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"STORE_RETRY_DELAY" default:"5s"`
}

// SyncConfig holds synchronizer settings.
type SyncConfig struct {
	Interval    time.Duration `envconfig:"SYNC_INTERVAL" default:"5m"`
	MaxAttempts int           `envconfig:"SYNC_MAX_ATTEMPTS" default:"10"`
	BackoffBase time.Duration `envconfig:"SYNC_BACKOFF_BASE" default:"30s"`
	BackoffMax  time.Duration `envconfig:"SYNC_BACKOFF_MAX" default:"30m"`
}

// CacheConfig holds hot-cache settings (memory by default, Redis optional).
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"`
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"2m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Address returns the status server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
