package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Inventory InventoryAPIConfig
	RateLimit RateLimitConfig
	Executor  ExecutorConfig
	Monitor   MonitorConfig
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"stocksync"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	InstanceID  string `envconfig:"INSTANCE_ID" default:""`
}

// ServerConfig holds HTTP control-surface settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"3001"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds PostgreSQL connection settings. A localhost host with
// an empty password selects the embedded database.
type DatabaseConfig struct {
	Host     string `envconfig:"PG_HOST" default:"localhost"`
	Port     string `envconfig:"PG_PORT" default:"5432"`
	Username string `envconfig:"PG_USERNAME" default:"postgres"`
	Password string `envconfig:"PG_PASSWORD" default:""`
	Database string `envconfig:"PG_DATABASE" default:"stocksync"`
	Quiet    bool   `envconfig:"PG_QUIET_LOG" default:"false"`
}

// RedisConfig holds key-value cache settings. Type "memory" selects the
// in-process cache (development and tests).
type RedisConfig struct {
	Type     string `envconfig:"CACHE_TYPE" default:"redis"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Address returns the Redis address in host:port format.
func (r *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// InventoryAPIConfig holds external inventory API settings.
type InventoryAPIConfig struct {
	BaseURL   string        `envconfig:"INVENTORY_API_URL" default:""`
	APIKey    string        `envconfig:"INVENTORY_API_KEY" default:""`
	APISecret string        `envconfig:"INVENTORY_API_SECRET" default:""`
	PageSize  int           `envconfig:"INVENTORY_API_PAGE_SIZE" default:"100"`
	Timeout   time.Duration `envconfig:"INVENTORY_API_TIMEOUT" default:"30s"`
}

// RateLimitConfig holds outbound request throttling settings.
type RateLimitConfig struct {
	RequestsPerSecond int           `envconfig:"RATE_LIMIT_RPS" default:"2"`
	MinDelay          time.Duration `envconfig:"RATE_LIMIT_MIN_DELAY" default:"500ms"`
	MaxRetries        int           `envconfig:"RATE_LIMIT_MAX_RETRIES" default:"3"`
	RetryDelay        time.Duration `envconfig:"RATE_LIMIT_RETRY_DELAY" default:"1s"`
	MaxRetryDelay     time.Duration `envconfig:"RATE_LIMIT_MAX_RETRY_DELAY" default:"10s"`
}

// ExecutorConfig holds sync executor settings.
type ExecutorConfig struct {
	BatchSize      int           `envconfig:"SYNC_BATCH_SIZE" default:"50"`
	StuckThreshold time.Duration `envconfig:"SYNC_STUCK_THRESHOLD" default:"30m"`
	StaleItemDays  int           `envconfig:"SYNC_STALE_ITEM_DAYS" default:"365"`
	MaxRetries     int           `envconfig:"SYNC_BATCH_MAX_RETRIES" default:"3"`
	RetryDelay     time.Duration `envconfig:"SYNC_BATCH_RETRY_DELAY" default:"1s"`
	MaxRetryDelay  time.Duration `envconfig:"SYNC_BATCH_MAX_RETRY_DELAY" default:"10s"`
}

// MonitorConfig holds critical item monitor settings.
type MonitorConfig struct {
	PollInterval         time.Duration `envconfig:"MONITOR_POLL_INTERVAL" default:"5m"`
	CriticalStockoutDays float64       `envconfig:"MONITOR_CRITICAL_DAYS" default:"3"`
	HighStockoutDays     float64       `envconfig:"MONITOR_HIGH_DAYS" default:"7"`
	MediumStockoutDays   float64       `envconfig:"MONITOR_MEDIUM_DAYS" default:"14"`
	MaxAlertsPerHour     int           `envconfig:"MONITOR_MAX_ALERTS_PER_HOUR" default:"3"`
	PriceChangePct       float64       `envconfig:"MONITOR_PRICE_CHANGE_PCT" default:"10"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}
