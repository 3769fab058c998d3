// Package config defines the process-wide configuration for the scheduled
// payments service. Configuration is loaded once at startup and is immutable
// thereafter; it follows 12-Factor principles by strictly separating code
// from configuration. Any missing required value or invalid format fails
// startup immediately.
package config

import (
	"time"

	"paysched/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Components receive only the
// subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"scheduled-payments"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server       ServerConfig
	Database     DatabaseConfig
	Transfers    TransfersConfig
	Accounts     AccountsConfig
	NTP          NTPConfig
	Scheduler    SchedulerConfig
	RateLimit    RateLimitConfig
	Subscription SubscriptionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// TransfersConfig holds the transfers service endpoint used to execute due
// payments. Timeout bounds each individual transfer call.
type TransfersConfig struct {
	URL     string        `envconfig:"TRANSFER_SERVICE_URL" validate:"required,url"`
	Timeout time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"10s"`
}

// AccountsConfig holds the accounts service endpoint used to resolve an
// account's subscription tier. The URL may contain an "{accountId}" (or
// legacy "{iban}") placeholder; otherwise the account id is appended as a
// path segment.
type AccountsConfig struct {
	URL     string        `envconfig:"ACCOUNTS_SERVICE_URL" validate:"required,url"`
	Timeout time.Duration `envconfig:"ACCOUNTS_TIMEOUT" default:"5s"`
}

// NTPConfig holds trusted clock synchronization settings.
type NTPConfig struct {
	Server          string        `envconfig:"NTP_SERVER" default:"pool.ntp.org"`
	RefreshInterval time.Duration `envconfig:"NTP_REFRESH_INTERVAL" default:"60s"`
	Timeout         time.Duration `envconfig:"NTP_TIMEOUT" default:"3s"`
}

// SchedulerConfig holds the due-payment scanner settings.
type SchedulerConfig struct {
	Interval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"60s"`
}

// RateLimitConfig holds the fixed-window rate limiter settings. Per-route
// limits are requests per window.
type RateLimitConfig struct {
	Enabled         bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Window          time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	CleanupInterval time.Duration `envconfig:"RATE_LIMIT_CLEANUP_INTERVAL" default:"5m"`

	DefaultPerWindow  int `envconfig:"RATE_LIMIT_DEFAULT_PER_WINDOW" default:"60"`
	CreatePerWindow   int `envconfig:"RATE_LIMIT_CREATE_PER_WINDOW" default:"10"`
	ListPerWindow     int `envconfig:"RATE_LIMIT_LIST_PER_WINDOW" default:"30"`
	UpcomingPerWindow int `envconfig:"RATE_LIMIT_UPCOMING_PER_WINDOW" default:"30"`
	DeletePerWindow   int `envconfig:"RATE_LIMIT_DELETE_PER_WINDOW" default:"10"`
}

// SubscriptionConfig holds the maximum number of simultaneously active
// scheduled payments per tier. Zero means unlimited.
type SubscriptionConfig struct {
	Basic int `envconfig:"SUBSCRIPTION_BASIC" default:"1"`
	Mid   int `envconfig:"SUBSCRIPTION_MID" default:"10"`
	Pro   int `envconfig:"SUBSCRIPTION_PRO" default:"0"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
