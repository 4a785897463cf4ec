package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
)

// Config holds all configuration for the storefront edge service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort       int      `env:"STOREFRONT_HTTP_PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	CookieSecure   bool     `env:"SESSION_COOKIE_SECURE" envDefault:"false"`

	// Upstream commerce API
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8000"`
	APIPrefix  string `env:"API_PREFIX" envDefault:"/api"`

	// Cart behaviour
	CartOperationTimeoutSec int `env:"CART_OPERATION_TIMEOUT_SECONDS" envDefault:"10"`
	QuickAddResetMs         int `env:"QUICK_ADD_RESET_MS" envDefault:"2000"`
	ToastInfoMs             int `env:"TOAST_INFO_MS" envDefault:"3000"`
	ToastErrorMs            int `env:"TOAST_ERROR_MS" envDefault:"6000"`

	// Outbound HTTP
	HTTPMaxRetries     int     `env:"HTTP_MAX_RETRIES" envDefault:"2"`
	HTTPRateLimitRPS   float64 `env:"HTTP_RATE_LIMIT_RPS" envDefault:"50"`
	HTTPRateLimitBurst int     `env:"HTTP_RATE_LIMIT_BURST" envDefault:"20"`

	// Circuit breaker settings for upstream calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Redis snapshot store
	RedisAddr       string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass       string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB         int    `env:"REDIS_DB" envDefault:"0"`
	SnapshotTTL     int    `env:"CART_SNAPSHOT_TTL_HOURS" envDefault:"168"`
	RedisSlowCmdMs  int    `env:"LOG_SLOW_REDIS_MS" envDefault:"50"`
	SnapshotEnabled bool   `env:"CART_SNAPSHOT_ENABLED" envDefault:"true"`

	// Kafka analytics
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	AnalyticsEnabled bool     `env:"ANALYTICS_ENABLED" envDefault:"false"`

	// Sessions
	SessionIdleTTLMin int    `env:"SESSION_IDLE_TTL_MINUTES" envDefault:"30"`
	SessionCookieName string `env:"SESSION_COOKIE_NAME" envDefault:"sf_session"`
	LoginPath         string `env:"LOGIN_PATH" envDefault:"/login"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants. It is run by pkg/config after
// parsing.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	u, err := url.ParseRequestURI(c.APIBaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid API_BASE_URL %q", c.APIBaseURL)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("API_PREFIX must start with /, got %q", c.APIPrefix)
	}
	if c.CartOperationTimeoutSec <= 0 {
		return fmt.Errorf("CART_OPERATION_TIMEOUT_SECONDS must be positive")
	}
	if c.HTTPMaxRetries < 0 {
		return fmt.Errorf("HTTP_MAX_RETRIES must not be negative")
	}
	if c.HTTPRateLimitRPS < 0 {
		return fmt.Errorf("HTTP_RATE_LIMIT_RPS must not be negative")
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0, 1], got %f", c.CBFailureRatio)
	}
	if c.AnalyticsEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when analytics are enabled")
	}
	if c.SessionIdleTTLMin <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL_MINUTES must be positive")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// APIURL returns the absolute base URL for upstream API calls.
func (c *Config) APIURL() string {
	return strings.TrimRight(c.APIBaseURL, "/") + strings.TrimRight(c.APIPrefix, "/")
}

// CartOperationTimeout bounds every remote cart call.
func (c *Config) CartOperationTimeout() time.Duration {
	return time.Duration(c.CartOperationTimeoutSec) * time.Second
}

// QuickAddReset is how long the quick-add button shows "added".
func (c *Config) QuickAddReset() time.Duration {
	return time.Duration(c.QuickAddResetMs) * time.Millisecond
}

// ToastInfoDuration is the auto-dismiss delay for info and success toasts.
func (c *Config) ToastInfoDuration() time.Duration {
	return time.Duration(c.ToastInfoMs) * time.Millisecond
}

// ToastErrorDuration is the auto-dismiss delay for error toasts.
func (c *Config) ToastErrorDuration() time.Duration {
	return time.Duration(c.ToastErrorMs) * time.Millisecond
}

// SnapshotTTLDuration is how long a confirmed cart snapshot is kept.
func (c *Config) SnapshotTTLDuration() time.Duration {
	return time.Duration(c.SnapshotTTL) * time.Hour
}

// SessionIdleTTL is how long an untouched session stays in memory.
func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLMin) * time.Minute
}
