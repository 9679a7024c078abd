// Package config loads the voucher service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/LoyaltyGo/pkg/config"
)

// Config holds all configuration for the voucher service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"VOUCHER_HTTP_PORT" envDefault:"8012"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	PprofAllowedCIDRs  []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32" envSeparator:","`

	// PostgreSQL
	PostgresHost          string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort          int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser          string `env:"POSTGRES_USER" envDefault:"loyalty"`
	PostgresPass          string `env:"POSTGRES_PASSWORD" envDefault:"loyalty_secret"`
	PostgresDB            string `env:"VOUCHER_DB_NAME" envDefault:"voucher_db"`
	PostgresSSL           string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns            int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int    `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int    `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`
	SlowQueryMS           int    `env:"LOG_SLOW_QUERY_MS" envDefault:"200"`

	// Redis
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"VOUCHER_CONSUMER_GROUP" envDefault:"voucher-service"`

	// Downstream services
	PointsLedgerURL         string  `env:"POINTS_LEDGER_URL" envDefault:"http://localhost:8013"`
	MerchantDirectoryURL    string  `env:"MERCHANT_DIRECTORY_URL" envDefault:"http://localhost:8014"`
	HTTPClientTimeoutSecs   int     `env:"HTTP_CLIENT_TIMEOUT_SECONDS" envDefault:"5"`
	CircuitBreakerRatio     float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CircuitBreakerTimeoutS  int     `env:"CB_TIMEOUT_SECONDS" envDefault:"15"`
	MerchantCacheTTLSeconds int     `env:"MERCHANT_CACHE_TTL_SECONDS" envDefault:"600"`

	// Voucher engine
	RedeemTimeoutMS          int `env:"REDEEM_TIMEOUT_MS" envDefault:"3000"`
	RedeemLockTimeoutMS      int `env:"REDEEM_LOCK_TIMEOUT_MS" envDefault:"1500"`
	CodegenMaxAttempts       int `env:"CODEGEN_MAX_ATTEMPTS" envDefault:"10"`
	MaxCodesPerRequest       int `env:"MAX_CODES_PER_REQUEST" envDefault:"1000"`
	GiftCardValidityDays     int `env:"GIFT_CARD_VALIDITY_DAYS" envDefault:"365"`
	CreditIdempotencyTTLHour int `env:"CREDIT_IDEMPOTENCY_TTL_HOURS" envDefault:"168"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load voucher config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return errors.New("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return errors.New("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 || c.KafkaBrokers[0] == "" {
		return errors.New("KAFKA_BROKERS is required")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"HTTP_CLIENT_TIMEOUT_SECONDS", c.HTTPClientTimeoutSecs},
		{"CB_TIMEOUT_SECONDS", c.CircuitBreakerTimeoutS},
		{"MERCHANT_CACHE_TTL_SECONDS", c.MerchantCacheTTLSeconds},
		{"REDEEM_TIMEOUT_MS", c.RedeemTimeoutMS},
		{"REDEEM_LOCK_TIMEOUT_MS", c.RedeemLockTimeoutMS},
		{"CODEGEN_MAX_ATTEMPTS", c.CodegenMaxAttempts},
		{"MAX_CODES_PER_REQUEST", c.MaxCodesPerRequest},
		{"GIFT_CARD_VALIDITY_DAYS", c.GiftCardValidityDays},
		{"CREDIT_IDEMPOTENCY_TTL_HOURS", c.CreditIdempotencyTTLHour},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	if c.RedeemLockTimeoutMS >= c.RedeemTimeoutMS {
		return fmt.Errorf("REDEEM_LOCK_TIMEOUT_MS (%d) must be below REDEEM_TIMEOUT_MS (%d)",
			c.RedeemLockTimeoutMS, c.RedeemTimeoutMS)
	}
	if c.CircuitBreakerRatio <= 0 || c.CircuitBreakerRatio > 1 {
		return fmt.Errorf("CB_FAILURE_RATIO must be within (0, 1], got %v", c.CircuitBreakerRatio)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", c.OTELSampleRate)
	}
	return nil
}

// RedeemTimeout bounds a whole redemption transaction.
func (c *Config) RedeemTimeout() time.Duration {
	return time.Duration(c.RedeemTimeoutMS) * time.Millisecond
}

// LockTimeout bounds the wait for voucher and code row locks.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.RedeemLockTimeoutMS) * time.Millisecond
}

// HTTPClientTimeout is the per-request timeout of downstream calls.
func (c *Config) HTTPClientTimeout() time.Duration {
	return time.Duration(c.HTTPClientTimeoutSecs) * time.Second
}

// CreditIdempotencyTTL is how long processed credit keys are remembered.
func (c *Config) CreditIdempotencyTTL() time.Duration {
	return time.Duration(c.CreditIdempotencyTTLHour) * time.Hour
}

// MerchantCacheTTL is how long merchant names stay cached.
func (c *Config) MerchantCacheTTL() time.Duration {
	return time.Duration(c.MerchantCacheTTLSeconds) * time.Second
}
