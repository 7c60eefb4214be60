// Package config loads registry configuration from environment variables.
// Variable names mirror the deployment manifests so the same ConfigMap and
// Secret wiring works unchanged across environments.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full registry configuration.
type Config struct {
	Env      string `env:"ENVIRONMENT" envDefault:"development"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFile  string `env:"LOG_FILE"`

	Server   Server
	Database Database
	Redis    Redis
	Security Security
	Limits   Limits
	CORS     CORS
	Audit    Audit
	Tracing  Tracing
}

// Server captures HTTP server level configuration.
type Server struct {
	Port            int           `env:"PORT" envDefault:"8000"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr returns the listen address for the HTTP server.
func (s Server) Addr() string { return fmt.Sprintf(":%d", s.Port) }

// Database configures the PostgreSQL connection pool. Pool sizing variables
// keep the names the original deployment used.
type Database struct {
	URL         string        `env:"DATABASE_URL"`
	PoolSize    int           `env:"DB_POOL_SIZE" envDefault:"20"`
	MaxOverflow int           `env:"DB_MAX_OVERFLOW" envDefault:"10"`
	PoolTimeout time.Duration `env:"DB_POOL_TIMEOUT" envDefault:"30s"`
	MaxIdleTime time.Duration `env:"DB_POOL_RECYCLE" envDefault:"30m"`
}

// MaxOpenConns derives the sql.DB open connection cap from pool + overflow.
func (d Database) MaxOpenConns() int { return d.PoolSize + d.MaxOverflow }

// Redis configures the shared Redis client used for DPoP replay protection
// and the token revocation list.
type Redis struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Security holds key material and token policy.
type Security struct {
	// RegistryPrivateKey / RegistryPublicKey are the PEM-encoded RSA pair
	// used to sign and verify interaction tokens. Generated at startup in
	// development when absent.
	RegistryPrivateKey string `env:"REGISTRY_PRIVATE_KEY"`
	RegistryPublicKey  string `env:"REGISTRY_PUBLIC_KEY"`

	// RegistryEncryptionKey encrypts sensitive token claims in flight;
	// DBEncryptionKey encrypts fields at rest. Base64-encoded 32 bytes.
	RegistryEncryptionKey string `env:"REGISTRY_ENCRYPTION_KEY"`
	DBEncryptionKey       string `env:"DB_ENCRYPTION_KEY"`

	// JWTSecretKey is accepted for manifest compatibility; interaction
	// tokens are signed with the registry RSA pair, not this secret.
	JWTSecretKey   string `env:"JWT_SECRET_KEY"`
	InternalAPIKey string `env:"INTERNAL_API_KEY"`

	// TokenExpiryMinutes keeps the unit-suffixed name (and plain integer
	// value) the deployment manifests use.
	TokenExpiryMinutes int           `env:"TOKEN_EXPIRY_MINUTES" envDefault:"30"`
	DPoPProofMaxAge    time.Duration `env:"DPOP_PROOF_MAX_AGE" envDefault:"5m"`

	// UnclaimedAgentCap limits how many agents an unclaimed provider may
	// register before claiming.
	UnclaimedAgentCap int `env:"UNCLAIMED_PROVIDER_AGENT_CAP" envDefault:"3"`
}

// TokenTTL returns the interaction token lifetime.
func (s Security) TokenTTL() time.Duration {
	return time.Duration(s.TokenExpiryMinutes) * time.Minute
}

// Limits configures per-client request rate limiting. WindowSeconds is a
// plain integer to match the deployment variable.
type Limits struct {
	Requests      int `env:"RATE_LIMIT_REQUESTS" envDefault:"100"`
	WindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
}

// Window returns the rate limit window as a duration.
func (l Limits) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// CORS configures cross-origin policy for the dashboard.
type CORS struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Audit configures the audit pipeline. When Brokers is empty, events are
// persisted to Postgres only.
type Audit struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"authed.audit"`
	Buffer  int      `env:"AUDIT_BUFFER_SIZE" envDefault:"256"`
}

// Tracing configures the OTLP trace exporter. Disabled when Endpoint is empty.
type Tracing struct {
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"authed-registry"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1.0"`
}

// Load builds a Config from environment variables so main stays lean.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Env == "production" {
		switch {
		case c.Security.RegistryPrivateKey == "":
			return fmt.Errorf("REGISTRY_PRIVATE_KEY is required in production")
		case c.Security.DBEncryptionKey == "":
			return fmt.Errorf("DB_ENCRYPTION_KEY is required in production")
		case c.Security.InternalAPIKey == "":
			return fmt.Errorf("INTERNAL_API_KEY is required in production")
		}
	}
	if c.Limits.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.Limits.WindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive")
	}
	return nil
}
