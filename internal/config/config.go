package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string `env:"BACKEND_ADDR" envDefault:":18111"`

	// Environment is "development" or "production"; it picks the log encoder.
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`

	Stripe   StripeConfig
	Auth     AuthConfig
	Wiza     WizaConfig
	Prospect ProspectConfig
	Worker   WorkerConfig

	// TracesExporter selects the OpenTelemetry exporter: "none" or "stdout".
	TracesExporter string `env:"OTEL_TRACES_EXPORTER" envDefault:"none"`
}

// StripeConfig holds billing provider credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// AuthConfig describes how bearer tokens issued by the identity provider are verified.
type AuthConfig struct {
	JWTSecret   string `env:"SUPABASE_JWT_SECRET"`
	JWTAudience string `env:"SUPABASE_JWT_AUDIENCE" envDefault:"authenticated"`
}

type WizaConfig struct {
	APIKey      string `env:"WIZA_API_KEY"`
	BaseURL     string `env:"WIZA_BASE_URL" envDefault:"https://wiza.co"`
	MaxProfiles int    `env:"WIZA_MAX_PROFILES" envDefault:"25"`
}

// ProspectConfig tunes the prospect-list reservation wait. WaitTimeout is a
// ceiling on how long a losing request waits for the winner, not a guarantee.
type ProspectConfig struct {
	PollInterval time.Duration `env:"PROSPECT_POLL_INTERVAL" envDefault:"200ms"`
	WaitTimeout  time.Duration `env:"PROSPECT_WAIT_TIMEOUT" envDefault:"2s"`
	StaleAfter   time.Duration `env:"PROSPECT_STALE_AFTER" envDefault:"2m"`
}

type WorkerConfig struct {
	Concurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
}

const (
	defaultServerAddress = ":18111"
	envServerAddress     = "BACKEND_ADDR"
	envDatabaseURL       = "DATABASE_URL"
	envStripeSecretKey   = "STRIPE_SECRET_KEY"
	envJWTSecret         = "SUPABASE_JWT_SECRET"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.validateServer(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDatabaseOnly is used by tooling that only needs DATABASE_URL.
func LoadDatabaseOnly() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

func (c Config) validateServer() error {
	var missing []string
	if strings.TrimSpace(c.Stripe.SecretKey) == "" {
		missing = append(missing, envStripeSecretKey)
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		missing = append(missing, envJWTSecret)
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.Prospect.PollInterval <= 0 || c.Prospect.WaitTimeout < c.Prospect.PollInterval {
		return errors.New("config: PROSPECT_WAIT_TIMEOUT must be at least PROSPECT_POLL_INTERVAL")
	}
	return nil
}

// IsDevelopment reports whether the service runs with developer defaults.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
