// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable consumed by the binaries.
type Config struct {
	Addr string `env:"DOORLIST_ADDR" envDefault:":8080"`

	// Postgres DSN. Empty means in-memory stores (dev and tests).
	PostgresDSN string `env:"DOORLIST_PG_DSN"`

	// HS256 secret for session tokens. Required in production.
	SessionSecret string `env:"DOORLIST_SESSION_SECRET"`

	// Shared secret used to verify gateway webhook signatures.
	WebhookSecret string `env:"DOORLIST_WEBHOOK_SECRET"`

	// Maximum accepted age of a webhook signature timestamp.
	WebhookTolerance time.Duration `env:"DOORLIST_WEBHOOK_TOLERANCE" envDefault:"5m"`

	// Pending orders older than this are cancelled by the reconciler.
	OrderTimeout time.Duration `env:"DOORLIST_ORDER_TIMEOUT" envDefault:"30m"`

	// TOTP issuer shown in authenticator apps.
	TOTPIssuer string `env:"DOORLIST_TOTP_ISSUER" envDefault:"doorlist"`

	// WhatsApp number for support deep links, digits only.
	SupportNumber string `env:"DOORLIST_SUPPORT_NUMBER" envDefault:"15550100000"`

	SessionTTL time.Duration `env:"DOORLIST_SESSION_TTL" envDefault:"12h"`

	RateBurst  int `env:"DOORLIST_RATE_BURST" envDefault:"20"`
	RatePerSec int `env:"DOORLIST_RATE_PER_SEC" envDefault:"10"`

	MigrationsDir string `env:"DOORLIST_MIGRATIONS_DIR" envDefault:"migrations"`
	SeedsDir      string `env:"DOORLIST_SEEDS_DIR" envDefault:"seeds"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ValidateServer checks invariants that only the API server requires.
func (c Config) ValidateServer() error {
	if c.SessionSecret == "" {
		return errors.New("DOORLIST_SESSION_SECRET is required")
	}
	if len(c.SessionSecret) < 32 {
		return errors.New("DOORLIST_SESSION_SECRET must be at least 32 bytes")
	}
	if c.WebhookSecret == "" {
		return errors.New("DOORLIST_WEBHOOK_SECRET is required")
	}
	return nil
}
