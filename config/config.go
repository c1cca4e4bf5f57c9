// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP       HTTPConfig
	Store      StoreConfig
	Auth       AuthConfig
	Settlement SettlementConfig
	Logging    LoggingConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Port            int           `env:"LEDGER_PORT"             envDefault:"8080"`
	ReadTimeout     time.Duration `env:"LEDGER_READ_TIMEOUT"     envDefault:"15s"`
	WriteTimeout    time.Duration `env:"LEDGER_WRITE_TIMEOUT"    envDefault:"15s"`
	IdleTimeout     time.Duration `env:"LEDGER_IDLE_TIMEOUT"     envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"LEDGER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	AllowedOrigins  []string      `env:"LEDGER_ALLOWED_ORIGINS"  envDefault:"http://localhost:5173" envSeparator:","`
}

// StoreConfig locates the database.
type StoreConfig struct {
	// Path is a SQLite file path, ":memory:" for a throwaway database.
	Path     string `env:"LEDGER_DB_PATH"   envDefault:"ledger.db"`
	SeedFile string `env:"LEDGER_SEED_FILE"`
}

// AuthConfig controls bearer-token verification.
type AuthConfig struct {
	Secret   string        `env:"LEDGER_AUTH_SECRET"`
	Issuer   string        `env:"LEDGER_AUTH_ISSUER"    envDefault:"who-owes-who"`
	TokenTTL time.Duration `env:"LEDGER_AUTH_TOKEN_TTL" envDefault:"24h"`
}

// SettlementConfig tunes the transaction engine.
type SettlementConfig struct {
	MaxAttempts int `env:"LEDGER_TX_MAX_ATTEMPTS" envDefault:"5"`
	// Tolerance is the largest accepted difference between cardholder totals.
	// Zero means exact equality.
	Tolerance     decimal.Decimal `env:"LEDGER_SETTLEMENT_TOLERANCE" envDefault:"0"`
	SweepInterval time.Duration   `env:"LEDGER_SWEEP_INTERVAL"       envDefault:"0s"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string `env:"LEDGER_LOG_LEVEL"          envDefault:"info"`
	Format        string `env:"LEDGER_LOG_FORMAT"         envDefault:"text"` // text|json
	IncludeCaller bool   `env:"LEDGER_LOG_INCLUDE_CALLER" envDefault:"false"`
}

// Load reads configuration from environment variables, applying defaults,
// and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.HTTP.Port)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("LEDGER_DB_PATH is required")
	}
	if c.Settlement.MaxAttempts < 1 {
		return fmt.Errorf("LEDGER_TX_MAX_ATTEMPTS must be at least 1")
	}
	if c.Settlement.Tolerance.IsNegative() {
		return fmt.Errorf("LEDGER_SETTLEMENT_TOLERANCE must not be negative")
	}
	if c.Settlement.SweepInterval < 0 {
		return fmt.Errorf("LEDGER_SWEEP_INTERVAL must not be negative")
	}
	return nil
}

// RequireAuth checks the settings needed to verify or issue tokens.
func (c AuthConfig) RequireAuth() error {
	if strings.TrimSpace(c.Secret) == "" {
		return fmt.Errorf("LEDGER_AUTH_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("LEDGER_AUTH_TOKEN_TTL must be positive")
	}
	return nil
}
