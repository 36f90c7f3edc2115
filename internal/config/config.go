// Package config holds the runtime settings of minutesd.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	GatewayModeCashfree  = "cashfree"
	GatewayModeSimulated = "simulated"

	StoreBackendGorm = "gorm"
	StoreBackendPgx  = "pgx"

	defaultHTTPListenAddr     = ":8080"
	defaultGRPCListenAddr     = ":7000"
	defaultDatabaseURL        = "sqlite:///tmp/minutes.db"
	defaultAllowedOrigin      = "http://localhost:5173"
	defaultSessionIssuer      = "tauth"
	defaultSessionCookie      = "app_session"
	defaultReturnURL          = "http://localhost:5173/payment/callback"
	defaultGatewayTimeout     = 10 * time.Second
	defaultMinutesPerExchange = 0.2
	defaultReconcileInterval  = time.Minute
	defaultReconcileOlderThan = 15 * time.Minute
	defaultReconcileBatchSize = 50
)

var errInvalidConfig = errors.New("invalid config")

// Cashfree carries the merchant credentials.
type Cashfree struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	APIVersion    string
}

// Responder configures the chat completion backend.
type Responder struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Reconcile configures the pending payment sweep.
type Reconcile struct {
	Enabled   bool
	Interval  time.Duration
	OlderThan time.Duration
	BatchSize int
}

// Config aggregates runtime settings.
type Config struct {
	Environment        string
	HTTPListenAddr     string
	GRPCListenAddr     string
	DatabaseURL        string
	StoreBackend       string
	AllowedOrigins     []string
	SessionSigningKey  string
	SessionIssuer      string
	SessionCookieName  string
	GatewayMode        string
	GatewayTimeout     time.Duration
	Cashfree           Cashfree
	ReturnURL          string
	NotifyURL          string
	MinutesPerExchange float64
	Responder          Responder
	Reconcile          Reconcile
}

// Validate fills defaults and rejects unsafe combinations.
func (cfg *Config) Validate() error {
	cfg.Environment = strings.ToLower(defaultIfEmpty(cfg.Environment, EnvironmentDevelopment))
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreBackend = strings.ToLower(defaultIfEmpty(cfg.StoreBackend, StoreBackendGorm))
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.GatewayMode = strings.ToLower(defaultIfEmpty(cfg.GatewayMode, GatewayModeCashfree))
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	cfg.ReturnURL = defaultIfEmpty(cfg.ReturnURL, defaultReturnURL)
	if cfg.MinutesPerExchange == 0 {
		cfg.MinutesPerExchange = defaultMinutesPerExchange
	}
	if cfg.Reconcile.Interval <= 0 {
		cfg.Reconcile.Interval = defaultReconcileInterval
	}
	if cfg.Reconcile.OlderThan <= 0 {
		cfg.Reconcile.OlderThan = defaultReconcileOlderThan
	}
	if cfg.Reconcile.BatchSize <= 0 {
		cfg.Reconcile.BatchSize = defaultReconcileBatchSize
	}

	switch cfg.Environment {
	case EnvironmentDevelopment, EnvironmentProduction:
	default:
		return fmt.Errorf("%w: unknown environment %q", errInvalidConfig, cfg.Environment)
	}
	switch cfg.StoreBackend {
	case StoreBackendGorm:
	case StoreBackendPgx:
		if !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("%w: pgx store requires a postgres database url", errInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", errInvalidConfig, cfg.StoreBackend)
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("%w: jwt signing key is required", errInvalidConfig)
	}
	if cfg.MinutesPerExchange < 0 {
		return fmt.Errorf("%w: minutes per exchange must be positive", errInvalidConfig)
	}
	switch cfg.GatewayMode {
	case GatewayModeCashfree:
		if strings.TrimSpace(cfg.Cashfree.ClientID) == "" || strings.TrimSpace(cfg.Cashfree.ClientSecret) == "" {
			return fmt.Errorf("%w: cashfree client id and secret are required", errInvalidConfig)
		}
		if strings.TrimSpace(cfg.Cashfree.WebhookSecret) == "" {
			return fmt.Errorf("%w: cashfree webhook secret is required", errInvalidConfig)
		}
	case GatewayModeSimulated:
		if cfg.Environment == EnvironmentProduction {
			return fmt.Errorf("%w: simulated gateway is not allowed in production", errInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown gateway mode %q", errInvalidConfig, cfg.GatewayMode)
	}
	return nil
}

// IsPostgres reports whether the database url selects postgres.
func (cfg Config) IsPostgres() bool {
	return isPostgresURL(cfg.DatabaseURL)
}

func isPostgresURL(raw string) bool {
	return strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
