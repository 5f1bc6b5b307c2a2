// Package config defines the global configuration structure for the probill
// service. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast): a missing webhook secret is a boot error, never a
// runtime 500 on the first webhook.
package config

import (
	"time"

	"probill/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the probill service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"probill-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Provider ProviderConfig
	Auth     AuthConfig
	Security SecurityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// ProviderConfig holds Razorpay payment integration credentials and plan
// parameters. KeySecret signs payment-capture verification digests; the
// WebhookSecret is a distinct secret signing asynchronous webhook payloads.
type ProviderConfig struct {
	KeyID         string       `envconfig:"RAZORPAY_KEY_ID" validate:"required"`
	KeySecret     SecretString `envconfig:"RAZORPAY_KEY_SECRET" validate:"required"`
	WebhookSecret SecretString `envconfig:"RAZORPAY_WEBHOOK_SECRET" validate:"required"`
	PlanID        string       `envconfig:"RAZORPAY_PLAN_ID" validate:"required"`

	PlanName    string `envconfig:"PLAN_NAME" default:"pro"`
	PlanAmount  int64  `envconfig:"PLAN_AMOUNT" default:"40000"` // paise
	TotalCycles int    `envconfig:"PLAN_TOTAL_CYCLES" default:"12"`
}

// AuthConfig holds the OIDC identity provider settings used to verify bearer
// tokens on lifecycle API calls.
type AuthConfig struct {
	IssuerURL string `envconfig:"AUTH_ISSUER_URL" validate:"required,url"`
	Audience  string `envconfig:"AUTH_AUDIENCE" validate:"required"`
}

// SecurityConfig holds CORS settings for the browser-facing endpoints.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
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
