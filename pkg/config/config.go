// Package config is the process-wide configuration snapshot. It is parsed
// once from the environment, validated namespace by namespace, and treated
// as read-only afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/caarlos0/env/v11"
)

// Config is the root snapshot. Namespaces validate in declaration order.
type Config struct {
	App      AppConfig      `envPrefix:"APP_"`
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Users    UsersConfig    `envPrefix:"USERS_"`
	Sessions SessionsConfig `envPrefix:"SESSIONS_"`
	Auth     AuthConfig     `envPrefix:"AUTH_"`
}

type AppConfig struct {
	// Name is the JWT audience.
	Name    string `env:"NAME" envDefault:"warden"`
	Version string `env:"VERSION" envDefault:"dev"`
}

type ServerConfig struct {
	Port        string   `env:"PORT" envDefault:"8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load parses the environment into a Config. It does not validate; that is
// the first readiness step.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, ErrRegistry.NewWithCause(CodeParseFailed, err)
	}
	return &cfg, nil
}

// Validate checks every namespace and returns the first failure.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return missing("APP", "APP_NAME")
	}
	if err := c.Users.Validate(); err != nil {
		return err
	}
	if err := c.Sessions.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ============================================================================
// Secrets
// ============================================================================

// Secret is a string that never prints its value.
type Secret string

const masked = "*****"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return masked
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// Reveal returns the raw value. Call sites should hand it straight to the
// consuming client.
func (s Secret) Reveal() string { return string(s) }

func (s Secret) IsEmpty() bool { return s == "" }

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("CONFIG")

var (
	CodeParseFailed  = ErrRegistry.Register("PARSE_FAILED", errx.TypeValidation, http.StatusInternalServerError, "Configuration could not be parsed")
	CodeMissingField = ErrRegistry.Register("MISSING_FIELD", errx.TypeValidation, http.StatusInternalServerError, "Required configuration value is missing")
	CodeInvalidField = ErrRegistry.Register("INVALID_FIELD", errx.TypeValidation, http.StatusInternalServerError, "Configuration value is invalid")
)

// missing names the namespace and env var of an absent required value.
func missing(namespace, field string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeMissingField, fmt.Sprintf("%s: %s is required", namespace, field)).
		WithDetail("namespace", namespace).
		WithDetail("field", field)
}

func invalid(namespace, field, reason string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidField, fmt.Sprintf("%s: %s %s", namespace, field, reason)).
		WithDetail("namespace", namespace).
		WithDetail("field", field)
}

// IsConfigError reports whether err came from configuration validation.
func IsConfigError(err error) bool {
	return errx.IsCode(err, CodeMissingField) ||
		errx.IsCode(err, CodeInvalidField) ||
		errx.IsCode(err, CodeParseFailed)
}
