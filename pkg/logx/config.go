package logx

import (
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Format is the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config configures a Logger. The env tags are read by LoadFromEnv.
type Config struct {
	Level        Level  `env:"LOG_LEVEL" envDefault:"info"`
	Format       Format `env:"LOG_FORMAT" envDefault:"console"`
	EnableColors bool   `env:"LOG_COLOR" envDefault:"true"`
	EnableCaller bool   `env:"LOG_CALLER" envDefault:"false"`
	TimeFormat   string `env:"LOG_TIME_FORMAT" envDefault:"2006-01-02T15:04:05Z07:00"`

	// RedactKeys are field names whose values are never written.
	// Matching is case-insensitive.
	RedactKeys []string `env:"LOG_REDACT_KEYS" envSeparator:","`

	Output io.Writer
}

func DefaultConfig() *Config {
	return &Config{
		Level:        LevelInfo,
		Format:       FormatConsole,
		EnableColors: true,
		TimeFormat:   time.RFC3339,
		Output:       os.Stdout,
	}
}

// LoadFromEnv reads LOG_* variables. Unparseable values fall back to the
// defaults so the logger is always usable.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return DefaultConfig()
	}
	if cfg.Format != FormatJSON {
		cfg.Format = FormatConsole
	}
	cfg.Output = os.Stdout
	return cfg
}
