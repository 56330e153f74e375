package config

import "time"

const namespaceSessions = "SESSIONS"

// SessionsConfig selects the Sessions backend and tunes the lifecycle.
type SessionsConfig struct {
	Provider string `env:"PROVIDER"`

	// CreateMaxAttempts bounds session-id collision retries.
	CreateMaxAttempts int `env:"CREATE_MAX_ATTEMPTS" envDefault:"3"`

	Reaper ReaperConfig `envPrefix:"REAPER_"`

	Timeouts StoreTimeouts
	Postgres PostgresConfig `envPrefix:"POSTGRES_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	DynamoDB DynamoDBConfig `envPrefix:"DYNAMODB_"`
}

type ReaperConfig struct {
	Enabled   bool          `env:"ENABLED" envDefault:"true"`
	Interval  time.Duration `env:"INTERVAL" envDefault:"5m"`
	BatchSize int           `env:"BATCH_SIZE" envDefault:"500"`
	Workers   int           `env:"WORKERS" envDefault:"4"`
}

func (s SessionsConfig) Validate() error {
	ns := namespaceSessions
	if s.CreateMaxAttempts <= 0 {
		return invalid(ns, "SESSIONS_CREATE_MAX_ATTEMPTS", "must be positive")
	}
	if s.Reaper.Enabled {
		if s.Reaper.Interval <= 0 {
			return missing(ns, "SESSIONS_REAPER_INTERVAL")
		}
		if s.Reaper.BatchSize <= 0 {
			return invalid(ns, "SESSIONS_REAPER_BATCH_SIZE", "must be positive")
		}
	}
	if err := s.Timeouts.validate(ns); err != nil {
		return err
	}

	switch s.Provider {
	case "":
		return missing(ns, "SESSIONS_PROVIDER")
	case BackendPostgres:
		return s.Postgres.validate(ns)
	case BackendRedis:
		return s.Redis.validate(ns, "SESSIONS_REDIS_")
	case BackendDynamoDB:
		return s.DynamoDB.validate(ns)
	case BackendMemory:
		return nil
	default:
		return invalid(ns, "SESSIONS_PROVIDER", "must be one of postgres, redis, dynamodb, memory")
	}
}
