package config

import (
	"fmt"
	"net/url"
	"time"
)

// Backend identifiers accepted by USERS_PROVIDER and SESSIONS_PROVIDER.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// StoreTimeouts bounds every storage call.
type StoreTimeouts struct {
	Operation time.Duration `env:"OPERATION_TIMEOUT" envDefault:"5s"`
	Ping      time.Duration `env:"PING_TIMEOUT" envDefault:"2s"`
}

func (t StoreTimeouts) validate(ns string) error {
	if t.Operation <= 0 {
		return invalid(ns, ns+"_OPERATION_TIMEOUT", "must be positive")
	}
	if t.Ping <= 0 {
		return invalid(ns, ns+"_PING_TIMEOUT", "must be positive")
	}
	return nil
}

type PostgresConfig struct {
	Host            string        `env:"HOST"`
	Port            int           `env:"PORT" envDefault:"5432"`
	Name            string        `env:"DB_NAME"`
	User            string        `env:"DB_USER"`
	Password        Secret        `env:"DB_PASSWORD"`
	SSLMode         string        `env:"SSL_MODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
}

// DSN builds a lib/pq URL. The password is embedded, so never log the result.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password.Reveal()),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   "/" + p.Name,
	}
	q := u.Query()
	q.Set("sslmode", p.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (p PostgresConfig) validate(ns string) error {
	prefix := ns + "_POSTGRES_"
	switch {
	case p.Host == "":
		return missing(ns, prefix+"HOST")
	case p.Port <= 0:
		return invalid(ns, prefix+"PORT", "must be positive")
	case p.Name == "":
		return missing(ns, prefix+"DB_NAME")
	case p.User == "":
		return missing(ns, prefix+"DB_USER")
	case p.Password.IsEmpty():
		return missing(ns, prefix+"DB_PASSWORD")
	}
	return nil
}

type RedisConfig struct {
	Addr      string `env:"ADDR"`
	Password  Secret `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"warden"`
}

func (r RedisConfig) validate(ns, prefix string) error {
	if r.Addr == "" {
		return missing(ns, prefix+"ADDR")
	}
	return nil
}

type DynamoDBConfig struct {
	Region string `env:"REGION" envDefault:"us-east-1"`
	Table  string `env:"TABLE"`

	// Endpoint overrides the service URL, e.g. for DynamoDB Local.
	Endpoint string `env:"ENDPOINT"`

	// AccessKey and SecretKey are optional; when both are empty the default
	// AWS credential chain is used.
	AccessKey Secret `env:"ACCESS_KEY"`
	SecretKey Secret `env:"SECRET_KEY"`
}

func (d DynamoDBConfig) validate(ns string) error {
	prefix := ns + "_DYNAMODB_"
	if d.Region == "" {
		return missing(ns, prefix+"REGION")
	}
	if d.Table == "" {
		return missing(ns, prefix+"TABLE")
	}
	if d.AccessKey.IsEmpty() != d.SecretKey.IsEmpty() {
		if d.AccessKey.IsEmpty() {
			return missing(ns, prefix+"ACCESS_KEY")
		}
		return missing(ns, prefix+"SECRET_KEY")
	}
	return nil
}
