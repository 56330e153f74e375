package config

import (
	"slices"
	"strings"
)

const namespaceUsers = "USERS"

// UsersConfig selects and configures the Users storage backend and the
// username policy.
type UsersConfig struct {
	Provider string `env:"PROVIDER"`

	UsernameMin       int      `env:"USERNAME_LENGTH_MIN" envDefault:"3"`
	UsernameMax       int      `env:"USERNAME_LENGTH_MAX" envDefault:"32"`
	UsernameForbidden []string `env:"USERNAME_FORBIDDEN" envSeparator:","`

	SuperAdminUsername string `env:"SUPER_ADMIN_USERNAME" envDefault:"admin"`
	// SuperAdminPassword enables the bootstrap step when set.
	SuperAdminPassword Secret `env:"SUPER_ADMIN_PASSWORD"`

	Timeouts StoreTimeouts
	Postgres PostgresConfig `envPrefix:"POSTGRES_"`
	DynamoDB DynamoDBConfig `envPrefix:"DYNAMODB_"`
}

// ForbiddenUsernames is the configured list plus the reserved names. Entries
// are lower-cased and de-duplicated.
func (u UsersConfig) ForbiddenUsernames() []string {
	out := []string{strings.ToLower(u.SuperAdminUsername), "me"}
	for _, name := range u.UsernameForbidden {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func (u UsersConfig) Validate() error {
	ns := namespaceUsers
	if u.UsernameMin <= 0 {
		return invalid(ns, "USERS_USERNAME_LENGTH_MIN", "must be positive")
	}
	if u.UsernameMin > u.UsernameMax {
		return invalid(ns, "USERS_USERNAME_LENGTH_MIN", "must not exceed USERS_USERNAME_LENGTH_MAX")
	}
	if u.SuperAdminUsername == "" {
		return missing(ns, "USERS_SUPER_ADMIN_USERNAME")
	}
	if err := u.Timeouts.validate(ns); err != nil {
		return err
	}

	switch u.Provider {
	case "":
		return missing(ns, "USERS_PROVIDER")
	case BackendPostgres:
		return u.Postgres.validate(ns)
	case BackendDynamoDB:
		return u.DynamoDB.validate(ns)
	case BackendMemory:
		return nil
	default:
		return invalid(ns, "USERS_PROVIDER", "must be one of postgres, dynamodb, memory")
	}
}
