// Package storexredis holds the go-redis plumbing shared by the key-value
// backends.
package storexredis

import (
	"fmt"
	"strings"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/redis/go-redis/v9"
)

// BackendName identifies Redis in storage errors.
const BackendName = "redis"

// NewClient builds a client without dialing.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Reveal(),
		DB:       cfg.DB,
	})
}

// Keyspace prefixes every key with a namespace, e.g. "warden:session:<id>".
type Keyspace string

func (k Keyspace) Key(parts ...string) string {
	prefix := strings.TrimSuffix(string(k), ":")
	if prefix == "" {
		return strings.Join(parts, ":")
	}
	return fmt.Sprintf("%s:%s", prefix, strings.Join(parts, ":"))
}
