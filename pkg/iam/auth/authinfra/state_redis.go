package authinfra

import (
	"context"
	"errors"
	"time"

	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/Abraxas-365/warden/pkg/storex/storexredis"
	"github.com/redis/go-redis/v9"
)

// RedisStateStore keeps OAuth2 states in Redis so any replica can finish a
// flow another one started. Each state is a plain key holding the provider
// id, expired by Redis and read with GETDEL so it can only be used once.
type RedisStateStore struct {
	client  *redis.Client
	keys    storexredis.Keyspace
	timeout time.Duration
}

func NewRedisStateStore(client *redis.Client, prefix string, timeout time.Duration) *RedisStateStore {
	return &RedisStateStore{
		client:  client,
		keys:    storexredis.Keyspace(prefix),
		timeout: timeout,
	}
}

func (s *RedisStateStore) key(state string) string {
	return s.keys.Key("oauth2", "state", state)
}

func (s *RedisStateStore) Name() string { return storexredis.BackendName }

func (s *RedisStateStore) Put(ctx context.Context, state, provider string, ttl time.Duration) error {
	ok, err := storex.Call(ctx, s.Name(), s.timeout, func(ctx context.Context) (bool, error) {
		return s.client.SetNX(ctx, s.key(state), provider, ttl).Result()
	})
	if err != nil {
		return err
	}
	if !ok {
		return storex.ErrConflict(s.Name(), "state")
	}
	return nil
}

func (s *RedisStateStore) Consume(ctx context.Context, state string) (string, error) {
	return storex.Call(ctx, s.Name(), s.timeout, func(ctx context.Context) (string, error) {
		provider, err := s.client.GetDel(ctx, s.key(state)).Result()
		if errors.Is(err, redis.Nil) {
			return "", storex.ErrNotFound(s.Name())
		}
		return provider, err
	})
}

func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
