package sessioninfra

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/Abraxas-365/warden/pkg/storex/storexredis"
	"github.com/redis/go-redis/v9"
)

// Key layout under the configured prefix:
//
//	session:<id>          hash, expires with the session
//	sessions:expiry       zset of ids scored by expiry ms; 0 once revoked
//	user:<uid>:sessions   set of ids per user
//
// The zset and user sets may briefly reference hashes Redis already
// expired; the reaper and ListByUser clean those up.

// createScript writes the hash and both indexes only if the id is free.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('PEXPIREAT', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
return 1
`)

// deleteScript drops the hash and its index entries. It returns 0 when the
// hash was already gone; the zset entry is removed either way.
var deleteScript = redis.NewScript(`
local uid = redis.call('HGET', KEYS[1], 'user_id')
redis.call('ZREM', KEYS[2], ARGV[1])
if not uid then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', ARGV[2] .. uid .. ARGV[3], ARGV[1])
return 1
`)

type RedisRepository struct {
	client  *redis.Client
	keys    storexredis.Keyspace
	timeout time.Duration
}

func NewRedisRepository(client *redis.Client, prefix string, timeout time.Duration) *RedisRepository {
	return &RedisRepository{client: client, keys: storexredis.Keyspace(prefix), timeout: timeout}
}

func (r *RedisRepository) sessionKey(id kernel.SessionID) string { return r.keys.Key("session", id.String()) }
func (r *RedisRepository) expiryKey() string                     { return r.keys.Key("sessions", "expiry") }
func (r *RedisRepository) userKey(id kernel.UserID) string       { return r.keys.Key("user", id.String(), "sessions") }

// ============================================================================
// Hash encoding
// ============================================================================

func toHash(s *session.Session) map[string]any {
	meta, _ := json.Marshal(s.Metadata)
	revoked := ""
	if s.RevokedAt != nil {
		revoked = s.RevokedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"user_id":    s.UserID.String(),
		"scheme":     s.Scheme,
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"ttl_ms":     strconv.FormatInt(s.TTL.Milliseconds(), 10),
		"revoked_at": revoked,
		"metadata":   string(meta),
	}
}

func fromHash(id kernel.SessionID, h map[string]string) (*session.Session, error) {
	created, err := time.Parse(time.RFC3339Nano, h["created_at"])
	if err != nil {
		return nil, err
	}
	expires, err := time.Parse(time.RFC3339Nano, h["expires_at"])
	if err != nil {
		return nil, err
	}
	ttl, err := strconv.ParseInt(h["ttl_ms"], 10, 64)
	if err != nil {
		return nil, err
	}
	s := &session.Session{
		ID:        id,
		UserID:    kernel.UserID(h["user_id"]),
		Scheme:    h["scheme"],
		CreatedAt: created,
		ExpiresAt: expires,
		TTL:       time.Duration(ttl) * time.Millisecond,
		Metadata:  map[string]string{},
	}
	if v := h["revoked_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, err
		}
		s.RevokedAt = &t
	}
	if v := h["metadata"]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &s.Metadata); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// expiryScore orders the reap index; revoked sessions sort first.
func expiryScore(s *session.Session) float64 {
	if s.RevokedAt != nil {
		return 0
	}
	return float64(s.ExpiresAt.UnixMilli())
}

// ============================================================================
// Provider
// ============================================================================

func (r *RedisRepository) Name() string { return storexredis.BackendName }

func (r *RedisRepository) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisRepository) Close() error { return r.client.Close() }

func (r *RedisRepository) Get(ctx context.Context, id kernel.SessionID) (*session.Session, error) {
	return storex.Call(ctx, storexredis.BackendName, r.timeout, func(ctx context.Context) (*session.Session, error) {
		h, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(h) == 0 {
			return nil, storex.ErrNotFound(storexredis.BackendName)
		}
		return fromHash(id, h)
	})
}

func (r *RedisRepository) Create(ctx context.Context, s session.Session) (*session.Session, error) {
	args := []any{s.ExpiresAt.UnixMilli(), s.ID.String()}
	for k, v := range toHash(&s) {
		args = append(args, k, v)
	}
	keys := []string{r.sessionKey(s.ID), r.expiryKey(), r.userKey(s.UserID)}

	return storex.Call(ctx, storexredis.BackendName, r.timeout, func(ctx context.Context) (*session.Session, error) {
		ok, err := createScript.Run(ctx, r.client, keys, args...).Int()
		if err != nil {
			return nil, err
		}
		if ok == 0 {
			return nil, storex.ErrConflict(storexredis.BackendName, "id")
		}
		return s.Clone(), nil
	})
}

// Update is an optimistic WATCH/MULTI cycle on the session hash.
func (r *RedisRepository) Update(ctx context.Context, id kernel.SessionID, patch session.Patch) (*session.Session, error) {
	key := r.sessionKey(id)
	return storex.Call(ctx, storexredis.BackendName, r.timeout, func(ctx context.Context) (*session.Session, error) {
		var updated *session.Session
		txf := func(tx *redis.Tx) error {
			h, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(h) == 0 {
				return storex.ErrNotFound(storexredis.BackendName)
			}
			s, err := fromHash(id, h)
			if err != nil {
				return err
			}
			patch.Apply(s)

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.HSet(ctx, key, toHash(s))
				p.PExpireAt(ctx, key, s.ExpiresAt)
				p.ZAdd(ctx, r.expiryKey(), redis.Z{Score: expiryScore(s), Member: id.String()})
				return nil
			})
			if err == nil {
				updated = s
			}
			return err
		}

		var err error
		for range writeAttempts {
			err = r.client.Watch(ctx, txf, key)
			if !errors.Is(err, redis.TxFailedErr) {
				break
			}
		}
		if errors.Is(err, redis.TxFailedErr) {
			return nil, storex.ErrConflict(storexredis.BackendName, "version").WithCause(err)
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	})
}

func (r *RedisRepository) Delete(ctx context.Context, id kernel.SessionID) error {
	keys := []string{r.sessionKey(id), r.expiryKey()}
	userPrefix := r.keys.Key("user") + ":"

	return storex.Exec(ctx, storexredis.BackendName, r.timeout, func(ctx context.Context) error {
		n, err := deleteScript.Run(ctx, r.client, keys, id.String(), userPrefix, ":sessions").Int()
		if err != nil {
			return err
		}
		if n == 0 {
			return storex.ErrNotFound(storexredis.BackendName)
		}
		return nil
	})
}

func (r *RedisRepository) Exists(ctx context.Context, id kernel.SessionID) (bool, error) {
	return storex.Call(ctx, storexredis.BackendName, r.timeout, func(ctx context.Context) (bool, error) {
		n, err := r.client.Exists(ctx, r.sessionKey(id)).Result()
		return n == 1, err
	})
}

// ListByUser loads every hash in the user's set and drops ids whose hash
// Redis already expired.
func (r *RedisRepository) ListByUser(ctx context.Context, userID kernel.UserID) ([]*session.Session, error) {
	return storex.Call(ctx, storexredis.BackendName, r.timeout, func(ctx context.Context) ([]*session.Session, error) {
		ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
		if err != nil {
			return nil, err
		}
		found, missing, err := r.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			members := make([]any, len(missing))
			for i, id := range missing {
				members[i] = id
			}
			if err := r.client.SRem(ctx, r.userKey(userID), members...).Err(); err != nil {
				return nil, err
			}
		}
		return found, nil
	})
}

// ListReapable reads the expiry index. Ids whose hash is already gone are
// returned as bare sessions so the reaper still clears their index entry.
func (r *RedisRepository) ListReapable(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	return storex.Call(ctx, storexredis.BackendName, r.timeout, func(ctx context.Context) ([]*session.Session, error) {
		zs, err := r.client.ZRangeByScoreWithScores(ctx, r.expiryKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: int64(limit),
		}).Result()
		if err != nil {
			return nil, err
		}

		ids := make([]string, len(zs))
		scores := make(map[string]float64, len(zs))
		for i, z := range zs {
			id, _ := z.Member.(string)
			ids[i] = id
			scores[id] = z.Score
		}
		found, missing, err := r.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range missing {
			found = append(found, &session.Session{
				ID:        kernel.SessionID(id),
				ExpiresAt: time.UnixMilli(int64(scores[id])).UTC(),
			})
		}
		return found, nil
	})
}

func (r *RedisRepository) load(ctx context.Context, ids []string) ([]*session.Session, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, r.sessionKey(kernel.SessionID(id)))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		found   []*session.Session
		missing []string
	)
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			missing = append(missing, ids[i])
			continue
		}
		s, err := fromHash(kernel.SessionID(ids[i]), h)
		if err != nil {
			return nil, nil, err
		}
		found = append(found, s)
	}
	return found, missing, nil
}

var (
	_ session.Repository = (*RedisRepository)(nil)
	_ storex.Closer      = (*RedisRepository)(nil)
)
