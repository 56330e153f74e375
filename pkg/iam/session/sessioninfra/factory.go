package sessioninfra

import (
	"context"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/storex/storexdynamo"
	"github.com/Abraxas-365/warden/pkg/storex/storexpg"
	"github.com/Abraxas-365/warden/pkg/storex/storexredis"
)

// writeAttempts bounds optimistic-concurrency retries in Update.
const writeAttempts = 3

// New builds the Sessions backend named by cfg.Provider without dialing.
func New(ctx context.Context, cfg config.SessionsConfig) (session.Repository, error) {
	switch cfg.Provider {
	case config.BackendPostgres:
		db, err := storexpg.Open(cfg.Postgres)
		if err != nil {
			return nil, errx.Wrap(err, "open sessions postgres pool", errx.TypeInternal)
		}
		return NewPostgresRepository(db, cfg.Timeouts.Operation), nil

	case config.BackendRedis:
		client := storexredis.NewClient(cfg.Redis)
		return NewRedisRepository(client, cfg.Redis.KeyPrefix, cfg.Timeouts.Operation), nil

	case config.BackendDynamoDB:
		client, err := storexdynamo.NewClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, errx.Wrap(err, "load sessions dynamodb config", errx.TypeInternal)
		}
		return NewDynamoRepository(client, cfg.DynamoDB.Table, cfg.Timeouts.Operation), nil

	case config.BackendMemory:
		return NewMemoryRepository(), nil

	default:
		return nil, errx.New("unknown sessions provider "+cfg.Provider, errx.TypeValidation).
			WithDetail("field", "SESSIONS_PROVIDER")
	}
}
