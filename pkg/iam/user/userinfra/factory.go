package userinfra

import (
	"context"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/storex/storexdynamo"
	"github.com/Abraxas-365/warden/pkg/storex/storexpg"
)

// New builds the Users backend named by cfg.Provider. It does not dial;
// reachability is the readiness probe's job.
func New(ctx context.Context, cfg config.UsersConfig) (user.Repository, error) {
	switch cfg.Provider {
	case config.BackendPostgres:
		db, err := storexpg.Open(cfg.Postgres)
		if err != nil {
			return nil, errx.Wrap(err, "open users postgres pool", errx.TypeInternal)
		}
		return NewPostgresRepository(db, cfg.Timeouts.Operation), nil

	case config.BackendDynamoDB:
		client, err := storexdynamo.NewClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, errx.Wrap(err, "load users dynamodb config", errx.TypeInternal)
		}
		return NewDynamoRepository(client, cfg.DynamoDB.Table, cfg.Timeouts.Operation), nil

	case config.BackendMemory:
		return NewMemoryRepository(), nil

	default:
		return nil, errx.New("unknown users provider "+cfg.Provider, errx.TypeValidation).
			WithDetail("field", "USERS_PROVIDER")
	}
}
