package authinfra

import (
	"time"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/storex/storexredis"
)

// NewStateStore builds the OAuth2 state store named by cfg.StateStore.
func NewStateStore(cfg config.OAuth2Config, timeout time.Duration) (auth.StateStore, error) {
	switch cfg.StateStore {
	case config.BackendMemory, "":
		return auth.NewMemoryStateStore(), nil
	case config.BackendRedis:
		client := storexredis.NewClient(cfg.StateRedis)
		return NewRedisStateStore(client, cfg.StateRedis.KeyPrefix, timeout), nil
	default:
		return nil, errx.New("unknown oauth2 state store "+cfg.StateStore, errx.TypeValidation).
			WithDetail("field", "AUTH_OAUTH2_STATE_STORE")
	}
}
