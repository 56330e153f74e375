// Package iamcontainer builds the IAM dependency graph once at startup and
// hands the finished singletons to cmd/.
package iamcontainer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/iam/auth/authapi"
	"github.com/Abraxas-365/warden/pkg/iam/auth/authinfra"
	"github.com/Abraxas-365/warden/pkg/iam/auth/oauth2x"
	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/iam/session/sessioninfra"
	"github.com/Abraxas-365/warden/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/warden/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/warden/pkg/metricsx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

// ---------------------------------------------------------------------------
// Deps: everything the IAM context needs from outside. The factories default
// to the real backends; tests swap them to exercise startup ordering.
// ---------------------------------------------------------------------------

// PasswordCrypto hashes new passwords and verifies presented ones.
type PasswordCrypto interface {
	user.PasswordHasher
	auth.PasswordVerifier
}

type Deps struct {
	Cfg     *config.Config
	Metrics *metricsx.Collector

	UsersFactory      func(ctx context.Context, cfg config.UsersConfig) (user.Repository, error)
	SessionsFactory   func(ctx context.Context, cfg config.SessionsConfig) (session.Repository, error)
	RegistryFactory   func(cfg config.OAuth2Config) (auth.OAuth2Registry, error)
	StateStoreFactory func(cfg config.OAuth2Config, timeout time.Duration) (auth.StateStore, error)

	// Crypto defaults to argon2id with the default parameters.
	Crypto PasswordCrypto
}

func (d Deps) withDefaults() Deps {
	if d.UsersFactory == nil {
		d.UsersFactory = userinfra.New
	}
	if d.SessionsFactory == nil {
		d.SessionsFactory = sessioninfra.New
	}
	if d.RegistryFactory == nil {
		d.RegistryFactory = func(cfg config.OAuth2Config) (auth.OAuth2Registry, error) {
			return oauth2x.NewRegistry(cfg, oauth2x.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
		}
	}
	if d.StateStoreFactory == nil {
		d.StateStoreFactory = authinfra.NewStateStore
	}
	return d
}

// ---------------------------------------------------------------------------
// Container: the public surface of the IAM module. cmd/ registers routes,
// starts the reaper and closes the backends through it.
// ---------------------------------------------------------------------------

type Container struct {
	// Backends
	Users    user.Repository
	Sessions session.Repository
	States   auth.StateStore

	// Services
	UserService  *usersrv.UserService
	Manager      *sessionsrv.Manager
	Resolver     *auth.Resolver
	TokenService auth.TokenService
	AuthService  *auth.Service

	// Transport
	AuthHandlers   *authapi.AuthHandlers
	AuthMiddleware *auth.TokenMiddleware

	// Background
	Reaper *sessionsrv.Reaper

	Metrics *metricsx.Collector
}

// Close releases the connections owned by the backends.
func (c *Container) Close() error {
	var errs []error
	for _, b := range []any{c.States, c.Sessions, c.Users} {
		if closer, ok := b.(storex.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
