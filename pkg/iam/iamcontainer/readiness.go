package iamcontainer

import (
	"context"
	"net/http"
	"time"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/iam/auth/authapi"
	"github.com/Abraxas-365/warden/pkg/iam/auth/authinfra"
	"github.com/Abraxas-365/warden/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/warden/pkg/logx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("READINESS")

var (
	CodeConfigInvalid   = ErrRegistry.Register("CONFIG_INVALID", errx.TypeValidation, http.StatusInternalServerError, "Configuration is invalid")
	CodeBuildFailed     = ErrRegistry.Register("BUILD_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Component could not be built")
	CodeUnreachable     = ErrRegistry.Register("UNREACHABLE", errx.TypeUnavailable, http.StatusServiceUnavailable, "Backend is unreachable")
	CodeBootstrapFailed = ErrRegistry.Register("BOOTSTRAP_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Bootstrap data could not be written")
)

// Step names, in the order Run executes them.
const (
	StepValidate   = "validate"
	StepUsers      = "users"
	StepSessions   = "sessions"
	StepRegistry   = "registry"
	StepResolver   = "resolver"
	StepProbeSess  = "probe-sessions"
	StepProbeUsers = "probe-users"
	StepSuperAdmin = "super-admin"
	StepAssemble   = "assemble"
)

type step struct {
	name      string
	component string
	code      *errx.ErrorCode
	run       func(ctx context.Context) error
}

// Readiness brings the IAM module up. Nothing may serve requests until Run
// returns a Container.
type Readiness struct {
	deps      Deps
	c         *Container
	providers auth.OAuth2Registry

	// OnStep, when set, is called before each step runs.
	OnStep func(name string)
}

func NewReadiness(deps Deps) *Readiness {
	return &Readiness{deps: deps.withDefaults()}
}

// Run executes the startup steps in order and stops at the first failure.
// Backends opened before a failure are closed again.
func (r *Readiness) Run(ctx context.Context) (*Container, error) {
	logx.Info("🔧 Initializing IAM container...")

	cfg := r.deps.Cfg
	if cfg == nil {
		return nil, ErrRegistry.New(CodeConfigInvalid).
			WithDetail("step", 1).
			WithDetail("step_name", StepValidate).
			WithDetail("component", "config")
	}
	r.c = &Container{Metrics: r.deps.Metrics}

	steps := []step{
		{StepValidate, "config", CodeConfigInvalid, r.validate},
		{StepUsers, "users:" + cfg.Users.Provider, CodeBuildFailed, r.buildUsers},
		{StepSessions, "sessions:" + cfg.Sessions.Provider, CodeBuildFailed, r.buildSessions},
		{StepRegistry, "oauth2", CodeBuildFailed, r.buildRegistry},
		{StepResolver, "resolver", CodeBuildFailed, r.buildResolver},
		{StepProbeSess, "sessions:" + cfg.Sessions.Provider, CodeUnreachable, r.probeSessions},
		{StepProbeUsers, "users:" + cfg.Users.Provider, CodeUnreachable, r.probeUsers},
		{StepSuperAdmin, "users:" + cfg.Users.Provider, CodeBootstrapFailed, r.ensureSuperAdmin},
		{StepAssemble, "services", CodeBuildFailed, r.assemble},
	}

	for i, s := range steps {
		if r.OnStep != nil {
			r.OnStep(s.name)
		}
		start := time.Now()
		if err := s.run(ctx); err != nil {
			if cerr := r.c.Close(); cerr != nil {
				logx.WithError(cerr).Warn("Closing backends after failed startup")
			}
			return nil, ErrRegistry.NewWithCause(s.code, err).
				WithDetail("step", i+1).
				WithDetail("step_name", s.name).
				WithDetail("component", s.component).
				WithDetail("cause", err.Error())
		}
		logx.WithFields(logx.Fields{
			"step":      s.name,
			"component": s.component,
			"took":      time.Since(start).String(),
		}).Info("  ✅ Readiness step done")
	}

	logx.Info("✅ IAM container ready")
	return r.c, nil
}

// ============================================================================
// Steps
// ============================================================================

func (r *Readiness) validate(context.Context) error {
	return r.deps.Cfg.Validate()
}

func (r *Readiness) buildUsers(ctx context.Context) error {
	repo, err := r.deps.UsersFactory(ctx, r.deps.Cfg.Users)
	if err != nil {
		return err
	}
	r.c.Users = repo
	return nil
}

func (r *Readiness) buildSessions(ctx context.Context) error {
	repo, err := r.deps.SessionsFactory(ctx, r.deps.Cfg.Sessions)
	if err != nil {
		return err
	}
	r.c.Sessions = repo
	return nil
}

// buildRegistry creates the OAuth2 clients and, if any provider is enabled,
// the state store their schemes share.
func (r *Readiness) buildRegistry(context.Context) error {
	oauth := r.deps.Cfg.Auth.OAuth2
	registry, err := r.deps.RegistryFactory(oauth)
	if err != nil {
		return err
	}
	r.providers = registry

	if len(registry.ListEnabled()) == 0 {
		return nil
	}
	states, err := r.deps.StateStoreFactory(oauth, r.deps.Cfg.Sessions.Timeouts.Operation)
	if err != nil {
		return err
	}
	r.c.States = states
	return nil
}

func (r *Readiness) buildResolver(context.Context) error {
	cfg := r.deps.Cfg

	crypto := r.deps.Crypto
	if crypto == nil {
		hasher, err := authinfra.NewArgon2Hasher(authinfra.DefaultArgon2Params)
		if err != nil {
			return err
		}
		crypto = hasher
	}

	r.c.Manager = sessionsrv.NewManager(r.c.Sessions,
		sessionsrv.WithMaxAttempts(cfg.Sessions.CreateMaxAttempts),
		sessionsrv.WithMetrics(r.deps.Metrics),
	)
	r.c.UserService = usersrv.NewUserService(r.c.Users, crypto,
		user.UsernamePolicy{
			Min:       cfg.Users.UsernameMin,
			Max:       cfg.Users.UsernameMax,
			Forbidden: cfg.Users.ForbiddenUsernames(),
		},
		usersrv.WithSessionRevoker(r.c.Manager),
	)

	resolver, err := auth.BuildResolver(cfg.Auth, auth.ResolverDeps{
		Users:     r.c.UserService,
		Verifier:  crypto,
		Providers: r.providers,
		States:    r.c.States,
	})
	if err != nil {
		return err
	}
	r.c.Resolver = resolver
	return nil
}

func (r *Readiness) probeSessions(ctx context.Context) error {
	return storex.Probe(ctx, r.c.Sessions, r.deps.Cfg.Sessions.Timeouts.Ping)
}

func (r *Readiness) probeUsers(ctx context.Context) error {
	return storex.Probe(ctx, r.c.Users, r.deps.Cfg.Users.Timeouts.Ping)
}

func (r *Readiness) ensureSuperAdmin(ctx context.Context) error {
	users := r.deps.Cfg.Users
	if users.SuperAdminPassword.IsEmpty() {
		return nil
	}
	created, err := r.c.UserService.EnsureSuperAdmin(ctx, users.SuperAdminUsername, users.SuperAdminPassword.Reveal())
	if err != nil {
		return err
	}
	if created {
		logx.WithField("username", users.SuperAdminUsername).Info("  ✅ Super admin created")
	}
	return nil
}

func (r *Readiness) assemble(context.Context) error {
	cfg := r.deps.Cfg
	c := r.c

	c.TokenService = auth.NewJWTService(cfg.Auth.JWTSecret.Reveal(), cfg.App.Name)
	c.AuthService = auth.NewService(c.Resolver, c.Manager, c.UserService, c.TokenService,
		auth.WithAudit(authinfra.NewLogxAuditService()),
		auth.WithMetrics(r.deps.Metrics),
	)
	c.AuthMiddleware = auth.NewAuthMiddleware(c.AuthService, cfg.Auth.Local.CookieName)
	c.AuthHandlers = authapi.NewAuthHandlers(c.AuthService, authapi.CookieConfig{
		Name:   cfg.Auth.Local.CookieName,
		Secure: cfg.Auth.Local.CookieSecure,
	})
	c.Reaper = sessionsrv.NewReaper(c.Sessions, cfg.Sessions.Reaper,
		sessionsrv.WithReaperMetrics(r.deps.Metrics),
	)
	return nil
}
