package auth

import (
	"context"
	"slices"
	"time"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/logx"
	"github.com/Abraxas-365/warden/pkg/metricsx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

// Service ties schemes to sessions: a successful Complete opens a session
// and hands back the scheme's credential for it.
type Service struct {
	resolver *Resolver
	sessions SessionManager
	users    UserDirectory
	tokens   TokenService
	audit    AuditService
	metrics  *metricsx.Collector
}

type ServiceOption func(*Service)

func WithAudit(a AuditService) ServiceOption {
	return func(s *Service) { s.audit = a }
}

func WithMetrics(c *metricsx.Collector) ServiceOption {
	return func(s *Service) { s.metrics = c }
}

func NewService(resolver *Resolver, sessions SessionManager, users UserDirectory, tokens TokenService, opts ...ServiceOption) *Service {
	s := &Service{
		resolver: resolver,
		sessions: sessions,
		users:    users,
		tokens:   tokens,
		audit:    nopAudit{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Resolver() *Resolver { return s.resolver }

// LoginResult is what a client gets back from a successful login.
type LoginResult struct {
	Scheme      string
	Kind        CredentialKind
	Credential  string
	ExpiresAt   time.Time
	UserID      kernel.UserID
	Provisioned bool
}

// Begin starts the exchange for schemeID.
func (s *Service) Begin(ctx context.Context, schemeID string, req BeginRequest) (*Challenge, error) {
	scheme, err := s.resolver.Resolve(schemeID)
	if err != nil {
		return nil, err
	}
	return scheme.Begin(ctx, req)
}

// Login completes schemeID with proof, opens a session and issues the
// scheme's credential for it.
func (s *Service) Login(ctx context.Context, schemeID string, proof Proof, meta RequestMeta) (*LoginResult, error) {
	scheme, err := s.resolver.Resolve(schemeID)
	if err != nil {
		return nil, err
	}

	id, err := scheme.Complete(ctx, proof)
	s.metrics.AuthAttempt(schemeID, err == nil)
	if err != nil {
		s.audit.LogLoginAttempt(ctx, schemeID, "", false, meta)
		return nil, err
	}
	s.audit.LogLoginAttempt(ctx, schemeID, id.UserID, true, meta)
	if id.Provisioned {
		s.audit.LogAccountCreated(ctx, schemeID, id.UserID, meta)
	}

	sess, err := s.sessions.Create(ctx, session.NewParams{
		UserID:   id.UserID,
		Scheme:   schemeID,
		TTL:      scheme.TTL(),
		Metadata: meta.Map(),
	})
	if err != nil {
		return nil, err
	}

	res, err := s.credentialFor(scheme.Credential(), sess)
	if err != nil {
		s.discard(ctx, sess.ID)
		return nil, err
	}
	res.Provisioned = id.Provisioned
	return res, nil
}

// Renew slides the expiry of the session behind cred and hands back a fresh
// credential. Bearer tokens carry the expiry, so they are re-issued; the
// cookie value stays the same.
func (s *Service) Renew(ctx context.Context, cred Credential) (*LoginResult, error) {
	p, err := s.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Renew(ctx, p.SessionID)
	if err != nil {
		if storex.IsNotFound(err) || session.IsExpired(err) {
			return nil, ErrTokenInvalid()
		}
		return nil, err
	}
	return s.credentialFor(cred.Kind, sess)
}

func (s *Service) credentialFor(kind CredentialKind, sess *session.Session) (*LoginResult, error) {
	res := &LoginResult{
		Scheme:    sess.Scheme,
		Kind:      kind,
		ExpiresAt: sess.ExpiresAt,
		UserID:    sess.UserID,
	}
	switch kind {
	case CredentialCookie:
		res.Credential = sess.ID.String()
	default:
		token, err := s.tokens.Issue(sess.UserID, sess.ID, sess.Scheme, sess.ExpiresAt)
		if err != nil {
			return nil, err
		}
		res.Credential = token
	}
	return res, nil
}

// discard revokes a session whose credential could not be issued.
func (s *Service) discard(ctx context.Context, id kernel.SessionID) {
	if err := s.sessions.Revoke(ctx, id); err != nil {
		logx.WithFields(logx.Fields{"session": id.Fingerprint()}).
			WithError(err).Warn("Could not revoke orphaned session")
	}
}

// Authenticate turns a presented credential into a Principal. Any failure
// short of a backend outage is TOKEN_INVALID, except a session whose user
// has since been deleted, which is USER_NOT_FOUND.
func (s *Service) Authenticate(ctx context.Context, cred Credential) (*Principal, error) {
	if cred.Value == "" {
		return nil, ErrTokenInvalid()
	}

	var (
		sessionID kernel.SessionID
		userID    kernel.UserID
		schemeID  string
	)
	switch cred.Kind {
	case CredentialBearer:
		claims, err := s.tokens.Parse(cred.Value)
		if err != nil {
			return nil, err
		}
		sessionID, userID, schemeID = claims.SessionID, claims.UserID, claims.Scheme
	case CredentialCookie:
		sessionID = kernel.SessionID(cred.Value)
	default:
		return nil, ErrTokenInvalid()
	}

	sess, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		if storex.IsNotFound(err) {
			return nil, ErrTokenInvalid()
		}
		return nil, err
	}
	if cred.Kind == CredentialBearer && (sess.UserID != userID || sess.Scheme != schemeID) {
		return nil, ErrTokenInvalid()
	}

	// The scheme must still be enabled and must hand out this kind of
	// credential; a cookie cannot stand in for a bearer session.
	scheme, err := s.resolver.Resolve(sess.Scheme)
	if err != nil || scheme.Credential() != cred.Kind {
		return nil, ErrTokenInvalid()
	}

	u, err := s.users.Get(ctx, sess.UserID)
	if err != nil {
		if storex.IsNotFound(err) {
			return nil, ErrUserNotFound()
		}
		return nil, err
	}

	return &Principal{
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.Role,
		Scheme:    sess.Scheme,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// IsValid reports only whether token authenticates. It is the contract other
// services in the mesh rely on and says nothing about why a token failed.
func (s *Service) IsValid(ctx context.Context, token string) bool {
	_, err := s.Authenticate(ctx, Bearer(token))
	if err != nil && !errx.IsType(err, errx.TypeAuthorization) {
		logx.WithError(err).Warn("Token validation failed on a backend error")
	}
	return err == nil
}

// Logout revokes the session behind cred.
func (s *Service) Logout(ctx context.Context, cred Credential) error {
	p, err := s.Authenticate(ctx, cred)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, p.SessionID); err != nil {
		if storex.IsNotFound(err) {
			return ErrTokenInvalid()
		}
		return err
	}
	s.audit.LogLogout(ctx, p.Scheme, p.UserID)
	return nil
}

// Sessions lists the caller's active sessions, oldest first.
func (s *Service) Sessions(ctx context.Context, p *Principal) ([]*session.Session, error) {
	active, err := s.sessions.ListActive(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(active, func(a, b *session.Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return active, nil
}

type nopAudit struct{}

func (nopAudit) LogLoginAttempt(context.Context, string, kernel.UserID, bool, RequestMeta) {}
func (nopAudit) LogLogout(context.Context, string, kernel.UserID)                          {}
func (nopAudit) LogAccountCreated(context.Context, string, kernel.UserID, RequestMeta)     {}
