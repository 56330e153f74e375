package auth

import (
	"context"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"golang.org/x/oauth2"
)

// PasswordVerifier checks a plaintext against a stored hash. DummyVerify
// burns the same work as a real verify and is used when there is nothing to
// compare against.
type PasswordVerifier interface {
	Verify(encoded, plaintext string) (bool, error)
	DummyVerify(plaintext string)
}

// StateStore holds OAuth2 state values between Begin and Complete. Consume
// is single-use and returns NotFound for unknown or expired states.
type StateStore interface {
	Put(ctx context.Context, state, provider string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (string, error)
}

// Profile is what an OAuth2 provider reports about the signed-in account.
type Profile struct {
	Subject string
	Email   string
}

// OAuth2Client is one configured provider.
type OAuth2Client interface {
	ID() string
	TokenTTL() time.Duration
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, tok *oauth2.Token) (*Profile, error)
}

// OAuth2Registry resolves enabled providers.
type OAuth2Registry interface {
	Resolve(id string) (OAuth2Client, error)
	ListEnabled() []string
}

// UserDirectory is the slice of the user service the schemes need.
type UserDirectory interface {
	Get(ctx context.Context, id kernel.UserID) (*user.User, error)
	FindByLogin(ctx context.Context, login string) (*user.User, error)
	ResolveExternal(ctx context.Context, p usersrv.ExternalProfile) (*user.User, bool, error)
}

// SessionManager is the slice of the session lifecycle Service drives.
type SessionManager interface {
	Create(ctx context.Context, p session.NewParams) (*session.Session, error)
	Lookup(ctx context.Context, id kernel.SessionID) (*session.Session, error)
	Renew(ctx context.Context, id kernel.SessionID) (*session.Session, error)
	Revoke(ctx context.Context, id kernel.SessionID) error
	ListActive(ctx context.Context, userID kernel.UserID) ([]*session.Session, error)
}

// TokenService signs and verifies access tokens.
type TokenService interface {
	Issue(userID kernel.UserID, sessionID kernel.SessionID, scheme string, expiresAt time.Time) (string, error)
	Parse(token string) (*TokenClaims, error)
}

// AuditService records authentication events.
type AuditService interface {
	LogLoginAttempt(ctx context.Context, scheme string, userID kernel.UserID, success bool, meta RequestMeta)
	LogLogout(ctx context.Context, scheme string, userID kernel.UserID)
	LogAccountCreated(ctx context.Context, scheme string, userID kernel.UserID, meta RequestMeta)
}
