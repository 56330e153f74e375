package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/kernel"
)

// ============================================================================
// Schemes
// ============================================================================

const (
	SchemeLocalCookie = "local-cookie"
	SchemeLocalToken  = "local-token"

	oauth2Prefix = "oauth2:"
)

// OAuth2SchemeID returns the scheme id for an OAuth2 provider.
func OAuth2SchemeID(provider string) string { return oauth2Prefix + provider }

// ProviderOf extracts the provider id from an oauth2:<provider> scheme id.
func ProviderOf(schemeID string) (string, bool) {
	p, ok := strings.CutPrefix(schemeID, oauth2Prefix)
	return p, ok && p != ""
}

// CredentialKind is how a scheme hands the session back to the client.
type CredentialKind string

const (
	// CredentialCookie carries the opaque session id.
	CredentialCookie CredentialKind = "cookie"
	// CredentialBearer carries a signed access token bound to the session.
	CredentialBearer CredentialKind = "bearer"
)

// Scheme is one way of proving identity. Begin starts the exchange and
// Complete verifies the proof the client came back with.
type Scheme interface {
	ID() string
	Credential() CredentialKind
	TTL() time.Duration

	Begin(ctx context.Context, req BeginRequest) (*Challenge, error)
	Complete(ctx context.Context, proof Proof) (*Identity, error)
}

type BeginRequest struct {
	// RedirectTo is echoed back in the challenge for the client's benefit.
	RedirectTo string `json:"redirect_to,omitempty"`
}

// Challenge tells the client what to do next: post the listed fields back,
// or follow RedirectURL to the provider.
type Challenge struct {
	Scheme      string     `json:"scheme"`
	Fields      []string   `json:"fields,omitempty"`
	RedirectURL string     `json:"redirect_url,omitempty"`
	State       string     `json:"state,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RedirectTo  string     `json:"redirect_to,omitempty"`
}

// Proof is what the client submits to Complete. Local schemes read Login and
// Password; OAuth2 schemes read Code and State.
type Proof struct {
	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
	State    string `json:"state,omitempty"`
}

// Identity is a verified user.
type Identity struct {
	UserID      kernel.UserID
	Scheme      string
	Provisioned bool
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    kernel.UserID    `json:"user_id"`
	Username  string           `json:"username"`
	Role      user.Role        `json:"role"`
	Scheme    string           `json:"scheme"`
	SessionID kernel.SessionID `json:"-"`
	ExpiresAt time.Time        `json:"expires_at"`
}

func (p *Principal) IsAdmin() bool { return p.Role.AtLeast(user.RoleAdmin) }

// Credential is a presented cookie or bearer value.
type Credential struct {
	Kind  CredentialKind
	Value string
}

func Bearer(token string) Credential { return Credential{Kind: CredentialBearer, Value: token} }
func Cookie(value string) Credential { return Credential{Kind: CredentialCookie, Value: value} }

// RequestMeta is stored on the session for auditing.
type RequestMeta struct {
	IP        string
	UserAgent string
}

func (m RequestMeta) Map() map[string]string {
	out := map[string]string{}
	if m.IP != "" {
		out["ip"] = m.IP
	}
	if m.UserAgent != "" {
		out["user_agent"] = m.UserAgent
	}
	return out
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("AUTH")

var (
	CodeInvalidCredential     = ErrRegistry.Register("INVALID_CREDENTIAL", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid credentials")
	CodeExpiredChallenge      = ErrRegistry.Register("EXPIRED_CHALLENGE", errx.TypeAuthorization, http.StatusUnauthorized, "Login challenge expired or unknown")
	CodeProviderError         = ErrRegistry.Register("PROVIDER_ERROR", errx.TypeExternal, http.StatusBadGateway, "Identity provider request failed")
	CodeUserNotFound          = ErrRegistry.Register("USER_NOT_FOUND", errx.TypeAuthorization, http.StatusUnauthorized, "User no longer exists")
	CodeSchemeNotFound        = ErrRegistry.Register("SCHEME_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Authentication scheme not available")
	CodeTokenInvalid          = ErrRegistry.Register("TOKEN_INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid or expired credential")
	CodeTokenGenerationFailed = ErrRegistry.Register("TOKEN_GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Token generation failed")
)

func ErrInvalidCredential() *errx.Error {
	return ErrRegistry.New(CodeInvalidCredential)
}

func ErrExpiredChallenge() *errx.Error {
	return ErrRegistry.New(CodeExpiredChallenge)
}

func ErrProvider(provider string, cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeProviderError, cause).WithDetail("provider", provider)
}

func ErrUserNotFound() *errx.Error {
	return ErrRegistry.New(CodeUserNotFound)
}

func ErrSchemeNotFound(id string) *errx.Error {
	return ErrRegistry.New(CodeSchemeNotFound).WithDetail("scheme", id)
}

func ErrTokenInvalid() *errx.Error {
	return ErrRegistry.New(CodeTokenInvalid)
}

func IsSchemeNotFound(err error) bool { return errx.IsCode(err, CodeSchemeNotFound) }
