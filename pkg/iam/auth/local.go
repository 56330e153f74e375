package auth

import (
	"context"
	"strings"
	"time"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

// LocalScheme verifies a login name and password against the Users store.
// The cookie and token variants differ only in how the session is handed
// back and in their TTL.
type LocalScheme struct {
	id       string
	kind     CredentialKind
	ttl      time.Duration
	users    UserDirectory
	verifier PasswordVerifier
}

func NewLocalCookieScheme(ttl time.Duration, users UserDirectory, verifier PasswordVerifier) *LocalScheme {
	return &LocalScheme{id: SchemeLocalCookie, kind: CredentialCookie, ttl: ttl, users: users, verifier: verifier}
}

func NewLocalTokenScheme(ttl time.Duration, users UserDirectory, verifier PasswordVerifier) *LocalScheme {
	return &LocalScheme{id: SchemeLocalToken, kind: CredentialBearer, ttl: ttl, users: users, verifier: verifier}
}

func (s *LocalScheme) ID() string                 { return s.id }
func (s *LocalScheme) Credential() CredentialKind { return s.kind }
func (s *LocalScheme) TTL() time.Duration         { return s.ttl }

// Begin has nothing to hand out; it lists the fields Complete expects.
func (s *LocalScheme) Begin(_ context.Context, req BeginRequest) (*Challenge, error) {
	return &Challenge{
		Scheme:     s.id,
		Fields:     []string{"login", "password"},
		RedirectTo: req.RedirectTo,
	}, nil
}

// Complete checks the password. Unknown users and wrong passwords fail the
// same way and take the same time.
func (s *LocalScheme) Complete(ctx context.Context, proof Proof) (*Identity, error) {
	login := strings.TrimSpace(proof.Login)
	if login == "" || proof.Password == "" {
		return nil, ErrInvalidCredential().WithDetail("reason", "login and password are required")
	}

	u, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		if storex.IsNotFound(err) {
			s.verifier.DummyVerify(proof.Password)
			return nil, ErrInvalidCredential()
		}
		return nil, err
	}
	if !u.HasPassword() {
		s.verifier.DummyVerify(proof.Password)
		return nil, ErrInvalidCredential()
	}

	ok, err := s.verifier.Verify(u.PasswordHash, proof.Password)
	if err != nil {
		return nil, errx.Wrap(err, "verify password", errx.TypeInternal)
	}
	if !ok {
		return nil, ErrInvalidCredential()
	}
	return &Identity{UserID: u.ID, Scheme: s.id}, nil
}
