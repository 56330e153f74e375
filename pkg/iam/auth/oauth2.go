package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/logx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

const stateBytes = 32

// OAuth2Scheme runs the authorization-code flow against one provider.
type OAuth2Scheme struct {
	client   OAuth2Client
	states   StateStore
	stateTTL time.Duration
	users    UserDirectory
	now      kernel.Clock
}

func NewOAuth2Scheme(client OAuth2Client, states StateStore, stateTTL time.Duration, users UserDirectory) *OAuth2Scheme {
	return &OAuth2Scheme{
		client:   client,
		states:   states,
		stateTTL: stateTTL,
		users:    users,
		now:      kernel.SystemClock,
	}
}

// WithClock replaces the clock used for challenge expiry.
func (s *OAuth2Scheme) WithClock(c kernel.Clock) *OAuth2Scheme {
	s.now = c
	return s
}

func (s *OAuth2Scheme) ID() string                 { return OAuth2SchemeID(s.client.ID()) }
func (s *OAuth2Scheme) Credential() CredentialKind { return CredentialBearer }
func (s *OAuth2Scheme) TTL() time.Duration         { return s.client.TokenTTL() }

// Begin stores a fresh state and returns the provider's consent URL.
func (s *OAuth2Scheme) Begin(ctx context.Context, req BeginRequest) (*Challenge, error) {
	state, err := newState()
	if err != nil {
		return nil, err
	}
	if err := s.states.Put(ctx, state, s.client.ID(), s.stateTTL); err != nil {
		return nil, err
	}

	expires := s.now().Add(s.stateTTL)
	return &Challenge{
		Scheme:      s.ID(),
		RedirectURL: s.client.AuthCodeURL(state),
		State:       state,
		ExpiresAt:   &expires,
		RedirectTo:  req.RedirectTo,
	}, nil
}

// Complete consumes the state, exchanges the code and maps the provider
// profile onto a user, linking or provisioning as needed.
func (s *OAuth2Scheme) Complete(ctx context.Context, proof Proof) (*Identity, error) {
	provider := s.client.ID()

	if proof.State == "" {
		return nil, ErrExpiredChallenge()
	}
	owner, err := s.states.Consume(ctx, proof.State)
	if err != nil {
		if storex.IsNotFound(err) {
			return nil, ErrExpiredChallenge()
		}
		return nil, err
	}
	if owner != provider {
		return nil, ErrExpiredChallenge().WithDetail("provider", provider)
	}
	if proof.Code == "" {
		return nil, ErrInvalidCredential().WithDetail("reason", "code is required")
	}

	tok, err := s.client.Exchange(ctx, proof.Code)
	if err != nil {
		logx.WithFields(logx.Fields{"provider": provider, "stage": "exchange"}).
			WithError(err).Warn("OAuth2 provider request failed")
		return nil, ErrProvider(provider, err)
	}
	profile, err := s.client.FetchProfile(ctx, tok)
	if err != nil {
		logx.WithFields(logx.Fields{"provider": provider, "stage": "profile"}).
			WithError(err).Warn("OAuth2 provider request failed")
		return nil, ErrProvider(provider, err)
	}

	u, created, err := s.users.ResolveExternal(ctx, usersrv.ExternalProfile{
		Provider: provider,
		Subject:  profile.Subject,
		Email:    profile.Email,
	})
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: u.ID, Scheme: s.ID(), Provisioned: created}, nil
}

func newState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
