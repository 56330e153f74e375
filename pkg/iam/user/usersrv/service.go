package usersrv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/logx"
	"github.com/Abraxas-365/warden/pkg/ptrx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

// MinPasswordLength applies to locally registered users.
const MinPasswordLength = 8

// UserService owns user creation and the rules around it. The repository is
// the only writer of user records.
type UserService struct {
	repo    user.Repository
	hasher  user.PasswordHasher
	policy  user.UsernamePolicy
	revoker user.SessionRevoker
	now     kernel.Clock
}

type Option func(*UserService)

// WithSessionRevoker ends sessions on deletion and demotion.
func WithSessionRevoker(r user.SessionRevoker) Option {
	return func(s *UserService) { s.revoker = r }
}

func WithClock(c kernel.Clock) Option {
	return func(s *UserService) { s.now = c }
}

func NewUserService(repo user.Repository, hasher user.PasswordHasher, policy user.UsernamePolicy, opts ...Option) *UserService {
	s := &UserService{
		repo:   repo,
		hasher: hasher,
		policy: policy,
		now:    kernel.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserService) Policy() user.UsernamePolicy { return s.policy }

// RegisterInput is a local (password) registration.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     user.Role
}

// Register creates a local user. A taken username fails with Conflict and
// leaves the existing record untouched.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	if len(in.Password) < MinPasswordLength {
		return nil, user.ErrRegistry.New(user.CodeWeakPassword).WithDetail("min", MinPasswordLength)
	}
	if in.Role == 0 {
		in.Role = user.RoleUser
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u := user.User{
		ID:           kernel.NewUserID(),
		Username:     in.Username,
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		Role:         in.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.Validate(s.policy); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, u)
}

func (s *UserService) Get(ctx context.Context, id kernel.UserID) (*user.User, error) {
	return s.repo.Get(ctx, id)
}

// FindByLogin resolves a login name: an address containing '@' is looked up
// by email, anything else by username.
func (s *UserService) FindByLogin(ctx context.Context, login string) (*user.User, error) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		return s.repo.FindByEmail(ctx, strings.ToLower(login))
	}
	return s.repo.FindByUsername(ctx, login)
}

// ExternalProfile is what an OAuth2 provider told us about the user.
type ExternalProfile struct {
	Provider string
	Subject  string
	Email    string
}

// ResolveExternal maps a provider identity to a user. It tries, in order:
// the linked identity, an existing account with the same email (which gets
// the identity linked), and finally a new User-role account.
func (s *UserService) ResolveExternal(ctx context.Context, p ExternalProfile) (*user.User, bool, error) {
	u, err := s.repo.FindByIdentity(ctx, p.Provider, p.Subject)
	if err == nil {
		return u, false, nil
	}
	if !storex.IsNotFound(err) {
		return nil, false, err
	}

	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email != "" {
		existing, err := s.repo.FindByEmail(ctx, email)
		switch {
		case err == nil:
			linked, err := s.repo.Update(ctx, existing.ID, user.Patch{
				Link: &user.Identity{Provider: p.Provider, Subject: p.Subject},
			})
			if storex.IsConflict(err) {
				if winner, ok := s.linkedElsewhere(ctx, p); ok {
					return winner, false, nil
				}
			}
			if err != nil {
				return nil, false, err
			}
			logx.WithFields(logx.Fields{
				"user_id":  linked.ID,
				"provider": p.Provider,
			}).Info("Linked external identity to existing user")
			return linked, false, nil
		case !storex.IsNotFound(err):
			return nil, false, err
		}
	}

	return s.provision(ctx, p, email)
}

// provisionAttempts bounds derived-username collisions.
const provisionAttempts = 4

// provision creates the account. A conflict may mean a concurrent login for
// the same identity won the race, in which case that user is returned with
// created false.
func (s *UserService) provision(ctx context.Context, p ExternalProfile, email string) (*user.User, bool, error) {
	now := s.now()
	var lastErr error
	for attempt := range provisionAttempts {
		u := user.User{
			ID:         kernel.NewUserID(),
			Username:   s.derivedUsername(p, attempt),
			Email:      email,
			Role:       user.RoleUser,
			Identities: user.Identities{p.Provider: p.Subject},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := u.Validate(s.policy); err != nil {
			return nil, false, err
		}
		created, err := s.repo.Create(ctx, u)
		if err == nil {
			return created, true, nil
		}
		if !storex.IsConflict(err) {
			return nil, false, err
		}
		if winner, ok := s.linkedElsewhere(ctx, p); ok {
			return winner, false, nil
		}
		lastErr = err
	}
	return nil, false, lastErr
}

func (s *UserService) linkedElsewhere(ctx context.Context, p ExternalProfile) (*user.User, bool) {
	u, err := s.repo.FindByIdentity(ctx, p.Provider, p.Subject)
	return u, err == nil
}

// derivedUsername is "user_" plus a hash of the identity, sized to policy.
// Later attempts take a longer hash slice.
func (s *UserService) derivedUsername(p ExternalProfile, attempt int) string {
	sum := sha256.Sum256([]byte(p.Provider + ":" + p.Subject))
	digest := hex.EncodeToString(sum[:])

	const prefix = "user_"
	n := 8 + attempt*4
	name := prefix + digest[:min(n, len(digest))]
	if len(name) < s.policy.Min {
		name = prefix + digest[:min(s.policy.Min-len(prefix), len(digest))]
	}
	if len(name) > s.policy.Max {
		name = name[len(name)-s.policy.Max:]
	}
	return name
}

// EnsureSuperAdmin creates the super admin if no user holds its username.
// It reports whether a user was created.
func (s *UserService) EnsureSuperAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := s.repo.FindByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !storex.IsNotFound(err) {
		return false, err
	}

	// The reserved name is forbidden for everyone else; lift that for the
	// bootstrap only.
	policy := s.policy
	policy.Forbidden = nil
	admin := &UserService{repo: s.repo, hasher: s.hasher, policy: policy, now: s.now}

	_, err = admin.Register(ctx, RegisterInput{
		Username: username,
		Password: password,
		Role:     user.RoleSuperAdmin,
	})
	if storex.IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ChangeRole updates a user's role. A demotion ends all their sessions so
// stale privileges cannot outlive the change.
func (s *UserService) ChangeRole(ctx context.Context, id kernel.UserID, role user.Role) (*user.User, error) {
	if !role.Valid() {
		return nil, user.ErrRegistry.New(user.CodeInvalidRole)
	}
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Role == user.RoleSuperAdmin && role != user.RoleSuperAdmin {
		return nil, user.ErrRegistry.New(user.CodeProtected)
	}

	after, err := s.repo.Update(ctx, id, user.Patch{Role: ptrx.To(role)})
	if err != nil {
		return nil, err
	}
	if role < before.Role {
		s.revokeSessions(ctx, id)
	}
	return after, nil
}

// Delete removes a user and ends their sessions. The super admin is
// protected.
func (s *UserService) Delete(ctx context.Context, id kernel.UserID) error {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.Role == user.RoleSuperAdmin {
		return user.ErrRegistry.New(user.CodeProtected)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.revokeSessions(ctx, id)
	return nil
}

func (s *UserService) revokeSessions(ctx context.Context, id kernel.UserID) {
	if s.revoker == nil {
		return
	}
	start := time.Now()
	n, err := s.revoker.RevokeAll(ctx, id)
	entry := logx.WithFields(logx.Fields{
		"user_id":  id,
		"revoked":  n,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Warn("Some sessions could not be revoked")
		return
	}
	entry.Info("Sessions revoked")
}
