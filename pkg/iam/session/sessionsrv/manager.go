package sessionsrv

import (
	"context"
	"errors"

	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/logx"
	"github.com/Abraxas-365/warden/pkg/metricsx"
	"github.com/Abraxas-365/warden/pkg/ptrx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

// DefaultMaxAttempts bounds id-collision retries in Create.
const DefaultMaxAttempts = 3

// Manager owns the session lifecycle. Expiry is lazy: dead sessions stay in
// the backend until the Reaper purges them, but Manager never hands them out.
type Manager struct {
	repo        session.Repository
	maxAttempts int
	now         kernel.Clock
	newID       func() (kernel.SessionID, error)
	metrics     *metricsx.Collector
}

type Option func(*Manager)

func WithClock(c kernel.Clock) Option {
	return func(m *Manager) { m.now = c }
}

func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithIDGenerator replaces the crypto/rand id source.
func WithIDGenerator(gen func() (kernel.SessionID, error)) Option {
	return func(m *Manager) { m.newID = gen }
}

func WithMetrics(c *metricsx.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

func NewManager(repo session.Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:        repo,
		maxAttempts: DefaultMaxAttempts,
		now:         kernel.SystemClock,
		newID:       kernel.NewSessionID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens an Active session. A Conflict on the id is retried with a
// fresh id; nothing is returned until the backend write succeeded.
func (m *Manager) Create(ctx context.Context, p session.NewParams) (*session.Session, error) {
	if p.TTL <= 0 {
		return nil, session.ErrRegistry.New(session.CodeInvalidTTL).WithDetail("ttl", p.TTL.String())
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		id, err := m.newID()
		if err != nil {
			return nil, err
		}
		now := m.now()
		created, err := m.repo.Create(ctx, session.Session{
			ID:        id,
			UserID:    p.UserID,
			Scheme:    p.Scheme,
			CreatedAt: now,
			ExpiresAt: now.Add(p.TTL),
			TTL:       p.TTL,
			Metadata:  p.Metadata,
		})
		if err == nil {
			m.metrics.SessionCreated(p.Scheme)
			return created, nil
		}
		if !storex.IsConflict(err) {
			return nil, err
		}
		logx.WithFields(logx.Fields{
			"attempt": attempt,
			"backend": m.repo.Name(),
		}).Warn("Session id collision, retrying")
	}

	return nil, session.ErrRegistry.New(session.CodeIDExhausted).WithDetail("attempts", m.maxAttempts)
}

// Lookup returns the session only while it is Active. Missing, expired and
// revoked sessions are all NotFound.
func (m *Manager) Lookup(ctx context.Context, id kernel.SessionID) (*session.Session, error) {
	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.ActiveAt(m.now()) {
		return nil, storex.ErrNotFound(m.repo.Name())
	}
	return s, nil
}

// Renew slides the expiry to now + TTL.
func (m *Manager) Renew(ctx context.Context, id kernel.SessionID) (*session.Session, error) {
	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.now()
	switch s.StateAt(now) {
	case session.StateRevoked:
		return nil, storex.ErrNotFound(m.repo.Name())
	case session.StateExpired:
		return nil, session.ErrExpired()
	}
	return m.repo.Update(ctx, id, session.Patch{ExpiresAt: ptrx.Time(now.Add(s.TTL))})
}

// Revoke stamps RevokedAt. Revoking twice is NotFound.
func (m *Manager) Revoke(ctx context.Context, id kernel.SessionID) error {
	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.RevokedAt != nil {
		return storex.ErrNotFound(m.repo.Name())
	}
	if _, err := m.repo.Update(ctx, id, session.Patch{RevokedAt: ptrx.Time(m.now())}); err != nil {
		return err
	}
	m.metrics.SessionsRevoked(1)
	return nil
}

// RevokeAll revokes every Active session of the user. It keeps going past
// individual failures and returns them joined with the number revoked.
func (m *Manager) RevokeAll(ctx context.Context, userID kernel.UserID) (int, error) {
	all, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := m.now()
	var (
		revoked int
		errs    []error
	)
	for _, s := range all {
		if !s.ActiveAt(now) {
			continue
		}
		_, err := m.repo.Update(ctx, s.ID, session.Patch{RevokedAt: ptrx.Time(now)})
		switch {
		case err == nil:
			revoked++
		case storex.IsNotFound(err):
			// reaped concurrently
		default:
			errs = append(errs, err)
		}
	}
	m.metrics.SessionsRevoked(revoked)
	return revoked, errors.Join(errs...)
}

func (m *Manager) ListActive(ctx context.Context, userID kernel.UserID) ([]*session.Session, error) {
	all, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	active := make([]*session.Session, 0, len(all))
	for _, s := range all {
		if s.ActiveAt(now) {
			active = append(active, s)
		}
	}
	return active, nil
}
