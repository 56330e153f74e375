package session

import (
	"maps"
	"net/http"
	"time"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/kernel"
)

// ============================================================================
// State
// ============================================================================

// State is derived from the timestamps, never stored.
type State int

const (
	StateActive State = iota
	StateExpired
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	}
	return "unknown"
}

// ============================================================================
// Session
// ============================================================================

type Session struct {
	ID        kernel.SessionID  `json:"-"`
	UserID    kernel.UserID     `json:"user_id"`
	Scheme    string            `json:"scheme"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	TTL       time.Duration     `json:"ttl"`
	RevokedAt *time.Time        `json:"revoked_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// StateAt reports the state at now. Revocation wins over expiry; a session
// whose ExpiresAt equals now is already expired.
func (s *Session) StateAt(now time.Time) State {
	switch {
	case s.RevokedAt != nil:
		return StateRevoked
	case !now.Before(s.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

func (s *Session) ActiveAt(now time.Time) bool { return s.StateAt(now) == StateActive }

// Reapable reports whether the session may be purged at now.
func (s *Session) Reapable(now time.Time) bool { return s.StateAt(now) != StateActive }

func (s *Session) Clone() *Session {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

// Patch is the only mutation sessions support: moving the expiry or
// stamping revocation.
type Patch struct {
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

func (p Patch) Apply(s *Session) {
	if p.ExpiresAt != nil {
		s.ExpiresAt = *p.ExpiresAt
	}
	if p.RevokedAt != nil {
		t := *p.RevokedAt
		s.RevokedAt = &t
	}
}

// NewParams describes a session to open.
type NewParams struct {
	UserID   kernel.UserID
	Scheme   string
	TTL      time.Duration
	Metadata map[string]string
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("SESSION")

var (
	CodeExpired     = ErrRegistry.Register("EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "Session expired")
	CodeIDExhausted = ErrRegistry.Register("ID_EXHAUSTED", errx.TypeInternal, http.StatusInternalServerError, "Could not allocate a unique session id")
	CodeInvalidTTL  = ErrRegistry.Register("INVALID_TTL", errx.TypeValidation, http.StatusBadRequest, "Session TTL must be positive")
)

func ErrExpired() *errx.Error { return ErrRegistry.New(CodeExpired) }

func IsExpired(err error) bool { return errx.IsCode(err, CodeExpired) }
