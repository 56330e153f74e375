package session

import (
	"context"
	"time"

	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
)

// Repository is the Sessions storage provider. Create returns Conflict when
// the id is taken; expiry and revocation are judged by callers, so Get
// returns dead sessions too.
type Repository interface {
	storex.Provider[kernel.SessionID, Session, Patch]

	// ListByUser returns every stored session of the user, dead or alive.
	ListByUser(ctx context.Context, userID kernel.UserID) ([]*Session, error)

	// ListReapable returns up to limit sessions that expired at or before
	// now or were revoked.
	ListReapable(ctx context.Context, now time.Time, limit int) ([]*Session, error)
}
