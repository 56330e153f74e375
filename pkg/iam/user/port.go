package user

import (
	"context"

	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
)

// Repository is the Users storage provider. Username uniqueness is
// case-insensitive and enforced by Create and Update with Conflict.
type Repository interface {
	storex.Provider[kernel.UserID, User, Patch]

	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByIdentity(ctx context.Context, provider, subject string) (*User, error)
	Count(ctx context.Context) (int, error)
}

// PasswordHasher produces opaque password credentials.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
}

// SessionRevoker ends every session of a user. The user service calls it on
// deletion and demotion without depending on the session package.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID kernel.UserID) (int, error)
}
