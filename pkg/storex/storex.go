// Package storex defines the storage-provider contract shared by the Users
// and Sessions subsystems, its error taxonomy, and the timeout plumbing
// every backend goes through.
//
// A backend is one concrete implementation of a bounded context's
// repository (for example sessioninfra.RedisRepository). It is selected once
// at startup from configuration and never swapped at runtime.
package storex

import (
	"context"
)

// Pinger is implemented by every backend and used by the readiness probes.
type Pinger interface {
	// Ping checks reachability. Callers bound it with Probe.
	Ping(ctx context.Context) error

	// Name identifies the backend in errors and logs, e.g. "redis".
	Name() string
}

// Provider is the uniform CRUD contract over key K, entity E and patch P.
// Implementations must be safe for concurrent use and atomic per entity.
type Provider[K comparable, E any, P any] interface {
	Pinger

	// Get returns NotFound if key is absent.
	Get(ctx context.Context, key K) (*E, error)

	// Create returns Conflict if a uniqueness invariant would be violated.
	// The existing record is left untouched in that case.
	Create(ctx context.Context, entity E) (*E, error)

	// Update applies patch and returns the stored result, or NotFound.
	Update(ctx context.Context, key K, patch P) (*E, error)

	// Delete returns NotFound if key is absent.
	Delete(ctx context.Context, key K) error

	Exists(ctx context.Context, key K) (bool, error)
}

// Closer is implemented by backends that own a connection.
type Closer interface {
	Close() error
}
