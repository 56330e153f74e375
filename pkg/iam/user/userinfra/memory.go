package userinfra

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
)

const backendMemory = "memory"

// MemoryRepository keeps users in process memory. It is meant for
// development and tests; data does not survive a restart.
type MemoryRepository struct {
	mu         sync.RWMutex
	users      map[kernel.UserID]*user.User
	byUsername map[string]kernel.UserID
	byIdentity map[identityRef]kernel.UserID
	now        kernel.Clock
}

type identityRef struct{ provider, subject string }

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:      make(map[kernel.UserID]*user.User),
		byUsername: make(map[string]kernel.UserID),
		byIdentity: make(map[identityRef]kernel.UserID),
		now:        kernel.SystemClock,
	}
}

func (r *MemoryRepository) Name() string { return backendMemory }

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Get(_ context.Context, id kernel.UserID) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, storex.ErrNotFound(backendMemory)
	}
	return u.Clone(), nil
}

func (r *MemoryRepository) Create(_ context.Context, u user.User) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.ID]; ok {
		return nil, storex.ErrConflict(backendMemory, "id")
	}
	key := strings.ToLower(u.Username)
	if _, ok := r.byUsername[key]; ok {
		return nil, storex.ErrConflict(backendMemory, "username")
	}
	for provider, subject := range u.Identities {
		if _, ok := r.byIdentity[identityRef{provider, subject}]; ok {
			return nil, storex.ErrConflict(backendMemory, "identity")
		}
	}

	stored := u.Clone()
	r.users[u.ID] = stored
	r.byUsername[key] = u.ID
	for provider, subject := range u.Identities {
		r.byIdentity[identityRef{provider, subject}] = u.ID
	}
	return stored.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, id kernel.UserID, patch user.Patch) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[id]
	if !ok {
		return nil, storex.ErrNotFound(backendMemory)
	}

	next := current.Clone()
	patch.Apply(next, r.now())

	oldKey, newKey := strings.ToLower(current.Username), strings.ToLower(next.Username)
	if oldKey != newKey {
		if _, taken := r.byUsername[newKey]; taken {
			return nil, storex.ErrConflict(backendMemory, "username")
		}
	}
	for provider, subject := range next.Identities {
		if owner, taken := r.byIdentity[identityRef{provider, subject}]; taken && owner != id {
			return nil, storex.ErrConflict(backendMemory, "identity")
		}
	}

	if oldKey != newKey {
		delete(r.byUsername, oldKey)
		r.byUsername[newKey] = id
	}
	for provider, subject := range current.Identities {
		delete(r.byIdentity, identityRef{provider, subject})
	}
	for provider, subject := range next.Identities {
		r.byIdentity[identityRef{provider, subject}] = id
	}

	r.users[id] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id kernel.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return storex.ErrNotFound(backendMemory)
	}
	delete(r.byUsername, strings.ToLower(u.Username))
	for provider, subject := range u.Identities {
		delete(r.byIdentity, identityRef{provider, subject})
	}
	delete(r.users, id)
	return nil
}

func (r *MemoryRepository) Exists(_ context.Context, id kernel.UserID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.users[id]
	return ok, nil
}

func (r *MemoryRepository) FindByUsername(_ context.Context, username string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, storex.ErrNotFound(backendMemory)
	}
	return r.users[id].Clone(), nil
}

// FindByEmail returns the oldest user with the address.
func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (*user.User, error) {
	return r.findFirst(func(u *user.User) bool { return u.Email != "" && u.Email == email })
}

func (r *MemoryRepository) FindByIdentity(_ context.Context, provider, subject string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdentity[identityRef{provider, subject}]
	if !ok {
		return nil, storex.ErrNotFound(backendMemory)
	}
	return r.users[id].Clone(), nil
}

func (r *MemoryRepository) Count(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

func (r *MemoryRepository) findFirst(match func(*user.User) bool) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hits []*user.User
	for _, u := range r.users {
		if match(u) {
			hits = append(hits, u)
		}
	}
	if len(hits) == 0 {
		return nil, storex.ErrNotFound(backendMemory)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedAt.Before(hits[j].CreatedAt) })
	return hits[0].Clone(), nil
}

var _ user.Repository = (*MemoryRepository)(nil)
