package sessioninfra

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
)

const backendMemory = "memory"

// MemoryRepository keeps sessions in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[kernel.SessionID]*session.Session
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[kernel.SessionID]*session.Session)}
}

func (r *MemoryRepository) Name() string { return backendMemory }

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Get(_ context.Context, id kernel.SessionID) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, storex.ErrNotFound(backendMemory)
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) Create(_ context.Context, s session.Session) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return nil, storex.ErrConflict(backendMemory, "id")
	}
	r.sessions[s.ID] = s.Clone()
	return s.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, id kernel.SessionID, patch session.Patch) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, storex.ErrNotFound(backendMemory)
	}
	patch.Apply(s)
	return s.Clone(), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id kernel.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return storex.ErrNotFound(backendMemory)
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepository) Exists(_ context.Context, id kernel.SessionID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID kernel.UserID) ([]*session.Session, error) {
	return r.collect(func(s *session.Session) bool { return s.UserID == userID }, 0), nil
}

func (r *MemoryRepository) ListReapable(_ context.Context, now time.Time, limit int) ([]*session.Session, error) {
	return r.collect(func(s *session.Session) bool { return s.Reapable(now) }, limit), nil
}

// collect returns matches ordered by expiry, oldest first.
func (r *MemoryRepository) collect(match func(*session.Session) bool, limit int) []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*session.Session
	for _, s := range r.sessions {
		if match(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

var _ session.Repository = (*MemoryRepository)(nil)
