package auth

import (
	"context"
	"sync"
	"time"

	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
)

const stateStoreMemory = "memory"

// MemoryStateStore keeps OAuth2 states in process. It only works for a
// single replica; use the Redis store behind a load balancer.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	now     kernel.Clock
}

type stateEntry struct {
	provider string
	expires  time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: map[string]stateEntry{}, now: kernel.SystemClock}
}

// WithClock replaces the clock; for tests.
func (m *MemoryStateStore) WithClock(c kernel.Clock) *MemoryStateStore {
	m.now = c
	return m
}

func (m *MemoryStateStore) Put(_ context.Context, state, provider string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	if _, taken := m.entries[state]; taken {
		return storex.ErrConflict(stateStoreMemory, "state")
	}
	m.entries[state] = stateEntry{provider: provider, expires: now.Add(ttl)}
	return nil
}

func (m *MemoryStateStore) Consume(_ context.Context, state string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[state]
	if !ok {
		return "", storex.ErrNotFound(stateStoreMemory)
	}
	delete(m.entries, state)
	if !m.now().Before(e.expires) {
		return "", storex.ErrNotFound(stateStoreMemory)
	}
	return e.provider, nil
}
