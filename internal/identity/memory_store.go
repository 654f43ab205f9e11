package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory identity provider for demo/testing.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Identity
}

// NewMemoryStore creates an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Identity)}
}

// Put registers an identity. Later puts with the same ID are ignored:
// identities are immutable once issued.
func (m *MemoryStore) Put(ident *Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[ident.ID]; exists {
		return
	}
	cp := *ident
	m.byID[ident.ID] = &cp
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

var _ Provider = (*MemoryStore)(nil)
