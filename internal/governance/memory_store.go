package governance

import (
	"context"
	"sync"

	"github.com/AnarQorp/qwallet-core/internal/permission"
)

// MemoryStore keeps limits and change requests in memory for demo/testing.
type MemoryStore struct {
	mu       sync.RWMutex
	limits   map[string]*permission.Limits
	requests map[string]*ChangeRequest
}

// NewMemoryStore creates an empty in-memory governance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		limits:   make(map[string]*permission.Limits),
		requests: make(map[string]*ChangeRequest),
	}
}

func (m *MemoryStore) GetLimits(_ context.Context, identityID string) (*permission.Limits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limits[identityID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) SetLimits(_ context.Context, identityID string, limits *permission.Limits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *limits
	m.limits[identityID] = &cp
	return nil
}

func (m *MemoryStore) SaveRequest(_ context.Context, req *ChangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*ChangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *MemoryStore) ListRequests(_ context.Context, identityID string, status RequestStatus) ([]*ChangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ChangeRequest
	for _, req := range m.requests {
		if identityID != "" && req.IdentityID != identityID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
