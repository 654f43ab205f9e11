package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrViolationNotFound is returned when resolving an unknown violation.
var ErrViolationNotFound = errors.New("audit: violation not found")

// MemoryStore keeps events and violations in memory for demo/testing.
// Events are stored in insertion order and never reordered.
type MemoryStore struct {
	mu         sync.RWMutex
	events     []*Event
	violations map[string]*Violation
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{violations: make(map[string]*Violation)}
}

func (m *MemoryStore) Append(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f *Filter) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if f != nil && !f.Matches(e) {
			continue
		}
		cp := *e
		result = append(result, &cp)
		if f != nil && f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	removed := 0
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return removed, nil
}

func (m *MemoryStore) SaveViolation(_ context.Context, v *Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.violations[v.ID] = &cp
	return nil
}

func (m *MemoryStore) OpenViolations(_ context.Context, identityID string) ([]*Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Violation
	for _, v := range m.violations {
		if v.Status != StatusDetected {
			continue
		}
		if identityID != "" && v.IdentityID != identityID {
			continue
		}
		cp := *v
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ResolveViolation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.violations[id]
	if !ok {
		return ErrViolationNotFound
	}
	now := time.Now()
	v.Status = StatusResolved
	v.ResolvedAt = &now
	return nil
}

var _ Store = (*MemoryStore)(nil)
