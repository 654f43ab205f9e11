package plugin

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistryStore keeps plugin metadata in memory for demo/testing.
type MemoryRegistryStore struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// NewMemoryRegistryStore creates an empty in-memory registry store.
func NewMemoryRegistryStore() *MemoryRegistryStore {
	return &MemoryRegistryStore{plugins: make(map[string]*Plugin)}
}

func (m *MemoryRegistryStore) Insert(_ context.Context, p *Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[p.PluginID]; exists {
		return ErrDuplicateID
	}
	cp := *p
	m.plugins[p.PluginID] = &cp
	return nil
}

func (m *MemoryRegistryStore) Get(_ context.Context, pluginID string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[pluginID]
	if !ok {
		return nil, ErrNotRegistered
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRegistryStore) List(_ context.Context) ([]*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (m *MemoryRegistryStore) UpdateStatus(_ context.Context, pluginID string, status Status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[pluginID]
	if !ok {
		return ErrNotRegistered
	}
	p.Status = status
	p.LastError = lastError
	p.StatusChangedAt = time.Now()
	return nil
}

func (m *MemoryRegistryStore) UpdateConfig(_ context.Context, pluginID string, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[pluginID]
	if !ok {
		return ErrNotRegistered
	}
	p.Config = cfg
	return nil
}

func (m *MemoryRegistryStore) Delete(_ context.Context, pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[pluginID]; !ok {
		return ErrNotRegistered
	}
	delete(m.plugins, pluginID)
	return nil
}

var _ RegistryStore = (*MemoryRegistryStore)(nil)
