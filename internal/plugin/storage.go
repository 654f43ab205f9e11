package plugin

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"sync"

	"github.com/AnarQorp/qwallet-core/internal/errs"
)

// StorageBackend is the flat key/value backend shared by every plugin.
// Scoping by plugin ID happens one level up, in scopedStorage.
type StorageBackend interface {
	Get(ctx context.Context, pluginID, key string) (string, bool, error)
	Set(ctx context.Context, pluginID, key, value string) error
	Delete(ctx context.Context, pluginID, key string) error
	Clear(ctx context.Context, pluginID string) error
	Keys(ctx context.Context, pluginID string) ([]string, error)
}

// scopedStorage binds a backend to one plugin ID and enforces the plugin's
// key quota. It is the only Storage implementation plugins ever see.
type scopedStorage struct {
	backend  StorageBackend
	pluginID string
	maxKeys  int
}

// NewScopedStorage returns the storage view handed to a plugin instance.
// maxKeys <= 0 means unlimited.
func NewScopedStorage(backend StorageBackend, pluginID string, maxKeys int) Storage {
	return &scopedStorage{backend: backend, pluginID: pluginID, maxKeys: maxKeys}
}

func (s *scopedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	return s.backend.Get(ctx, s.pluginID, key)
}

func (s *scopedStorage) Set(ctx context.Context, key, value string) error {
	if s.maxKeys > 0 {
		_, exists, err := s.backend.Get(ctx, s.pluginID, key)
		if err != nil {
			return err
		}
		if !exists {
			keys, err := s.backend.Keys(ctx, s.pluginID)
			if err != nil {
				return err
			}
			if len(keys) >= s.maxKeys {
				return errs.Plugin(errs.KindConfigValidation, s.pluginID, "storage key quota exceeded").
					WithDetail("maxStorageKeys", strconv.Itoa(s.maxKeys))
			}
		}
	}
	return s.backend.Set(ctx, s.pluginID, key, value)
}

func (s *scopedStorage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.pluginID, key)
}

func (s *scopedStorage) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx, s.pluginID)
}

func (s *scopedStorage) Keys(ctx context.Context) ([]string, error) {
	return s.backend.Keys(ctx, s.pluginID)
}

func (s *scopedStorage) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.backend.Get(ctx, s.pluginID, key)
	return ok, err
}

// MemoryStorageBackend keeps plugin storage in memory for demo/testing.
type MemoryStorageBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewMemoryStorageBackend creates an empty in-memory storage backend.
func NewMemoryStorageBackend() *MemoryStorageBackend {
	return &MemoryStorageBackend{data: make(map[string]map[string]string)}
}

func (m *MemoryStorageBackend) Get(_ context.Context, pluginID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[pluginID][key]
	return v, ok, nil
}

func (m *MemoryStorageBackend) Set(_ context.Context, pluginID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[pluginID] == nil {
		m.data[pluginID] = make(map[string]string)
	}
	m.data[pluginID][key] = value
	return nil
}

func (m *MemoryStorageBackend) Delete(_ context.Context, pluginID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[pluginID], key)
	return nil
}

func (m *MemoryStorageBackend) Clear(_ context.Context, pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, pluginID)
	return nil
}

func (m *MemoryStorageBackend) Keys(_ context.Context, pluginID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data[pluginID]))
	for k := range m.data[pluginID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

var _ StorageBackend = (*MemoryStorageBackend)(nil)

// PostgresStorageBackend persists plugin storage in the plugin_storage table.
type PostgresStorageBackend struct {
	db *sql.DB
}

// NewPostgresStorageBackend creates a storage backend over PostgreSQL.
func NewPostgresStorageBackend(db *sql.DB) *PostgresStorageBackend {
	return &PostgresStorageBackend{db: db}
}

func (s *PostgresStorageBackend) Get(ctx context.Context, pluginID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM plugin_storage WHERE plugin_id = $1 AND key = $2`, pluginID, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *PostgresStorageBackend) Set(ctx context.Context, pluginID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_storage (plugin_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (plugin_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, pluginID, key, value)
	return err
}

func (s *PostgresStorageBackend) Delete(ctx context.Context, pluginID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM plugin_storage WHERE plugin_id = $1 AND key = $2`, pluginID, key)
	return err
}

func (s *PostgresStorageBackend) Clear(ctx context.Context, pluginID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM plugin_storage WHERE plugin_id = $1`, pluginID)
	return err
}

func (s *PostgresStorageBackend) Keys(ctx context.Context, pluginID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM plugin_storage WHERE plugin_id = $1 ORDER BY key ASC`, pluginID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

var _ StorageBackend = (*PostgresStorageBackend)(nil)
