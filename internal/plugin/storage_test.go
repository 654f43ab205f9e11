package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarQorp/qwallet-core/internal/errs"
)

func TestScopedStorage_Isolation(t *testing.T) {
	backend := NewMemoryStorageBackend()
	ctx := context.Background()

	a := NewScopedStorage(backend, "plugin-a", 0)
	b := NewScopedStorage(backend, "plugin-b", 0)

	require.NoError(t, a.Set(ctx, "shared-key", "from-a"))
	require.NoError(t, b.Set(ctx, "shared-key", "from-b"))

	v, ok, err := a.Get(ctx, "shared-key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-a", v)

	// Clearing one plugin leaves the other untouched.
	require.NoError(t, a.Clear(ctx))
	_, ok, err = a.Get(ctx, "shared-key")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = b.Get(ctx, "shared-key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-b", v)
}

func TestScopedStorage_KeyQuota(t *testing.T) {
	backend := NewMemoryStorageBackend()
	ctx := context.Background()
	s := NewScopedStorage(backend, "bounded", 2)

	require.NoError(t, s.Set(ctx, "k1", "v1"))
	require.NoError(t, s.Set(ctx, "k2", "v2"))

	err := s.Set(ctx, "k3", "v3")
	require.Error(t, err)
	assert.Equal(t, errs.KindConfigValidation, errs.KindOf(err))

	// Overwriting an existing key does not count against the quota.
	require.NoError(t, s.Set(ctx, "k1", "v1-updated"))

	// Deleting frees a slot.
	require.NoError(t, s.Delete(ctx, "k2"))
	require.NoError(t, s.Set(ctx, "k3", "v3"))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k3"}, keys)
}

func TestScopedStorage_Has(t *testing.T) {
	backend := NewMemoryStorageBackend()
	ctx := context.Background()
	s := NewScopedStorage(backend, "p", 0)

	ok, err := s.Has(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "present", "1"))
	ok, err = s.Has(ctx, "present")
	require.NoError(t, err)
	assert.True(t, ok)
}
