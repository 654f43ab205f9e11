package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarQorp/qwallet-core/internal/idgen"
	"github.com/AnarQorp/qwallet-core/internal/testutil"
)

func pgEvent(identityID, opType string, amount float64, success bool, ts time.Time) *Event {
	return &Event{
		ID:            idgen.WithPrefix("evt_"),
		IdentityID:    identityID,
		OperationType: opType,
		Amount:        amount,
		Token:         "QToken",
		Success:       success,
		Timestamp:     ts,
		Metadata:      map[string]string{"source": "test"},
	}
}

func TestPostgresStore_AppendAndQuery(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Append(ctx, pgEvent("did:pg:a", "TRANSFER", 100, true, now.Add(-2*time.Hour))))
	require.NoError(t, store.Append(ctx, pgEvent("did:pg:a", "SIGN", 0, false, now.Add(-time.Hour))))
	require.NoError(t, store.Append(ctx, pgEvent("did:pg:b", "TRANSFER", 50, true, now)))

	events, err := store.Query(ctx, &Filter{IdentityID: "did:pg:a"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "TRANSFER", events[0].OperationType)
	assert.Equal(t, "test", events[0].Metadata["source"])

	failed := false
	events, err = store.Query(ctx, &Filter{Success: &failed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "SIGN", events[0].OperationType)

	events, err = store.Query(ctx, &Filter{From: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = store.Query(ctx, &Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPostgresStore_Purge(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.Append(ctx, pgEvent("did:pg:a", "TRANSFER", 1, true, now.Add(-48*time.Hour))))
	require.NoError(t, store.Append(ctx, pgEvent("did:pg:a", "TRANSFER", 2, true, now)))

	n, err := store.Purge(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := store.Query(ctx, &Filter{IdentityID: "did:pg:a"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPostgresStore_ViolationLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	v := &Violation{
		ID:            idgen.WithPrefix("vio_"),
		IdentityID:    "did:pg:a",
		ViolationType: "AML_THRESHOLD",
		Severity:      SeverityCritical,
		Status:        StatusDetected,
		Description:   "transfer above reporting threshold",
		DetectedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.SaveViolation(ctx, v))

	open, err := store.OpenViolations(ctx, "did:pg:a")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, SeverityCritical, open[0].Severity)

	require.NoError(t, store.ResolveViolation(ctx, v.ID))

	open, err = store.OpenViolations(ctx, "did:pg:a")
	require.NoError(t, err)
	assert.Empty(t, open)

	// Resolving twice reports not found.
	assert.ErrorIs(t, store.ResolveViolation(ctx, v.ID), ErrViolationNotFound)
}
