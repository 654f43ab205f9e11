package audit

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedger(NewMemoryStore(), logger)
}

func TestLedger_AppendAssignsIDAndTimestamp(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	e := &Event{IdentityID: "did:test:a", OperationType: "TRANSFER", Amount: 100, Success: true}
	require.NoError(t, l.Append(ctx, e))

	assert.True(t, strings.HasPrefix(e.ID, "evt_"), "got %q", e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestLedger_AppendRequiredFields(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	err := l.Append(ctx, &Event{OperationType: "TRANSFER"})
	assert.ErrorIs(t, err, ErrMissingField)

	err = l.Append(ctx, &Event{IdentityID: "did:test:a"})
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestLedger_QueryFilters(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	now := time.Now()
	fixtures := []*Event{
		{IdentityID: "did:test:a", OperationType: "TRANSFER", Amount: 100, Success: true, Timestamp: now.Add(-2 * time.Hour)},
		{IdentityID: "did:test:a", OperationType: "SIGN", Success: false, Timestamp: now.Add(-time.Hour)},
		{IdentityID: "did:test:b", OperationType: "TRANSFER", Amount: 50, Success: true, Timestamp: now},
	}
	for _, e := range fixtures {
		require.NoError(t, l.Append(ctx, e))
	}

	byIdentity, err := l.Query(ctx, &Filter{IdentityID: "did:test:a"})
	require.NoError(t, err)
	assert.Len(t, byIdentity, 2)

	byType, err := l.Query(ctx, &Filter{OperationType: "TRANSFER"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	failed := false
	byOutcome, err := l.Query(ctx, &Filter{Success: &failed})
	require.NoError(t, err)
	require.Len(t, byOutcome, 1)
	assert.Equal(t, "SIGN", byOutcome[0].OperationType)

	recent, err := l.Query(ctx, &Filter{From: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := l.Query(ctx, &Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLedger_QueryPreservesInsertionOrder(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for _, op := range []string{"first", "second", "third"} {
		require.NoError(t, l.Append(ctx, &Event{IdentityID: "did:test:a", OperationType: op}))
	}

	events, err := l.Query(ctx, &Filter{IdentityID: "did:test:a"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "first", events[0].OperationType)
	assert.Equal(t, "third", events[2].OperationType)
}

func TestLedger_PurgeRecordsItself(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	old := &Event{IdentityID: "did:test:a", OperationType: "TRANSFER", Timestamp: time.Now().Add(-48 * time.Hour)}
	fresh := &Event{IdentityID: "did:test:a", OperationType: "TRANSFER"}
	require.NoError(t, l.Append(ctx, old))
	require.NoError(t, l.Append(ctx, fresh))

	n, err := l.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	purgeTrace, err := l.Query(ctx, &Filter{OperationType: "AUDIT_PURGE"})
	require.NoError(t, err)
	require.Len(t, purgeTrace, 1)
	assert.Equal(t, "system", purgeTrace[0].IdentityID)
	assert.Equal(t, "1", purgeTrace[0].Metadata["removed"])

	remaining, err := l.Query(ctx, &Filter{IdentityID: "did:test:a"})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestLedger_PurgeNoopLeavesNoTrace(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, &Event{IdentityID: "did:test:a", OperationType: "TRANSFER"}))

	n, err := l.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	trace, err := l.Query(ctx, &Filter{OperationType: "AUDIT_PURGE"})
	require.NoError(t, err)
	assert.Empty(t, trace)
}

func TestUsageSince(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	fixtures := []*Event{
		// Counted in hourly, daily and monthly.
		{IdentityID: "did:test:a", OperationType: "TRANSFER", Amount: 100, Success: true, Timestamp: now.Add(-30 * time.Minute)},
		// Daily and monthly only.
		{IdentityID: "did:test:a", OperationType: "TRANSFER", Amount: 200, Success: true, Timestamp: now.Add(-5 * time.Hour)},
		// Monthly only.
		{IdentityID: "did:test:a", OperationType: "TRANSFER", Amount: 400, Success: true, Timestamp: now.Add(-72 * time.Hour)},
		// Failures never count toward spend.
		{IdentityID: "did:test:a", OperationType: "TRANSFER", Amount: 999, Success: false, Timestamp: now.Add(-10 * time.Minute)},
		// Other identities are invisible.
		{IdentityID: "did:test:b", OperationType: "TRANSFER", Amount: 5000, Success: true, Timestamp: now.Add(-10 * time.Minute)},
	}
	for _, e := range fixtures {
		require.NoError(t, l.Append(ctx, e))
	}

	totals, err := UsageSince(ctx, l.Store(), "did:test:a", now)
	require.NoError(t, err)
	assert.InDelta(t, 300.0, totals.DailySpent, 0.001)
	assert.InDelta(t, 700.0, totals.MonthlySpent, 0.001)
	assert.Equal(t, 1, totals.TxLastHour)
}
