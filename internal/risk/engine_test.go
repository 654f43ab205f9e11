package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarQorp/qwallet-core/internal/audit"
	"github.com/AnarQorp/qwallet-core/internal/identity"
)

func testLedger(t *testing.T) *audit.Ledger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return audit.NewLedger(audit.NewMemoryStore(), logger)
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *audit.Ledger) {
	t.Helper()
	ledger := testLedger(t)
	tracker := NewReputationTracker(NewMemoryReputationStore())
	return NewEngine(cfg, ledger, tracker), ledger
}

func rootIdentity() *identity.Identity {
	return &identity.Identity{ID: "did:test:root", Type: identity.TypeRoot}
}

func TestEngine_QuietIdentityScoresLow(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	a, err := e.Assess(context.Background(), rootIdentity(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.RiskScore)
	assert.Equal(t, LevelLow, a.RiskLevel)
	assert.Len(t, a.Factors, 4)
	assert.False(t, a.Expired(time.Now()))
}

func TestEngine_ScoreStaysInBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VelocityThreshold = 1
	e, ledger := newTestEngine(t, cfg)
	ctx := context.Background()

	ident := rootIdentity()
	for i := 0; i < 50; i++ {
		require.NoError(t, ledger.Append(ctx, &audit.Event{
			IdentityID:    ident.ID,
			OperationType: "TRANSFER",
			Amount:        100,
			Success:       true,
		}))
	}
	require.NoError(t, ledger.Store().SaveViolation(ctx, &audit.Violation{
		ID:            "v1",
		IdentityID:    ident.ID,
		ViolationType: "AML_THRESHOLD",
		Severity:      audit.SeverityCritical,
		Status:        audit.StatusDetected,
		DetectedAt:    time.Now(),
	}))

	pending := &PendingOperation{Type: identity.OpTransfer, Amount: 100000, Token: "ETH"}
	anomalies := []Factor{{Category: "device", Severity: FactorCritical, Score: 5.0}}

	a, err := e.Assess(ctx, ident, pending, anomalies)
	require.NoError(t, err)
	assert.LessOrEqual(t, a.RiskScore, 1.0)
	assert.GreaterOrEqual(t, a.RiskScore, 0.0)
	assert.Equal(t, LevelCritical, a.RiskLevel)
}

func TestEngine_LevelMatchesBands(t *testing.T) {
	bands := DefaultBands
	tests := []struct {
		score float64
		want  Level
	}{
		{0.0, LevelLow},
		{0.29, LevelLow},
		{0.3, LevelMedium},
		{0.59, LevelMedium},
		{0.6, LevelHigh},
		{0.84, LevelHigh},
		{0.85, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bands.LevelFor(tt.score), "score %v", tt.score)
	}
}

func TestEngine_VelocityFactor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VelocityThreshold = 4
	e, ledger := newTestEngine(t, cfg)
	ctx := context.Background()

	ident := rootIdentity()
	// Twice the threshold saturates the velocity factor at 1.0.
	for i := 0; i < 8; i++ {
		require.NoError(t, ledger.Append(ctx, &audit.Event{
			IdentityID:    ident.ID,
			OperationType: "TRANSFER",
			Success:       true,
		}))
	}

	a, err := e.Assess(ctx, ident, nil, nil)
	require.NoError(t, err)

	velocity := a.Factors[0]
	assert.Equal(t, "velocity", velocity.Category)
	assert.Equal(t, 1.0, velocity.Score)
	assert.Equal(t, FactorCritical, velocity.Severity)
	assert.Equal(t, 8, velocity.OccurrenceCount)

	// Only the velocity weight contributes here.
	assert.InDelta(t, 0.30, a.RiskScore, 0.001)
	assert.Equal(t, LevelMedium, a.RiskLevel)
}

func TestEngine_AmountBandsEscalateForAID(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	root := rootIdentity()
	aid := &identity.Identity{ID: "did:test:aid", Type: identity.TypeAID}
	pending := &PendingOperation{Type: identity.OpTransfer, Amount: 900, Token: "ETH"}

	// 900 is below the first band for ROOT but escalates for AID.
	a, err := e.Assess(ctx, root, pending, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Factors[1].Score)

	a, err = e.Assess(ctx, aid, pending, nil)
	require.NoError(t, err)
	assert.Greater(t, a.Factors[1].Score, 0.0)
}

func TestEngine_ViolationFactorSeverity(t *testing.T) {
	e, ledger := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	ident := rootIdentity()

	require.NoError(t, ledger.Store().SaveViolation(ctx, &audit.Violation{
		ID:            "v-high",
		IdentityID:    ident.ID,
		ViolationType: "STRUCTURING",
		Severity:      audit.SeverityHigh,
		Status:        audit.StatusDetected,
		DetectedAt:    time.Now(),
	}))

	a, err := e.Assess(ctx, ident, nil, nil)
	require.NoError(t, err)
	compliance := a.Factors[3]
	assert.Equal(t, FactorHigh, compliance.Severity)
	assert.InDelta(t, 0.25, compliance.Score, 0.001)

	// A CRITICAL violation escalates the factor severity.
	require.NoError(t, ledger.Store().SaveViolation(ctx, &audit.Violation{
		ID:            "v-crit",
		IdentityID:    ident.ID,
		ViolationType: "AML_THRESHOLD",
		Severity:      audit.SeverityCritical,
		Status:        audit.StatusDetected,
		DetectedAt:    time.Now(),
	}))

	a, err = e.Assess(ctx, ident, nil, nil)
	require.NoError(t, err)
	compliance = a.Factors[3]
	assert.Equal(t, FactorCritical, compliance.Severity)
	assert.Equal(t, 2, compliance.OccurrenceCount)
	assert.Contains(t, a.Recommendations, "resolve open compliance violations")
}

func TestEngine_CurrentCachesUntilInvalidated(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	ident := rootIdentity()

	first, err := e.Current(ctx, ident, nil, nil)
	require.NoError(t, err)
	second, err := e.Current(ctx, ident, nil, nil)
	require.NoError(t, err)
	assert.Same(t, first, second)

	e.Invalidate(ident.ID)
	third, err := e.Current(ctx, ident, nil, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestEngine_PendingOperationForcesRecompute(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	ident := rootIdentity()

	cached, err := e.Current(ctx, ident, nil, nil)
	require.NoError(t, err)

	pending := &PendingOperation{Type: identity.OpTransfer, Amount: 60000, Token: "ETH"}
	fresh, err := e.Current(ctx, ident, pending, nil)
	require.NoError(t, err)
	assert.NotSame(t, cached, fresh)
	assert.Greater(t, fresh.RiskScore, cached.RiskScore)
}
