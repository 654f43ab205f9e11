package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarQorp/qwallet-core/internal/errs"
	"github.com/AnarQorp/qwallet-core/internal/identity"
	"github.com/AnarQorp/qwallet-core/internal/permission"
	"github.com/AnarQorp/qwallet-core/internal/risk"
)

func newLimits(daily float64) *permission.Limits {
	return &permission.Limits{
		DailyTransferLimit:   daily,
		MonthlyTransferLimit: daily * 10,
		MaxTransactionAmount: daily / 2,
		AllowedTokens:        []string{"QToken"},
	}
}

func TestLimitsFor_FallsBackToTypeDefaults(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	dao := &identity.Identity{ID: "did:test:dao", Type: identity.TypeDAO}
	limits, err := svc.LimitsFor(ctx, dao)
	require.NoError(t, err)
	assert.InDelta(t, 50000.0, limits.DailyTransferLimit, 0.001)
	assert.True(t, limits.GovernanceControlled)

	consentida := &identity.Identity{ID: "did:test:kid", Type: identity.TypeConsentida}
	limits, err = svc.LimitsFor(ctx, consentida)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, limits.DailyTransferLimit, 0.001)

	unknown := &identity.Identity{ID: "did:test:x", Type: identity.Type("MYSTERY")}
	_, err = svc.LimitsFor(ctx, unknown)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfigValidation, errs.KindOf(err))
}

func TestRequestChange_SelfGoverningAppliesImmediately(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	var notified string
	svc.OnChange(func(identityID string, _ *permission.Limits) {
		notified = identityID
	})

	root := &identity.Identity{ID: "did:test:root", Type: identity.TypeRoot}
	req, err := svc.RequestChange(ctx, root, root.ID, newLimits(20000))
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, root.ID, req.DecidedBy)
	assert.NotNil(t, req.DecidedAt)
	assert.Equal(t, root.ID, notified)

	limits, err := svc.LimitsFor(ctx, root)
	require.NoError(t, err)
	assert.InDelta(t, 20000.0, limits.DailyTransferLimit, 0.001)
}

func TestRequestChange_NonGoverningStaysPending(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	var notified bool
	svc.OnChange(func(string, *permission.Limits) { notified = true })

	kid := &identity.Identity{ID: "did:test:kid", Type: identity.TypeConsentida}
	req, err := svc.RequestChange(ctx, kid, kid.ID, newLimits(200))
	require.Error(t, err)
	assert.Equal(t, errs.KindGovernanceRequired, errs.KindOf(err))
	require.NotNil(t, req)
	assert.Equal(t, StatusPending, req.Status)
	assert.False(t, notified)

	// Limits untouched until the request is decided.
	limits, err := svc.LimitsFor(ctx, kid)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, limits.DailyTransferLimit, 0.001)
}

func TestRequestChange_GoverningIdentityTargetingAnotherStaysPending(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	// Even governance-capable identities cannot unilaterally change another
	// identity's limits; that goes through a decided request.
	root := &identity.Identity{ID: "did:test:root", Type: identity.TypeRoot}
	req, err := svc.RequestChange(ctx, root, "did:test:other", newLimits(1000))
	require.Error(t, err)
	assert.Equal(t, errs.KindGovernanceRequired, errs.KindOf(err))
	assert.Equal(t, StatusPending, req.Status)
}

func TestDecide_ApproveAppliesLimits(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	kid := &identity.Identity{ID: "did:test:kid", Type: identity.TypeConsentida}
	req, err := svc.RequestChange(ctx, kid, kid.ID, newLimits(200))
	require.Error(t, err)

	dao := &identity.Identity{ID: "did:test:dao", Type: identity.TypeDAO}
	decided, err := svc.Decide(ctx, dao, req.ID, true, "parental approval")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	assert.Equal(t, dao.ID, decided.DecidedBy)
	assert.Equal(t, "parental approval", decided.Reason)

	limits, err := svc.LimitsFor(ctx, kid)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, limits.DailyTransferLimit, 0.001)
}

func TestDecide_RejectLeavesLimits(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	kid := &identity.Identity{ID: "did:test:kid", Type: identity.TypeConsentida}
	req, err := svc.RequestChange(ctx, kid, kid.ID, newLimits(200))
	require.Error(t, err)

	dao := &identity.Identity{ID: "did:test:dao", Type: identity.TypeDAO}
	decided, err := svc.Decide(ctx, dao, req.ID, false, "too high")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, decided.Status)

	limits, err := svc.LimitsFor(ctx, kid)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, limits.DailyTransferLimit, 0.001)

	// A decided request cannot be decided again.
	_, err = svc.Decide(ctx, dao, req.ID, true, "")
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestDecide_RequiresGovernanceCapability(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	kid := &identity.Identity{ID: "did:test:kid", Type: identity.TypeConsentida}
	req, err := svc.RequestChange(ctx, kid, kid.ID, newLimits(200))
	require.Error(t, err)

	aid := &identity.Identity{ID: "did:test:aid", Type: identity.TypeAID}
	_, err = svc.Decide(ctx, aid, req.ID, true, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindGovernanceRequired, errs.KindOf(err))

	dao := &identity.Identity{ID: "did:test:dao", Type: identity.TypeDAO}
	_, err = svc.Decide(ctx, dao, "gcr_missing", true, "")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestRequests_FiltersByStatus(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	kid := &identity.Identity{ID: "did:test:kid", Type: identity.TypeConsentida}
	first, err := svc.RequestChange(ctx, kid, kid.ID, newLimits(200))
	require.Error(t, err)
	_, err = svc.RequestChange(ctx, kid, kid.ID, newLimits(300))
	require.Error(t, err)

	dao := &identity.Identity{ID: "did:test:dao", Type: identity.TypeDAO}
	_, err = svc.Decide(ctx, dao, first.ID, true, "")
	require.NoError(t, err)

	pending, err := svc.Requests(ctx, kid.ID, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := svc.Requests(ctx, kid.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestValidateLimits(t *testing.T) {
	require.NoError(t, ValidateLimits(newLimits(1000)))

	assert.Error(t, ValidateLimits(nil))

	bad := newLimits(1000)
	bad.DailyTransferLimit = -1
	assert.Error(t, ValidateLimits(bad))

	bad = newLimits(1000)
	bad.MaxTransactionsPerHour = -1
	assert.Error(t, ValidateLimits(bad))

	bad = newLimits(1000)
	bad.RiskMultipliers = map[risk.Level]float64{risk.LevelHigh: 1.5}
	assert.Error(t, ValidateLimits(bad))
}
