// Package permission evaluates wallet operations against static
// identity-type rules and dynamic, risk- and governance-adjusted limits.
//
// The verdict pipeline is strictly ordered and short-circuits on the first
// failure, always returning a specific reason so the UI can render an
// actionable message. Approval requirements flag, they never deny.
package permission

import (
	"github.com/AnarQorp/qwallet-core/internal/risk"
)

// Limits are the per-identity wallet caps. Mutated only by governance
// change-requests or risk recomputation, never by the operation path.
type Limits struct {
	DailyTransferLimit     float64                `json:"dailyTransferLimit"`
	MonthlyTransferLimit   float64                `json:"monthlyTransferLimit"`
	MaxTransactionAmount   float64                `json:"maxTransactionAmount"`
	MaxTransactionsPerHour int                    `json:"maxTransactionsPerHour"`
	AllowedTokens          []string               `json:"allowedTokens"`
	RequiresApprovalAbove  float64                `json:"requiresApprovalAbove"`
	DynamicLimitsEnabled   bool                   `json:"dynamicLimitsEnabled"`
	GovernanceControlled   bool                   `json:"governanceControlled"`
	RiskBasedAdjustments   bool                   `json:"riskBasedAdjustments"`
	RiskMultipliers        map[risk.Level]float64 `json:"riskMultipliers,omitempty"`
	// GovernanceOverride scales every limit; zero value means no override.
	GovernanceOverride float64 `json:"governanceOverride,omitempty"`
}

// DefaultRiskMultipliers scale limits down as risk rises.
var DefaultRiskMultipliers = map[risk.Level]float64{
	risk.LevelLow:      1.0,
	risk.LevelMedium:   0.7,
	risk.LevelHigh:     0.4,
	risk.LevelCritical: 0.1,
}

// multiplier returns the configured multiplier for a level, falling back to
// the defaults. Multipliers are scalars in [0, 1].
func (l *Limits) multiplier(level risk.Level) float64 {
	if !l.RiskBasedAdjustments {
		return 1.0
	}
	m, ok := l.RiskMultipliers[level]
	if !ok {
		m = DefaultRiskMultipliers[level]
	}
	if m < 0 {
		m = 0
	}
	if m > 1 {
		m = 1
	}
	return m
}

// Effective computes an effective cap:
// base x riskMultiplier[level] x (governanceOverride or 1), clamped to >= 0.
func (l *Limits) Effective(base float64, level risk.Level) float64 {
	override := l.GovernanceOverride
	if override == 0 {
		override = 1
	}
	eff := base * l.multiplier(level) * override
	if eff < 0 {
		eff = 0
	}
	return eff
}

// TokenAllowed reports whether the token is in the limit's allowed set.
// An empty set allows nothing.
func (l *Limits) TokenAllowed(token string) bool {
	for _, t := range l.AllowedTokens {
		if t == token {
			return true
		}
	}
	return false
}
