// Package risk implements identity-keyed risk scoring for wallet operations.
//
// Every operation is evaluated against weighted factors: transaction
// velocity, amount severity bands (tightened per identity type), externally
// supplied device/geofencing anomalies, and unresolved compliance
// violations. Scores range from 0.0 (safe) to 1.0 (critical) and band into
// levels that scale the identity's effective wallet limits.
package risk

import (
	"time"

	"github.com/AnarQorp/qwallet-core/internal/identity"
)

// Level bands a risk score.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Bands holds the governance-tunable level cut points.
// A score s maps to LOW if s < Medium, MEDIUM if s < High, HIGH if
// s < Critical, CRITICAL otherwise.
type Bands struct {
	Medium   float64
	High     float64
	Critical float64
}

// DefaultBands are the baseline cut points. Governance can override them
// through configuration.
var DefaultBands = Bands{Medium: 0.3, High: 0.6, Critical: 0.85}

// LevelFor maps a score into a level using these bands.
func (b Bands) LevelFor(score float64) Level {
	switch {
	case score < b.Medium:
		return LevelLow
	case score < b.High:
		return LevelMedium
	case score < b.Critical:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// FactorSeverity grades a single risk factor.
type FactorSeverity string

const (
	FactorLow      FactorSeverity = "LOW"
	FactorMedium   FactorSeverity = "MEDIUM"
	FactorHigh     FactorSeverity = "HIGH"
	FactorCritical FactorSeverity = "CRITICAL"
)

// Factor is one weighted contribution to the risk score. The engine always
// recomputes the score from the full factor set; factors are never
// incremented ad hoc.
type Factor struct {
	Category        string         `json:"category"`
	Severity        FactorSeverity `json:"severity"`
	Score           float64        `json:"score"`
	OccurrenceCount int            `json:"occurrenceCount"`
	Description     string         `json:"description,omitempty"`
}

// Assessment is the result of a risk evaluation. Superseded assessments are
// discarded, not archived; only the audit ledger retains history.
type Assessment struct {
	IdentityID      string    `json:"identityId"`
	RiskScore       float64   `json:"riskScore"`
	RiskLevel       Level     `json:"riskLevel"`
	Factors         []Factor  `json:"factors"`
	Recommendations []string  `json:"recommendations,omitempty"`
	ReputationScore int       `json:"reputationScore"`
	ReputationTier  Tier      `json:"reputationTier"`
	LastUpdated     time.Time `json:"lastUpdated"`
	ValidUntil      time.Time `json:"validUntil"`
}

// Expired reports whether the assessment's validity window has elapsed.
// Callers must never gate a decision on an expired assessment.
func (a *Assessment) Expired(now time.Time) bool {
	return now.After(a.ValidUntil)
}

// amountBand returns the severity band for an amount given the identity
// type: 0 none, 1 (>1k), 2 (>10k), 3 (>50k). AID identities escalate one
// band early.
func amountBand(amount float64, idType identity.Type, bands []float64) int {
	band := 0
	for i, threshold := range bands {
		if amount > threshold {
			band = i + 1
		}
	}
	if idType == identity.TypeAID && band < len(bands) && amount > bands[0]/2 {
		band++
	}
	return band
}
