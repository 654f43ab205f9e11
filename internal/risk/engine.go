package risk

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/audit"
	"github.com/AnarQorp/qwallet-core/internal/identity"
	"github.com/AnarQorp/qwallet-core/internal/traces"
	"github.com/prometheus/client_golang/prometheus"
)

var riskLevelGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "qwallet",
	Subsystem: "risk",
	Name:      "score",
	Help:      "Latest computed risk score per identity.",
}, []string{"identity"})

func init() {
	prometheus.MustRegister(riskLevelGauge)
}

// Factor weights (must sum to 1.0).
const (
	weightVelocity   = 0.30
	weightAmount     = 0.30
	weightExternal   = 0.20
	weightViolations = 0.20
)

// violationIncrement is the fixed score added per open compliance violation
// inside the violations factor, before weighting.
const violationIncrement = 0.25

// Config holds the governance-tunable engine parameters.
type Config struct {
	Bands             Bands
	AmountBands       []float64     // escalating severity thresholds
	VelocityWindow    time.Duration // rolling window for velocity counting
	VelocityThreshold int           // events in window considered normal
	Validity          time.Duration // assessment validity window
}

// DefaultConfig matches the baseline governance parameters.
func DefaultConfig() Config {
	return Config{
		Bands:             DefaultBands,
		AmountBands:       []float64{1000, 10000, 50000},
		VelocityWindow:    time.Hour,
		VelocityThreshold: 10,
		Validity:          5 * time.Minute,
	}
}

// PendingOperation carries the operation under evaluation, if any.
type PendingOperation struct {
	Type   identity.OperationType
	Amount float64
	Token  string
}

// Engine computes risk assessments from ledger history plus the pending
// operation. Assessments are cached per identity until ValidUntil. An
// expired assessment is never returned; callers always get a fresh
// recomputation.
type Engine struct {
	cfg        Config
	ledger     *audit.Ledger
	reputation *ReputationTracker

	mu    sync.Mutex
	cache map[string]*Assessment
}

// NewEngine creates a risk engine reading history from the ledger.
func NewEngine(cfg Config, ledger *audit.Ledger, reputation *ReputationTracker) *Engine {
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultConfig().Validity
	}
	if len(cfg.AmountBands) == 0 {
		cfg.AmountBands = DefaultConfig().AmountBands
	}
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = DefaultConfig().VelocityWindow
	}
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = DefaultConfig().VelocityThreshold
	}
	if cfg.Bands == (Bands{}) {
		cfg.Bands = DefaultBands
	}
	return &Engine{
		cfg:        cfg,
		ledger:     ledger,
		reputation: reputation,
		cache:      make(map[string]*Assessment),
	}
}

// Current returns the cached assessment for an identity if still valid, or
// computes a fresh one. externalFactors are device/geofencing anomalies
// supplied by collaborators, not computed here.
func (e *Engine) Current(ctx context.Context, ident *identity.Identity, pending *PendingOperation, externalFactors []Factor) (*Assessment, error) {
	e.mu.Lock()
	cached, ok := e.cache[ident.ID]
	e.mu.Unlock()
	// A pending operation always forces recomputation: the operation itself
	// is a factor input.
	if ok && pending == nil && len(externalFactors) == 0 && !cached.Expired(time.Now()) {
		return cached, nil
	}
	return e.Assess(ctx, ident, pending, externalFactors)
}

// Invalidate discards the cached assessment so the next read recomputes.
// Called after every ledger append for the identity.
func (e *Engine) Invalidate(identityID string) {
	e.mu.Lock()
	delete(e.cache, identityID)
	e.mu.Unlock()
}

// Assess recomputes the assessment from the full factor set.
func (e *Engine) Assess(ctx context.Context, ident *identity.Identity, pending *PendingOperation, externalFactors []Factor) (*Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "risk.assess", traces.IdentityID(ident.ID))
	defer span.End()

	now := time.Now()

	events, err := e.ledger.Query(ctx, &audit.Filter{
		IdentityID: ident.ID,
		From:       now.Add(-e.cfg.VelocityWindow),
	})
	if err != nil {
		return nil, err
	}

	openViolations, err := e.ledger.Store().OpenViolations(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	factors := []Factor{
		e.velocityFactor(events),
		e.amountFactor(ident.Type, pending),
		e.externalFactor(externalFactors),
		e.violationFactor(openViolations),
	}

	score := factors[0].Score*weightVelocity +
		factors[1].Score*weightAmount +
		factors[2].Score*weightExternal +
		factors[3].Score*weightViolations

	score = math.Min(1.0, math.Max(0.0, score))
	score = math.Round(score*1000) / 1000

	level := e.cfg.Bands.LevelFor(score)

	repScore, repTier := e.reputation.Current(ctx, ident.ID)

	assessment := &Assessment{
		IdentityID:      ident.ID,
		RiskScore:       score,
		RiskLevel:       level,
		Factors:         factors,
		Recommendations: recommendations(level, factors),
		ReputationScore: repScore,
		ReputationTier:  repTier,
		LastUpdated:     now,
		ValidUntil:      now.Add(e.cfg.Validity),
	}

	span.SetAttributes(traces.RiskLevel(string(level)))
	riskLevelGauge.WithLabelValues(ident.ID).Set(score)

	e.mu.Lock()
	e.cache[ident.ID] = assessment
	e.mu.Unlock()

	return assessment, nil
}

// velocityFactor counts recent events above the rolling-window threshold.
func (e *Engine) velocityFactor(events []*audit.Event) Factor {
	count := len(events)
	f := Factor{Category: "velocity", Severity: FactorLow, OccurrenceCount: count}
	if count <= e.cfg.VelocityThreshold {
		return f
	}

	// Overage scales linearly: 2x threshold = 1.0.
	over := float64(count-e.cfg.VelocityThreshold) / float64(e.cfg.VelocityThreshold)
	f.Score = math.Min(1.0, over)
	switch {
	case f.Score >= 0.8:
		f.Severity = FactorCritical
	case f.Score >= 0.5:
		f.Severity = FactorHigh
	default:
		f.Severity = FactorMedium
	}
	f.Description = "transaction velocity above rolling window threshold"
	return f
}

// amountFactor grades the pending operation's amount by severity band.
func (e *Engine) amountFactor(idType identity.Type, pending *PendingOperation) Factor {
	f := Factor{Category: "amount", Severity: FactorLow}
	if pending == nil || pending.Amount <= 0 {
		return f
	}
	band := amountBand(pending.Amount, idType, e.cfg.AmountBands)
	if band == 0 {
		return f
	}
	f.OccurrenceCount = 1
	switch band {
	case 1:
		f.Score, f.Severity = 0.35, FactorMedium
	case 2:
		f.Score, f.Severity = 0.65, FactorHigh
	default:
		f.Score, f.Severity = 1.0, FactorCritical
	}
	// CONSENTIDA identities never score an elevated amount below MEDIUM.
	if idType == identity.TypeConsentida && f.Severity == FactorLow {
		f.Severity = FactorMedium
	}
	f.Description = "operation amount in elevated severity band"
	return f
}

// externalFactor folds in device/geofencing anomalies supplied by
// collaborators. The max anomaly score dominates; count is informational.
func (e *Engine) externalFactor(supplied []Factor) Factor {
	f := Factor{Category: "external", Severity: FactorLow, OccurrenceCount: len(supplied)}
	for _, s := range supplied {
		if s.Score > f.Score {
			f.Score = s.Score
			f.Severity = s.Severity
			f.Description = s.Description
		}
	}
	f.Score = math.Min(1.0, f.Score)
	return f
}

// violationFactor adds a fixed increment per open compliance violation.
func (e *Engine) violationFactor(open []*audit.Violation) Factor {
	f := Factor{Category: "compliance", Severity: FactorLow, OccurrenceCount: len(open)}
	if len(open) == 0 {
		return f
	}
	f.Score = math.Min(1.0, float64(len(open))*violationIncrement)
	f.Severity = FactorHigh
	for _, v := range open {
		if v.Severity == audit.SeverityCritical {
			f.Severity = FactorCritical
			break
		}
	}
	f.Description = "unresolved compliance violations"
	return f
}

func recommendations(level Level, factors []Factor) []string {
	var recs []string
	switch level {
	case LevelHigh, LevelCritical:
		recs = append(recs, "require approval for transfers until risk subsides")
	case LevelMedium:
		recs = append(recs, "monitor transaction velocity")
	}
	for _, f := range factors {
		if f.Category == "compliance" && f.OccurrenceCount > 0 {
			recs = append(recs, "resolve open compliance violations")
		}
	}
	return recs
}
