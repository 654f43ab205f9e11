package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/idgen"
)

// ViolationStatus is the lifecycle state of a compliance violation.
type ViolationStatus string

const (
	StatusDetected ViolationStatus = "DETECTED"
	StatusResolved ViolationStatus = "RESOLVED"
)

// Severity of a compliance violation.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Violation is derived from audit events by rule evaluation. Its lifecycle
// ends when explicitly resolved.
type Violation struct {
	ID            string          `json:"id"`
	IdentityID    string          `json:"identityId"`
	ViolationType string          `json:"violationType"`
	Severity      Severity        `json:"severity"`
	Status        ViolationStatus `json:"status"`
	Description   string          `json:"description"`
	DetectedAt    time.Time       `json:"detectedAt"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
}

// Report summarizes compliance for an identity over a period.
type Report struct {
	IdentityID      string       `json:"identityId"`
	PeriodStart     time.Time    `json:"periodStart"`
	PeriodEnd       time.Time    `json:"periodEnd"`
	TotalEvents     int          `json:"totalEvents"`
	FailedEvents    int          `json:"failedEvents"`
	Violations      []*Violation `json:"violations"`
	OpenViolations  int          `json:"openViolations"`
	ComplianceScore int          `json:"complianceScore"`
	GeneratedAt     time.Time    `json:"generatedAt"`
}

// Rule thresholds. Governance-tunable via ComplianceConfig; these are the
// defaults applied when the zero value is passed.
type ComplianceConfig struct {
	AMLSingleTransferLimit float64 // single transfer above this flags AML_THRESHOLD
	StructuringCount       int     // N transfers just under the AML limit within the window
	StructuringWindow      time.Duration
	RepeatedFailureCount   int // N failed operations within the window
	RepeatedFailureWindow  time.Duration
}

// DefaultComplianceConfig mirrors the standard AML rule-set.
func DefaultComplianceConfig() ComplianceConfig {
	return ComplianceConfig{
		AMLSingleTransferLimit: 10000,
		StructuringCount:       3,
		StructuringWindow:      24 * time.Hour,
		RepeatedFailureCount:   5,
		RepeatedFailureWindow:  time.Hour,
	}
}

func (c ComplianceConfig) withDefaults() ComplianceConfig {
	def := DefaultComplianceConfig()
	if c.AMLSingleTransferLimit <= 0 {
		c.AMLSingleTransferLimit = def.AMLSingleTransferLimit
	}
	if c.StructuringCount <= 0 {
		c.StructuringCount = def.StructuringCount
	}
	if c.StructuringWindow <= 0 {
		c.StructuringWindow = def.StructuringWindow
	}
	if c.RepeatedFailureCount <= 0 {
		c.RepeatedFailureCount = def.RepeatedFailureCount
	}
	if c.RepeatedFailureWindow <= 0 {
		c.RepeatedFailureWindow = def.RepeatedFailureWindow
	}
	return c
}

// Reporter evaluates the fixed compliance rule-set over ledger history.
type Reporter struct {
	ledger *Ledger
	cfg    ComplianceConfig
}

// NewReporter creates a compliance reporter over the ledger.
func NewReporter(ledger *Ledger, cfg ComplianceConfig) *Reporter {
	return &Reporter{ledger: ledger, cfg: cfg.withDefaults()}
}

// GenerateReport scans events in the period, evaluates the rule-set into
// violations, persists newly detected ones, and computes the compliance
// score: max(0, 100 - 10*openViolations).
func (r *Reporter) GenerateReport(ctx context.Context, identityID string, from, to time.Time) (*Report, error) {
	events, err := r.ledger.Query(ctx, &Filter{IdentityID: identityID, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("compliance: query events: %w", err)
	}

	detected := r.evaluate(identityID, events)

	store := r.ledger.Store()
	existing, err := store.OpenViolations(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("compliance: load open violations: %w", err)
	}

	// Dedupe by violation type: a rule that already has an open violation
	// for this identity is not re-raised.
	openByType := make(map[string]bool, len(existing))
	for _, v := range existing {
		openByType[v.ViolationType] = true
	}
	for _, v := range detected {
		if openByType[v.ViolationType] {
			continue
		}
		if err := store.SaveViolation(ctx, v); err != nil {
			return nil, fmt.Errorf("compliance: save violation: %w", err)
		}
		existing = append(existing, v)
	}

	failed := 0
	for _, e := range events {
		if !e.Success {
			failed++
		}
	}

	score := 100 - 10*len(existing)
	if score < 0 {
		score = 0
	}

	return &Report{
		IdentityID:      identityID,
		PeriodStart:     from,
		PeriodEnd:       to,
		TotalEvents:     len(events),
		FailedEvents:    failed,
		Violations:      existing,
		OpenViolations:  len(existing),
		ComplianceScore: score,
		GeneratedAt:     time.Now(),
	}, nil
}

// evaluate runs the fixed rule-set over the period's events.
func (r *Reporter) evaluate(identityID string, events []*Event) []*Violation {
	var out []*Violation

	// AML single-transfer threshold.
	for _, e := range events {
		if e.Success && e.Amount > r.cfg.AMLSingleTransferLimit {
			out = append(out, newViolation(identityID, "AML_THRESHOLD", SeverityCritical,
				fmt.Sprintf("transfer of %.2f exceeds AML reporting threshold %.2f", e.Amount, r.cfg.AMLSingleTransferLimit)))
			break
		}
	}

	// Structuring: repeated transfers in the 90-100% band under the limit
	// inside the window.
	lower := r.cfg.AMLSingleTransferLimit * 0.9
	count := 0
	var windowStart time.Time
	for _, e := range events {
		if !e.Success || e.Amount < lower || e.Amount > r.cfg.AMLSingleTransferLimit {
			continue
		}
		if windowStart.IsZero() || e.Timestamp.Sub(windowStart) > r.cfg.StructuringWindow {
			windowStart = e.Timestamp
			count = 1
			continue
		}
		count++
		if count >= r.cfg.StructuringCount {
			out = append(out, newViolation(identityID, "STRUCTURING", SeverityHigh,
				fmt.Sprintf("%d transfers just under the AML threshold within %s", count, r.cfg.StructuringWindow)))
			break
		}
	}

	// Repeated failures inside the window.
	failCount := 0
	var failStart time.Time
	for _, e := range events {
		if e.Success {
			continue
		}
		if failStart.IsZero() || e.Timestamp.Sub(failStart) > r.cfg.RepeatedFailureWindow {
			failStart = e.Timestamp
			failCount = 1
			continue
		}
		failCount++
		if failCount >= r.cfg.RepeatedFailureCount {
			out = append(out, newViolation(identityID, "REPEATED_FAILURES", SeverityMedium,
				fmt.Sprintf("%d failed operations within %s", failCount, r.cfg.RepeatedFailureWindow)))
			break
		}
	}

	return out
}

// Resolve marks a violation resolved.
func (r *Reporter) Resolve(ctx context.Context, violationID string) error {
	return r.ledger.Store().ResolveViolation(ctx, violationID)
}

func newViolation(identityID, vtype string, sev Severity, desc string) *Violation {
	return &Violation{
		ID:            idgen.WithPrefix("vio_"),
		IdentityID:    identityID,
		ViolationType: vtype,
		Severity:      sev,
		Status:        StatusDetected,
		Description:   desc,
		DetectedAt:    time.Now(),
	}
}
