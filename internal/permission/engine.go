package permission

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/audit"
	"github.com/AnarQorp/qwallet-core/internal/identity"
	"github.com/AnarQorp/qwallet-core/internal/risk"
	"github.com/AnarQorp/qwallet-core/internal/traces"
	"github.com/prometheus/client_golang/prometheus"
)

var denialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qwallet",
	Subsystem: "permission",
	Name:      "denials_total",
	Help:      "Permission denials by reason class.",
}, []string{"reason"})

func init() {
	prometheus.MustRegister(denialsTotal)
}

// addressRegex validates recipient addresses (0x-prefixed 40 hex chars).
var addressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// Operation is a single wallet operation. Created per user action,
// immutable, consumed once.
type Operation struct {
	Type       identity.OperationType `json:"type"`
	IdentityID string                 `json:"identityId"`
	Amount     float64                `json:"amount"`
	Token      string                 `json:"token"`
	Recipient  string                 `json:"recipient,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Verdict is the permission engine's decision. Allowed=false always carries
// a specific Reason, never a generic denial.
type Verdict struct {
	Allowed          bool     `json:"allowed"`
	RequiresApproval bool     `json:"requiresApproval"`
	Reason           string   `json:"reason,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Engine runs the ordered validation pipeline. The caller (wallet service)
// holds the per-identity lock for the whole check-then-act sequence so
// running-total checks cannot race.
type Engine struct {
	ledger *audit.Ledger
}

// NewEngine creates a permission engine drawing usage totals from the ledger.
func NewEngine(ledger *audit.Ledger) *Engine {
	return &Engine{ledger: ledger}
}

func deny(class, reason string) *Verdict {
	denialsTotal.WithLabelValues(class).Inc()
	return &Verdict{Allowed: false, Reason: reason}
}

// Validate runs the checks in order, short-circuiting on the first failure:
// identity-type static rules, shape checks, effective limits and running
// totals, then the approval requirement (which flags, never denies).
func (e *Engine) Validate(ctx context.Context, op *Operation, ident *identity.Identity, limits *Limits, assessment *risk.Assessment) (*Verdict, error) {
	ctx, span := traces.StartSpan(ctx, "permission.validate",
		traces.IdentityID(op.IdentityID), traces.OperationType(string(op.Type)))
	defer span.End()

	if assessment == nil {
		return nil, fmt.Errorf("permission: risk assessment is required")
	}
	if assessment.Expired(time.Now()) {
		// Stale data must never silently gate a decision.
		return nil, fmt.Errorf("permission: risk assessment expired at %s", assessment.ValidUntil.Format(time.RFC3339))
	}

	// 1. Identity-type static checks.
	caps := identity.CapabilitiesFor(ident.Type)
	if op.Type == identity.OpPiWalletLink && !caps.CanLinkPi {
		return deny("identity_type",
			fmt.Sprintf("identity type %s cannot link a Pi-Wallet", ident.Type)), nil
	}
	if !caps.Operations[op.Type] {
		return deny("identity_type",
			fmt.Sprintf("operation %s is not permitted for identity type %s", op.Type, ident.Type)), nil
	}
	if op.Amount > 0 && !caps.CanTransfer && transfersValue(op.Type) {
		return deny("identity_type",
			fmt.Sprintf("identity type %s cannot transfer funds", ident.Type)), nil
	}
	if op.Token != "" && !caps.AllowedTokens[op.Token] {
		return deny("identity_type",
			fmt.Sprintf("token %s is not permitted for identity type %s", op.Token, ident.Type)), nil
	}

	// 2. Shape checks.
	if transfersValue(op.Type) {
		if op.Amount <= 0 {
			return deny("shape", "amount must be greater than zero"), nil
		}
		if op.Recipient != "" && !addressRegex.MatchString(op.Recipient) {
			return deny("shape", fmt.Sprintf("recipient address %q is malformed", op.Recipient)), nil
		}
		if op.Token != "" && !limits.TokenAllowed(op.Token) {
			return deny("limits", fmt.Sprintf("token %s is not in the wallet's allowed token set", op.Token)), nil
		}
	}

	verdict := &Verdict{Allowed: true}

	// 3. Effective limit computation against running totals from the ledger.
	if transfersValue(op.Type) && op.Amount > 0 {
		level := assessment.RiskLevel

		if maxTx := limits.Effective(limits.MaxTransactionAmount, level); maxTx > 0 && op.Amount > maxTx {
			return deny("limits",
				fmt.Sprintf("amount %.2f exceeds the per-transaction limit %.2f at risk level %s", op.Amount, maxTx, level)), nil
		}

		usage, err := audit.UsageSince(ctx, e.ledger.Store(), ident.ID, time.Now())
		if err != nil {
			return nil, fmt.Errorf("permission: usage totals: %w", err)
		}

		if daily := limits.Effective(limits.DailyTransferLimit, level); daily > 0 && usage.DailySpent+op.Amount > daily {
			return deny("limits",
				fmt.Sprintf("amount %.2f would exceed the daily limit %.2f (%.2f already spent)", op.Amount, daily, usage.DailySpent)), nil
		}
		if monthly := limits.Effective(limits.MonthlyTransferLimit, level); monthly > 0 && usage.MonthlySpent+op.Amount > monthly {
			return deny("limits",
				fmt.Sprintf("amount %.2f would exceed the monthly limit %.2f (%.2f already spent)", op.Amount, monthly, usage.MonthlySpent)), nil
		}
		if limits.MaxTransactionsPerHour > 0 && usage.TxLastHour >= limits.MaxTransactionsPerHour {
			return deny("limits",
				fmt.Sprintf("hourly transaction cap reached (%d per hour)", limits.MaxTransactionsPerHour)), nil
		}

		if level == risk.LevelMedium {
			verdict.Warnings = append(verdict.Warnings,
				fmt.Sprintf("limits reduced to %.0f%% at risk level %s", limits.multiplier(level)*100, level))
		}
	}

	// 4. Approval requirement: flags for the external approval workflow,
	// never denies.
	if limits.RequiresApprovalAbove > 0 && op.Amount > limits.RequiresApprovalAbove {
		verdict.RequiresApproval = true
	}
	if assessment.RiskLevel == risk.LevelHigh || assessment.RiskLevel == risk.LevelCritical {
		verdict.RequiresApproval = true
		verdict.Warnings = append(verdict.Warnings,
			fmt.Sprintf("risk level %s requires approval before execution", assessment.RiskLevel))
	}

	return verdict, nil
}

// transfersValue reports whether the operation moves funds and is therefore
// subject to amount and limit checks.
func transfersValue(t identity.OperationType) bool {
	switch t {
	case identity.OpTransfer, identity.OpMint, identity.OpDeFi:
		return true
	}
	return false
}
