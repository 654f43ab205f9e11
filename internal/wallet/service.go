// Package wallet orchestrates the operation path: policy consent, risk
// assessment, permission validation, hook dispatch, signing, and audit.
//
// Every check-then-act sequence for an identity runs under that identity's
// lock, so concurrent operations cannot both pass a limit check that only
// one of them should survive.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AnarQorp/qwallet-core/internal/audit"
	"github.com/AnarQorp/qwallet-core/internal/extsvc"
	"github.com/AnarQorp/qwallet-core/internal/governance"
	"github.com/AnarQorp/qwallet-core/internal/identity"
	"github.com/AnarQorp/qwallet-core/internal/logging"
	"github.com/AnarQorp/qwallet-core/internal/permission"
	"github.com/AnarQorp/qwallet-core/internal/plugin"
	"github.com/AnarQorp/qwallet-core/internal/risk"
	"github.com/AnarQorp/qwallet-core/internal/syncutil"
	"github.com/AnarQorp/qwallet-core/internal/traces"
)

var operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qwallet",
	Subsystem: "wallet",
	Name:      "operations_total",
	Help:      "Wallet operations by type and outcome.",
}, []string{"type", "outcome"})

func init() {
	prometheus.MustRegister(operationsTotal)
}

// Runtime event types emitted on the push channel.
const (
	EventWalletOperation      = "WALLET_OPERATION"
	EventTransactionCompleted = "TRANSACTION_COMPLETED"
	EventRiskUpdated          = "RISK_UPDATED"
	EventIdentitySwitched     = "IDENTITY_SWITCHED"
	EventPermissionChanged    = "PERMISSION_CHANGED"
)

// Result statuses.
const (
	StatusExecuted        = "EXECUTED"
	StatusDenied          = "DENIED"
	StatusPendingApproval = "PENDING_APPROVAL"
)

// Result is the outcome of a wallet operation request.
type Result struct {
	Status        string              `json:"status"`
	TransactionID string              `json:"transactionId,omitempty"`
	Verdict       *permission.Verdict `json:"verdict"`
	Assessment    *risk.Assessment    `json:"assessment,omitempty"`
}

// Service is the wallet orchestrator.
type Service struct {
	identities identity.Provider
	governance *governance.Service
	permission *permission.Engine
	riskEngine *risk.Engine
	ledger     *audit.Ledger
	policy     extsvc.PolicyService
	signer     extsvc.SignerService
	dispatcher *plugin.Dispatcher
	sink       plugin.EventSink
	locks      *syncutil.ContextIdentityMutex
	logger     *slog.Logger

	switchMu        sync.Mutex
	switchListeners []func(fromID, toID string)
}

// OnIdentitySwitch registers a listener invoked after every successful
// identity switch. The risk monitor uses this to move its poll loop.
func (s *Service) OnIdentitySwitch(fn func(fromID, toID string)) {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()
	s.switchListeners = append(s.switchListeners, fn)
}

// NewService wires the orchestrator. The governance service's change
// notifications are bound to the permission.change hook here, so plugins see
// every limits mutation.
func NewService(
	identities identity.Provider,
	gov *governance.Service,
	perm *permission.Engine,
	riskEngine *risk.Engine,
	ledger *audit.Ledger,
	policy extsvc.PolicyService,
	signer extsvc.SignerService,
	dispatcher *plugin.Dispatcher,
	sink plugin.EventSink,
	logger *slog.Logger,
) *Service {
	if policy == nil {
		policy = extsvc.AllowAllPolicy{}
	}
	if sink == nil {
		sink = plugin.NopSink{}
	}
	s := &Service{
		identities: identities,
		governance: gov,
		permission: perm,
		riskEngine: riskEngine,
		ledger:     ledger,
		policy:     policy,
		signer:     signer,
		dispatcher: dispatcher,
		sink:       sink,
		locks:      syncutil.NewContextIdentityMutex(),
		logger:     logger,
	}
	gov.OnChange(func(identityID string, _ *permission.Limits) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.dispatcher.Dispatch(ctx, plugin.HookPermissionChange, identityID, map[string]interface{}{
			"identityId": identityID,
		})
		s.sink.Emit(EventPermissionChanged, map[string]interface{}{"identityId": identityID})
		s.riskEngine.Invalidate(identityID)
	})
	return s
}

// Validate runs the full permission pipeline for an operation without
// executing it. Advisory only: Execute re-validates under the identity lock.
func (s *Service) Validate(ctx context.Context, op *permission.Operation, externalFactors []risk.Factor) (*permission.Verdict, *risk.Assessment, error) {
	ident, err := s.identities.Get(ctx, op.IdentityID)
	if err != nil {
		return nil, nil, err
	}

	decision, err := s.policy.CheckPermission(ctx, ident.ID, op.Type, op.Amount, op.Token)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Allowed {
		return &permission.Verdict{Allowed: false, Reason: "policy service denied: " + decision.Reason}, nil, nil
	}

	assessment, err := s.riskEngine.Current(ctx, ident, pendingOp(op), externalFactors)
	if err != nil {
		return nil, nil, err
	}
	limits, err := s.governance.LimitsFor(ctx, ident)
	if err != nil {
		return nil, nil, err
	}
	verdict, err := s.permission.Validate(ctx, op, ident, limits, assessment)
	if err != nil {
		return nil, nil, err
	}
	return verdict, assessment, nil
}

// Execute validates and runs an operation end to end. The whole sequence
// holds the identity's lock; callers waiting on a busy identity respect
// context cancellation.
func (s *Service) Execute(ctx context.Context, op *permission.Operation, externalFactors []risk.Factor) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "wallet.execute",
		traces.IdentityID(op.IdentityID), traces.OperationType(string(op.Type)), traces.Amount(op.Amount))
	defer span.End()
	ctx = logging.WithLogger(logging.WithIdentityID(ctx, op.IdentityID), s.logger)

	unlock, err := s.locks.LockContext(ctx, op.IdentityID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	verdict, assessment, err := s.Validate(ctx, op, externalFactors)
	if err != nil {
		operationsTotal.WithLabelValues(string(op.Type), "error").Inc()
		return nil, err
	}

	if !verdict.Allowed {
		operationsTotal.WithLabelValues(string(op.Type), "denied").Inc()
		s.recordOutcome(ctx, op, assessment, false, verdict.Reason)
		return &Result{Status: StatusDenied, Verdict: verdict, Assessment: assessment}, nil
	}
	if verdict.RequiresApproval {
		operationsTotal.WithLabelValues(string(op.Type), "pending_approval").Inc()
		logging.L(ctx).Info("operation held for approval",
			"type", op.Type, "amount", op.Amount)
		return &Result{Status: StatusPendingApproval, Verdict: verdict, Assessment: assessment}, nil
	}

	s.dispatcher.Dispatch(ctx, plugin.HookWalletOperationBefore, op.IdentityID, opHookData(op, ""))

	signed, err := s.signer.Execute(ctx, &extsvc.SignRequest{
		IdentityID:    op.IdentityID,
		OperationType: string(op.Type),
		Amount:        op.Amount,
		Token:         op.Token,
		Recipient:     op.Recipient,
	})
	if err != nil {
		operationsTotal.WithLabelValues(string(op.Type), "failed").Inc()
		s.recordOutcome(ctx, op, assessment, false, err.Error())
		s.dispatcher.Dispatch(ctx, plugin.HookWalletOperationAfter, op.IdentityID, opHookData(op, ""))
		return nil, fmt.Errorf("wallet: execute %s: %w", op.Type, err)
	}

	operationsTotal.WithLabelValues(string(op.Type), "executed").Inc()
	s.recordOutcome(ctx, op, assessment, true, "")

	s.dispatcher.Dispatch(ctx, plugin.HookWalletOperationAfter, op.IdentityID, opHookData(op, signed.TransactionID))
	s.dispatcher.Dispatch(ctx, plugin.HookTransactionComplete, op.IdentityID, opHookData(op, signed.TransactionID))

	s.sink.Emit(EventTransactionCompleted, map[string]interface{}{
		"identityId":    op.IdentityID,
		"operationType": string(op.Type),
		"amount":        op.Amount,
		"token":         op.Token,
		"transactionId": signed.TransactionID,
	})

	return &Result{
		Status:        StatusExecuted,
		TransactionID: signed.TransactionID,
		Verdict:       verdict,
		Assessment:    assessment,
	}, nil
}

// recordOutcome appends the audit event (best-effort), invalidates the risk
// cache, and emits the wallet operation event.
func (s *Service) recordOutcome(ctx context.Context, op *permission.Operation, assessment *risk.Assessment, success bool, errMsg string) {
	score := 0.0
	if assessment != nil {
		score = assessment.RiskScore
	}
	s.ledger.Record(ctx, &audit.Event{
		IdentityID:    op.IdentityID,
		OperationType: string(op.Type),
		Amount:        op.Amount,
		Token:         op.Token,
		Success:       success,
		Error:         errMsg,
		RiskScore:     score,
	})
	s.riskEngine.Invalidate(op.IdentityID)

	s.sink.Emit(EventWalletOperation, map[string]interface{}{
		"identityId":    op.IdentityID,
		"operationType": string(op.Type),
		"amount":        op.Amount,
		"success":       success,
	})
}

// AssessRisk recomputes the identity's risk assessment and pushes the update.
func (s *Service) AssessRisk(ctx context.Context, identityID string, pending *risk.PendingOperation, externalFactors []risk.Factor) (*risk.Assessment, error) {
	ident, err := s.identities.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	assessment, err := s.riskEngine.Assess(ctx, ident, pending, externalFactors)
	if err != nil {
		return nil, err
	}
	s.sink.Emit(EventRiskUpdated, map[string]interface{}{
		"identityId": identityID,
		"riskScore":  assessment.RiskScore,
		"riskLevel":  string(assessment.RiskLevel),
	})
	return assessment, nil
}

// SwitchIdentity revalidates the wallet context against the new identity:
// identity.switch.before hook, fresh risk assessment, identity.switch.after
// hook, audit trail. Plugin handlers observing the switch cannot block it.
func (s *Service) SwitchIdentity(ctx context.Context, fromID, toID string) (*risk.Assessment, error) {
	ident, err := s.identities.Get(ctx, toID)
	if err != nil {
		return nil, err
	}

	switchData := map[string]interface{}{
		"fromIdentityId": fromID,
		"toIdentityId":   toID,
	}
	s.dispatcher.Dispatch(ctx, plugin.HookIdentitySwitchBefore, fromID, switchData)

	assessment, err := s.riskEngine.Assess(ctx, ident, nil, nil)
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, plugin.HookIdentitySwitchAfter, toID, switchData)

	s.ledger.Record(ctx, &audit.Event{
		IdentityID:    toID,
		OperationType: EventIdentitySwitched,
		Success:       true,
		RiskScore:     assessment.RiskScore,
		Metadata:      map[string]string{"fromIdentityId": fromID},
	})
	s.sink.Emit(EventIdentitySwitched, map[string]interface{}{
		"fromIdentityId": fromID,
		"toIdentityId":   toID,
		"riskLevel":      string(assessment.RiskLevel),
	})

	s.switchMu.Lock()
	listeners := make([]func(string, string), len(s.switchListeners))
	copy(listeners, s.switchListeners)
	s.switchMu.Unlock()
	for _, fn := range listeners {
		fn(fromID, toID)
	}

	return assessment, nil
}

func pendingOp(op *permission.Operation) *risk.PendingOperation {
	return &risk.PendingOperation{Type: op.Type, Amount: op.Amount, Token: op.Token}
}

func opHookData(op *permission.Operation, txID string) map[string]interface{} {
	data := map[string]interface{}{
		"identityId":    op.IdentityID,
		"operationType": string(op.Type),
		"amount":        op.Amount,
		"token":         op.Token,
	}
	if op.Recipient != "" {
		data["recipient"] = op.Recipient
	}
	if txID != "" {
		data["transactionId"] = txID
	}
	return data
}
