// Package governance owns the mutation path for wallet limits.
//
// The operation path never writes limits. Changes arrive as change-requests:
// identities with governance capability apply immediately, everyone else
// gets a pending request that a DAO or parent identity must approve.
package governance

import (
	"context"
	"errors"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/errs"
	"github.com/AnarQorp/qwallet-core/internal/identity"
	"github.com/AnarQorp/qwallet-core/internal/idgen"
	"github.com/AnarQorp/qwallet-core/internal/permission"
)

// RequestStatus is the lifecycle state of a change request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// ChangeRequest proposes new limits for an identity.
type ChangeRequest struct {
	ID          string             `json:"id"`
	IdentityID  string             `json:"identityId"`
	RequestedBy string             `json:"requestedBy"`
	NewLimits   *permission.Limits `json:"newLimits"`
	Status      RequestStatus      `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	DecidedAt   *time.Time         `json:"decidedAt,omitempty"`
	DecidedBy   string             `json:"decidedBy,omitempty"`
}

// Errors.
var (
	ErrRequestNotFound = errors.New("governance: change request not found")
	ErrNotPending      = errors.New("governance: change request already decided")
)

// Store persists limits and change requests.
type Store interface {
	GetLimits(ctx context.Context, identityID string) (*permission.Limits, error)
	SetLimits(ctx context.Context, identityID string, limits *permission.Limits) error

	SaveRequest(ctx context.Context, req *ChangeRequest) error
	GetRequest(ctx context.Context, id string) (*ChangeRequest, error)
	ListRequests(ctx context.Context, identityID string, status RequestStatus) ([]*ChangeRequest, error)
}

// ChangeListener is notified after limits change takes effect. The wallet
// service uses this to fire the permission.change hook.
type ChangeListener func(identityID string, limits *permission.Limits)

// Service applies governance rules to limit mutations.
type Service struct {
	store     Store
	defaults  map[identity.Type]permission.Limits
	listeners []ChangeListener
}

// NewService creates a governance service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store, defaults: DefaultLimitsByType()}
}

// OnChange registers a listener fired after any limits mutation.
func (s *Service) OnChange(fn ChangeListener) {
	s.listeners = append(s.listeners, fn)
}

func (s *Service) notify(identityID string, limits *permission.Limits) {
	for _, fn := range s.listeners {
		fn(identityID, limits)
	}
}

// DefaultLimitsByType fixes baseline limits per identity type. Governance
// tunes from here.
func DefaultLimitsByType() map[identity.Type]permission.Limits {
	return map[identity.Type]permission.Limits{
		identity.TypeRoot: {
			DailyTransferLimit: 100000, MonthlyTransferLimit: 1000000,
			MaxTransactionAmount: 50000, MaxTransactionsPerHour: 100,
			AllowedTokens:         []string{"QToken", "PI", "ETH", "USDC"},
			RequiresApprovalAbove: 25000,
			DynamicLimitsEnabled:  true, RiskBasedAdjustments: true,
		},
		identity.TypeDAO: {
			DailyTransferLimit: 50000, MonthlyTransferLimit: 500000,
			MaxTransactionAmount: 10000, MaxTransactionsPerHour: 50,
			AllowedTokens:         []string{"QToken", "PI"},
			RequiresApprovalAbove: 5000,
			DynamicLimitsEnabled:  true, GovernanceControlled: true, RiskBasedAdjustments: true,
		},
		identity.TypeEnterprise: {
			DailyTransferLimit: 25000, MonthlyTransferLimit: 250000,
			MaxTransactionAmount: 5000, MaxTransactionsPerHour: 30,
			AllowedTokens:         []string{"QToken", "USDC"},
			RequiresApprovalAbove: 2500,
			DynamicLimitsEnabled:  true, RiskBasedAdjustments: true,
		},
		identity.TypeConsentida: {
			DailyTransferLimit: 100, MonthlyTransferLimit: 1000,
			MaxTransactionAmount: 50, MaxTransactionsPerHour: 5,
			AllowedTokens:         []string{"QToken"},
			RequiresApprovalAbove: 10,
			GovernanceControlled:  true, RiskBasedAdjustments: true,
		},
		identity.TypeAID: {
			DailyTransferLimit: 500, MonthlyTransferLimit: 5000,
			MaxTransactionAmount: 100, MaxTransactionsPerHour: 10,
			AllowedTokens:         []string{"QToken"},
			RequiresApprovalAbove: 50,
			RiskBasedAdjustments:  true,
		},
	}
}

// LimitsFor returns the identity's limits, falling back to the type default.
func (s *Service) LimitsFor(ctx context.Context, ident *identity.Identity) (*permission.Limits, error) {
	limits, err := s.store.GetLimits(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	if limits != nil {
		return limits, nil
	}
	def, ok := s.defaults[ident.Type]
	if !ok {
		return nil, errs.Newf(errs.KindConfigValidation, "no default limits for identity type %s", ident.Type)
	}
	cp := def
	return &cp, nil
}

// RequestChange validates and submits a limits change. Identities with
// governance capability apply immediately; for governance-controlled limits
// requested by anyone else the request stays PENDING and a
// GOVERNANCE_REQUIRED error tells the caller approval is needed first.
func (s *Service) RequestChange(ctx context.Context, requester *identity.Identity, targetIdentityID string, newLimits *permission.Limits) (*ChangeRequest, error) {
	if err := ValidateLimits(newLimits); err != nil {
		return nil, err
	}

	req := &ChangeRequest{
		ID:          idgen.WithPrefix("gcr_"),
		IdentityID:  targetIdentityID,
		RequestedBy: requester.ID,
		NewLimits:   newLimits,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	caps := identity.CapabilitiesFor(requester.Type)
	if caps.CanGovern && requester.ID == targetIdentityID {
		now := time.Now()
		req.Status = StatusApproved
		req.DecidedAt = &now
		req.DecidedBy = requester.ID
		if err := s.store.SaveRequest(ctx, req); err != nil {
			return nil, err
		}
		if err := s.store.SetLimits(ctx, targetIdentityID, newLimits); err != nil {
			return nil, err
		}
		s.notify(targetIdentityID, newLimits)
		return req, nil
	}

	if err := s.store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, errs.Newf(errs.KindGovernanceRequired,
		"limits change for %s requires governance approval (request %s)", targetIdentityID, req.ID)
}

// Decide approves or rejects a pending request. Only governance-capable
// identities may decide.
func (s *Service) Decide(ctx context.Context, approver *identity.Identity, requestID string, approve bool, reason string) (*ChangeRequest, error) {
	caps := identity.CapabilitiesFor(approver.Type)
	if !caps.CanGovern {
		return nil, errs.Newf(errs.KindGovernanceRequired,
			"identity type %s cannot decide governance requests", approver.Type)
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}

	now := time.Now()
	req.DecidedAt = &now
	req.DecidedBy = approver.ID
	req.Reason = reason
	if approve {
		req.Status = StatusApproved
	} else {
		req.Status = StatusRejected
	}
	if err := s.store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}
	if approve {
		if err := s.store.SetLimits(ctx, req.IdentityID, req.NewLimits); err != nil {
			return nil, err
		}
		s.notify(req.IdentityID, req.NewLimits)
	}
	return req, nil
}

// Request returns a change request by ID.
func (s *Service) Request(ctx context.Context, id string) (*ChangeRequest, error) {
	return s.store.GetRequest(ctx, id)
}

// Requests lists change requests, optionally filtered by identity and status.
func (s *Service) Requests(ctx context.Context, identityID string, status RequestStatus) ([]*ChangeRequest, error) {
	return s.store.ListRequests(ctx, identityID, status)
}

// ValidateLimits rejects malformed limits payloads.
func ValidateLimits(l *permission.Limits) error {
	if l == nil {
		return errs.New(errs.KindConfigValidation, "limits payload is required")
	}
	if l.DailyTransferLimit < 0 || l.MonthlyTransferLimit < 0 || l.MaxTransactionAmount < 0 {
		return errs.New(errs.KindConfigValidation, "limits must be non-negative")
	}
	if l.MaxTransactionsPerHour < 0 {
		return errs.New(errs.KindConfigValidation, "maxTransactionsPerHour must be non-negative")
	}
	if l.RequiresApprovalAbove < 0 {
		return errs.New(errs.KindConfigValidation, "requiresApprovalAbove must be non-negative")
	}
	for level, m := range l.RiskMultipliers {
		if m < 0 || m > 1 {
			return errs.Newf(errs.KindConfigValidation, "risk multiplier for %s must be in [0, 1]", level)
		}
	}
	return nil
}
