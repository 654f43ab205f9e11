// Package audit implements the append-only operation ledger and the
// compliance reporting built on top of it.
//
// Events are never mutated or reordered: storage order is insertion order,
// and the only sanctioned removal is the explicit, logged retention purge.
// The ledger both records wallet operations and feeds the risk engine,
// which reads recent history from here on every assessment.
package audit

import (
	"context"
	"errors"
	"time"
)

// Event is a single append-only ledger record.
type Event struct {
	ID            string            `json:"id"`
	IdentityID    string            `json:"identityId"`
	OperationType string            `json:"operationType"`
	Amount        float64           `json:"amount"`
	Token         string            `json:"token,omitempty"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	RiskScore     float64           `json:"riskScore"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Filter selects events. Every predicate is optional; set predicates are
// conjunctive.
type Filter struct {
	IdentityID    string
	OperationType string
	From          time.Time
	To            time.Time
	Success       *bool
	Limit         int
}

// Matches reports whether e passes every set predicate.
func (f *Filter) Matches(e *Event) bool {
	if f.IdentityID != "" && e.IdentityID != f.IdentityID {
		return false
	}
	if f.OperationType != "" && e.OperationType != f.OperationType {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

// ErrMissingField is returned by Append when a required field is empty.
var ErrMissingField = errors.New("audit: identityId and operationType are required")

// Store persists events and derived compliance violations.
type Store interface {
	Append(ctx context.Context, e *Event) error
	Query(ctx context.Context, f *Filter) ([]*Event, error)
	// Purge removes events older than cutoff and returns how many were removed.
	Purge(ctx context.Context, cutoff time.Time) (int, error)

	SaveViolation(ctx context.Context, v *Violation) error
	OpenViolations(ctx context.Context, identityID string) ([]*Violation, error)
	ResolveViolation(ctx context.Context, id string) error
}

// UsageTotals summarizes spend drawn from the ledger for limit enforcement.
type UsageTotals struct {
	DailySpent   float64
	MonthlySpent float64
	TxLastHour   int
}

// UsageSince computes running totals for an identity from successful
// transfer-class events. now is injected for testability.
func UsageSince(ctx context.Context, store Store, identityID string, now time.Time) (*UsageTotals, error) {
	monthStart := now.AddDate(0, -1, 0)
	events, err := store.Query(ctx, &Filter{IdentityID: identityID, From: monthStart})
	if err != nil {
		return nil, err
	}

	dayStart := now.Add(-24 * time.Hour)
	hourStart := now.Add(-time.Hour)

	totals := &UsageTotals{}
	for _, e := range events {
		if !e.Success || e.Amount <= 0 {
			continue
		}
		totals.MonthlySpent += e.Amount
		if e.Timestamp.After(dayStart) {
			totals.DailySpent += e.Amount
		}
		if e.Timestamp.After(hourStart) {
			totals.TxLastHour++
		}
	}
	return totals, nil
}
