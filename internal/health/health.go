// Package health provides a registry of named subsystem health checkers.
//
// Checkers are either critical or informational. Only critical failures flip
// the aggregate: optional external collaborators (policy, signer, reporting)
// degrade specific operations when down but must not take readiness with them.
package health

import (
	"context"
	"sync"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name     string
	check    Checker
	critical bool
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a critical health checker. Its failure fails the aggregate.
func (r *Registry) Register(name string, check Checker) {
	r.add(name, check, true)
}

// RegisterInformational adds a checker whose failure is reported but never
// fails the aggregate.
func (r *Registry) RegisterInformational(name string, check Checker) {
	r.add(name, check, false)
}

func (r *Registry) add(name string, check Checker, critical bool) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check, critical: critical})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		statuses[i].Critical = nc.critical
		if nc.critical && !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}
