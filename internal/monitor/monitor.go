// Package monitor runs the per-identity risk polling loops.
//
// Each watched identity gets one poll loop that periodically reassesses its
// risk from recent ledger history and pushes RISK_UPDATED events when the
// level moves. Push subscribers get lower latency, but polling remains the
// source of truth: a dropped push is always caught by the next cycle.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AnarQorp/qwallet-core/internal/identity"
	"github.com/AnarQorp/qwallet-core/internal/plugin"
	"github.com/AnarQorp/qwallet-core/internal/risk"
)

var watchedIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "qwallet",
	Subsystem: "monitor",
	Name:      "watched_identities",
	Help:      "Identities with an active risk poll loop.",
})

func init() {
	prometheus.MustRegister(watchedIdentities)
}

// Config for the risk monitor.
type Config struct {
	PollInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 30 * time.Second}
}

type watch struct {
	stop chan struct{}
	done chan struct{}
}

// Monitor owns one cancellable poll loop per watched identity. Watch is
// idempotent: a second Watch for the same identity is a no-op, so there is
// never more than one active loop per identity.
type Monitor struct {
	cfg        Config
	identities identity.Provider
	engine     *risk.Engine
	sink       plugin.EventSink
	logger     *slog.Logger

	mu      sync.Mutex
	watches map[string]*watch
}

// New creates a risk monitor.
func New(cfg Config, identities identity.Provider, engine *risk.Engine, sink plugin.EventSink, logger *slog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if sink == nil {
		sink = plugin.NopSink{}
	}
	return &Monitor{
		cfg:        cfg,
		identities: identities,
		engine:     engine,
		sink:       sink,
		logger:     logger,
		watches:    make(map[string]*watch),
	}
}

// Watch starts a poll loop for the identity. Returns false if one is already
// running.
func (m *Monitor) Watch(ctx context.Context, identityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.watches[identityID]; exists {
		return false
	}

	w := &watch{stop: make(chan struct{}), done: make(chan struct{})}
	m.watches[identityID] = w
	watchedIdentities.Set(float64(len(m.watches)))

	go m.pollLoop(ctx, identityID, w)
	m.logger.Info("risk monitoring started", "identity", identityID)
	return true
}

// Unwatch stops the identity's poll loop and waits for it to exit.
func (m *Monitor) Unwatch(identityID string) bool {
	m.mu.Lock()
	w, exists := m.watches[identityID]
	if exists {
		delete(m.watches, identityID)
		watchedIdentities.Set(float64(len(m.watches)))
	}
	m.mu.Unlock()
	if !exists {
		return false
	}

	close(w.stop)
	<-w.done
	m.logger.Info("risk monitoring stopped", "identity", identityID)
	return true
}

// Watched returns the identities with an active poll loop.
func (m *Monitor) Watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.watches))
	for id := range m.watches {
		out = append(out, id)
	}
	return out
}

// Shutdown stops every poll loop.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Unwatch(id)
	}
}

func (m *Monitor) pollLoop(ctx context.Context, identityID string, w *watch) {
	defer close(w.done)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var lastLevel risk.Level

	for {
		select {
		case <-ctx.Done():
			// The loop owns its map entry on cancellation; Unwatch owns it
			// on an explicit stop.
			m.removeWatch(identityID, w)
			return
		case <-w.stop:
			return
		case <-ticker.C:
			assessment, err := m.assess(ctx, identityID)
			if err != nil {
				m.logger.Error("risk poll failed", "identity", identityID, "error", err)
				continue
			}
			// Only level changes are pushed; the full assessment is always
			// available via the API.
			if assessment.RiskLevel != lastLevel {
				lastLevel = assessment.RiskLevel
				m.sink.Emit("RISK_UPDATED", map[string]interface{}{
					"identityId": identityID,
					"riskScore":  assessment.RiskScore,
					"riskLevel":  string(assessment.RiskLevel),
				})
			}
		}
	}
}

// removeWatch drops the loop's own map entry after context cancellation. The
// pointer compare keeps a cancelled loop from removing a successor watch
// registered under the same identity.
func (m *Monitor) removeWatch(identityID string, w *watch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.watches[identityID]; ok && current == w {
		delete(m.watches, identityID)
		watchedIdentities.Set(float64(len(m.watches)))
		m.logger.Info("risk monitoring stopped", "identity", identityID)
	}
}

func (m *Monitor) assess(ctx context.Context, identityID string) (*risk.Assessment, error) {
	ident, err := m.identities.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return m.engine.Assess(ctx, ident, nil, nil)
}
