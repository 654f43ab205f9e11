package audit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var appendErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "qwallet",
	Subsystem: "audit",
	Name:      "append_errors_total",
	Help:      "Total audit ledger append failures (best-effort writes).",
})

func init() {
	prometheus.MustRegister(appendErrors)
}

// Ledger wraps a Store with validation, ID/timestamp assignment, and the
// best-effort append policy: failures are logged and counted but never
// block the operation that triggered them.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

// Append validates required fields, assigns ID and timestamp if absent, and
// inserts the event. Prior entries are never touched.
func (l *Ledger) Append(ctx context.Context, e *Event) error {
	if e.IdentityID == "" || e.OperationType == "" {
		return ErrMissingField
	}
	if e.ID == "" {
		e.ID = idgen.WithPrefix("evt_")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return l.store.Append(ctx, e)
}

// Record is the best-effort form of Append used on the operation path.
// It never returns an error; callers must not gate on audit durability.
func (l *Ledger) Record(ctx context.Context, e *Event) {
	if err := l.Append(ctx, e); err != nil {
		appendErrors.Inc()
		l.logger.Warn("audit append failed",
			"identity", e.IdentityID,
			"operation", e.OperationType,
			"error", err,
		)
	}
}

// Query returns events matching the filter, in insertion order.
func (l *Ledger) Query(ctx context.Context, f *Filter) ([]*Event, error) {
	return l.store.Query(ctx, f)
}

// PurgeOlderThan removes events past the retention horizon. The purge is
// itself recorded so the removal leaves a trace.
func (l *Ledger) PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	n, err := l.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	l.logger.Info("audit retention purge", "removed", n, "cutoff", cutoff)
	if n > 0 {
		l.Record(ctx, &Event{
			IdentityID:    "system",
			OperationType: "AUDIT_PURGE",
			Success:       true,
			Metadata: map[string]string{
				"removed": strconv.Itoa(n),
				"cutoff":  cutoff.Format(time.RFC3339),
			},
		})
	}
	return n, nil
}

// Store exposes the underlying store for components that need direct access
// (compliance reporting, usage totals).
func (l *Ledger) Store() Store { return l.store }
