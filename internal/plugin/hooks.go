package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AnarQorp/qwallet-core/internal/audit"
	"github.com/AnarQorp/qwallet-core/internal/traces"
)

var hookErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qwallet",
	Subsystem: "plugin",
	Name:      "hook_errors_total",
	Help:      "Hook handler failures by hook name.",
}, []string{"hook"})

func init() {
	prometheus.MustRegister(hookErrorsTotal)
}

// HookName identifies a dispatch point in the wallet operation flow.
type HookName string

const (
	HookWalletOperationBefore HookName = "wallet.operation.before"
	HookWalletOperationAfter  HookName = "wallet.operation.after"
	HookIdentitySwitchBefore  HookName = "identity.switch.before"
	HookIdentitySwitchAfter   HookName = "identity.switch.after"
	HookTransactionComplete   HookName = "transaction.complete"
	HookConfigChange          HookName = "config.change"
	HookPermissionChange      HookName = "permission.change"
	HookErrorOccurred         HookName = "error.occurred"
)

// HookPayload is the data handed to every handler of a dispatch.
type HookPayload struct {
	Hook       HookName               `json:"hook"`
	IdentityID string                 `json:"identityId,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// HookHandler processes one hook dispatch. A handler error is isolated: it is
// recorded against the owning plugin and never aborts the wallet operation or
// the remaining handlers.
type HookHandler func(ctx context.Context, payload *HookPayload) error

// EventSink receives runtime events (plugin lifecycle, wallet operations,
// risk updates). The realtime hub implements it; NopSink discards.
type EventSink interface {
	Emit(eventType string, data map[string]interface{})
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(string, map[string]interface{}) {}

// Runtime event types pushed through the EventSink.
const (
	EventPluginRegistered   = "PLUGIN_REGISTERED"
	EventPluginUnregistered = "PLUGIN_UNREGISTERED"
	EventPluginActivated    = "PLUGIN_ACTIVATED"
	EventPluginDeactivated  = "PLUGIN_DEACTIVATED"
	EventPluginError        = "PLUGIN_ERROR"
)

type hookEntry struct {
	pluginID string
	handler  HookHandler
}

// Dispatcher routes hook dispatches to registered plugin handlers.
//
// Handlers run sequentially in registration order within one dispatch.
// Distinct dispatches carry no ordering guarantee relative to each other.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[HookName][]hookEntry

	logger *slog.Logger
	ledger *audit.Ledger
	sink   EventSink
}

// NewDispatcher creates a hook dispatcher. Handler failures are logged and
// recorded in the audit ledger via the given ledger.
func NewDispatcher(logger *slog.Logger, ledger *audit.Ledger, sink EventSink) *Dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	return &Dispatcher{
		handlers: make(map[HookName][]hookEntry),
		logger:   logger,
		ledger:   ledger,
		sink:     sink,
	}
}

// Register subscribes a plugin's handler to a hook. One handler per
// (plugin, hook): registering again replaces the previous handler in place,
// keeping its original position.
func (d *Dispatcher) Register(hook HookName, pluginID string, handler HookHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.handlers[hook] {
		if e.pluginID == pluginID {
			d.handlers[hook][i].handler = handler
			return
		}
	}
	d.handlers[hook] = append(d.handlers[hook], hookEntry{pluginID: pluginID, handler: handler})
}

// Unregister removes all of a plugin's handlers across every hook. Called on
// deactivation and unregistration.
func (d *Dispatcher) Unregister(pluginID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for hook, entries := range d.handlers {
		kept := entries[:0]
		for _, e := range entries {
			if e.pluginID != pluginID {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(d.handlers, hook)
		} else {
			d.handlers[hook] = kept
		}
	}
}

// HandlerCount returns the number of handlers registered for a hook.
func (d *Dispatcher) HandlerCount(hook HookName) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[hook])
}

// Dispatch runs every handler registered for the hook. Each handler failure
// is logged, counted, recorded as a PLUGIN_ERROR audit event, emitted to the
// sink and re-dispatched on the error.occurred hook; the remaining handlers
// still run. Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, hook HookName, identityID string, data map[string]interface{}) {
	d.mu.RLock()
	entries := make([]hookEntry, len(d.handlers[hook]))
	copy(entries, d.handlers[hook])
	d.mu.RUnlock()

	if len(entries) == 0 {
		return
	}

	ctx, span := traces.StartSpan(ctx, "plugin.hook.dispatch", traces.Hook(string(hook)))
	defer span.End()

	payload := &HookPayload{
		Hook:       hook,
		IdentityID: identityID,
		Data:       data,
		Timestamp:  time.Now(),
	}

	for _, e := range entries {
		if err := d.safeCall(ctx, e, payload); err != nil {
			d.reportFailure(ctx, hook, e.pluginID, identityID, err)
		}
	}
}

// safeCall invokes a handler, converting panics into errors so one broken
// plugin cannot take down the dispatch loop.
func (d *Dispatcher) safeCall(ctx context.Context, e hookEntry, payload *HookPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return e.handler(ctx, payload)
}

func (d *Dispatcher) reportFailure(ctx context.Context, hook HookName, pluginID, identityID string, err error) {
	hookErrorsTotal.WithLabelValues(string(hook)).Inc()
	d.logger.Warn("hook handler failed",
		"hook", hook, "plugin_id", pluginID, "error", err)

	if identityID == "" {
		identityID = "system"
	}
	d.ledger.Record(ctx, &audit.Event{
		IdentityID:    identityID,
		OperationType: EventPluginError,
		Success:       false,
		Error:         err.Error(),
		Metadata: map[string]string{
			"pluginId": pluginID,
			"hook":     string(hook),
		},
	})
	d.sink.Emit(EventPluginError, map[string]interface{}{
		"pluginId":   pluginID,
		"hook":       string(hook),
		"identityId": identityID,
		"error":      err.Error(),
	})

	// Plugins observing failures get the same report. A failing
	// error.occurred handler is not routed back through itself.
	if hook != HookErrorOccurred {
		d.Dispatch(ctx, HookErrorOccurred, identityID, map[string]interface{}{
			"pluginId": pluginID,
			"hook":     string(hook),
			"error":    err.Error(),
		})
	}
}
