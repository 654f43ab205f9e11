package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AnarQorp/qwallet-core/internal/audit"
	"github.com/AnarQorp/qwallet-core/internal/errs"
	"github.com/AnarQorp/qwallet-core/internal/identity"
)

var activePlugins = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "qwallet",
	Subsystem: "plugin",
	Name:      "active",
	Help:      "Number of plugins currently in ACTIVE status.",
})

func init() {
	prometheus.MustRegister(activePlugins)
}

var versionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+([-+].*)?$`)

// Manager owns the plugin lifecycle. All transitions go through it, under a
// single lock, so concurrent activate/deactivate calls cannot interleave and
// leave the dependency invariant violated.
type Manager struct {
	mu sync.Mutex

	store      RegistryStore
	instances  map[string]Instance
	dispatcher *Dispatcher
	storage    StorageBackend
	ledger     *audit.Ledger
	sink       EventSink
	logger     *slog.Logger
}

// NewManager creates a plugin lifecycle manager.
func NewManager(store RegistryStore, dispatcher *Dispatcher, storage StorageBackend, ledger *audit.Ledger, sink EventSink, logger *slog.Logger) *Manager {
	if sink == nil {
		sink = NopSink{}
	}
	return &Manager{
		store:      store,
		instances:  make(map[string]Instance),
		dispatcher: dispatcher,
		storage:    storage,
		ledger:     ledger,
		sink:       sink,
		logger:     logger,
	}
}

// Dispatcher exposes the hook dispatcher so plugin instances can register
// handlers during activation.
func (m *Manager) Dispatcher() *Dispatcher { return m.dispatcher }

// Register validates metadata, persists the plugin as INACTIVE, and retains
// its instance for later activation. Registering never activates.
func (m *Manager) Register(ctx context.Context, p *Plugin, inst Instance) (*Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateMetadata(p); err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, errs.Plugin(errs.KindPluginValidation, p.PluginID, "plugin instance is required")
	}

	now := time.Now()
	p.Status = StatusInactive
	p.RegisteredAt = now
	p.StatusChangedAt = now
	p.LastError = ""
	if p.Config.TimeoutMs == 0 {
		p.Config.TimeoutMs = DefaultConfig().TimeoutMs
	}
	if p.Config.MaxStorageKeys == 0 {
		p.Config.MaxStorageKeys = DefaultConfig().MaxStorageKeys
	}

	if err := m.store.Insert(ctx, p); err != nil {
		if err == ErrDuplicateID {
			return nil, errs.Plugin(errs.KindPluginValidation, p.PluginID, "plugin id already registered")
		}
		return nil, err
	}
	m.instances[p.PluginID] = inst

	m.logger.Info("plugin registered", "plugin_id", p.PluginID, "version", p.Version, "type", p.Type)
	m.emit(ctx, EventPluginRegistered, p.PluginID, "")
	return p, nil
}

// Unregister removes a non-ACTIVE plugin. Plugins still depended on by other
// registered plugins cannot be removed.
func (m *Manager) Unregister(ctx context.Context, pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Get(ctx, pluginID)
	if err != nil {
		return err
	}
	if p.Status == StatusActive || p.Status == StatusLoading {
		return errs.Plugin(errs.KindPluginValidation, pluginID, "deactivate the plugin before unregistering")
	}

	all, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	for _, other := range all {
		for _, dep := range other.Dependencies {
			if dep == pluginID {
				return errs.Plugin(errs.KindPluginDependency, pluginID,
					"plugin is a dependency of "+other.PluginID).
					WithDetail("dependent", other.PluginID)
			}
		}
	}

	if err := m.store.Delete(ctx, pluginID); err != nil {
		return err
	}
	delete(m.instances, pluginID)
	m.dispatcher.Unregister(pluginID)
	if err := m.storage.Clear(ctx, pluginID); err != nil {
		m.logger.Warn("plugin storage cleanup failed", "plugin_id", pluginID, "error", err)
	}

	m.logger.Info("plugin unregistered", "plugin_id", pluginID)
	m.emit(ctx, EventPluginUnregistered, pluginID, "")
	return nil
}

// Get returns a registered plugin's metadata.
func (m *Manager) Get(ctx context.Context, pluginID string) (*Plugin, error) {
	return m.store.Get(ctx, pluginID)
}

// List returns all registered plugins in registration order.
func (m *Manager) List(ctx context.Context) ([]*Plugin, error) {
	return m.store.List(ctx)
}

// Validate checks a plugin's metadata, configuration and dependency closure
// without touching its status.
func (m *Manager) Validate(ctx context.Context, pluginID string) (*ValidationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Get(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	return m.validate(ctx, p)
}

func (m *Manager) validate(ctx context.Context, p *Plugin) (*ValidationResult, error) {
	res := &ValidationResult{Valid: true}

	if err := validateMetadata(p); err != nil {
		res.Valid = false
		res.Errors = append(res.Errors, err.Error())
	}
	for _, dep := range p.Dependencies {
		if _, err := m.store.Get(ctx, dep); err == ErrNotRegistered {
			res.Valid = false
			res.MissingDependencies = append(res.MissingDependencies, dep)
		} else if err != nil {
			return nil, err
		}
	}
	for _, t := range p.SupportedIdentityTypes {
		if !t.Valid() {
			res.Valid = false
			res.IncompatibleIdentityTypes = append(res.IncompatibleIdentityTypes, string(t))
		}
	}
	if len(res.MissingDependencies) > 0 {
		res.Errors = append(res.Errors,
			"missing dependencies: "+strings.Join(res.MissingDependencies, ", "))
	}
	return res, nil
}

func validateMetadata(p *Plugin) error {
	if p.PluginID == "" {
		return errs.New(errs.KindPluginValidation, "pluginId is required")
	}
	if !versionRegex.MatchString(p.Version) {
		return errs.Plugin(errs.KindPluginValidation, p.PluginID,
			"version must be semantic (MAJOR.MINOR.PATCH)")
	}
	switch p.Type {
	case TypeWallet, TypeNFT, TypeDeFi, TypeAnalytics, TypeUI:
	default:
		return errs.Plugin(errs.KindPluginValidation, p.PluginID,
			fmt.Sprintf("unknown plugin type %q", p.Type))
	}
	if len(p.SupportedIdentityTypes) == 0 {
		return errs.Plugin(errs.KindPluginValidation, p.PluginID,
			"at least one supported identity type is required")
	}
	if p.Config.TimeoutMs < 0 {
		return errs.Plugin(errs.KindPluginValidation, p.PluginID, "timeoutMs must be non-negative")
	}
	return nil
}

// Activate brings a plugin and its dependency closure to ACTIVE.
//
// The closure is resolved by topological sort: dependencies activate first.
// A missing or cyclic dependency fails the whole call with a
// PLUGIN_DEPENDENCY error listing the offending plugin IDs; nothing is
// activated in that case. Activating an already ACTIVE plugin is a no-op
// that emits no duplicate events.
func (m *Manager) Activate(ctx context.Context, pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Get(ctx, pluginID)
	if err != nil {
		return err
	}
	if p.Status == StatusActive {
		return nil
	}
	if p.Status == StatusDisabled {
		return errs.Plugin(errs.KindPluginValidation, pluginID, "plugin is administratively disabled")
	}

	order, err := m.activationOrder(ctx, p)
	if err != nil {
		return err
	}

	for _, dep := range order {
		if dep.Status == StatusActive {
			continue
		}
		if err := m.activateOne(ctx, dep); err != nil {
			return err
		}
	}
	return nil
}

// activationOrder returns the dependency closure of root in activation order
// (dependencies before dependents) via depth-first topological sort.
func (m *Manager) activationOrder(ctx context.Context, root *Plugin) ([]*Plugin, error) {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // done
	)
	state := make(map[string]int)
	var order []*Plugin
	var missing []string

	var visit func(p *Plugin) error
	visit = func(p *Plugin) error {
		state[p.PluginID] = grey
		for _, depID := range p.Dependencies {
			switch state[depID] {
			case grey:
				return errs.Plugin(errs.KindPluginDependency, root.PluginID,
					"dependency cycle involving "+depID).
					WithDetail("cycle", depID)
			case black:
				continue
			}
			dep, err := m.store.Get(ctx, depID)
			if err == ErrNotRegistered {
				missing = append(missing, depID)
				state[depID] = black
				continue
			}
			if err != nil {
				return err
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[p.PluginID] = black
		order = append(order, p)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, errs.Plugin(errs.KindPluginDependency, root.PluginID,
			"missing dependencies: "+strings.Join(missing, ", ")).
			WithDetail("missing", strings.Join(missing, ","))
	}
	return order, nil
}

// activateOne runs the INACTIVE -> LOADING -> ACTIVE transition for a single
// plugin whose dependencies are already ACTIVE.
func (m *Manager) activateOne(ctx context.Context, p *Plugin) error {
	res, err := m.validate(ctx, p)
	if err != nil {
		return err
	}
	if !res.Valid {
		return errs.Plugin(errs.KindPluginValidation, p.PluginID,
			strings.Join(res.Errors, "; "))
	}
	if !p.Config.Enabled {
		return errs.Plugin(errs.KindPluginValidation, p.PluginID, "plugin is disabled by configuration")
	}

	inst, ok := m.instances[p.PluginID]
	if !ok {
		return errs.Plugin(errs.KindPluginValidation, p.PluginID, "no instance bound for plugin")
	}

	if err := m.store.UpdateStatus(ctx, p.PluginID, StatusLoading, ""); err != nil {
		return err
	}

	storage := NewScopedStorage(m.storage, p.PluginID, p.Config.MaxStorageKeys)
	err = callSandboxed(ctx, p.Config, func(ctx context.Context) error {
		return inst.Activate(ctx, storage)
	})
	if err != nil {
		if serr := m.store.UpdateStatus(ctx, p.PluginID, StatusError, err.Error()); serr != nil {
			m.logger.Error("status update failed after activation error",
				"plugin_id", p.PluginID, "error", serr)
		}
		p.Status = StatusError
		m.logger.Warn("plugin activation failed", "plugin_id", p.PluginID, "error", err)
		m.emit(ctx, EventPluginError, p.PluginID, err.Error())
		return errs.Plugin(errs.KindPluginValidation, p.PluginID, "activation failed: "+err.Error())
	}

	if err := m.store.UpdateStatus(ctx, p.PluginID, StatusActive, ""); err != nil {
		return err
	}
	p.Status = StatusActive
	activePlugins.Inc()

	m.logger.Info("plugin activated", "plugin_id", p.PluginID, "version", p.Version)
	m.emit(ctx, EventPluginActivated, p.PluginID, "")
	return nil
}

// Deactivate transitions a plugin to INACTIVE, cascading first through every
// ACTIVE plugin that transitively depends on it (reverse dependency order),
// so the dependency invariant holds at every intermediate step.
func (m *Manager) Deactivate(ctx context.Context, pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateCascade(ctx, pluginID)
}

func (m *Manager) deactivateCascade(ctx context.Context, pluginID string) error {
	p, err := m.store.Get(ctx, pluginID)
	if err != nil {
		return err
	}
	if p.Status != StatusActive {
		return nil
	}

	all, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.Status != StatusActive {
			continue
		}
		for _, dep := range other.Dependencies {
			if dep == pluginID {
				if err := m.deactivateCascade(ctx, other.PluginID); err != nil {
					return err
				}
			}
		}
	}
	return m.deactivateOne(ctx, p)
}

func (m *Manager) deactivateOne(ctx context.Context, p *Plugin) error {
	if inst, ok := m.instances[p.PluginID]; ok {
		err := callSandboxed(ctx, p.Config, func(ctx context.Context) error {
			return inst.Deactivate(ctx)
		})
		if err != nil {
			// Teardown failures never block deactivation.
			m.logger.Warn("plugin deactivate hook failed", "plugin_id", p.PluginID, "error", err)
		}
	}
	m.dispatcher.Unregister(p.PluginID)

	if err := m.store.UpdateStatus(ctx, p.PluginID, StatusInactive, ""); err != nil {
		return err
	}
	p.Status = StatusInactive
	activePlugins.Dec()

	m.logger.Info("plugin deactivated", "plugin_id", p.PluginID)
	m.emit(ctx, EventPluginDeactivated, p.PluginID, "")
	return nil
}

// Reload deactivates and reactivates a plugin, preserving its configuration
// and storage. Dependents deactivated by the cascade are not reactivated.
func (m *Manager) Reload(ctx context.Context, pluginID string) error {
	if err := m.Deactivate(ctx, pluginID); err != nil {
		return err
	}
	return m.Activate(ctx, pluginID)
}

// UpdateConfig replaces a plugin's configuration and dispatches the
// config.change hook. An ACTIVE plugin keeps running on its old configuration
// until the next reload.
func (m *Manager) UpdateConfig(ctx context.Context, pluginID string, cfg Config) error {
	m.mu.Lock()

	if cfg.TimeoutMs < 0 {
		m.mu.Unlock()
		return errs.Plugin(errs.KindPluginValidation, pluginID, "timeoutMs must be non-negative")
	}
	if cfg.MaxStorageKeys < 0 {
		m.mu.Unlock()
		return errs.Plugin(errs.KindPluginValidation, pluginID, "maxStorageKeys must be non-negative")
	}
	if err := m.store.UpdateConfig(ctx, pluginID, cfg); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.dispatcher.Dispatch(ctx, HookConfigChange, "", map[string]interface{}{
		"pluginId": pluginID,
	})
	return nil
}

// Disable administratively disables a plugin, deactivating it first if
// needed. Disabled plugins cannot be activated until enabled again.
func (m *Manager) Disable(ctx context.Context, pluginID string) error {
	if err := m.Deactivate(ctx, pluginID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.UpdateStatus(ctx, pluginID, StatusDisabled, "")
}

// Enable returns a DISABLED plugin to INACTIVE.
func (m *Manager) Enable(ctx context.Context, pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.store.Get(ctx, pluginID)
	if err != nil {
		return err
	}
	if p.Status != StatusDisabled {
		return nil
	}
	return m.store.UpdateStatus(ctx, pluginID, StatusInactive, "")
}

// Execute runs a plugin method on behalf of an identity. The plugin must be
// ACTIVE and must declare support for the identity's type; the call itself
// is timeout-bounded and panic-isolated.
func (m *Manager) Execute(ctx context.Context, pluginID, method string, params map[string]interface{}, ident *identity.Identity) (interface{}, error) {
	m.mu.Lock()
	p, err := m.store.Get(ctx, pluginID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	inst, ok := m.instances[pluginID]
	m.mu.Unlock()

	if p.Status != StatusActive {
		return nil, errs.Plugin(errs.KindPluginValidation, pluginID,
			fmt.Sprintf("plugin is %s, not ACTIVE", p.Status))
	}
	if !ok {
		return nil, errs.Plugin(errs.KindPluginValidation, pluginID, "no instance bound for plugin")
	}
	if ident != nil && !p.SupportsIdentity(ident.Type) {
		return nil, errs.Plugin(errs.KindPluginPermission, pluginID,
			fmt.Sprintf("identity type %s is not supported by this plugin", ident.Type))
	}

	result, err := executeSandboxed(ctx, p.Config, inst, method, params)
	if err != nil {
		m.logger.Warn("plugin execute failed",
			"plugin_id", pluginID, "method", method, "error", err)
		identityID := "system"
		if ident != nil {
			identityID = ident.ID
		}
		m.ledger.Record(ctx, &audit.Event{
			IdentityID:    identityID,
			OperationType: EventPluginError,
			Success:       false,
			Error:         err.Error(),
			Metadata:      map[string]string{"pluginId": pluginID, "method": method},
		})
		m.emit(ctx, EventPluginError, pluginID, err.Error())
		return nil, err
	}
	return result, nil
}

func (m *Manager) emit(ctx context.Context, eventType, pluginID, errMsg string) {
	data := map[string]interface{}{"pluginId": pluginID}
	if errMsg != "" {
		data["error"] = errMsg
	}
	m.sink.Emit(eventType, data)

	if eventType != EventPluginError {
		m.ledger.Record(ctx, &audit.Event{
			IdentityID:    "system",
			OperationType: eventType,
			Success:       true,
			Metadata:      map[string]string{"pluginId": pluginID},
		})
	}
}
