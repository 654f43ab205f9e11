// Package plugin implements the wallet plugin runtime: registration,
// dependency-aware activation, sandboxed execution, and hook/event dispatch.
//
// The registry is an explicitly constructed, dependency-injected instance
// owned by the host process. There is no global manager: tests build their
// own isolated runtime.
package plugin

import (
	"context"
	"errors"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/identity"
)

// Status is a plugin's lifecycle state. Status transitions are the only
// allowed mutation path for a registered plugin.
//
//	INACTIVE -> LOADING -> ACTIVE
//	LOADING  -> ERROR
//	ACTIVE   -> INACTIVE (deactivate)
//	ACTIVE   -> DISABLED (administrative)
//	any      -> ERROR on unrecoverable fault
//	ERROR/INACTIVE removable via unregister
type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusLoading  Status = "LOADING"
	StatusActive   Status = "ACTIVE"
	StatusDisabled Status = "DISABLED"
	StatusError    Status = "ERROR"
)

// Type categorizes a plugin.
type Type string

const (
	TypeWallet    Type = "WALLET"
	TypeNFT       Type = "NFT"
	TypeDeFi      Type = "DEFI"
	TypeAnalytics Type = "ANALYTICS"
	TypeUI        Type = "UI"
)

// Config is the schema-validated plugin configuration. Free-form maps are
// not accepted; unknown behavior lives behind explicit fields with defaults.
type Config struct {
	Enabled        bool              `json:"enabled"`
	SandboxMode    bool              `json:"sandboxMode"`
	TimeoutMs      int               `json:"timeoutMs"`
	MaxStorageKeys int               `json:"maxStorageKeys"`
	Settings       map[string]string `json:"settings,omitempty"`
}

// DefaultConfig applies the documented defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		TimeoutMs:      5000,
		MaxStorageKeys: 256,
	}
}

// Plugin is the registered metadata plus current status. Created at
// registration, destroyed at unregistration.
type Plugin struct {
	PluginID               string          `json:"pluginId"`
	Version                string          `json:"version"`
	Type                   Type            `json:"type"`
	Status                 Status          `json:"status"`
	Capabilities           []string        `json:"capabilities,omitempty"`
	RequiredPermissions    []string        `json:"requiredPermissions,omitempty"`
	SupportedIdentityTypes []identity.Type `json:"supportedIdentityTypes"`
	Dependencies           []string        `json:"dependencies,omitempty"`
	Config                 Config          `json:"config"`
	RegisteredAt           time.Time       `json:"registeredAt"`
	StatusChangedAt        time.Time       `json:"statusChangedAt"`
	LastError              string          `json:"lastError,omitempty"`
}

// SupportsIdentity reports whether the plugin declares support for the type.
func (p *Plugin) SupportsIdentity(t identity.Type) bool {
	for _, s := range p.SupportedIdentityTypes {
		if s == t {
			return true
		}
	}
	return false
}

// ValidationResult is the structured outcome of Validate. Activation never
// proceeds on a failing validation.
type ValidationResult struct {
	Valid                     bool     `json:"valid"`
	Errors                    []string `json:"errors,omitempty"`
	MissingDependencies       []string `json:"missingDependencies,omitempty"`
	IncompatibleIdentityTypes []string `json:"incompatibleIdentityTypes,omitempty"`
	MissingPermissions        []string `json:"missingPermissions,omitempty"`
}

// Instance is the executable part of a plugin, supplied by the host at
// registration. Calls are sandboxed: timeout-bounded and panic-isolated.
type Instance interface {
	Activate(ctx context.Context, storage Storage) error
	Deactivate(ctx context.Context) error
	Execute(ctx context.Context, method string, params map[string]interface{}) (interface{}, error)
}

// Storage is the per-plugin key/value store. Scoped by plugin ID so plugins
// cannot read each other's data.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Has(ctx context.Context, key string) (bool, error)
}

// NopInstance is an Instance with no behavior. Plugins registered over the
// HTTP API (metadata only, no in-process code) are bound to it; Execute
// reports that the plugin has no executable surface.
type NopInstance struct{}

func (NopInstance) Activate(context.Context, Storage) error { return nil }
func (NopInstance) Deactivate(context.Context) error        { return nil }
func (NopInstance) Execute(_ context.Context, method string, _ map[string]interface{}) (interface{}, error) {
	return nil, errors.New("plugin: no executable instance bound for method " + method)
}

// Registry errors.
var (
	ErrNotRegistered = errors.New("plugin: not registered")
	ErrDuplicateID   = errors.New("plugin: id already registered")
)

// RegistryStore persists plugin metadata and status.
type RegistryStore interface {
	Insert(ctx context.Context, p *Plugin) error
	Get(ctx context.Context, pluginID string) (*Plugin, error)
	List(ctx context.Context) ([]*Plugin, error)
	UpdateStatus(ctx context.Context, pluginID string, status Status, lastError string) error
	UpdateConfig(ctx context.Context, pluginID string, cfg Config) error
	Delete(ctx context.Context, pluginID string) error
}
