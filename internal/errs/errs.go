// Package errs defines the structured error taxonomy shared by the wallet
// core. Errors carry a machine-checkable kind instead of relying on type
// hierarchies, so callers can switch exhaustively on Kind and render an
// actionable message.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for programmatic handling.
type Kind string

const (
	// KindPluginValidation: plugin metadata or configuration is malformed.
	KindPluginValidation Kind = "PLUGIN_VALIDATION"
	// KindPluginDependency: missing or cyclic plugin dependency.
	KindPluginDependency Kind = "PLUGIN_DEPENDENCY"
	// KindPluginPermission: plugin requests a capability the identity or
	// configuration does not grant.
	KindPluginPermission Kind = "PLUGIN_PERMISSION"
	// KindConfigValidation: limits or permissions payload is malformed.
	KindConfigValidation Kind = "CONFIG_VALIDATION"
	// KindGovernanceRequired: the change needs DAO approval before taking effect.
	KindGovernanceRequired Kind = "GOVERNANCE_REQUIRED"
	// KindService: a policy/signer/storage collaborator is unavailable. Retryable.
	KindService Kind = "SERVICE_UNAVAILABLE"
)

// Error is a tagged error carrying structured context across the
// plugin/permission boundary. Never thrown as an opaque exception: every
// denial or failure surfaces its Kind and details to the caller.
type Error struct {
	Kind     Kind
	PluginID string
	Message  string
	Details  map[string]string
	Err      error
}

func (e *Error) Error() string {
	if e.PluginID != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.PluginID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a tagged error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Plugin creates a tagged error bound to a plugin ID.
func Plugin(kind Kind, pluginID, msg string) *Error {
	return &Error{Kind: kind, PluginID: pluginID, Message: msg}
}

// WithDetail attaches a key/value detail, allocating the map on first use.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from err, or "" if err is not a tagged error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err represents a transient collaborator
// failure that the caller may retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindService
}
