package errors

import (
	"fmt"
	"strings"
	"time"
)

// Install failure kinds reported by plugins through the hook protocol.
const (
	KindRetryable = "retryable"
	KindFatal     = "fatal"
)

// ManifestError represents a plugin manifest that could not be read or parsed.
// Registry loading records it as a warning and excludes the plugin.
type ManifestError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewManifestError constructs a ManifestError.
func NewManifestError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ManifestError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ManifestError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("manifest error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("manifest error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ManifestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures manifest or instance configuration validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HookTimeoutError reports that one plugin exceeded the hook call deadline.
// It is scoped to that plugin; dispatch to the others continues.
type HookTimeoutError struct {
	Plugin  string
	Hook    string
	Timeout time.Duration
}

// NewHookTimeoutError constructs a HookTimeoutError.
func NewHookTimeoutError(plugin, hook string, timeout time.Duration) error {
	return &HookTimeoutError{Plugin: plugin, Hook: hook, Timeout: timeout}
}

func (e *HookTimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("hook timeout: plugin %s did not answer %s within %s", e.Plugin, e.Hook, e.Timeout)
}

// HookCrashError reports a plugin process that failed to start or exited non-zero.
type HookCrashError struct {
	Plugin   string
	Hook     string
	ExitCode int
	Err      error
}

// NewHookCrashError constructs a HookCrashError.
func NewHookCrashError(plugin, hook string, exitCode int, err error) error {
	return &HookCrashError{Plugin: plugin, Hook: hook, ExitCode: exitCode, Err: err}
}

func (e *HookCrashError) Error() string {
	if e == nil {
		return ""
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("hook crash: plugin %s exited with code %d on %s", e.Plugin, e.ExitCode, e.Hook)
	}
	return fmt.Sprintf("hook crash: plugin %s failed on %s: %v", e.Plugin, e.Hook, e.Err)
}

// Unwrap exposes the underlying error.
func (e *HookCrashError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HookProtocolError reports a plugin response that could not be decoded.
type HookProtocolError struct {
	Plugin  string
	Hook    string
	Message string
	Err     error
}

// NewHookProtocolError constructs a HookProtocolError.
func NewHookProtocolError(plugin, hook, message string, err error) error {
	return &HookProtocolError{Plugin: plugin, Hook: hook, Message: message, Err: err}
}

func (e *HookProtocolError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("hook protocol error: plugin %s on %s: %s", e.Plugin, e.Hook, e.Message)
}

// Unwrap exposes the underlying error.
func (e *HookProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SyncError reports that a provider failed to refresh its package metadata.
// The prior cache snapshot for that provider is retained.
type SyncError struct {
	Provider string
	Err      error
}

// NewSyncError constructs a SyncError.
func NewSyncError(provider string, err error) error {
	return &SyncError{Provider: provider, Err: err}
}

func (e *SyncError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("sync failed for provider %s: %v", e.Provider, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SyncError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NotFoundError reports a package id absent from the metadata snapshot.
type NotFoundError struct {
	Package   string
	Requester string
}

// NewNotFoundError constructs a NotFoundError.
func NewNotFoundError(pkg, requester string) error {
	return &NotFoundError{Package: pkg, Requester: requester}
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	if e.Requester != "" {
		return fmt.Sprintf("package %s (required by %s) not found in any provider", e.Package, e.Requester)
	}
	return fmt.Sprintf("package %s not found in any provider", e.Package)
}

// Requirement names one requester and the version constraint it imposed.
type Requirement struct {
	Requester  string
	Constraint string
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s requires %q", r.Requester, r.Constraint)
}

// ConflictError reports that resolution cannot satisfy every requirement on a
// package, or that a selected package excludes another selected package.
type ConflictError struct {
	Package      string
	Requirements []Requirement
	Excluded     string
	ExcludedBy   string
}

// NewConflictError constructs a ConflictError for unsatisfiable version
// requirements on a single package.
func NewConflictError(pkg string, requirements []Requirement) error {
	return &ConflictError{Package: pkg, Requirements: requirements}
}

// NewExclusionError constructs a ConflictError for a conflicts declaration:
// excludedBy was selected and its metadata forbids excluded.
func NewExclusionError(excludedBy, excluded string) error {
	return &ConflictError{Package: excluded, Excluded: excluded, ExcludedBy: excludedBy}
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	if e.Excluded != "" {
		return fmt.Sprintf("conflict: package %s cannot be installed alongside %s", e.Excluded, e.ExcludedBy)
	}

	parts := make([]string, 0, len(e.Requirements))
	for _, req := range e.Requirements {
		parts = append(parts, req.String())
	}
	return fmt.Sprintf("conflict: no version of %s satisfies all requirements: %s", e.Package, strings.Join(parts, "; "))
}

// CycleError reports a dependency cycle. Cycle holds the full path with the
// first package repeated at the end.
type CycleError struct {
	Cycle []string
}

// NewCycleError constructs a CycleError.
func NewCycleError(cycle []string) error {
	return &CycleError{Cycle: cycle}
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// InstallError reports a failed install or uninstall hook for one package.
// Kind distinguishes retryable failures (a later update retries naturally)
// from fatal ones (remaining plan steps are skipped).
type InstallError struct {
	Package string
	Version string
	Plugin  string
	Kind    string
	Message string
	Err     error
}

// NewInstallError constructs an InstallError. Unknown kinds reported by a
// plugin count as fatal.
func NewInstallError(pkg, version, plugin, kind, message string) *InstallError {
	if kind != KindRetryable {
		kind = KindFatal
	}
	return &InstallError{Package: pkg, Version: version, Plugin: plugin, Kind: kind, Message: message}
}

// WrapInstallError constructs an InstallError around a transport failure.
func WrapInstallError(pkg, version, plugin, kind string, err error) *InstallError {
	if kind != KindFatal {
		kind = KindRetryable
	}
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &InstallError{Package: pkg, Version: version, Plugin: plugin, Kind: kind, Message: message, Err: err}
}

func (e *InstallError) Error() string {
	if e == nil {
		return ""
	}
	if e.Plugin != "" {
		return fmt.Sprintf("install error (%s): %s@%s via plugin %s: %s", e.Kind, e.Package, e.Version, e.Plugin, e.Message)
	}
	return fmt.Sprintf("install error (%s): %s@%s: %s", e.Kind, e.Package, e.Version, e.Message)
}

// Unwrap exposes the underlying error.
func (e *InstallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsFatal reports whether the failure aborts the remaining plan.
func (e *InstallError) IsFatal() bool {
	return e != nil && e.Kind == KindFatal
}
