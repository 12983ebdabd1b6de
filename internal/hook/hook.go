// Package hook defines the names and wire types of the extension points the
// core invokes on subscribed plugins. Plugins are separate executables: each
// invocation spawns the plugin with the hook name as its single argument,
// writes a Request to its stdin, and reads a Response from the last
// non-empty line of its stdout.
package hook

import "encoding/json"

// Name identifies one extension point.
type Name string

const (
	// OnLoad is dispatched once at startup to every subscriber. Event hook;
	// failures are logged and never fatal.
	OnLoad Name = "on_load"

	// ProvidePackages asks provider plugins for package metadata. Data hook;
	// successful responses are merged into the metadata cache.
	ProvidePackages Name = "provide_packages"

	// InstallPackage asks subscribers to realize one package version inside
	// an instance directory. Event hook, dispatched in plan order.
	InstallPackage Name = "install_package"

	// UninstallPackage asks subscribers to remove one package from an
	// instance directory. Event hook, dispatched dependents-first.
	UninstallPackage Name = "uninstall_package"
)

// Known reports whether name is a hook the core dispatches.
func Known(name Name) bool {
	switch name {
	case OnLoad, ProvidePackages, InstallPackage, UninstallPackage:
		return true
	}
	return false
}

// Statuses a plugin may answer with.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Environment variables set on every plugin process.
const (
	EnvPluginID     = "ALLAY_PLUGIN_ID"
	EnvHook         = "ALLAY_HOOK"
	EnvDataDir      = "ALLAY_DATA_DIR"
	EnvConfigDir    = "ALLAY_CONFIG_DIR"
	EnvCustomConfig = "ALLAY_CUSTOM_CONFIG"
)

// Request is the envelope written to a plugin's stdin.
type Request struct {
	Hook    Name `json:"hook"`
	Payload any  `json:"payload,omitempty"`
}

// Response is the envelope read back from a plugin's stdout.
type Response struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// OK reports whether the plugin answered with a success status.
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusOK
}

// LoadPayload accompanies the on_load hook.
type LoadPayload struct {
	DataDir   string `json:"data_dir"`
	ConfigDir string `json:"config_dir"`
}

// ProvidePayload accompanies provide_packages. Packages hints at the ids the
// caller cares about; providers may answer with their full catalog.
type ProvidePayload struct {
	Packages []string `json:"packages,omitempty"`
}

// ProvideData is the data field of a successful provide_packages response.
type ProvideData struct {
	Packages []PackageRecord `json:"packages"`
}

// PackageRecord describes one version of one package on the wire. Records
// for the same package id are declared oldest first; the last record is the
// newest version.
type PackageRecord struct {
	Package      string             `json:"package"`
	Version      string             `json:"version"`
	Dependencies []DependencyRecord `json:"dependencies,omitempty"`
	Conflicts    []string           `json:"conflicts,omitempty"`
	Extensions   []string           `json:"extensions,omitempty"`
}

// DependencyRecord names a package this version depends on, with an optional
// version constraint (empty means any version).
type DependencyRecord struct {
	Package    string `json:"package"`
	Constraint string `json:"constraint,omitempty"`
}

// PackagePayload accompanies install_package and uninstall_package.
type PackagePayload struct {
	Package     string `json:"package"`
	Version     string `json:"version"`
	Instance    string `json:"instance"`
	InstanceDir string `json:"instance_dir"`
}

// DecodeProvideData parses the data field of a provide_packages response.
func DecodeProvideData(data json.RawMessage) (*ProvideData, error) {
	var out ProvideData
	if len(data) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
