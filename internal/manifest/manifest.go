// Package manifest parses and validates the plugin.yaml documents that
// declare a plugin to the registry.
package manifest

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/allay-dev/allay/internal/hook"
	"github.com/allay-dev/allay/internal/validation"
	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

// Capability declares what a plugin is allowed and expected to do.
type Capability string

const (
	// CapabilityProvider marks a plugin that supplies package metadata.
	CapabilityProvider Capability = "provider"
	// CapabilityInstaller marks a plugin that performs install/uninstall
	// side effects inside instance directories.
	CapabilityInstaller Capability = "installer"
	// CapabilityObserver marks a plugin that subscribes to event hooks
	// without owning packages.
	CapabilityObserver Capability = "observer"
)

// Manifest is one parsed plugin.yaml.
//
// CustomConfig is an opaque document passed through to the plugin process
// untouched (serialized as JSON in its environment); the core never
// interprets it.
type Manifest struct {
	ID           string         `yaml:"id" validate:"required,plugin_id"`
	Description  string         `yaml:"description"`
	Executable   string         `yaml:"executable" validate:"required"`
	Hooks        []hook.Name    `yaml:"hooks" validate:"dive,hook_name"`
	Capabilities []Capability   `yaml:"capabilities" validate:"dive,capability"`
	CustomConfig map[string]any `yaml:"custom_config"`
}

// ParseFile loads and validates a manifest from disk.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, allayerrors.NewManifestError(path, 0, err)
	}

	m, err := Parse(data)
	if err != nil {
		var validationErr *allayerrors.ValidationError
		if errors.As(err, &validationErr) {
			return nil, err
		}
		return nil, allayerrors.NewManifestError(path, validation.ExtractLine(err), err)
	}

	return m, nil
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	if err := Validate(&m); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate performs schema validation on a parsed manifest.
func Validate(m *Manifest) error {
	if m == nil {
		return allayerrors.NewValidationError("manifest", "manifest is nil", nil)
	}

	if err := validation.Instance().Struct(m); err != nil {
		return validation.Convert(err)
	}

	seen := make(map[hook.Name]struct{}, len(m.Hooks))
	for _, h := range m.Hooks {
		if _, dup := seen[h]; dup {
			return allayerrors.NewValidationError("hooks", "duplicate hook "+string(h), nil)
		}
		seen[h] = struct{}{}
	}

	return nil
}

// Subscribes reports whether the manifest declares the given hook.
func (m *Manifest) Subscribes(name hook.Name) bool {
	if m == nil {
		return false
	}
	for _, h := range m.Hooks {
		if h == name {
			return true
		}
	}
	return false
}

// Has reports whether the manifest declares the given capability.
func (m *Manifest) Has(c Capability) bool {
	if m == nil {
		return false
	}
	for _, declared := range m.Capabilities {
		if declared == c {
			return true
		}
	}
	return false
}
