// Package registry loads plugin manifests and answers which plugins
// subscribe to which hooks. The registry owns the plugin list exclusively:
// it is built once at load and never mutated afterwards.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/allay-dev/allay/internal/hook"
	"github.com/allay-dev/allay/internal/logger"
	"github.com/allay-dev/allay/internal/manifest"
)

// ManifestName is the manifest file looked up inside directory-form plugins.
const ManifestName = "plugin.yaml"

// Plugin is one loaded plugin, immutable for the process lifetime.
type Plugin struct {
	ID           string
	Description  string
	Executable   string
	Hooks        []hook.Name
	Capabilities []manifest.Capability
	CustomConfig map[string]any
	Dir          string
}

// Subscribes reports whether the plugin handles the given hook.
func (p *Plugin) Subscribes(name hook.Name) bool {
	for _, h := range p.Hooks {
		if h == name {
			return true
		}
	}
	return false
}

// Has reports whether the plugin declares the given capability.
func (p *Plugin) Has(c manifest.Capability) bool {
	for _, declared := range p.Capabilities {
		if declared == c {
			return true
		}
	}
	return false
}

// Registry holds the loaded plugins in manifest discovery order.
type Registry struct {
	plugins  []*Plugin
	byID     map[string]*Plugin
	warnings []error
}

// Load scans pluginsDir for manifests and builds the registry. Two layouts
// load: a flat `<name>.yaml` file, or a `<name>/plugin.yaml` directory that
// bundles the executable next to its manifest. Entries are visited in
// lexicographic order, which fixes the subscriber order for every hook.
//
// A manifest that fails to parse or validate excludes only that plugin; the
// failure is retained as a warning. A missing pluginsDir yields an empty
// registry.
func Load(pluginsDir string, log *logger.Logger) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Plugin)}

	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading plugins directory: %w", err)
	}

	for _, entry := range entries {
		var manifestPath string
		var pluginDir string

		if entry.IsDir() {
			pluginDir = filepath.Join(pluginsDir, entry.Name())
			manifestPath = filepath.Join(pluginDir, ManifestName)
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}
		} else {
			name := entry.Name()
			if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
				continue
			}
			pluginDir = pluginsDir
			manifestPath = filepath.Join(pluginsDir, name)
		}

		m, err := manifest.ParseFile(manifestPath)
		if err != nil {
			r.warnings = append(r.warnings, err)
			log.Error(err, "skipping plugin with unreadable manifest")
			continue
		}

		if _, exists := r.byID[m.ID]; exists {
			err := fmt.Errorf("duplicate plugin id %q in %s", m.ID, manifestPath)
			r.warnings = append(r.warnings, err)
			log.Error(err, "skipping duplicate plugin")
			continue
		}

		p := &Plugin{
			ID:           m.ID,
			Description:  m.Description,
			Executable:   resolveExecutable(m.Executable, pluginDir),
			Hooks:        m.Hooks,
			Capabilities: m.Capabilities,
			CustomConfig: m.CustomConfig,
			Dir:          pluginDir,
		}

		warnCapabilityMismatch(p, log)

		r.plugins = append(r.plugins, p)
		r.byID[p.ID] = p

		log.WithPlugin(p.ID).Debug("loaded plugin manifest")
	}

	return r, nil
}

// resolveExecutable anchors relative executable paths at the plugin's own
// directory. Bare command names are left for PATH lookup at dispatch time.
func resolveExecutable(executable, pluginDir string) string {
	if filepath.IsAbs(executable) {
		return executable
	}
	if strings.ContainsRune(executable, os.PathSeparator) {
		return filepath.Join(pluginDir, executable)
	}
	return executable
}

func warnCapabilityMismatch(p *Plugin, log *logger.Logger) {
	if p.Subscribes(hook.ProvidePackages) && !p.Has(manifest.CapabilityProvider) {
		log.WithPlugin(p.ID).Warn("subscribes to provide_packages without declaring the provider capability")
	}

	handlesPackages := p.Subscribes(hook.InstallPackage) || p.Subscribes(hook.UninstallPackage)
	if handlesPackages && !p.Has(manifest.CapabilityInstaller) && !p.Has(manifest.CapabilityObserver) {
		log.WithPlugin(p.ID).Warn("subscribes to package hooks without declaring installer or observer capability")
	}
}

// Subscribers returns the plugins subscribed to name, in discovery order.
func (r *Registry) Subscribers(name hook.Name) []*Plugin {
	var subs []*Plugin
	for _, p := range r.plugins {
		if p.Subscribes(name) {
			subs = append(subs, p)
		}
	}
	return subs
}

// Get returns the plugin with the given id.
func (r *Registry) Get(id string) (*Plugin, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns every loaded plugin in discovery order.
func (r *Registry) All() []*Plugin {
	out := make([]*Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Warnings returns the manifest failures recorded during load.
func (r *Registry) Warnings() []error {
	out := make([]error, len(r.warnings))
	copy(out, r.warnings)
	return out
}
