package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/allay-dev/allay/internal/dispatch"
	"github.com/allay-dev/allay/internal/instance"
	"github.com/allay-dev/allay/internal/logger"
	"github.com/allay-dev/allay/internal/orchestrator"
	"github.com/allay-dev/allay/internal/pkgcache"
	"github.com/allay-dev/allay/internal/registry"
	"github.com/allay-dev/allay/internal/resolver"
)

// appEnv bundles the services a command builds at startup: the plugin
// registry, the hook dispatcher, the metadata cache, the instance store,
// and the orchestrator wired over all of them.
type appEnv struct {
	home   string
	log    *logger.Logger
	reg    *registry.Registry
	disp   *dispatch.Dispatcher
	cache  *pkgcache.Cache
	syncer *pkgcache.Syncer
	store  *instance.Store
	orch   *orchestrator.Orchestrator
}

func newAppEnv(flags *rootFlags) (*appEnv, error) {
	log, err := newLogger(flags)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return newAppEnvWith(flags, log)
}

// newAppEnvWith builds the environment over a caller-supplied logger.
// The dashboard uses it to keep log output off the alternate screen.
func newAppEnvWith(flags *rootFlags, log *logger.Logger) (*appEnv, error) {
	home, err := allayHome(flags.home)
	if err != nil {
		return nil, fmt.Errorf("resolving allay home: %w", err)
	}

	reg, err := registry.Load(pluginsDir(home), log)
	if err != nil {
		return nil, fmt.Errorf("loading plugins from %s: %w", pluginsDir(home), err)
	}

	cache := pkgcache.NewCache()
	if err := cache.LoadFile(packageCachePath(home)); err != nil {
		return nil, err
	}

	store, err := instance.NewStore(instancesPath(home))
	if err != nil {
		return nil, err
	}

	disp := dispatch.New(pluginDataDir(home), pluginsDir(home), log)
	syncer := pkgcache.NewSyncer(cache, disp, reg, log)
	orch := orchestrator.New(reg, disp, syncer, cache, store, log)

	return &appEnv{
		home:   home,
		log:    log,
		reg:    reg,
		disp:   disp,
		cache:  cache,
		syncer: syncer,
		store:  store,
		orch:   orch,
	}, nil
}

func newLogger(flags *rootFlags) (*logger.Logger, error) {
	level := "info"
	if flags.verbose {
		level = "debug"
	}
	return logger.New(logger.Options{Level: level, HumanReadable: true})
}

// loadPlugins fires on_load for every subscriber. Broken plugins are
// logged and skipped; startup continues regardless.
func (env *appEnv) loadPlugins(ctx context.Context) {
	env.orch.LoadPlugins(ctx, pluginDataDir(env.home), pluginsDir(env.home))
}

// saveCache persists the metadata cache for the next invocation.
func (env *appEnv) saveCache() error {
	return env.cache.SaveFile(packageCachePath(env.home))
}

// resolveTarget loads the instance config named by target, which is
// either a registered instance id or a path to a config file. Anything
// that looks like a path (separator, .yaml/.yml suffix, or an existing
// file) is loaded directly; otherwise the id is looked up in the store.
func (env *appEnv) resolveTarget(target string) (*instance.Config, error) {
	if looksLikePath(target) {
		return instance.LoadConfig(target)
	}

	rec, err := env.store.Get(target)
	if err != nil {
		return nil, fmt.Errorf("%w (pass a config file path to use an unregistered instance)", err)
	}
	return instance.LoadConfig(rec.Path)
}

func looksLikePath(target string) bool {
	if strings.ContainsRune(target, os.PathSeparator) || strings.ContainsRune(target, '/') {
		return true
	}
	switch strings.ToLower(filepath.Ext(target)) {
	case ".yaml", ".yml":
		return true
	}
	if _, err := os.Stat(target); err == nil {
		return true
	}
	return false
}

// resolveRequests converts the config's package list into resolver requests.
func resolveRequests(cfg *instance.Config) []resolver.Request {
	reqs := make([]resolver.Request, 0, len(cfg.Packages))
	for _, p := range cfg.Packages {
		reqs = append(reqs, resolver.Request{Package: p.ID, Constraint: p.Version})
	}
	return reqs
}

// requestedPackages lists the config's package ids as a sync hint.
func requestedPackages(cfg *instance.Config) []string {
	ids := make([]string, 0, len(cfg.Packages))
	for _, p := range cfg.Packages {
		ids = append(ids, p.ID)
	}
	return ids
}
