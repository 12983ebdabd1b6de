package pkgcache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/allay-dev/allay/internal/hook"
	"github.com/allay-dev/allay/internal/logger"
	"github.com/allay-dev/allay/internal/registry"
	"github.com/allay-dev/allay/internal/version"
	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

// HookCaller invokes a single hook on a single plugin.
type HookCaller interface {
	Call(ctx context.Context, p *registry.Plugin, name hook.Name, payload any) (*hook.Response, error)
}

// SubscriberSource lists the plugins subscribed to a hook.
type SubscriberSource interface {
	Subscribers(name hook.Name) []*registry.Plugin
}

// ProviderSync is one provider's outcome within a sync.
type ProviderSync struct {
	// Packages is how many distinct package ids the provider owns after the
	// sync applied.
	Packages int
	// Versions is how many version records were accepted.
	Versions int
	// Skipped counts records rejected during apply (foreign ownership,
	// missing ids, duplicate versions).
	Skipped int
	// Err is set when the provider's sync failed outright. Its prior subset
	// stays in the cache untouched.
	Err error
}

// SyncReport aggregates per-provider outcomes.
type SyncReport struct {
	Providers map[string]ProviderSync
	Failed    []string
}

// Ok reports whether every provider synced cleanly.
func (r *SyncReport) Ok() bool {
	return r != nil && len(r.Failed) == 0
}

// Errs returns the failures in provider id order.
func (r *SyncReport) Errs() []error {
	if r == nil {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, id := range r.Failed {
		errs = append(errs, r.Providers[id].Err)
	}
	return errs
}

// Syncer refreshes the cache from provider plugins. Syncs of the same
// provider serialize on a per-provider lock held across the hook call and
// the apply, so two overlapping syncs never interleave one provider's
// subset; distinct providers proceed in parallel.
type Syncer struct {
	cache  *Cache
	caller HookCaller
	subs   SubscriberSource
	log    *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSyncer wires a syncer over the shared cache.
func NewSyncer(cache *Cache, caller HookCaller, subs SubscriberSource, log *logger.Logger) *Syncer {
	return &Syncer{
		cache:  cache,
		caller: caller,
		subs:   subs,
		log:    log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Sync asks every provider plugin for its package metadata and applies the
// answers. hint names packages the caller is interested in; providers may
// answer with their full catalog regardless. One provider failing leaves its
// prior subset intact and never blocks the others.
func (s *Syncer) Sync(ctx context.Context, hint []string) (*SyncReport, error) {
	providers := s.subs.Subscribers(hook.ProvidePackages)
	report := &SyncReport{Providers: make(map[string]ProviderSync, len(providers))}
	if len(providers) == 0 {
		return report, nil
	}

	payload := hook.ProvidePayload{Packages: hint}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p *registry.Plugin) {
			defer wg.Done()

			lock := s.providerLock(p.ID)
			lock.Lock()
			outcome := s.syncProvider(ctx, p, payload)
			lock.Unlock()

			mu.Lock()
			report.Providers[p.ID] = outcome
			if outcome.Err != nil {
				report.Failed = append(report.Failed, p.ID)
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	sort.Strings(report.Failed)
	return report, nil
}

func (s *Syncer) syncProvider(ctx context.Context, p *registry.Plugin, payload hook.ProvidePayload) ProviderSync {
	log := s.log.WithPlugin(p.ID)

	resp, err := s.caller.Call(ctx, p, hook.ProvidePackages, payload)
	if err != nil {
		log.Error(err, "provider sync failed")
		return ProviderSync{Err: allayerrors.NewSyncError(p.ID, err)}
	}
	if !resp.OK() {
		err := fmt.Errorf("provider answered %s: %s", resp.Status, resp.Message)
		log.Error(err, "provider refused to sync")
		return ProviderSync{Err: allayerrors.NewSyncError(p.ID, err)}
	}

	data, err := hook.DecodeProvideData(resp.Data)
	if err != nil {
		log.Error(err, "provider sent undecodable package data")
		return ProviderSync{Err: allayerrors.NewSyncError(p.ID, err)}
	}

	records, err := recordsFromWire(p.ID, data.Packages)
	if err != nil {
		// One malformed record poisons the whole batch: applying the rest
		// could drop packages the provider still owns.
		log.Error(err, "provider sent malformed package records")
		return ProviderSync{Err: allayerrors.NewSyncError(p.ID, err)}
	}

	snap, skipped := s.cache.Apply(p.ID, records)
	owned := snap.ProviderPackages(p.ID)

	log.WithFields(map[string]any{
		"packages":   len(owned),
		"versions":   len(records) - skipped,
		"skipped":    skipped,
		"generation": snap.Generation(),
	}).Info("provider metadata applied")

	return ProviderSync{
		Packages: len(owned),
		Versions: len(records) - skipped,
		Skipped:  skipped,
	}
}

func (s *Syncer) providerLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func recordsFromWire(provider string, wire []hook.PackageRecord) ([]PackageVersion, error) {
	records := make([]PackageVersion, 0, len(wire))
	for _, w := range wire {
		var deps []Dependency
		for _, d := range w.Dependencies {
			pattern, err := version.Parse(d.Constraint)
			if err != nil {
				return nil, fmt.Errorf("package %s %s: dependency on %s: %w", w.Package, w.Version, d.Package, err)
			}
			deps = append(deps, Dependency{Package: Normalize(d.Package), Constraint: pattern})
		}

		records = append(records, PackageVersion{
			Package:      w.Package,
			Version:      w.Version,
			Provider:     provider,
			Dependencies: deps,
			Conflicts:    normalizeAll(w.Conflicts),
			Extensions:   normalizeAll(w.Extensions),
		})
	}
	return records, nil
}

func normalizeAll(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = Normalize(id)
	}
	return out
}
