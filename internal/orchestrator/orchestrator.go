// Package orchestrator drives the per-instance update state machine:
// sync provider metadata, resolve a plan, then dispatch install and
// uninstall hooks in plan order while recording confirmed progress.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/allay-dev/allay/internal/dispatch"
	"github.com/allay-dev/allay/internal/hook"
	"github.com/allay-dev/allay/internal/instance"
	"github.com/allay-dev/allay/internal/logger"
	"github.com/allay-dev/allay/internal/pkgcache"
	"github.com/allay-dev/allay/internal/registry"
	"github.com/allay-dev/allay/internal/resolver"
	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

// HookDispatcher fans a hook invocation out to its target plugins.
type HookDispatcher interface {
	Dispatch(ctx context.Context, inv dispatch.Invocation) dispatch.Results
}

// MetadataSyncer refreshes provider-owned package metadata.
type MetadataSyncer interface {
	Sync(ctx context.Context, hint []string) (*pkgcache.SyncReport, error)
}

// SubscriberSource lists the plugins subscribed to a hook.
type SubscriberSource interface {
	Subscribers(name hook.Name) []*registry.Plugin
}

// SnapshotSource yields the metadata snapshot a resolution reads.
type SnapshotSource interface {
	Snapshot() *pkgcache.Snapshot
}

// StateStore persists instance lifecycle state and confirmed installs.
type StateStore interface {
	Get(id string) (instance.Record, error)
	Add(rec instance.Record) error
	Installed(id string) (map[string]string, error)
	SetState(id string, state instance.State) error
	SetFailure(id string, cause error) error
	SetInstalled(id, pkg, version string) error
	RemoveInstalled(id, pkg string) error
}

// Orchestrator coordinates one update run at a time per caller. Two
// different instances may update concurrently; installed state is
// instance-scoped and provider syncs serialize inside the syncer.
type Orchestrator struct {
	registry   SubscriberSource
	dispatcher HookDispatcher
	syncer     MetadataSyncer
	cache      SnapshotSource
	store      StateStore
	log        *logger.Logger

	// now is swappable for deterministic timestamps in tests.
	now func() time.Time
}

// New wires an orchestrator from its collaborators.
func New(reg SubscriberSource, disp HookDispatcher, syncer MetadataSyncer, cache SnapshotSource, store StateStore, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		registry:   reg,
		dispatcher: disp,
		syncer:     syncer,
		cache:      cache,
		store:      store,
		log:        log,
		now:        time.Now,
	}
}

// planStep is one pending hook round derived from the resolved plan.
type planStep struct {
	action   Action
	pkg      string
	version  string
	provider string
}

// Update runs the full state machine for one instance: syncing,
// resolving, installing, ready. The returned report is always non-nil;
// the error mirrors report.Err when the run failed.
//
// Cancellation is honored at step boundaries only: an in-flight hook
// call finishes under the dispatcher's own timeout and its result is
// still applied, then the remaining steps are recorded as skipped.
func (o *Orchestrator) Update(ctx context.Context, cfg *instance.Config) (*Report, error) {
	id := cfg.Instance.ID
	log := o.log.WithInstance(id)
	start := o.now()

	report := &Report{RunID: uuid.New().String(), Instance: id}

	finish := func(state instance.State, err error) (*Report, error) {
		report.State = state
		report.Err = err
		if err != nil {
			report.Error = err.Error()
		}
		report.Duration = o.now().Sub(start)
		report.CompletedAt = o.now()
		return report, err
	}

	fail := func(err error) (*Report, error) {
		if storeErr := o.store.SetFailure(id, err); storeErr != nil {
			log.Error(storeErr, "failed to persist failure state")
		}
		log.Error(err, "update failed")
		return finish(instance.StateFailed, err)
	}

	if err := o.ensureRegistered(cfg); err != nil {
		return finish(instance.StateFailed, err)
	}

	installed, err := o.store.Installed(id)
	if err != nil {
		return finish(instance.StateFailed, err)
	}

	// syncing
	if err := o.store.SetState(id, instance.StateSyncing); err != nil {
		return finish(instance.StateFailed, err)
	}
	log.Debug("syncing provider metadata")

	syncReport, err := o.syncer.Sync(ctx, requestedIDs(cfg))
	if err != nil {
		return fail(err)
	}
	if !syncReport.Ok() {
		return fail(errors.Join(syncReport.Errs()...))
	}

	// resolving
	if err := o.store.SetState(id, instance.StateResolving); err != nil {
		return finish(instance.StateFailed, err)
	}

	snap := o.cache.Snapshot()
	plan, err := resolver.Resolve(resolver.Input{
		Requests:  requests(cfg),
		Snapshot:  snap,
		Installed: installed,
	})
	if err != nil {
		return fail(err)
	}

	// installing
	if err := o.store.SetState(id, instance.StateInstalling); err != nil {
		return finish(instance.StateFailed, err)
	}

	steps := buildSteps(plan, snap, installed)
	log.WithFields(map[string]any{
		"packages":   len(plan.Packages),
		"installs":   len(plan.ToInstall),
		"uninstalls": len(plan.ToUninstall),
	}).Info("plan resolved")

	var softErr error
	for i, step := range steps {
		if ctx.Err() != nil {
			o.skipRemaining(report, steps[i:], "update canceled")
			return fail(ctx.Err())
		}

		res, stepErr := o.runStep(ctx, cfg, step)
		report.Steps = append(report.Steps, res)

		switch res.Status {
		case StepOK:
			if err := o.confirm(id, step); err != nil {
				return fail(err)
			}
			if step.action == ActionInstall {
				report.Installed++
			} else {
				report.Removed++
			}
		case StepRetryable:
			report.Failed++
			if softErr == nil {
				softErr = stepErr
			}
			log.Error(stepErr, "step failed, a later update retries it")
		case StepFatal:
			report.Failed++
			o.skipRemaining(report, steps[i+1:], "skipped after fatal failure")
			return fail(stepErr)
		}
	}

	// A retryable failure still fails the run: the instance has not
	// converged, even though every remaining step was attempted.
	if softErr != nil {
		return fail(softErr)
	}

	if err := o.store.SetState(id, instance.StateReady); err != nil {
		return finish(instance.StateFailed, err)
	}
	log.Info("instance ready")
	return finish(instance.StateReady, nil)
}

// LoadPlugins dispatches on_load to every subscriber. Failures are
// logged per plugin; startup never fails because one plugin is broken.
func (o *Orchestrator) LoadPlugins(ctx context.Context, dataDir, configDir string) dispatch.Results {
	targets := o.registry.Subscribers(hook.OnLoad)
	results := o.dispatcher.Dispatch(ctx, dispatch.Invocation{
		Hook:    hook.OnLoad,
		Payload: hook.LoadPayload{DataDir: dataDir, ConfigDir: configDir},
		Targets: targets,
	})

	for _, id := range results.PluginIDs() {
		res := results[id]
		switch {
		case res.Err != nil:
			o.log.WithPlugin(id).Error(res.Err, "on_load failed")
		case !res.Response.OK():
			o.log.WithPlugin(id).Error(nil, "on_load answered "+res.Response.Status+": "+res.Response.Message)
		}
	}
	return results
}

// ensureRegistered adds a store record the first time a config is used.
func (o *Orchestrator) ensureRegistered(cfg *instance.Config) error {
	if _, err := o.store.Get(cfg.Instance.ID); err == nil {
		return nil
	}
	return o.store.Add(cfg.Record())
}

// confirm persists one confirmed hook outcome.
func (o *Orchestrator) confirm(id string, step planStep) error {
	var err error
	if step.action == ActionInstall {
		err = o.store.SetInstalled(id, step.pkg, step.version)
	} else {
		err = o.store.RemoveInstalled(id, step.pkg)
	}
	if err != nil {
		return fmt.Errorf("failed to persist %s of %s: %w", step.action, step.pkg, err)
	}
	return nil
}

func (o *Orchestrator) skipRemaining(report *Report, steps []planStep, reason string) {
	for _, step := range steps {
		report.Steps = append(report.Steps, StepResult{
			Action:  step.action,
			Package: step.pkg,
			Version: step.version,
			Status:  StepSkipped,
			Message: reason,
		})
		report.Skipped++
	}
}

// runStep dispatches one install or uninstall round to every subscriber
// and folds the per-plugin results into a single step outcome. The
// dispatch context is shielded from cancellation so an issued step always
// runs to completion under the dispatcher's timeout.
func (o *Orchestrator) runStep(ctx context.Context, cfg *instance.Config, step planStep) (StepResult, error) {
	name := hook.InstallPackage
	if step.action == ActionUninstall {
		name = hook.UninstallPackage
	}

	payload := hook.PackagePayload{
		Package:     step.pkg,
		Version:     step.version,
		Instance:    cfg.Instance.ID,
		InstanceDir: cfg.Instance.Dir,
	}

	start := o.now()
	results := o.dispatcher.Dispatch(context.WithoutCancel(ctx), dispatch.Invocation{
		Hook:    name,
		Payload: payload,
		Targets: o.registry.Subscribers(name),
	})
	duration := o.now().Sub(start)

	status, stepErr := o.evaluate(step, results)

	res := StepResult{
		Action:   step.action,
		Package:  step.pkg,
		Version:  step.version,
		Status:   status,
		Duration: duration,
	}
	if stepErr != nil {
		res.Plugin = stepErr.Plugin
		res.Message = stepErr.Message
		return res, stepErr
	}
	return res, nil
}

// evaluate folds per-plugin results into the step outcome. A fatal error
// returned by any plugin fails the step hard; a retryable error returned
// by any plugin fails it softly; a transport failure (crash, timeout,
// protocol violation) counts only when it hits the package's own
// provider, otherwise it is logged and tolerated.
func (o *Orchestrator) evaluate(step planStep, results dispatch.Results) (StepStatus, *allayerrors.InstallError) {
	var fatal, retryable *allayerrors.InstallError

	for _, pid := range results.PluginIDs() {
		res := results[pid]

		if res.Err != nil {
			if pid == step.provider {
				if retryable == nil {
					retryable = allayerrors.WrapInstallError(step.pkg, step.version, pid, allayerrors.KindRetryable, res.Err)
				}
			} else {
				o.log.WithPlugin(pid).Error(res.Err, "hook failure tolerated")
			}
			continue
		}

		if res.Response.OK() {
			continue
		}

		installErr := allayerrors.NewInstallError(step.pkg, step.version, pid, res.Response.ErrorKind, res.Response.Message)
		if installErr.IsFatal() {
			if fatal == nil {
				fatal = installErr
			}
		} else if retryable == nil {
			retryable = installErr
		}
	}

	if fatal != nil {
		return StepFatal, fatal
	}
	if retryable != nil {
		return StepRetryable, retryable
	}
	return StepOK, nil
}

// buildSteps lays the plan out as sequential hook rounds: uninstalls
// first, dependents before dependencies, then installs in plan order.
func buildSteps(plan *resolver.Plan, snap *pkgcache.Snapshot, installed map[string]string) []planStep {
	steps := make([]planStep, 0, len(plan.ToUninstall)+len(plan.ToInstall))

	for _, pkg := range plan.ToUninstall {
		step := planStep{action: ActionUninstall, pkg: pkg, version: installed[pkg]}
		if rec, ok := snap.Get(pkg, step.version); ok {
			step.provider = rec.Provider
		}
		steps = append(steps, step)
	}

	for _, rp := range plan.ToInstall {
		steps = append(steps, planStep{
			action:   ActionInstall,
			pkg:      rp.Package,
			version:  rp.Version,
			provider: rp.Provider,
		})
	}

	return steps
}

func requestedIDs(cfg *instance.Config) []string {
	ids := make([]string, 0, len(cfg.Packages))
	for _, p := range cfg.Packages {
		ids = append(ids, p.ID)
	}
	return ids
}

func requests(cfg *instance.Config) []resolver.Request {
	reqs := make([]resolver.Request, 0, len(cfg.Packages))
	for _, p := range cfg.Packages {
		reqs = append(reqs, resolver.Request{Package: p.ID, Constraint: p.Version})
	}
	return reqs
}
