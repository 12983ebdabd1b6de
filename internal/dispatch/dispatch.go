// Package dispatch runs hooks against plugin processes. Each call spawns the
// plugin executable with the hook name as its argument, feeds the request
// envelope on stdin, and reads the response from the last non-empty stdout
// line. Plugins are free to print anything else before that line.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/allay-dev/allay/internal/hook"
	"github.com/allay-dev/allay/internal/logger"
	"github.com/allay-dev/allay/internal/registry"
	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

const (
	// DefaultTimeout bounds a single hook process when no override is set.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxParallel bounds concurrent hook processes per fan-out.
	DefaultMaxParallel = 4
)

// Dispatcher invokes hooks on plugins. It holds no state between calls, so a
// single dispatcher can serve concurrent fan-outs.
type Dispatcher struct {
	// Timeout applies to each plugin process individually. Zero or negative
	// falls back to DefaultTimeout.
	Timeout time.Duration

	// MaxParallel caps how many plugin processes run at once during a
	// fan-out. Zero or negative falls back to DefaultMaxParallel.
	MaxParallel int

	// DataDir and ConfigDir are exported to every plugin process through the
	// environment.
	DataDir   string
	ConfigDir string

	log *logger.Logger
}

// New creates a dispatcher with default timeout and parallelism.
func New(dataDir, configDir string, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		Timeout:     DefaultTimeout,
		MaxParallel: DefaultMaxParallel,
		DataDir:     dataDir,
		ConfigDir:   configDir,
		log:         log,
	}
}

// Invocation is one hook fanned out across a set of plugins.
type Invocation struct {
	Hook    hook.Name
	Payload any
	Targets []*registry.Plugin
}

// Result is the outcome of one plugin call. Exactly one of Response and Err
// is meaningful: transport failures (crash, timeout, protocol violation)
// populate Err, everything the plugin actually answered lands in Response,
// including status "error" answers.
type Result struct {
	Plugin     string
	Invocation string
	Response   *hook.Response
	Err        error
	Duration   time.Duration
}

// Results maps plugin id to its outcome. Every target of a fan-out has an
// entry, failed or not.
type Results map[string]Result

// Ok reports whether the named plugin answered with status "ok".
func (r Results) Ok(plugin string) bool {
	res, found := r[plugin]
	return found && res.Err == nil && res.Response.OK()
}

// PluginIDs returns the plugin ids sorted, for deterministic aggregation.
func (r Results) PluginIDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Errs collects transport failures in plugin id order.
func (r Results) Errs() []error {
	var errs []error
	for _, id := range r.PluginIDs() {
		if res := r[id]; res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// Dispatch fans the invocation out to every target, bounded by MaxParallel.
// One plugin failing never affects the others; the returned map always has
// an entry per target. Targets sharing an id keep the last-written result,
// but the registry never produces duplicate ids.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) Results {
	results := make(Results, len(inv.Targets))
	if len(inv.Targets) == 0 {
		return results
	}

	maxParallel := d.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	pool := make(chan struct{}, maxParallel)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, target := range inv.Targets {
		wg.Add(1)
		go func(p *registry.Plugin) {
			defer wg.Done()

			var res Result
			select {
			case pool <- struct{}{}:
				defer func() { <-pool }()
				res = d.call(ctx, p, inv.Hook, inv.Payload)
			case <-ctx.Done():
				res = Result{Plugin: p.ID, Err: ctx.Err()}
			}

			mu.Lock()
			results[p.ID] = res
			mu.Unlock()
		}(target)
	}

	wg.Wait()
	return results
}

// Call invokes a hook on a single plugin.
func (d *Dispatcher) Call(ctx context.Context, p *registry.Plugin, name hook.Name, payload any) (*hook.Response, error) {
	res := d.call(ctx, p, name, payload)
	return res.Response, res.Err
}

func (d *Dispatcher) call(ctx context.Context, p *registry.Plugin, name hook.Name, payload any) Result {
	result := Result{Plugin: p.ID, Invocation: uuid.New().String()}
	start := time.Now()

	request, err := json.Marshal(hook.Request{Hook: name, Payload: payload})
	if err != nil {
		result.Err = fmt.Errorf("encoding %s request for plugin %s: %w", name, p.ID, err)
		return result
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(callCtx, p.Executable, string(name))
	cmd.Dir = p.Dir
	cmd.Stdin = bytes.NewReader(request)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = pluginEnv(p, name, d.DataDir, d.ConfigDir)

	log := d.log.WithPlugin(p.ID).WithFields(map[string]any{
		"hook":       string(name),
		"invocation": result.Invocation,
	})
	log.Debug("dispatching hook")

	runErr := cmd.Run()
	result.Duration = time.Since(start)

	if runErr != nil {
		// The context deadline kills the process, which surfaces as a
		// signal exit; report the timeout rather than the kill.
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result.Err = allayerrors.NewHookTimeoutError(p.ID, string(name), timeout)
			log.Error(result.Err, "hook timed out")
			return result
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			cause := runErr
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				cause = fmt.Errorf("%w: %s", runErr, msg)
			}
			result.Err = allayerrors.NewHookCrashError(p.ID, string(name), exitErr.ExitCode(), cause)
			log.Error(result.Err, "hook crashed")
			return result
		}

		// Spawn failures (missing executable, permissions) never ran the
		// hook at all; -1 marks the absent exit status.
		result.Err = allayerrors.NewHookCrashError(p.ID, string(name), -1, runErr)
		log.Error(result.Err, "hook process could not start")
		return result
	}

	line := lastLine(stdout.String())
	if line == "" {
		result.Err = allayerrors.NewHookProtocolError(p.ID, string(name), "no response on stdout", nil)
		return result
	}

	var resp hook.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		result.Err = allayerrors.NewHookProtocolError(p.ID, string(name), "undecodable response line", err)
		return result
	}
	if resp.Status != hook.StatusOK && resp.Status != hook.StatusError {
		result.Err = allayerrors.NewHookProtocolError(p.ID, string(name), fmt.Sprintf("unknown status %q", resp.Status), nil)
		return result
	}

	result.Response = &resp
	log.WithFields(map[string]any{"status": resp.Status}).Debug("hook answered")
	return result
}

func pluginEnv(p *registry.Plugin, name hook.Name, dataDir, configDir string) []string {
	env := os.Environ()
	env = append(env,
		fmt.Sprintf("%s=%s", hook.EnvPluginID, p.ID),
		fmt.Sprintf("%s=%s", hook.EnvHook, name),
		fmt.Sprintf("%s=%s", hook.EnvDataDir, dataDir),
		fmt.Sprintf("%s=%s", hook.EnvConfigDir, configDir),
	)
	if len(p.CustomConfig) > 0 {
		if raw, err := json.Marshal(p.CustomConfig); err == nil {
			env = append(env, fmt.Sprintf("%s=%s", hook.EnvCustomConfig, string(raw)))
		}
	}
	return env
}

// lastLine returns the last non-empty line of out, trimmed.
func lastLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
