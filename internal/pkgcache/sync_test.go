package pkgcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allay-dev/allay/internal/hook"
	"github.com/allay-dev/allay/internal/registry"
	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

type fakeSubs []*registry.Plugin

func (f fakeSubs) Subscribers(hook.Name) []*registry.Plugin { return f }

type fakeCaller struct {
	mu        sync.Mutex
	responses map[string]func() (*hook.Response, error)
	calls     []string
}

func (f *fakeCaller) Call(_ context.Context, p *registry.Plugin, _ hook.Name, _ any) (*hook.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p.ID)
	fn := f.responses[p.ID]
	f.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("no scripted response for %s", p.ID)
	}
	return fn()
}

func provider(id string) *registry.Plugin {
	return &registry.Plugin{ID: id, Hooks: []hook.Name{hook.ProvidePackages}}
}

func okProvide(t *testing.T, records ...hook.PackageRecord) func() (*hook.Response, error) {
	t.Helper()
	data, err := json.Marshal(hook.ProvideData{Packages: records})
	require.NoError(t, err)
	return func() (*hook.Response, error) {
		return &hook.Response{Status: hook.StatusOK, Data: data}, nil
	}
}

func TestSyncAppliesEveryProvider(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	caller := &fakeCaller{responses: map[string]func() (*hook.Response, error){
		"modrinth": okProvide(t,
			hook.PackageRecord{Package: "sodium", Version: "0.5.0"},
			hook.PackageRecord{Package: "sodium", Version: "0.5.1"},
		),
		"curseforge": okProvide(t,
			hook.PackageRecord{Package: "jei", Version: "15.0.0"},
		),
	}}

	s := NewSyncer(cache, caller, fakeSubs{provider("modrinth"), provider("curseforge")}, nil)
	report, err := s.Sync(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, report.Ok())

	assert.Equal(t, 1, report.Providers["modrinth"].Packages)
	assert.Equal(t, 2, report.Providers["modrinth"].Versions)
	assert.Equal(t, 1, report.Providers["curseforge"].Packages)

	snap := cache.Snapshot()
	assert.Equal(t, []string{"jei", "sodium"}, snap.Packages())
	assert.Equal(t, []string{"0.5.0", "0.5.1"}, snap.Versions("sodium"))
}

func TestSyncFailureKeepsPriorSubset(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	good := &fakeCaller{responses: map[string]func() (*hook.Response, error){
		"modrinth": okProvide(t, hook.PackageRecord{Package: "sodium", Version: "0.5.0"}),
	}}
	s := NewSyncer(cache, good, fakeSubs{provider("modrinth")}, nil)
	_, err := s.Sync(context.Background(), nil)
	require.NoError(t, err)

	bad := &fakeCaller{responses: map[string]func() (*hook.Response, error){
		"modrinth": func() (*hook.Response, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}}
	s = NewSyncer(cache, bad, fakeSubs{provider("modrinth")}, nil)
	report, err := s.Sync(context.Background(), nil)
	require.NoError(t, err)

	require.Equal(t, []string{"modrinth"}, report.Failed)
	var syncErr *allayerrors.SyncError
	require.ErrorAs(t, report.Providers["modrinth"].Err, &syncErr)
	assert.Equal(t, "modrinth", syncErr.Provider)

	assert.Equal(t, []string{"0.5.0"}, cache.Snapshot().Versions("sodium"),
		"failed sync must leave the prior subset readable")
}

func TestSyncIsolatesProviderFailures(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	caller := &fakeCaller{responses: map[string]func() (*hook.Response, error){
		"modrinth": okProvide(t, hook.PackageRecord{Package: "sodium", Version: "0.5.0"}),
		"curseforge": func() (*hook.Response, error) {
			return &hook.Response{Status: hook.StatusError, Message: "rate limited"}, nil
		},
	}}

	s := NewSyncer(cache, caller, fakeSubs{provider("modrinth"), provider("curseforge")}, nil)
	report, err := s.Sync(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"curseforge"}, report.Failed)
	assert.True(t, cache.Snapshot().Has("sodium"), "healthy provider must still apply")

	errs := report.Errs()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "rate limited")
}

func TestSyncRejectsMalformedConstraintBatch(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	caller := &fakeCaller{responses: map[string]func() (*hook.Response, error){
		"modrinth": okProvide(t,
			hook.PackageRecord{Package: "sodium", Version: "0.5.0"},
			hook.PackageRecord{
				Package: "magnesium", Version: "1.0.0",
				Dependencies: []hook.DependencyRecord{{Package: "sodium", Constraint: "..0.5.0"}},
			},
		),
	}}

	s := NewSyncer(cache, caller, fakeSubs{provider("modrinth")}, nil)
	report, err := s.Sync(context.Background(), nil)
	require.NoError(t, err)

	require.Equal(t, []string{"modrinth"}, report.Failed)
	assert.False(t, cache.Snapshot().Has("sodium"),
		"a malformed record must fail the whole batch")
}

func TestSyncHonorsFirstClaimantAcrossProviders(t *testing.T) {
	t.Parallel()

	cache := NewCache()

	first := NewSyncer(cache, &fakeCaller{responses: map[string]func() (*hook.Response, error){
		"modrinth": okProvide(t, hook.PackageRecord{Package: "sodium", Version: "0.5.0"}),
	}}, fakeSubs{provider("modrinth")}, nil)
	_, err := first.Sync(context.Background(), nil)
	require.NoError(t, err)

	second := NewSyncer(cache, &fakeCaller{responses: map[string]func() (*hook.Response, error){
		"curseforge": okProvide(t,
			hook.PackageRecord{Package: "sodium", Version: "0.9.9"},
			hook.PackageRecord{Package: "jei", Version: "15.0.0"},
		),
	}}, fakeSubs{provider("curseforge")}, nil)
	report, err := second.Sync(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, report.Ok())

	assert.Equal(t, 1, report.Providers["curseforge"].Skipped)

	owner, ok := cache.Snapshot().Provider("sodium")
	require.True(t, ok)
	assert.Equal(t, "modrinth", owner)
}

func TestSyncSerializesSameProvider(t *testing.T) {
	t.Parallel()

	var inFlight, violations int32
	caller := &fakeCaller{responses: map[string]func() (*hook.Response, error){
		"modrinth": func() (*hook.Response, error) {
			if atomic.AddInt32(&inFlight, 1) > 1 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return &hook.Response{Status: hook.StatusOK, Data: []byte(`{"packages":[]}`)}, nil
		},
	}}

	cache := NewCache()
	s := NewSyncer(cache, caller, fakeSubs{provider("modrinth")}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Sync(context.Background(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&violations),
		"syncs of one provider must never overlap")
	assert.Equal(t, uint64(4), cache.Snapshot().Generation())
}

func TestSyncWithoutProviders(t *testing.T) {
	t.Parallel()

	s := NewSyncer(NewCache(), &fakeCaller{}, fakeSubs{}, nil)
	report, err := s.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, report.Ok())
	assert.Empty(t, report.Providers)
}
