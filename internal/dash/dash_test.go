package dash

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allay-dev/allay/internal/instance"
	"github.com/allay-dev/allay/internal/orchestrator"
)

type fakeStore struct {
	mu      sync.Mutex
	records []instance.Record
}

func (f *fakeStore) List() []instance.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]instance.Record, len(f.records))
	copy(out, f.records)
	return out
}

type fakeUpdater struct {
	report *orchestrator.Report
	err    error
	calls  []string
}

func (f *fakeUpdater) Update(_ context.Context, cfg *instance.Config) (*orchestrator.Report, error) {
	f.calls = append(f.calls, cfg.Instance.ID)
	return f.report, f.err
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func writeInstanceConfig(t *testing.T, id string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), id+".yaml")
	content := "instance:\n  id: " + id + "\n  dir: server\npackages:\n  - sodium\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewLoadsRecords(t *testing.T) {
	store := &fakeStore{records: []instance.Record{
		{ID: "smp", State: instance.StateReady},
		{ID: "creative", State: instance.StateIdle},
	}}

	m := New(store, nil, true)
	assert.Len(t, m.records, 2)
	assert.Equal(t, 0, m.cursor)
}

func TestCursorNavigationWraps(t *testing.T) {
	store := &fakeStore{records: []instance.Record{
		{ID: "smp"}, {ID: "creative"},
	}}
	m := New(store, nil, true)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 0, m.cursor, "cursor wraps past the end")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor, "cursor wraps past the start")
}

func TestUpdateKeyRunsSelectedInstance(t *testing.T) {
	path := writeInstanceConfig(t, "smp")
	store := &fakeStore{records: []instance.Record{{ID: "smp", Path: path, State: instance.StateIdle}}}
	updater := &fakeUpdater{report: &orchestrator.Report{
		Instance:  "smp",
		State:     instance.StateReady,
		Installed: 1,
	}}

	m := New(store, updater, true)
	next, cmd := m.Update(keyMsg("u"))
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.busy["smp"])

	var fin updateFinishedMsg
	found := false
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok)
	for _, c := range batch {
		if res := c(); res != nil {
			if f, isFin := res.(updateFinishedMsg); isFin {
				fin = f
				found = true
			}
		}
	}
	require.True(t, found, "the batch carries the background update")
	require.NoError(t, fin.err)
	assert.Equal(t, "smp", fin.id)
	assert.Equal(t, []string{"smp"}, updater.calls, "config is loaded from the record's path")

	next, reload := m.Update(fin)
	m = next.(Model)
	assert.False(t, m.busy["smp"])
	assert.Contains(t, m.notice, "ready")
	require.NotNil(t, reload, "finishing an update reloads the store")
}

func TestUpdateKeyIgnoredWhileBusy(t *testing.T) {
	store := &fakeStore{records: []instance.Record{{ID: "smp", State: instance.StateInstalling}}}
	m := New(store, &fakeUpdater{}, true)
	m.busy["smp"] = true

	_, cmd := m.Update(keyMsg("u"))
	assert.Nil(t, cmd)
}

func TestUpdateFailureShowsNotice(t *testing.T) {
	path := writeInstanceConfig(t, "smp")
	store := &fakeStore{records: []instance.Record{{ID: "smp", Path: path}}}

	m := New(store, &fakeUpdater{}, true)
	next, _ := m.Update(updateFinishedMsg{id: "smp", err: assert.AnError})
	m = next.(Model)
	assert.Contains(t, m.notice, "update failed")
}

func TestReloadPicksUpStoreChanges(t *testing.T) {
	store := &fakeStore{records: []instance.Record{{ID: "smp", State: instance.StateIdle}}}
	m := New(store, nil, true)

	store.mu.Lock()
	store.records = []instance.Record{{ID: "smp", State: instance.StateReady}}
	store.mu.Unlock()

	_, cmd := m.Update(keyMsg("r"))
	require.NotNil(t, cmd)

	next, _ := m.Update(cmd())
	m = next.(Model)
	require.Len(t, m.records, 1)
	assert.Equal(t, instance.StateReady, m.records[0].State)
}

func TestViewRendersRows(t *testing.T) {
	store := &fakeStore{records: []instance.Record{
		{ID: "smp", State: instance.StateReady, Installed: map[string]string{"sodium": "1.0.0"}},
		{ID: "creative", State: instance.StateFailed, LastError: "provider modrinth unreachable"},
	}}

	m := New(store, nil, false)
	view := m.View()

	assert.Contains(t, view, "smp")
	assert.Contains(t, view, "creative")
	assert.Contains(t, view, "[OK]", "ASCII icons are used without Unicode support")
	assert.Contains(t, view, "provider modrinth unreachable")
	assert.Contains(t, view, "u update")
}

func TestViewEmptyState(t *testing.T) {
	m := New(&fakeStore{}, nil, true)
	assert.Contains(t, m.View(), "No instances registered")
}
