// Package dash is the interactive dashboard: one row per registered
// instance with its lifecycle state, and updates run in the background
// while the list stays responsive.
package dash

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/allay-dev/allay/internal/instance"
	"github.com/allay-dev/allay/internal/orchestrator"
)

// RecordSource lists registered instances.
type RecordSource interface {
	List() []instance.Record
}

// Updater runs one instance update end to end.
type Updater interface {
	Update(ctx context.Context, cfg *instance.Config) (*orchestrator.Report, error)
}

// updateFinishedMsg reports one background update's outcome.
type updateFinishedMsg struct {
	id     string
	report *orchestrator.Report
	err    error
}

// recordsReloadedMsg carries a fresh read of the store.
type recordsReloadedMsg struct {
	records []instance.Record
}

// Model is the dashboard model.
type Model struct {
	store   RecordSource
	updater Updater

	records []instance.Record
	cursor  int
	busy    map[string]bool
	notice  string

	spinner    spinner.Model
	width      int
	height     int
	useUnicode bool
}

// New builds the dashboard over the given store.
func New(store RecordSource, updater Updater, useUnicode bool) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return Model{
		store:      store,
		updater:    updater,
		records:    store.List(),
		busy:       make(map[string]bool),
		spinner:    s,
		width:      80,
		height:     24,
		useUnicode: useUnicode,
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(store RecordSource, updater Updater, useUnicode bool) error {
	_, err := tea.NewProgram(New(store, updater, useUnicode), tea.WithAltScreen()).Run()
	return err
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case recordsReloadedMsg:
		m.records = msg.records
		if m.cursor >= len(m.records) && len(m.records) > 0 {
			m.cursor = len(m.records) - 1
		}
		return m, nil

	case updateFinishedMsg:
		delete(m.busy, msg.id)
		m.notice = noticeFor(msg)
		return m, reloadCmd(m.store)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		m.moveCursor(-1)
		return m, nil

	case "down", "j":
		m.moveCursor(1)
		return m, nil

	case "r":
		m.notice = ""
		return m, reloadCmd(m.store)

	case "u":
		rec, ok := m.selected()
		if !ok || m.busy[rec.ID] {
			return m, nil
		}
		m.busy[rec.ID] = true
		m.notice = "updating " + rec.ID
		return m, tea.Batch(m.spinner.Tick, updateCmd(m.updater, rec))
	}

	return m, nil
}

func (m *Model) moveCursor(delta int) {
	if len(m.records) == 0 {
		return
	}
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = len(m.records) - 1
	}
	if m.cursor >= len(m.records) {
		m.cursor = 0
	}
}

func (m Model) selected() (instance.Record, bool) {
	if m.cursor < 0 || m.cursor >= len(m.records) {
		return instance.Record{}, false
	}
	return m.records[m.cursor], true
}

// updateCmd loads the instance config and runs the update off the UI
// goroutine.
func updateCmd(updater Updater, rec instance.Record) tea.Cmd {
	return func() tea.Msg {
		cfg, err := instance.LoadConfig(rec.Path)
		if err != nil {
			return updateFinishedMsg{id: rec.ID, err: err}
		}
		report, err := updater.Update(context.Background(), cfg)
		return updateFinishedMsg{id: rec.ID, report: report, err: err}
	}
}

func reloadCmd(store RecordSource) tea.Cmd {
	return func() tea.Msg {
		return recordsReloadedMsg{records: store.List()}
	}
}

func noticeFor(msg updateFinishedMsg) string {
	if msg.err != nil {
		return fmt.Sprintf("%s: update failed: %v", msg.id, msg.err)
	}
	r := msg.report
	return fmt.Sprintf("%s: %s (%d installed, %d removed, %d failed)",
		msg.id, r.State, r.Installed, r.Removed, r.Failed)
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	if len(m.records) == 0 {
		b.WriteString(emptyStyle.Render("No instances registered. Add one with: allay instance add <config.yaml>"))
		b.WriteString("\n")
	} else {
		for i, rec := range m.records {
			b.WriteString(m.renderRow(i, rec))
			b.WriteString("\n")
		}
	}

	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	var ready, failed, busy, idle int
	for _, rec := range m.records {
		switch {
		case rec.State == instance.StateReady:
			ready++
		case rec.State == instance.StateFailed:
			failed++
		case rec.State.Busy():
			busy++
		default:
			idle++
		}
	}

	title := titleStyle.Render("Allay Instances")
	summary := fmt.Sprintf("%s %d ready   %s %d failed   %s %d busy   %s %d idle",
		m.icon(instance.StateReady), ready,
		m.icon(instance.StateFailed), failed,
		m.icon(instance.StateInstalling), busy,
		m.icon(instance.StateIdle), idle,
	)

	return headerStyle.Render(title + "\n" + summary)
}

func (m Model) renderRow(i int, rec instance.Record) string {
	icon := m.icon(rec.State)
	if m.busy[rec.ID] {
		icon = m.spinner.View()
	}

	state := stateStyle(rec.State).Render(fmt.Sprintf("%-10s", rec.State))
	line := fmt.Sprintf("%s %-20s %s %3d packages   %s",
		icon, rec.ID, state, len(rec.Installed), lastUpdate(rec))

	if rec.State == instance.StateFailed && rec.LastError != "" {
		line += "  " + errorStyle.Render(truncate(rec.LastError, 48))
	}

	marker := "  "
	if i == m.cursor {
		if m.useUnicode {
			marker = "▸ "
		} else {
			marker = "> "
		}
		return selectedRowStyle.Render(marker + line)
	}
	return rowStyle.Render(marker + line)
}

func (m Model) renderFooter() string {
	keys := "up/down move   u update   r reload   q quit"
	return footerStyle.Render(keys)
}

func (m Model) icon(s instance.State) string {
	if m.useUnicode {
		return s.Icon()
	}
	return s.IconFallback()
}

func lastUpdate(rec instance.Record) string {
	if rec.LastUpdate.IsZero() {
		return "never updated"
	}
	return formatAgo(time.Since(rec.LastUpdate))
}

func formatAgo(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
