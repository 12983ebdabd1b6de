// Package instance holds the user-facing instance configuration and the
// system-owned state store that tracks what is installed where.
package instance

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// State is where an instance currently sits in its update lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSyncing    State = "syncing"
	StateResolving  State = "resolving"
	StateInstalling State = "installing"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

// Busy reports whether an update is currently running.
func (s State) Busy() bool {
	switch s {
	case StateSyncing, StateResolving, StateInstalling:
		return true
	}
	return false
}

// Icon returns the Unicode icon for the state.
func (s State) Icon() string {
	switch s {
	case StateReady:
		return "🟢"
	case StateFailed:
		return "🔴"
	case StateSyncing, StateResolving, StateInstalling:
		return "🔵"
	default:
		return "⚪"
	}
}

// IconFallback returns an ASCII fallback when Unicode is not supported.
func (s State) IconFallback() string {
	switch s {
	case StateReady:
		return "[OK]"
	case StateFailed:
		return "[XX]"
	case StateSyncing, StateResolving, StateInstalling:
		return "[..]"
	default:
		return "[--]"
	}
}

// Color returns the lipgloss color for the state.
func (s State) Color() lipgloss.Color {
	switch s {
	case StateReady:
		return lipgloss.Color("42") // green
	case StateFailed:
		return lipgloss.Color("196") // red
	case StateSyncing, StateResolving, StateInstalling:
		return lipgloss.Color("33") // blue
	default:
		return lipgloss.Color("250") // light gray
	}
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Record is one registered instance as persisted in the state store.
// Installed is ground truth for what the orchestrator confirmed; nothing
// else mutates it.
type Record struct {
	ID         string            `json:"id"`
	Path       string            `json:"path"`
	Dir        string            `json:"dir"`
	State      State             `json:"state"`
	Installed  map[string]string `json:"installed,omitempty"`
	LastUpdate time.Time         `json:"last_update"`
	LastError  string            `json:"last_error,omitempty"`
}

// storeFile is the JSON document format of the instance store.
type storeFile struct {
	Version   string   `json:"version"`
	Instances []Record `json:"instances"`
}
