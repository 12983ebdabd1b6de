package orchestrator

import (
	"time"

	"github.com/allay-dev/allay/internal/instance"
)

// Action is the kind of plan step applied to a package.
type Action string

const (
	ActionInstall   Action = "install"
	ActionUninstall Action = "uninstall"
)

// StepStatus is the outcome of one plan step.
type StepStatus string

const (
	// StepOK means the hooks confirmed the step; installed state was updated.
	StepOK StepStatus = "ok"
	// StepRetryable means the step failed but a later update retries it
	// naturally. Remaining steps still run; the run itself ends failed.
	StepRetryable StepStatus = "retryable"
	// StepFatal means the step failed hard and the remaining plan was skipped.
	StepFatal StepStatus = "fatal"
	// StepSkipped means the step was never dispatched (fatal failure or
	// cancellation earlier in the plan).
	StepSkipped StepStatus = "skipped"
)

// StepResult records one install or uninstall hook round.
type StepResult struct {
	Action   Action        `json:"action"`
	Package  string        `json:"package"`
	Version  string        `json:"version,omitempty"`
	Status   StepStatus    `json:"status"`
	Plugin   string        `json:"plugin,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the structured outcome of one update run.
type Report struct {
	RunID    string         `json:"run_id"`
	Instance string         `json:"instance"`
	State    instance.State `json:"state"`
	Steps    []StepResult   `json:"steps,omitempty"`

	Installed int `json:"installed"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Err is the structured failure when State is failed; Error mirrors it
	// as text for JSON consumers.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Ok reports whether the run reached ready.
func (r *Report) Ok() bool {
	return r != nil && r.State == instance.StateReady
}
