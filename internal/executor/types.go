package executor

import (
	"sync"
	"time"
)

// #region status

// Status is the terminal state of one step or task.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether a unit in this status unblocks its dependents.
// All four statuses are terminal; the default policy is continue-past-failure.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut || s == StatusSkipped
}

// #endregion status

// #region step-result

// StepResult is one ledger entry: what happened to one step or group task.
type StepResult struct {
	Name     string
	Status   Status
	Duration time.Duration
	Err      string // failure or timeout detail, empty on success
}

// #endregion step-result

// #region ledger

// ledger collects step results under a mutex. Writes come from concurrently
// completing steps; each append is atomic, never a torn write.
type ledger struct {
	mu      sync.Mutex
	entries []StepResult
}

func (l *ledger) record(r StepResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, r)
}

func (l *ledger) snapshot() []StepResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StepResult, len(l.entries))
	copy(out, l.entries)
	return out
}

// #endregion ledger

// #region run-result

// RunResult is the complete record of one workflow run.
type RunResult struct {
	RunKey    string
	Workflow  string
	Status    Status // StatusSucceeded unless a required step did not succeed
	Ledger    []StepResult
	StartedAt time.Time
	Duration  time.Duration
}

// #endregion run-result
