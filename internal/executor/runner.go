// Package executor runs workflow definitions: dependency-ordered scheduling,
// fan-out/fan-in parallel groups, per-unit timeouts, and a complete step
// ledger even when individual steps fail.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/danielpatrickdp/swarm-conductor/internal/workflow"
)

// #region runner

// Runner executes validated workflow definitions against a registry of step
// implementations.
type Runner struct {
	registry *Registry
}

// NewRunner creates a Runner backed by the given registry.
func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

// #endregion runner

// #region run

// Run executes def to completion. A step becomes eligible only once every
// dependency is terminal; steps with no mutual ordering run concurrently.
// Failures and timeouts are recorded and do not block dependents; the run
// itself fails only when a step marked required did not succeed.
func (r *Runner) Run(ctx context.Context, def workflow.Definition, runKey string) RunResult {
	start := time.Now()
	rc := RunContext{RunKey: runKey, Workflow: def.Name}
	led := &ledger{}

	type stepDone struct {
		name   string
		status Status
	}
	done := make(chan stepDone, len(def.Steps))
	completed := make(map[string]Status, len(def.Steps))
	launched := make(map[string]bool, len(def.Steps))

	log.Printf("[EXEC] run %s workflow=%s steps=%d", runKey, def.Name, len(def.Steps))

	for len(completed) < len(def.Steps) {
		for _, s := range def.Steps {
			if launched[s.Name] {
				continue
			}
			if ctx.Err() != nil {
				// Daemon shutdown: everything not yet started is skipped.
				launched[s.Name] = true
				completed[s.Name] = StatusSkipped
				led.record(StepResult{Name: s.Name, Status: StatusSkipped, Err: "run canceled"})
				continue
			}
			if !depsTerminal(s, completed) {
				continue
			}
			launched[s.Name] = true
			go func(s workflow.Step) {
				done <- stepDone{name: s.Name, status: r.runStep(ctx, s, rc, led)}
			}(s)
		}

		if len(completed) == len(def.Steps) {
			break
		}
		d := <-done
		completed[d.name] = d.status
	}

	status := StatusSucceeded
	for _, s := range def.Steps {
		if s.Required && completed[s.Name] != StatusSucceeded {
			status = StatusFailed
			break
		}
	}

	result := RunResult{
		RunKey:    runKey,
		Workflow:  def.Name,
		Status:    status,
		Ledger:    led.snapshot(),
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
	}
	log.Printf("[EXEC] run %s finished status=%s steps=%d duration=%s",
		runKey, status, len(result.Ledger), result.Duration.Round(time.Millisecond))
	return result
}

func depsTerminal(s workflow.Step, completed map[string]Status) bool {
	for _, dep := range s.DependsOn {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

// #endregion run

// #region run-step

// runStep executes one step (atomic or group), records its ledger entries,
// and returns the step's terminal status.
func (r *Runner) runStep(ctx context.Context, s workflow.Step, rc RunContext, led *ledger) Status {
	if s.Kind == workflow.KindGroup {
		return r.runGroup(ctx, s, rc, led)
	}

	start := time.Now()
	fn, ok := r.registry.Lookup(s.Name)
	if !ok {
		led.record(StepResult{Name: s.Name, Status: StatusSkipped, Err: "no registered implementation"})
		return StatusSkipped
	}

	status, errText := runUnit(ctx, fn, rc, s.Timeout)
	res := StepResult{Name: s.Name, Status: status, Duration: time.Since(start), Err: errText}
	led.record(res)
	if status != StatusSucceeded {
		log.Printf("[EXEC] run %s step=%s status=%s err=%q", rc.RunKey, s.Name, status, errText)
	}
	return status
}

// #endregion run-step

// #region run-group

// runGroup fans out all child tasks concurrently and joins when every child
// is terminal. A child's timeout cancels only that child. The group fails
// only when no child succeeds, so partial agent failures degrade the run
// instead of aborting it.
func (r *Runner) runGroup(ctx context.Context, s workflow.Step, rc RunContext, led *ledger) Status {
	start := time.Now()
	statuses := make([]Status, len(s.Tasks))

	var wg sync.WaitGroup
	for i, task := range s.Tasks {
		wg.Add(1)
		go func(i int, task workflow.Task) {
			defer wg.Done()
			name := s.Name + "/" + task.Name
			taskStart := time.Now()

			fn, ok := r.registry.Lookup(task.Name)
			if !ok {
				statuses[i] = StatusSkipped
				led.record(StepResult{Name: name, Status: StatusSkipped, Err: "no registered implementation"})
				return
			}

			status, errText := runUnit(ctx, fn, rc, task.Timeout)
			statuses[i] = status
			led.record(StepResult{Name: name, Status: status, Duration: time.Since(taskStart), Err: errText})
			if status != StatusSucceeded {
				log.Printf("[EXEC] run %s task=%s status=%s err=%q", rc.RunKey, name, status, errText)
			}
		}(i, task)
	}
	wg.Wait()

	succeeded, failedCount := 0, 0
	for _, st := range statuses {
		if st == StatusSucceeded {
			succeeded++
		} else {
			failedCount++
		}
	}

	status := StatusSucceeded
	errText := ""
	if succeeded == 0 {
		status = StatusFailed
		errText = "no task succeeded"
	} else if failedCount > 0 {
		errText = fmt.Sprintf("%d of %d tasks did not succeed", failedCount, len(s.Tasks))
	}
	led.record(StepResult{Name: s.Name, Status: status, Duration: time.Since(start), Err: errText})
	return status
}

// #endregion run-group

// #region run-unit

// runUnit invokes one opaque unit of work under its own timeout. Exceeding
// the timeout cancels and records only this unit; siblings are untouched.
func runUnit(ctx context.Context, fn StepFunc, rc RunContext, timeout time.Duration) (Status, string) {
	unitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- fn(unitCtx, rc) }()

	select {
	case err := <-errCh:
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && unitCtx.Err() == context.DeadlineExceeded {
				return StatusTimedOut, fmt.Sprintf("exceeded %s timeout", timeout)
			}
			return StatusFailed, err.Error()
		}
		return StatusSucceeded, ""
	case <-unitCtx.Done():
		// The unit ignored its context; abandon it rather than block siblings.
		if unitCtx.Err() == context.DeadlineExceeded {
			return StatusTimedOut, fmt.Sprintf("exceeded %s timeout", timeout)
		}
		return StatusFailed, "run canceled"
	}
}

// #endregion run-unit
