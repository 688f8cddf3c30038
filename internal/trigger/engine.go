// Package trigger decides when workflows start: event-driven rules with
// cooldown suppression and fixed-cadence schedules.
package trigger

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// #region engine

// Engine evaluates trigger rules against incoming events and runs the
// schedule loop. Cooldown state and previous metric values are the engine's
// only mutable state, guarded for concurrent events.
type Engine struct {
	mu        sync.Mutex
	rules     []Rule
	lastFired map[string]time.Time
	prev      map[string]float64 // rule name → last observed metric value
	armed     map[string]bool    // rule name → prev is populated

	schedules []Schedule
	parsed    []cron.Schedule

	out chan StartRequest
	now func() time.Time
}

// NewEngine validates rules and schedule cadences and returns a ready engine.
// buffer sizes the start-request channel; requests beyond it are dropped
// with a log line rather than blocking event intake.
func NewEngine(rules []Rule, schedules []Schedule, buffer int) (*Engine, error) {
	for _, r := range rules {
		if _, err := ParseOp(string(r.Op)); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if r.Workflow == "" {
			return nil, fmt.Errorf("rule %q: missing workflow", r.Name)
		}
	}

	parsed := make([]cron.Schedule, len(schedules))
	for i, s := range schedules {
		sched, err := cron.ParseStandard(s.Cadence)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: bad cadence %q: %w", s.Name, s.Cadence, err)
		}
		parsed[i] = sched
	}

	return &Engine{
		rules:     rules,
		lastFired: make(map[string]time.Time),
		prev:      make(map[string]float64),
		armed:     make(map[string]bool),
		schedules: schedules,
		parsed:    parsed,
		out:       make(chan StartRequest, buffer),
		now:       time.Now,
	}, nil
}

// Requests returns the channel of workflow start requests.
func (e *Engine) Requests() <-chan StartRequest {
	return e.out
}

// #endregion engine

// #region handle-event

// HandleEvent evaluates every rule whose event type matches. A rule inside
// its cooldown window is suppressed even when its condition holds. Safe for
// concurrent callers.
func (e *Engine) HandleEvent(evt Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, rule := range e.rules {
		if rule.EventType != evt.Type || rule.Metric != evt.Metric {
			continue
		}

		fired := e.conditionHolds(rule, evt.Value)

		// Every observation re-arms the rule for the next cross check.
		e.prev[rule.Name] = evt.Value
		e.armed[rule.Name] = true

		if !fired {
			continue
		}
		if last, ok := e.lastFired[rule.Name]; ok && now.Sub(last) < rule.Cooldown {
			log.Printf("[TRIG] rule=%s suppressed (cooldown %s remaining)",
				rule.Name, (rule.Cooldown - now.Sub(last)).Round(time.Second))
			continue
		}

		e.lastFired[rule.Name] = now
		e.enqueue(StartRequest{
			Workflow: rule.Workflow,
			RunKey:   uuid.New().String(),
			Source:   "trigger:" + rule.Name,
		})
	}
}

// conditionHolds evaluates the rule condition. Cross operators require an
// armed previous value; the first observation only arms.
func (e *Engine) conditionHolds(rule Rule, value float64) bool {
	if rule.Op.needsPrevious() && !e.armed[rule.Name] {
		return false
	}
	prev := e.prev[rule.Name]

	switch rule.Op {
	case OpGreaterThan:
		return value > rule.Threshold
	case OpLessThan:
		return value < rule.Threshold
	case OpCrossAbove:
		return prev <= rule.Threshold && value > rule.Threshold
	case OpCrossBelow:
		return prev >= rule.Threshold && value < rule.Threshold
	}
	return false
}

// #endregion handle-event

// #region schedules

// RunSchedules blocks until ctx is done, enqueueing each schedule's workflow
// whenever its cadence comes due. Scheduled runs are keyed by date for
// idempotent daily re-runs.
func (e *Engine) RunSchedules(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range e.schedules {
		wg.Add(1)
		go func(s Schedule, sched cron.Schedule) {
			defer wg.Done()
			for {
				next := sched.Next(e.now())
				timer := time.NewTimer(next.Sub(e.now()))
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
					e.enqueue(StartRequest{
						Workflow: s.Workflow,
						RunKey:   next.UTC().Format("2006-01-02"),
						Source:   "schedule:" + s.Name,
					})
				}
			}
		}(e.schedules[i], e.parsed[i])
	}
	wg.Wait()
}

// #endregion schedules

// #region enqueue

func (e *Engine) enqueue(req StartRequest) {
	select {
	case e.out <- req:
		log.Printf("[TRIG] enqueue workflow=%s run=%s source=%s", req.Workflow, req.RunKey, req.Source)
	default:
		log.Printf("[TRIG] queue full, dropping workflow=%s source=%s", req.Workflow, req.Source)
	}
}

// #endregion enqueue
