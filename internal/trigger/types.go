package trigger

import (
	"fmt"
	"time"
)

// #region operator

// Op is a comparison operator for trigger conditions. The cross_* operators
// compare against the previously observed metric value: a cross is a
// transition, not a point-in-time test.
type Op string

const (
	OpGreaterThan Op = "greater_than"
	OpLessThan    Op = "less_than"
	OpCrossAbove  Op = "cross_above"
	OpCrossBelow  Op = "cross_below"
)

// ParseOp validates an operator string from config.
func ParseOp(s string) (Op, error) {
	op := Op(s)
	switch op {
	case OpGreaterThan, OpLessThan, OpCrossAbove, OpCrossBelow:
		return op, nil
	}
	return "", fmt.Errorf("trigger: unrecognized operator %q", s)
}

// needsPrevious reports whether the operator requires an armed prior value.
func (o Op) needsPrevious() bool {
	return o == OpCrossAbove || o == OpCrossBelow
}

// #endregion operator

// #region rule

// Rule fires a workflow when an event's metric satisfies its condition and
// the rule is outside its cooldown window. Firing is per-rule: two rules may
// fire from the same event independently.
type Rule struct {
	Name      string
	EventType string
	Metric    string
	Op        Op
	Threshold float64
	Cooldown  time.Duration
	Workflow  string
}

// #endregion rule

// #region schedule

// Schedule enqueues its workflow on a fixed wall-clock cadence. No cooldown
// applies: the cadence itself is the rate limit.
type Schedule struct {
	Name     string
	Cadence  string // standard cron expression
	Workflow string
}

// #endregion schedule

// #region event

// Event is one incoming observation: a named metric value of some type.
type Event struct {
	Type   string
	Metric string
	Value  float64
	At     time.Time
}

// #endregion event

// #region start-request

// StartRequest asks the executor to start a named workflow for a run key.
type StartRequest struct {
	Workflow string
	RunKey   string
	Source   string // "schedule:<name>" or "trigger:<name>"
}

// #endregion start-request
