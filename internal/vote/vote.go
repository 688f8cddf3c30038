// Package vote defines the canonical agent vote and its boundary validator.
package vote

import "fmt"

// #region action

// Action enumerates the recommendations an agent may vote for.
type Action string

const (
	ActionBuy    Action = "buy"
	ActionHold   Action = "hold"
	ActionDeRisk Action = "de-risk"
)

// Valid reports whether a is one of the recognized actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionHold, ActionDeRisk:
		return true
	}
	return false
}

// #endregion action

// #region raw-vote

// RawVote is the wire-level payload produced by an agent run.
// Score and Confidence are pointers so a missing field is distinguishable
// from a zero value.
type RawVote struct {
	AgentID    string   `json:"agent_id"`
	Action     string   `json:"action"`
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
	Flags      []string `json:"flags,omitempty"`
	Rationale  string   `json:"rationale,omitempty"`
}

// #endregion raw-vote

// #region vote

// Vote is one agent's validated output for a run. Immutable after creation.
type Vote struct {
	AgentID    string
	Action     Action
	Score      float64 // 0-100
	Confidence float64 // 0.0-1.0
	Flags      []string
	Rationale  string
}

// #endregion vote

// #region validation-error

// ValidationError describes why a raw vote was rejected at the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid vote: %s: %s", e.Field, e.Reason)
}

// #endregion validation-error

// #region validate

// Validate normalizes a raw agent payload into a Vote. Out-of-range or
// missing values are rejected, never clamped.
func Validate(raw RawVote) (Vote, error) {
	if raw.AgentID == "" {
		return Vote{}, &ValidationError{Field: "agent_id", Reason: "missing"}
	}
	if raw.Action == "" {
		return Vote{}, &ValidationError{Field: "action", Reason: "missing"}
	}
	action := Action(raw.Action)
	if !action.Valid() {
		return Vote{}, &ValidationError{Field: "action", Reason: fmt.Sprintf("unrecognized %q", raw.Action)}
	}
	if raw.Score == nil {
		return Vote{}, &ValidationError{Field: "score", Reason: "missing"}
	}
	if *raw.Score < 0 || *raw.Score > 100 {
		return Vote{}, &ValidationError{Field: "score", Reason: fmt.Sprintf("%.2f outside [0,100]", *raw.Score)}
	}
	if raw.Confidence == nil {
		return Vote{}, &ValidationError{Field: "confidence", Reason: "missing"}
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return Vote{}, &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%.2f outside [0,1]", *raw.Confidence)}
	}

	return Vote{
		AgentID:    raw.AgentID,
		Action:     action,
		Score:      *raw.Score,
		Confidence: *raw.Confidence,
		Flags:      raw.Flags,
		Rationale:  raw.Rationale,
	}, nil
}

// #endregion validate
