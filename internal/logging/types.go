package logging

import "time"

// #region provenance-entry

// ProvenanceEntry is one attributable row in the provenance log: who decided
// what for which run, and why. Gate decisions, overrides, and workflow starts
// all land here.
type ProvenanceEntry struct {
	RunKey    string
	Event     string // "gate_decision" | "gate_override" | "workflow_started"
	Actor     string // authority or rule identifier, empty for system decisions
	Decision  string
	Reason    string
	CreatedAt time.Time
}

// #endregion provenance-entry
