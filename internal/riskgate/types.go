package riskgate

import (
	"github.com/danielpatrickdp/swarm-conductor/internal/consensus"
	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
)

// #region regime

// Regime labels the current market risk regime.
type Regime string

const (
	RegimeRiskOn  Regime = "risk-on"
	RegimeNeutral Regime = "neutral"
	RegimeRiskOff Regime = "risk-off"
)

// #endregion regime

// #region context

// Context carries the risk inputs supplied independently of agent votes.
// Read-only to the gate.
type Context struct {
	Indicators    map[string]float64
	Regime        Regime
	RegimeChanged bool // regime flipped within the configured lookback window
}

// #endregion context

// #region rule

// RuleKind separates blocking rules from approving rules.
type RuleKind string

const (
	RuleBlock   RuleKind = "block"
	RuleApprove RuleKind = "approve"
)

// Rule is a named predicate over a consensus result and risk context.
type Rule struct {
	ID    string
	Kind  RuleKind
	Match func(c consensus.Result, r Context) bool
}

// #endregion rule

// #region decision

// Decision is the gate's terminal verdict for a run. Once produced it is
// only ever changed through Override.
type Decision struct {
	Approved        bool
	Reasons         []string // rule IDs in firing order, then override attributions
	OverrideApplied bool
	ConsensusAction vote.Action // what consensus computed, kept for override
	EffectiveAction vote.Action // what is allowed to propagate
}

// #endregion decision

// #region config

// Config holds the thresholds behind the default rule set.
type Config struct {
	MinConfidence      float64     // block when any contributing vote is below this
	FragilityIndicator string      // risk context indicator name
	FragilityCeiling   float64     // block when the fragility indicator exceeds this
	ConflictCeiling    float64     // block when conflict exceeds this outside risk-on
	MinConfirmations   int         // approve when this many votes share the consensus action
	Conservative       vote.Action // forced effective action when not approved
}

// DefaultConfig returns the stock gate thresholds.
func DefaultConfig() Config {
	return Config{
		MinConfidence:      0.7,
		FragilityIndicator: "fragility",
		FragilityCeiling:   6.0,
		ConflictCeiling:    15.0,
		MinConfirmations:   2,
		Conservative:       vote.ActionHold,
	}
}

// #endregion config
