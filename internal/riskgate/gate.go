// Package riskgate gates a consensus result behind block/approve rules.
// Blocked is a normal terminal decision, not an error; the only path from
// blocked to approved is an explicit, attributed override.
package riskgate

import "github.com/danielpatrickdp/swarm-conductor/internal/consensus"

// #region default-rules

// DefaultRules builds the stock rule set from config thresholds.
// Declared order is evaluation order within each kind.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		{
			ID:   "confidence_floor",
			Kind: RuleBlock,
			Match: func(c consensus.Result, r Context) bool {
				for _, v := range c.Votes {
					if v.Confidence < cfg.MinConfidence {
						return true
					}
				}
				return false
			},
		},
		{
			ID:   "fragility_high",
			Kind: RuleBlock,
			Match: func(c consensus.Result, r Context) bool {
				return r.Indicators[cfg.FragilityIndicator] > cfg.FragilityCeiling
			},
		},
		{
			ID:   "regime_shift",
			Kind: RuleBlock,
			Match: func(c consensus.Result, r Context) bool {
				return r.RegimeChanged
			},
		},
		{
			ID:   "conflict_ceiling",
			Kind: RuleBlock,
			Match: func(c consensus.Result, r Context) bool {
				return c.Conflict > cfg.ConflictCeiling && r.Regime != RegimeRiskOn
			},
		},
		{
			ID:   "confirmations",
			Kind: RuleApprove,
			Match: func(c consensus.Result, r Context) bool {
				return c.Distribution[c.Action] >= cfg.MinConfirmations
			},
		},
		{
			ID:   "stable_regime",
			Kind: RuleApprove,
			Match: func(c consensus.Result, r Context) bool {
				return !r.RegimeChanged && r.Regime != RegimeRiskOff && c.Conflict <= cfg.ConflictCeiling
			},
		},
	}
}

// #endregion default-rules

// #region evaluate

// Evaluate runs block rules before approve rules regardless of declared
// interleaving. The first matching block rule wins and short-circuits the
// rest. With no block match, any matching approve rule approves. Neither
// matching means not approved: absence of explicit approval is never
// treated as approval.
func Evaluate(c consensus.Result, r Context, rules []Rule, cfg Config) Decision {
	d := Decision{
		ConsensusAction: c.Action,
		EffectiveAction: cfg.Conservative,
	}

	for _, rule := range rules {
		if rule.Kind != RuleBlock {
			continue
		}
		if rule.Match(c, r) {
			d.Reasons = append(d.Reasons, rule.ID)
			return d
		}
	}

	for _, rule := range rules {
		if rule.Kind != RuleApprove {
			continue
		}
		if rule.Match(c, r) {
			d.Reasons = append(d.Reasons, rule.ID)
			d.Approved = true
		}
	}

	if d.Approved {
		d.EffectiveAction = c.Action
	}
	return d
}

// #endregion evaluate

// #region override

// Override flips a blocked decision to approved under the named authority.
// Overriding an already-approved decision is a no-op that still records the
// attempt. The attribution is always appended to Reasons.
func Override(d Decision, authority string) Decision {
	d.Reasons = append(append([]string(nil), d.Reasons...), "override:"+authority)
	if d.Approved {
		return d
	}
	d.Approved = true
	d.OverrideApplied = true
	d.EffectiveAction = d.ConsensusAction
	return d
}

// #endregion override
