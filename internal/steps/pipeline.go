package steps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/danielpatrickdp/swarm-conductor/internal/consensus"
	"github.com/danielpatrickdp/swarm-conductor/internal/executor"
	"github.com/danielpatrickdp/swarm-conductor/internal/logging"
	"github.com/danielpatrickdp/swarm-conductor/internal/riskgate"
	"github.com/danielpatrickdp/swarm-conductor/internal/store"
	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
)

// #region step-names

// Canonical step names used by workflow definitions.
const (
	StepRefresh   = "refresh-indicators"
	StepAggregate = "aggregate-votes"
	StepGate      = "risk-gate"
	StepDeliver   = "deliver-brief"
)

// #endregion step-names

// #region pipeline

// Pipeline bundles the collaborators the analysis steps share. A nil
// Deliver turns its step into a no-op; Refresh has no such default —
// the refresh step fails unless a collaborator (or NoRefresh) is wired,
// so stale indicator data never passes silently.
type Pipeline struct {
	Store      *store.Store
	Bands      consensus.Bands
	GateConfig riskgate.Config
	Rules      []riskgate.Rule
	Risk       RiskSource
	Refresh    RefreshFunc
	Deliver    DeliverFunc
	Now        func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Register binds the pipeline steps and one analysis task per agent into
// the registry. Agents register under their own IDs so workflow groups
// can list them as tasks.
func (p *Pipeline) Register(reg *executor.Registry, agents []Agent) {
	reg.Register(StepRefresh, p.RefreshStep())
	reg.Register(StepAggregate, p.AggregateStep())
	reg.Register(StepGate, p.GateStep())
	reg.Register(StepDeliver, p.DeliverStep())
	for _, a := range agents {
		reg.Register(a.ID(), p.AgentStep(a))
	}
}

// #endregion pipeline

// #region refresh

// RefreshStep runs the configured indicator refresh. An unwired refresh is
// a step failure, not a silent success: downstream agents would otherwise
// analyze stale data with a clean ledger.
func (p *Pipeline) RefreshStep() executor.StepFunc {
	return func(ctx context.Context, rc executor.RunContext) error {
		if p.Refresh == nil {
			return fmt.Errorf("refresh %s: no refresh collaborator configured", rc.RunKey)
		}
		return p.Refresh(ctx, rc.RunKey)
	}
}

// #endregion refresh

// #region agent

// AgentStep runs one agent and persists its validated vote. A vote that
// fails validation fails the step: a malformed opinion must never reach
// the aggregate.
func (p *Pipeline) AgentStep(a Agent) executor.StepFunc {
	return func(ctx context.Context, rc executor.RunContext) error {
		raw, err := a.Analyze(ctx, rc.RunKey)
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.ID(), err)
		}
		if raw.AgentID == "" {
			raw.AgentID = a.ID()
		}
		v, err := vote.Validate(raw)
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.ID(), err)
		}
		if err := p.Store.SaveVote(rc.RunKey, v); err != nil {
			return err
		}
		log.Printf("[STEP] %s vote recorded: action=%s score=%.1f confidence=%.2f",
			v.AgentID, v.Action, v.Score, v.Confidence)
		return nil
	}
}

// #endregion agent

// #region aggregate

// AggregateStep folds the run's persisted votes into a consensus result.
// A run with no votes fails here rather than producing a hollow consensus.
func (p *Pipeline) AggregateStep() executor.StepFunc {
	return func(ctx context.Context, rc executor.RunContext) error {
		votes, err := p.Store.Votes(rc.RunKey)
		if err != nil {
			return err
		}
		res, err := consensus.Aggregate(votes, p.Bands, p.now())
		if err != nil {
			return fmt.Errorf("aggregate %s: %w", rc.RunKey, err)
		}
		if err := p.Store.SaveConsensus(rc.RunKey, res); err != nil {
			return err
		}
		log.Printf("[STEP] consensus %s: score=%.1f action=%s conflict=%.1f votes=%d",
			rc.RunKey, res.Score, res.Action, res.Conflict, len(res.Votes))
		return nil
	}
}

// #endregion aggregate

// #region gate

// GateStep evaluates the risk gate against the run's consensus and logs
// the decision to the provenance trail. A blocked decision is a normal
// outcome, not a step failure: the conservative action is still a result.
func (p *Pipeline) GateStep() executor.StepFunc {
	return func(ctx context.Context, rc executor.RunContext) error {
		res, err := p.Store.Consensus(rc.RunKey)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("gate %s: no consensus recorded", rc.RunKey)
			}
			return err
		}
		riskCtx, err := p.Risk(ctx, rc.RunKey)
		if err != nil {
			return fmt.Errorf("gate %s: %w", rc.RunKey, err)
		}

		d := riskgate.Evaluate(res, riskCtx, p.rules(), p.GateConfig)
		if err := p.Store.SaveDecision(rc.RunKey, d, p.now()); err != nil {
			return err
		}
		if err := logging.LogDecision(p.Store.DB(), logging.ProvenanceEntry{
			RunKey:   rc.RunKey,
			Event:    "gate_decision",
			Actor:    "risk-gate",
			Decision: decisionLabel(d),
			Reason:   joinReasons(d.Reasons),
		}); err != nil {
			return err
		}
		log.Printf("[STEP] gate %s: approved=%v effective=%s reasons=%v",
			rc.RunKey, d.Approved, d.EffectiveAction, d.Reasons)
		return nil
	}
}

func (p *Pipeline) rules() []riskgate.Rule {
	if p.Rules != nil {
		return p.Rules
	}
	return riskgate.DefaultRules(p.GateConfig)
}

// #endregion gate

// #region deliver

// DeliverStep hands the gated result to the delivery collaborator.
func (p *Pipeline) DeliverStep() executor.StepFunc {
	return func(ctx context.Context, rc executor.RunContext) error {
		if p.Deliver == nil {
			return nil
		}
		res, err := p.Store.Consensus(rc.RunKey)
		if err != nil {
			return fmt.Errorf("deliver %s: %w", rc.RunKey, err)
		}
		d, err := p.Store.Decision(rc.RunKey)
		if err != nil {
			return fmt.Errorf("deliver %s: %w", rc.RunKey, err)
		}
		return p.Deliver(ctx, rc.RunKey, d, res)
	}
}

// #endregion deliver

// #region override

// ApplyOverride flips a run's gate decision to approved under the named
// authority, persisting the new decision and its provenance. Fails when
// the run has no decision to override.
func (p *Pipeline) ApplyOverride(runKey, authority string) (riskgate.Decision, error) {
	if authority == "" {
		return riskgate.Decision{}, errors.New("override requires an authority")
	}
	prev, err := p.Store.Decision(runKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return riskgate.Decision{}, fmt.Errorf("override %s: no gate decision recorded", runKey)
		}
		return riskgate.Decision{}, err
	}

	d := riskgate.Override(prev, authority)
	if err := p.Store.SaveDecision(runKey, d, p.now()); err != nil {
		return riskgate.Decision{}, err
	}
	if err := logging.LogDecision(p.Store.DB(), logging.ProvenanceEntry{
		RunKey:   runKey,
		Event:    "gate_override",
		Actor:    authority,
		Decision: decisionLabel(d),
		Reason:   joinReasons(d.Reasons),
	}); err != nil {
		return riskgate.Decision{}, err
	}
	log.Printf("[GATE] override %s by %s: effective=%s", runKey, authority, d.EffectiveAction)
	return d, nil
}

// #endregion override

// #region helpers

func decisionLabel(d riskgate.Decision) string {
	if d.Approved {
		return "approved:" + string(d.EffectiveAction)
	}
	return "blocked:" + string(d.EffectiveAction)
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, ",")
}

// #endregion helpers
