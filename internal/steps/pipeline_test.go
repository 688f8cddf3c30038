package steps

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/swarm-conductor/internal/consensus"
	"github.com/danielpatrickdp/swarm-conductor/internal/executor"
	"github.com/danielpatrickdp/swarm-conductor/internal/logging"
	"github.com/danielpatrickdp/swarm-conductor/internal/riskgate"
	"github.com/danielpatrickdp/swarm-conductor/internal/store"
	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
	"github.com/danielpatrickdp/swarm-conductor/internal/workflow"
)

func newTestPipeline(t *testing.T, risk RiskSource) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := riskgate.DefaultConfig()
	cfg.ConflictCeiling = 100 // mock agents disagree widely; keep conflict out of scope here
	return &Pipeline{
		Store:      st,
		Bands:      consensus.DefaultBands(),
		GateConfig: cfg,
		Risk:       risk,
		Refresh:    NoRefresh(),
		Deliver:    FileDeliver(filepath.Join(dir, "briefs")),
		Now:        func() time.Time { return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) },
	}, dir
}

func dailyDefinition(agents []Agent) workflow.Definition {
	tasks := make([]workflow.Task, len(agents))
	for i, a := range agents {
		tasks[i] = workflow.Task{Name: a.ID(), Timeout: 5 * time.Second}
	}
	return workflow.Definition{
		Name: "daily-brief",
		Steps: []workflow.Step{
			{Name: StepRefresh, Kind: workflow.KindAtomic, Required: true},
			{Name: "agent-analysis", Kind: workflow.KindGroup, DependsOn: []string{StepRefresh}, Tasks: tasks},
			{Name: StepAggregate, Kind: workflow.KindAtomic, DependsOn: []string{"agent-analysis"}, Required: true},
			{Name: StepGate, Kind: workflow.KindAtomic, DependsOn: []string{StepAggregate}, Required: true},
			{Name: StepDeliver, Kind: workflow.KindAtomic, DependsOn: []string{StepGate}, Required: true},
		},
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	p, dir := newTestPipeline(t, StaticRiskSource(riskgate.Context{Regime: riskgate.RegimeRiskOn}))
	var refreshed []string
	p.Refresh = func(ctx context.Context, runKey string) error {
		refreshed = append(refreshed, runKey)
		return nil
	}
	agents := []Agent{MockAgent{Name: "macro"}, MockAgent{Name: "onchain"}, MockAgent{Name: "sentiment"}}

	def := dailyDefinition(agents)
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	reg := executor.NewRegistry()
	p.Register(reg, agents)

	const runKey = "2026-01-05"
	res := executor.NewRunner(reg).Run(context.Background(), def, runKey)
	if res.Status != executor.StatusSucceeded {
		t.Fatalf("run status = %s, ledger %+v", res.Status, res.Ledger)
	}
	if len(refreshed) != 1 || refreshed[0] != runKey {
		t.Fatalf("refresh collaborator invocations = %v, want one for %s", refreshed, runKey)
	}

	votes, err := p.Store.Votes(runKey)
	if err != nil {
		t.Fatalf("Votes: %v", err)
	}
	if len(votes) != 3 {
		t.Fatalf("persisted votes = %d, want 3", len(votes))
	}

	got, err := p.Store.Consensus(runKey)
	if err != nil {
		t.Fatalf("Consensus: %v", err)
	}
	want, err := consensus.Aggregate(votes, p.Bands, p.Now())
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if got.Score != want.Score || got.Action != want.Action {
		t.Errorf("stored consensus %.4f/%s, recomputed %.4f/%s", got.Score, got.Action, want.Score, want.Action)
	}

	d, err := p.Store.Decision(runKey)
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	if !d.Approved {
		t.Fatalf("risk-on stable regime should approve, got %+v", d)
	}
	if d.EffectiveAction != got.Action {
		t.Errorf("effective action = %s, want consensus action %s", d.EffectiveAction, got.Action)
	}

	entries, err := logging.ListProvenance(p.Store.DB(), runKey)
	if err != nil {
		t.Fatalf("ListProvenance: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "gate_decision" {
		t.Fatalf("provenance = %+v, want single gate_decision", entries)
	}

	data, err := os.ReadFile(filepath.Join(dir, "briefs", runKey+".json"))
	if err != nil {
		t.Fatalf("brief not delivered: %v", err)
	}
	var b map[string]any
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("brief decode: %v", err)
	}
	if b["run_key"] != runKey || b["effective_action"] != string(d.EffectiveAction) {
		t.Errorf("brief = %v", b)
	}
}

func TestRefreshStepRequiresCollaborator(t *testing.T) {
	p, _ := newTestPipeline(t, StaticRiskSource(riskgate.Context{}))
	p.Refresh = nil

	err := p.RefreshStep()(context.Background(), executor.RunContext{RunKey: "2026-01-05"})
	if err == nil {
		t.Fatal("unwired refresh must fail the step, not succeed silently")
	}

	// In a workflow the failure marks the required step, so the run fails
	// instead of proceeding on stale data.
	agents := []Agent{MockAgent{Name: "macro"}}
	def := dailyDefinition(agents)
	reg := executor.NewRegistry()
	p.Register(reg, agents)

	res := executor.NewRunner(reg).Run(context.Background(), def, "2026-01-05")
	if res.Status != executor.StatusFailed {
		t.Fatalf("run status = %s, want failed when required refresh cannot run", res.Status)
	}
}

type badAgent struct{}

func (badAgent) ID() string { return "bad" }

func (badAgent) Analyze(ctx context.Context, runKey string) (vote.RawVote, error) {
	score, conf := 150.0, 0.9
	return vote.RawVote{AgentID: "bad", Action: "buy", Score: &score, Confidence: &conf}, nil
}

func TestAgentStepRejectsInvalidVote(t *testing.T) {
	p, _ := newTestPipeline(t, StaticRiskSource(riskgate.Context{Regime: riskgate.RegimeNeutral}))

	err := p.AgentStep(badAgent{})(context.Background(), executor.RunContext{RunKey: "2026-01-05"})
	if err == nil {
		t.Fatal("out-of-range score should fail the step")
	}
	var verr *vote.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	votes, err := p.Store.Votes("2026-01-05")
	if err != nil {
		t.Fatalf("Votes: %v", err)
	}
	if len(votes) != 0 {
		t.Errorf("invalid vote was persisted: %+v", votes)
	}
}

func TestAggregateStepFailsWithoutVotes(t *testing.T) {
	p, _ := newTestPipeline(t, StaticRiskSource(riskgate.Context{}))

	err := p.AggregateStep()(context.Background(), executor.RunContext{RunKey: "2026-01-06"})
	if err == nil {
		t.Fatal("aggregate with no votes should fail")
	}
	if !errors.Is(err, consensus.ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}
}

func TestGateStepRecordsBlockedDecision(t *testing.T) {
	p, _ := newTestPipeline(t, StaticRiskSource(riskgate.Context{
		Regime:        riskgate.RegimeNeutral,
		RegimeChanged: true,
	}))
	const runKey = "2026-01-07"
	seedConsensus(t, p, runKey)

	if err := p.GateStep()(context.Background(), executor.RunContext{RunKey: runKey}); err != nil {
		t.Fatalf("a blocked decision is not a step failure: %v", err)
	}

	d, err := p.Store.Decision(runKey)
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	if d.Approved {
		t.Fatalf("regime shift should block, got %+v", d)
	}
	if d.EffectiveAction != p.GateConfig.Conservative {
		t.Errorf("effective action = %s, want conservative %s", d.EffectiveAction, p.GateConfig.Conservative)
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != "regime_shift" {
		t.Errorf("reasons = %v, want [regime_shift]", d.Reasons)
	}
}

func TestApplyOverride(t *testing.T) {
	p, _ := newTestPipeline(t, StaticRiskSource(riskgate.Context{
		Regime:        riskgate.RegimeNeutral,
		RegimeChanged: true,
	}))
	const runKey = "2026-01-08"
	seedConsensus(t, p, runKey)
	if err := p.GateStep()(context.Background(), executor.RunContext{RunKey: runKey}); err != nil {
		t.Fatalf("GateStep: %v", err)
	}

	d, err := p.ApplyOverride(runKey, "daniel")
	if err != nil {
		t.Fatalf("ApplyOverride: %v", err)
	}
	if !d.Approved || !d.OverrideApplied {
		t.Fatalf("override did not approve: %+v", d)
	}
	if d.EffectiveAction != d.ConsensusAction {
		t.Errorf("effective action = %s, want consensus action %s", d.EffectiveAction, d.ConsensusAction)
	}

	stored, err := p.Store.Decision(runKey)
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	if !stored.OverrideApplied {
		t.Errorf("override not persisted: %+v", stored)
	}
	last := stored.Reasons[len(stored.Reasons)-1]
	if last != "override:daniel" {
		t.Errorf("last reason = %q, want override attribution", last)
	}

	entries, err := logging.ListProvenance(p.Store.DB(), runKey)
	if err != nil {
		t.Fatalf("ListProvenance: %v", err)
	}
	if len(entries) != 2 || entries[1].Event != "gate_override" || entries[1].Actor != "daniel" {
		t.Fatalf("provenance = %+v, want gate_decision then gate_override by daniel", entries)
	}
}

func TestApplyOverrideWithoutDecision(t *testing.T) {
	p, _ := newTestPipeline(t, StaticRiskSource(riskgate.Context{}))
	if _, err := p.ApplyOverride("2026-01-09", "daniel"); err == nil {
		t.Fatal("override with no stored decision should fail")
	}
	if _, err := p.ApplyOverride("2026-01-09", ""); err == nil {
		t.Fatal("override without an authority should fail")
	}
}

func TestMockAgentDeterministic(t *testing.T) {
	m := MockAgent{Name: "macro"}
	a, err := m.Analyze(context.Background(), "2026-01-05")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	b, _ := m.Analyze(context.Background(), "2026-01-05")
	if *a.Score != *b.Score || *a.Confidence != *b.Confidence || a.Action != b.Action {
		t.Errorf("same identity pair voted differently: %+v vs %+v", a, b)
	}
	if _, err := vote.Validate(a); err != nil {
		t.Errorf("mock vote failed validation: %v", err)
	}

	other, _ := MockAgent{Name: "onchain"}.Analyze(context.Background(), "2026-01-05")
	if *a.Score == *other.Score && *a.Confidence == *other.Confidence {
		t.Error("distinct agents produced identical votes")
	}
}

func TestFileRiskSource(t *testing.T) {
	dir := t.TempDir()
	payload := `{"indicators":{"fragility":4.2},"regime":"neutral","regime_changed":false}`
	if err := os.WriteFile(filepath.Join(dir, "2026-01-05.json"), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	src := FileRiskSource(dir)
	rc, err := src(context.Background(), "2026-01-05")
	if err != nil {
		t.Fatalf("FileRiskSource: %v", err)
	}
	if rc.Regime != riskgate.RegimeNeutral || rc.Indicators["fragility"] != 4.2 {
		t.Errorf("context = %+v", rc)
	}

	if _, err := src(context.Background(), "2026-01-06"); err == nil {
		t.Error("missing risk file should be an error")
	}
}

// seedConsensus persists enough votes for a valid consensus on runKey.
func seedConsensus(t *testing.T, p *Pipeline, runKey string) {
	t.Helper()
	for _, v := range []vote.Vote{
		{AgentID: "macro", Action: vote.ActionBuy, Score: 72, Confidence: 0.9},
		{AgentID: "onchain", Action: vote.ActionBuy, Score: 68, Confidence: 0.85},
	} {
		if err := p.Store.SaveVote(runKey, v); err != nil {
			t.Fatalf("SaveVote: %v", err)
		}
	}
	if err := p.AggregateStep()(context.Background(), executor.RunContext{RunKey: runKey}); err != nil {
		t.Fatalf("AggregateStep: %v", err)
	}
}
