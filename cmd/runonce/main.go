package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/danielpatrickdp/swarm-conductor/internal/config"
	"github.com/danielpatrickdp/swarm-conductor/internal/executor"
	"github.com/danielpatrickdp/swarm-conductor/internal/riskgate"
	"github.com/danielpatrickdp/swarm-conductor/internal/steps"
	"github.com/danielpatrickdp/swarm-conductor/internal/store"
	"github.com/danielpatrickdp/swarm-conductor/internal/workflow"
)

// #region main

func main() {
	cfgPath := flag.String("config", "swarm.yaml", "path to swarm.yaml")
	dbPath := flag.String("db", "swarm_runs.db", "path to the run store")
	name := flag.String("workflow", "daily-brief", "workflow to execute")
	date := flag.String("date", time.Now().UTC().Format("2006-01-02"), "run key (YYYY-MM-DD)")
	mock := flag.Bool("mock", false, "substitute deterministic mock agents and a static risk context")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	defs, err := cfg.Definitions()
	if err != nil {
		log.Fatalf("workflows: %v", err)
	}
	var def workflow.Definition
	var found bool
	for _, d := range defs {
		if d.Name == *name {
			def, found = d, true
			break
		}
	}
	if !found {
		log.Fatalf("workflow %q not defined in %s", *name, *cfgPath)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	pipe := &steps.Pipeline{
		Store:      st,
		Bands:      cfg.Bands(),
		GateConfig: cfg.GateConfig(),
		Risk:       steps.FileRiskSource(cfg.RiskDir),
		Refresh:    steps.CommandRefresh(cfg.Refresh),
		Deliver:    steps.FileDeliver(cfg.BriefDir),
	}
	agents := cfg.CommandAgents()
	if *mock {
		agents = mockAgents(cfg)
		pipe.Risk = steps.StaticRiskSource(riskgate.Context{Regime: riskgate.RegimeNeutral})
		pipe.Refresh = steps.NoRefresh()
	}

	reg := executor.NewRegistry()
	pipe.Register(reg, agents)

	res := executor.NewRunner(reg).Run(context.Background(), def, *date)

	if err := st.SaveRun(store.RunRecord{
		RunKey:    res.RunKey,
		Workflow:  res.Workflow,
		Status:    string(res.Status),
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}); err != nil {
		log.Printf("save run: %v", err)
	}
	if err := st.SaveLedger(res.RunKey, res.Ledger); err != nil {
		log.Printf("save ledger: %v", err)
	}

	printRun(st, res)
	if res.Status != executor.StatusSucceeded {
		os.Exit(1)
	}
}

// mockAgents mirrors the configured agent names so workflow task lists still
// resolve; with no agents configured it falls back to a stock trio.
func mockAgents(cfg *config.Config) []steps.Agent {
	if len(cfg.Agents) == 0 {
		return []steps.Agent{
			steps.MockAgent{Name: "macro"},
			steps.MockAgent{Name: "onchain"},
			steps.MockAgent{Name: "sentiment"},
		}
	}
	out := make([]steps.Agent, len(cfg.Agents))
	for i, a := range cfg.Agents {
		out[i] = steps.MockAgent{Name: a.Name}
	}
	return out
}

// #endregion main

// #region output

func printRun(st *store.Store, res executor.RunResult) {
	fmt.Printf("Run:      %s (%s)\n", res.RunKey, res.Workflow)
	fmt.Printf("Status:   %s in %s\n", res.Status, res.Duration.Round(time.Millisecond))

	fmt.Println("\nStep ledger:")
	for _, e := range res.Ledger {
		line := fmt.Sprintf("  %-28s %-10s %8s", e.Name, e.Status, e.Duration.Round(time.Millisecond))
		if e.Err != "" {
			line += "  " + e.Err
		}
		fmt.Println(line)
	}

	c, err := st.Consensus(res.RunKey)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("load consensus: %v", err)
		}
		return
	}
	fmt.Printf("\nConsensus: %.1f %s %s (conflict %.1f, agreement %.0f%%, %d votes)\n",
		c.Score, c.Emoji, c.Action, c.Conflict, c.AgreementLevel*100, len(c.Votes))
	for _, v := range c.Votes {
		fmt.Printf("  %-12s %-8s score=%5.1f confidence=%.2f %v\n",
			v.AgentID, v.Action, v.Score, v.Confidence, v.Flags)
	}

	d, err := st.Decision(res.RunKey)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("load decision: %v", err)
		}
		return
	}
	verdict := "BLOCKED"
	if d.Approved {
		verdict = "APPROVED"
	}
	fmt.Printf("\nGate: %s → %s (reasons: %v)\n", verdict, d.EffectiveAction, d.Reasons)
}

// #endregion output
