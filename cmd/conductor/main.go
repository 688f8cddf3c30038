package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/danielpatrickdp/swarm-conductor/internal/config"
	"github.com/danielpatrickdp/swarm-conductor/internal/events"
	"github.com/danielpatrickdp/swarm-conductor/internal/executor"
	"github.com/danielpatrickdp/swarm-conductor/internal/logging"
	"github.com/danielpatrickdp/swarm-conductor/internal/steps"
	"github.com/danielpatrickdp/swarm-conductor/internal/store"
	"github.com/danielpatrickdp/swarm-conductor/internal/trigger"
	"github.com/danielpatrickdp/swarm-conductor/internal/workflow"
)

// #region main
func main() {
	cfgPath := envOr("SWARM_CONFIG", "swarm.yaml")
	dbPath := envOr("SWARM_DB", "swarm_runs.db")
	natsURL := envOr("NATS_URL", "")
	subject := envOr("EVENTS_SUBJECT", "swarm.events")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	st, err := store.NewStore(dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	defs, err := cfg.Definitions()
	if err != nil {
		log.Fatalf("workflows: %v", err)
	}
	byName := make(map[string]workflow.Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	pipe := &steps.Pipeline{
		Store:      st,
		Bands:      cfg.Bands(),
		GateConfig: cfg.GateConfig(),
		Risk:       steps.FileRiskSource(cfg.RiskDir),
		Refresh:    steps.CommandRefresh(cfg.Refresh),
		Deliver:    steps.FileDeliver(cfg.BriefDir),
	}
	reg := executor.NewRegistry()
	pipe.Register(reg, cfg.CommandAgents())
	runner := executor.NewRunner(reg)

	rules, err := cfg.TriggerRules()
	if err != nil {
		log.Fatalf("triggers: %v", err)
	}
	engine, err := trigger.NewEngine(rules, cfg.TriggerSchedules(), 16)
	if err != nil {
		log.Fatalf("trigger engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go engine.RunSchedules(ctx)

	if natsURL != "" {
		nc, err := nats.Connect(natsURL, nats.Name("swarm-conductor"))
		if err != nil {
			log.Fatalf("connect nats %s: %v", natsURL, err)
		}
		defer nc.Drain()

		src, err := events.NewSource(nc, subject, 64)
		if err != nil {
			log.Fatalf("subscribe events: %v", err)
		}
		defer src.Close()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case evt := <-src.Events():
					engine.HandleEvent(evt)
				}
			}
		}()
		log.Printf("[MAIN] consuming events on %s (%s)", subject, natsURL)
	}

	log.Printf("[MAIN] conductor ready: config=%s db=%s workflows=%d triggers=%d schedules=%d",
		cfgPath, dbPath, len(defs), len(rules), len(cfg.Schedules))

	for {
		select {
		case <-ctx.Done():
			log.Println("[MAIN] shutting down")
			return
		case req := <-engine.Requests():
			execute(ctx, st, runner, byName, req)
		}
	}
}

// #endregion main

// #region execute

// execute runs one start request to completion and persists its artifacts.
// Requests run sequentially: a daily swarm has no need for overlapping runs,
// and a re-fire for the same key would race its own artifacts.
func execute(ctx context.Context, st *store.Store, runner *executor.Runner,
	byName map[string]workflow.Definition, req trigger.StartRequest) {
	def, ok := byName[req.Workflow]
	if !ok {
		log.Printf("[MAIN] unknown workflow %q from %s", req.Workflow, req.Source)
		return
	}

	if err := logging.LogDecision(st.DB(), logging.ProvenanceEntry{
		RunKey:   req.RunKey,
		Event:    "workflow_started",
		Actor:    req.Source,
		Decision: req.Workflow,
	}); err != nil {
		log.Printf("[MAIN] provenance: %v", err)
	}

	res := runner.Run(ctx, def, req.RunKey)

	if err := st.SaveRun(store.RunRecord{
		RunKey:    res.RunKey,
		Workflow:  res.Workflow,
		Status:    string(res.Status),
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}); err != nil {
		log.Printf("[MAIN] save run %s: %v", res.RunKey, err)
	}
	if err := st.SaveLedger(res.RunKey, res.Ledger); err != nil {
		log.Printf("[MAIN] save ledger %s: %v", res.RunKey, err)
	}
}

// #endregion execute

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
