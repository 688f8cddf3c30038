package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/swarm-conductor/internal/consensus"
	"github.com/danielpatrickdp/swarm-conductor/internal/executor"
	"github.com/danielpatrickdp/swarm-conductor/internal/logging"
	"github.com/danielpatrickdp/swarm-conductor/internal/riskgate"
	"github.com/danielpatrickdp/swarm-conductor/internal/store"
	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to swarm_runs.db")
	last := flag.Int("last", 20, "show N most recent runs")
	runKey := flag.String("run", "", "show single run detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/swarm_runs.db [--last N] [--run key] [--json]")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *runKey != "" {
		err = runDetailMode(st, *runKey, *jsonOut)
	} else {
		err = runListMode(st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunKey    string   `json:"run_key"`
	Workflow  string   `json:"workflow"`
	Status    string   `json:"status"`
	Score     *float64 `json:"score,omitempty"`
	Action    string   `json:"action,omitempty"`
	Verdict   string   `json:"verdict,omitempty"`
	Duration  string   `json:"duration"`
	StartedAt string   `json:"started_at"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		row := listRow{
			RunKey:    r.RunKey,
			Workflow:  r.Workflow,
			Status:    r.Status,
			Duration:  r.Duration.Round(time.Millisecond).String(),
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
		}
		if c, err := st.Consensus(r.RunKey); err == nil {
			score := c.Score
			row.Score = &score
			row.Action = string(c.Action)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if d, err := st.Decision(r.RunKey); err == nil {
			row.Verdict = verdict(d)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		rows[i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-36s  %-14s  %-9s  %6s  %-8s  %-10s  %s\n",
		"Run", "Workflow", "Status", "Score", "Action", "Verdict", "Started")
	for _, r := range rows {
		score := "—"
		if r.Score != nil {
			score = fmt.Sprintf("%.1f", *r.Score)
		}
		fmt.Printf("%-36s  %-14s  %-9s  %6s  %-8s  %-10s  %s\n",
			shortKey(r.RunKey), r.Workflow, r.Status, score, dash(r.Action), dash(r.Verdict), r.StartedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	RunKey     string                    `json:"run_key"`
	Consensus  *consensus.Result         `json:"consensus,omitempty"`
	Decision   *riskgate.Decision        `json:"decision,omitempty"`
	Votes      []vote.Vote               `json:"votes,omitempty"`
	Ledger     []executor.StepResult     `json:"ledger,omitempty"`
	Provenance []logging.ProvenanceEntry `json:"provenance,omitempty"`
}

func runDetailMode(st *store.Store, runKey string, jsonOut bool) error {
	out := detailOutput{RunKey: runKey}

	if c, err := st.Consensus(runKey); err == nil {
		out.Consensus = &c
		out.Votes = c.Votes
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if d, err := st.Decision(runKey); err == nil {
		out.Decision = &d
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	var err error
	if out.Ledger, err = st.Ledger(runKey); err != nil {
		return err
	}
	if out.Provenance, err = logging.ListProvenance(st.DB(), runKey); err != nil {
		return err
	}
	if out.Consensus == nil && out.Decision == nil && len(out.Ledger) == 0 {
		return fmt.Errorf("run %q not found", runKey)
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run: %s\n", runKey)
	if out.Consensus != nil {
		c := out.Consensus
		fmt.Printf("\nConsensus: %.1f %s %s (conflict %.1f, agreement %.0f%%)\n",
			c.Score, c.Emoji, c.Action, c.Conflict, c.AgreementLevel*100)
		for _, v := range out.Votes {
			fmt.Printf("  %-12s %-8s score=%5.1f confidence=%.2f %v\n",
				v.AgentID, v.Action, v.Score, v.Confidence, v.Flags)
		}
	}
	if out.Decision != nil {
		d := out.Decision
		fmt.Printf("\nGate: %s → %s\n", verdict(*d), d.EffectiveAction)
		for _, r := range d.Reasons {
			fmt.Printf("  - %s\n", r)
		}
	}
	if len(out.Ledger) > 0 {
		fmt.Println("\nStep ledger:")
		for _, e := range out.Ledger {
			line := fmt.Sprintf("  %-28s %-10s %8s", e.Name, e.Status, e.Duration.Round(time.Millisecond))
			if e.Err != "" {
				line += "  " + e.Err
			}
			fmt.Println(line)
		}
	}
	if len(out.Provenance) > 0 {
		fmt.Println("\nProvenance:")
		for _, p := range out.Provenance {
			fmt.Printf("  %s  %-16s  %-20s  %s\n",
				p.CreatedAt.Format("2006-01-02T15:04:05Z"), p.Event, p.Actor, p.Decision)
		}
	}
	return nil
}

// #endregion detail-mode

// #region output

func verdict(d riskgate.Decision) string {
	switch {
	case d.OverrideApplied:
		return "overridden"
	case d.Approved:
		return "approved"
	default:
		return "blocked"
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortKey(key string) string {
	if len(key) > 36 {
		return key[:36]
	}
	return key
}

func dash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// #endregion output
