// Package store persists run artifacts — votes, consensus, gate decisions,
// and step ledgers — in SQLite, keyed by run so past runs can be inspected
// or re-run idempotently without re-executing anything.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/swarm-conductor/internal/consensus"
	"github.com/danielpatrickdp/swarm-conductor/internal/executor"
	"github.com/danielpatrickdp/swarm-conductor/internal/riskgate"
	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_key     TEXT PRIMARY KEY,
	workflow    TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS votes (
	run_key     TEXT NOT NULL,
	agent_id    TEXT NOT NULL,
	action      TEXT NOT NULL,
	score       REAL NOT NULL,
	confidence  REAL NOT NULL,
	flags       TEXT,
	rationale   TEXT,
	PRIMARY KEY (run_key, agent_id)
);

CREATE TABLE IF NOT EXISTS consensus (
	run_key    TEXT PRIMARY KEY,
	score      REAL NOT NULL,
	action     TEXT NOT NULL,
	emoji      TEXT,
	conflict   REAL NOT NULL,
	agreement  REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS gate_decisions (
	run_key          TEXT PRIMARY KEY,
	approved         INTEGER NOT NULL,
	reasons          TEXT,
	override_applied INTEGER NOT NULL,
	consensus_action TEXT NOT NULL,
	effective_action TEXT NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS step_ledger (
	run_key     TEXT NOT NULL,
	step        TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT,
	PRIMARY KEY (run_key, step)
);

CREATE TABLE IF NOT EXISTS provenance_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_key    TEXT NOT NULL,
	event      TEXT NOT NULL,
	actor      TEXT,
	decision   TEXT NOT NULL,
	reason     TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provenance_run ON provenance_log(run_key);
`

// #endregion schema

// #region store

// Store manages run artifacts in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion store

// #region runs

// RunRecord summarizes one completed run.
type RunRecord struct {
	RunKey    string
	Workflow  string
	Status    string
	StartedAt time.Time
	Duration  time.Duration
}

// SaveRun upserts the run summary. Re-running the same key overwrites.
func (s *Store) SaveRun(rec RunRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO runs (run_key, workflow, status, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RunKey, rec.Workflow, rec.Status,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunKey, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_key, workflow, status, started_at, duration_ms
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started string
		var durMs int64
		if err := rows.Scan(&rec.RunKey, &rec.Workflow, &rec.Status, &started, &durMs); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion runs

// #region votes

// SaveVote upserts one agent's vote for a run.
func (s *Store) SaveVote(runKey string, v vote.Vote) error {
	flags, err := json.Marshal(v.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO votes (run_key, agent_id, action, score, confidence, flags, rationale)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runKey, v.AgentID, string(v.Action), v.Score, v.Confidence, string(flags), v.Rationale,
	)
	if err != nil {
		return fmt.Errorf("save vote %s/%s: %w", runKey, v.AgentID, err)
	}
	return nil
}

// Votes returns a run's votes in submission order.
func (s *Store) Votes(runKey string) ([]vote.Vote, error) {
	rows, err := s.db.Query(
		`SELECT agent_id, action, score, confidence, flags, rationale
		 FROM votes WHERE run_key = ? ORDER BY rowid`, runKey)
	if err != nil {
		return nil, fmt.Errorf("load votes %s: %w", runKey, err)
	}
	defer rows.Close()

	var out []vote.Vote
	for rows.Next() {
		var v vote.Vote
		var action, flags string
		var rationale sql.NullString
		if err := rows.Scan(&v.AgentID, &action, &v.Score, &v.Confidence, &flags, &rationale); err != nil {
			return nil, err
		}
		v.Action = vote.Action(action)
		v.Rationale = rationale.String
		if flags != "" && flags != "null" {
			if err := json.Unmarshal([]byte(flags), &v.Flags); err != nil {
				return nil, fmt.Errorf("decode flags %s/%s: %w", runKey, v.AgentID, err)
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// #endregion votes

// #region consensus

// SaveConsensus upserts the consensus result for a run. Contributing votes
// are stored separately in the votes table.
func (s *Store) SaveConsensus(runKey string, res consensus.Result) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO consensus (run_key, score, action, emoji, conflict, agreement, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runKey, res.Score, string(res.Action), res.Emoji, res.Conflict, res.AgreementLevel,
		res.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save consensus %s: %w", runKey, err)
	}
	return nil
}

// Consensus loads a run's consensus, rehydrating contributing votes from the
// votes table. Returns sql.ErrNoRows when the run has no consensus.
func (s *Store) Consensus(runKey string) (consensus.Result, error) {
	var res consensus.Result
	var action, created string
	err := s.db.QueryRow(
		`SELECT score, action, emoji, conflict, agreement, created_at
		 FROM consensus WHERE run_key = ?`, runKey,
	).Scan(&res.Score, &action, &res.Emoji, &res.Conflict, &res.AgreementLevel, &created)
	if err != nil {
		return consensus.Result{}, err
	}
	res.Action = vote.Action(action)
	res.Timestamp, _ = time.Parse(time.RFC3339Nano, created)

	votes, err := s.Votes(runKey)
	if err != nil {
		return consensus.Result{}, err
	}
	res.Votes = votes
	res.Distribution = make(map[vote.Action]int, 3)
	for _, v := range votes {
		res.Distribution[v.Action]++
	}
	return res, nil
}

// #endregion consensus

// #region gate-decisions

// SaveDecision upserts the gate decision for a run.
func (s *Store) SaveDecision(runKey string, d riskgate.Decision, at time.Time) error {
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO gate_decisions
		 (run_key, approved, reasons, override_applied, consensus_action, effective_action, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runKey, boolInt(d.Approved), string(reasons), boolInt(d.OverrideApplied),
		string(d.ConsensusAction), string(d.EffectiveAction), at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", runKey, err)
	}
	return nil
}

// Decision loads a run's gate decision. Returns sql.ErrNoRows when absent.
func (s *Store) Decision(runKey string) (riskgate.Decision, error) {
	var d riskgate.Decision
	var approved, override int
	var reasons, consensusAction, effectiveAction string
	err := s.db.QueryRow(
		`SELECT approved, reasons, override_applied, consensus_action, effective_action
		 FROM gate_decisions WHERE run_key = ?`, runKey,
	).Scan(&approved, &reasons, &override, &consensusAction, &effectiveAction)
	if err != nil {
		return riskgate.Decision{}, err
	}
	d.Approved = approved != 0
	d.OverrideApplied = override != 0
	d.ConsensusAction = vote.Action(consensusAction)
	d.EffectiveAction = vote.Action(effectiveAction)
	if reasons != "" && reasons != "null" {
		if err := json.Unmarshal([]byte(reasons), &d.Reasons); err != nil {
			return riskgate.Decision{}, fmt.Errorf("decode reasons %s: %w", runKey, err)
		}
	}
	return d, nil
}

// #endregion gate-decisions

// #region ledger

// SaveLedger upserts a run's complete step ledger.
func (s *Store) SaveLedger(runKey string, entries []executor.StepResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM step_ledger WHERE run_key = ?`, runKey); err != nil {
		return fmt.Errorf("clear ledger %s: %w", runKey, err)
	}
	for _, e := range entries {
		_, err := tx.Exec(
			`INSERT INTO step_ledger (run_key, step, status, duration_ms, error)
			 VALUES (?, ?, ?, ?, ?)`,
			runKey, e.Name, string(e.Status), e.Duration.Milliseconds(), e.Err,
		)
		if err != nil {
			return fmt.Errorf("save ledger %s/%s: %w", runKey, e.Name, err)
		}
	}
	return tx.Commit()
}

// Ledger returns a run's step results in recorded order.
func (s *Store) Ledger(runKey string) ([]executor.StepResult, error) {
	rows, err := s.db.Query(
		`SELECT step, status, duration_ms, error
		 FROM step_ledger WHERE run_key = ? ORDER BY rowid`, runKey)
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", runKey, err)
	}
	defer rows.Close()

	var out []executor.StepResult
	for rows.Next() {
		var e executor.StepResult
		var status string
		var durMs int64
		var errText sql.NullString
		if err := rows.Scan(&e.Name, &status, &durMs, &errText); err != nil {
			return nil, err
		}
		e.Status = executor.Status(status)
		e.Duration = time.Duration(durMs) * time.Millisecond
		e.Err = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion ledger

// #region helpers

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
