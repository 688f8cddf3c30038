// Package logging writes attributable decision provenance to SQLite.
package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-decision

// LogDecision writes a provenance entry to the provenance_log table.
func LogDecision(db *sql.DB, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (run_key, event, actor, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RunKey,
		entry.Event,
		nullIfEmpty(entry.Actor),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region list

// ListProvenance returns a run's provenance entries in insertion order.
func ListProvenance(db *sql.DB, runKey string) ([]ProvenanceEntry, error) {
	rows, err := db.Query(
		`SELECT run_key, event, actor, decision, reason, created_at
		 FROM provenance_log WHERE run_key = ? ORDER BY id`, runKey)
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceEntry
	for rows.Next() {
		var e ProvenanceEntry
		var actor, reason sql.NullString
		var created string
		if err := rows.Scan(&e.RunKey, &e.Event, &actor, &e.Decision, &reason, &created); err != nil {
			return nil, err
		}
		e.Actor = actor.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list

// #region helpers

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
