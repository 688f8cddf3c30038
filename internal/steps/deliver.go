package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danielpatrickdp/swarm-conductor/internal/consensus"
	"github.com/danielpatrickdp/swarm-conductor/internal/riskgate"
)

// #region deliver

// DeliverFunc hands the gated result to an external delivery collaborator.
type DeliverFunc func(ctx context.Context, runKey string, d riskgate.Decision, c consensus.Result) error

// brief is the artifact handed to downstream renderers.
type brief struct {
	RunKey          string    `json:"run_key"`
	EffectiveAction string    `json:"effective_action"`
	Approved        bool      `json:"approved"`
	OverrideApplied bool      `json:"override_applied"`
	Reasons         []string  `json:"reasons,omitempty"`
	ConsensusScore  float64   `json:"consensus_score"`
	ConsensusAction string    `json:"consensus_action"`
	Emoji           string    `json:"emoji,omitempty"`
	Conflict        float64   `json:"conflict_score"`
	AgreementLevel  float64   `json:"agreement_level"`
	AgentCount      int       `json:"agent_count"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// FileDeliver writes the run's brief to <dir>/<runKey>.json for the external
// renderer to pick up.
func FileDeliver(dir string) DeliverFunc {
	return func(ctx context.Context, runKey string, d riskgate.Decision, c consensus.Result) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("deliver %s: %w", runKey, err)
		}

		b := brief{
			RunKey:          runKey,
			EffectiveAction: string(d.EffectiveAction),
			Approved:        d.Approved,
			OverrideApplied: d.OverrideApplied,
			Reasons:         d.Reasons,
			ConsensusScore:  c.Score,
			ConsensusAction: string(c.Action),
			Emoji:           c.Emoji,
			Conflict:        c.Conflict,
			AgreementLevel:  c.AgreementLevel,
			AgentCount:      len(c.Votes),
			GeneratedAt:     time.Now().UTC(),
		}
		data, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return fmt.Errorf("deliver %s: %w", runKey, err)
		}
		if err := os.WriteFile(filepath.Join(dir, runKey+".json"), data, 0o644); err != nil {
			return fmt.Errorf("deliver %s: %w", runKey, err)
		}
		return nil
	}
}

// #endregion deliver
