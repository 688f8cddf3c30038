package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/swarm-conductor/internal/riskgate"
)

// #region risk-source

// RiskSource supplies the per-run risk context, independent of agent votes.
type RiskSource func(ctx context.Context, runKey string) (riskgate.Context, error)

// riskFile is the on-disk shape of one run's risk context.
type riskFile struct {
	Indicators    map[string]float64 `json:"indicators"`
	Regime        string             `json:"regime"`
	RegimeChanged bool               `json:"regime_changed"`
}

// FileRiskSource reads <dir>/<runKey>.json. A missing or malformed file is
// an error: the gate step fails rather than evaluating against guessed risk
// inputs.
func FileRiskSource(dir string) RiskSource {
	return func(ctx context.Context, runKey string) (riskgate.Context, error) {
		path := filepath.Join(dir, runKey+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			return riskgate.Context{}, fmt.Errorf("risk context %s: %w", runKey, err)
		}

		var rf riskFile
		if err := json.Unmarshal(data, &rf); err != nil {
			return riskgate.Context{}, fmt.Errorf("risk context %s: decode: %w", runKey, err)
		}

		regime := riskgate.Regime(rf.Regime)
		switch regime {
		case riskgate.RegimeRiskOn, riskgate.RegimeNeutral, riskgate.RegimeRiskOff:
		default:
			return riskgate.Context{}, fmt.Errorf("risk context %s: unrecognized regime %q", runKey, rf.Regime)
		}

		return riskgate.Context{
			Indicators:    rf.Indicators,
			Regime:        regime,
			RegimeChanged: rf.RegimeChanged,
		}, nil
	}
}

// StaticRiskSource always returns the given context. Used by mock runs.
func StaticRiskSource(rc riskgate.Context) RiskSource {
	return func(ctx context.Context, runKey string) (riskgate.Context, error) {
		return rc, nil
	}
}

// #endregion risk-source
