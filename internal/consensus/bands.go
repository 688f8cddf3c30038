package consensus

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
)

// #region band

// Band maps a lower-inclusive score threshold to an action. A band runs from
// Min up to (but not including) the next band's Min; the last band is
// unbounded above. Representing only the lower edge makes gaps impossible.
type Band struct {
	Min    float64
	Action vote.Action
	Emoji  string
}

// Bands is an ordered threshold table partitioning the score range [0,100].
type Bands []Band

// #endregion band

// #region defaults

// DefaultBands returns the stock consensus-to-action mapping:
// de-risk below 40, hold 40-60, buy at 60 and above.
func DefaultBands() Bands {
	return Bands{
		{Min: 0, Action: vote.ActionDeRisk, Emoji: "🔴"},
		{Min: 40, Action: vote.ActionHold, Emoji: "🟡"},
		{Min: 60, Action: vote.ActionBuy, Emoji: "🟢"},
	}
}

// #endregion defaults

// #region validate

// Validate checks the table partitions [0,100]: non-empty, first band at 0,
// strictly ascending thresholds within range, recognized actions.
func (b Bands) Validate() error {
	if len(b) == 0 {
		return fmt.Errorf("action bands: empty table")
	}
	if b[0].Min != 0 {
		return fmt.Errorf("action bands: first band starts at %.2f, must start at 0", b[0].Min)
	}
	if !sort.SliceIsSorted(b, func(i, j int) bool { return b[i].Min < b[j].Min }) {
		return fmt.Errorf("action bands: thresholds not strictly ascending")
	}
	for i, band := range b {
		if i > 0 && band.Min == b[i-1].Min {
			return fmt.Errorf("action bands: duplicate threshold %.2f", band.Min)
		}
		if band.Min < 0 || band.Min > 100 {
			return fmt.Errorf("action bands: threshold %.2f outside [0,100]", band.Min)
		}
		if !band.Action.Valid() {
			return fmt.Errorf("action bands: unrecognized action %q", band.Action)
		}
	}
	return nil
}

// #endregion validate

// #region action-for

// ActionFor maps a score to its band. A score landing exactly on a boundary
// belongs to the higher band (boundaries are half-open upward).
func (b Bands) ActionFor(score float64) Band {
	chosen := b[0]
	for _, band := range b {
		if score >= band.Min {
			chosen = band
		}
	}
	return chosen
}

// #endregion action-for
