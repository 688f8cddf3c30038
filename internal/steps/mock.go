package steps

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/danielpatrickdp/swarm-conductor/internal/consensus"
	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
)

// #region mock-agent

// MockAgent produces a deterministic vote derived from its name and the run
// key. Useful for dry runs and tests: the same (agent, run) pair always
// votes identically.
type MockAgent struct {
	Name string
}

// ID returns the agent identifier.
func (m MockAgent) ID() string { return m.Name }

// Analyze derives score and confidence from a hash of the identity pair.
// Scores land in [20,90]; confidence in [0.72,0.96], above the default gate
// floor so mock runs can approve.
func (m MockAgent) Analyze(ctx context.Context, runKey string) (vote.RawVote, error) {
	h := fnv.New64a()
	h.Write([]byte(m.Name))
	h.Write([]byte{0})
	h.Write([]byte(runKey))
	sum := h.Sum64()

	score := 20 + float64(sum%71)
	confidence := 0.72 + float64((sum>>8)%25)/100
	action := consensus.DefaultBands().ActionFor(score).Action

	var flags []string
	if score >= 85 {
		flags = append(flags, "euphoria_watch")
	}
	if score <= 25 {
		flags = append(flags, "capitulation_watch")
	}

	return vote.RawVote{
		AgentID:    m.Name,
		Action:     string(action),
		Score:      &score,
		Confidence: &confidence,
		Flags:      flags,
		Rationale:  fmt.Sprintf("mock analysis for %s", runKey),
	}, nil
}

// #endregion mock-agent
