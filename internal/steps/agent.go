// Package steps provides the built-in step implementations that wire agents,
// the consensus aggregator, the risk gate, and delivery into workflow runs.
package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
)

// #region agent

// Agent is the single narrow interface every analysis producer implements.
// The executor and aggregator depend only on the vote contract, never on an
// agent's internals.
type Agent interface {
	ID() string
	Analyze(ctx context.Context, runKey string) (vote.RawVote, error)
}

// #endregion agent

// #region command-agent

// CommandAgent runs an external analysis process and reads one raw vote as
// JSON from its stdout. "{run_key}" in an argument is replaced with the run
// key before execution.
type CommandAgent struct {
	Name    string
	Command []string
}

// ID returns the agent identifier.
func (a CommandAgent) ID() string { return a.Name }

// Analyze executes the configured command under the step's context, so a
// step timeout kills the process.
func (a CommandAgent) Analyze(ctx context.Context, runKey string) (vote.RawVote, error) {
	if len(a.Command) == 0 {
		return vote.RawVote{}, fmt.Errorf("agent %s: no command configured", a.Name)
	}

	argv := make([]string, len(a.Command))
	for i, arg := range a.Command {
		argv[i] = strings.ReplaceAll(arg, "{run_key}", runKey)
	}

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	if err != nil {
		return vote.RawVote{}, fmt.Errorf("agent %s: %w", a.Name, err)
	}

	var raw vote.RawVote
	if err := json.Unmarshal(out, &raw); err != nil {
		return vote.RawVote{}, fmt.Errorf("agent %s: decode output: %w", a.Name, err)
	}
	if raw.AgentID == "" {
		raw.AgentID = a.Name
	}
	return raw, nil
}

// #endregion command-agent
