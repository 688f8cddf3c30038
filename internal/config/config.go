// Package config loads the declarative swarm.yaml: action bands, gate
// thresholds, agents, workflows, triggers, and schedules. Loaded once at
// process start; a config that fails validation refuses to load.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/swarm-conductor/internal/consensus"
	"github.com/danielpatrickdp/swarm-conductor/internal/riskgate"
	"github.com/danielpatrickdp/swarm-conductor/internal/steps"
	"github.com/danielpatrickdp/swarm-conductor/internal/trigger"
	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
	"github.com/danielpatrickdp/swarm-conductor/internal/workflow"
)

// #region file-shape

// Config is the decoded swarm.yaml. Durations are strings in the file
// ("90s", "5m") and parsed during conversion.
type Config struct {
	ConservativeAction string      `yaml:"conservative_action"`
	ActionBands        []BandSpec  `yaml:"action_bands"`
	Gate               GateSpec    `yaml:"gate"`
	Refresh            []string    `yaml:"refresh"`
	Agents             []AgentSpec `yaml:"agents"`
	RiskDir            string      `yaml:"risk_dir"`
	BriefDir           string      `yaml:"brief_dir"`
	Workflows          []FlowSpec  `yaml:"workflows"`
	Triggers           []RuleSpec  `yaml:"triggers"`
	Schedules          []SchedSpec `yaml:"schedules"`
}

// BandSpec is one row of the consensus-to-action table.
type BandSpec struct {
	Min    float64 `yaml:"min"`
	Action string  `yaml:"action"`
	Emoji  string  `yaml:"emoji"`
}

// GateSpec holds risk-gate thresholds. Zero values fall back to defaults.
type GateSpec struct {
	MinConfidence      *float64 `yaml:"min_confidence"`
	FragilityIndicator string   `yaml:"fragility_indicator"`
	FragilityCeiling   *float64 `yaml:"fragility_ceiling"`
	ConflictCeiling    *float64 `yaml:"conflict_ceiling"`
	MinConfirmations   *int     `yaml:"min_confirmations"`
}

// AgentSpec names an external analysis command.
type AgentSpec struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
}

// FlowSpec is one workflow graph.
type FlowSpec struct {
	Name  string     `yaml:"name"`
	Steps []StepSpec `yaml:"steps"`
}

// StepSpec is one workflow step; Tasks only for parallel groups.
type StepSpec struct {
	Name      string     `yaml:"name"`
	Kind      string     `yaml:"kind"`
	Timeout   string     `yaml:"timeout"`
	DependsOn []string   `yaml:"depends_on"`
	Required  bool       `yaml:"required"`
	Tasks     []TaskSpec `yaml:"tasks"`
}

// TaskSpec is one child of a parallel group.
type TaskSpec struct {
	Name    string `yaml:"name"`
	Timeout string `yaml:"timeout"`
}

// RuleSpec is one event trigger.
type RuleSpec struct {
	Name      string  `yaml:"name"`
	EventType string  `yaml:"event_type"`
	Metric    string  `yaml:"metric"`
	Op        string  `yaml:"op"`
	Threshold float64 `yaml:"threshold"`
	Cooldown  string  `yaml:"cooldown"`
	Workflow  string  `yaml:"workflow"`
}

// SchedSpec is one cron-cadence schedule.
type SchedSpec struct {
	Name     string `yaml:"name"`
	Cadence  string `yaml:"cadence"`
	Workflow string `yaml:"workflow"`
}

// #endregion file-shape

// #region load

// Load reads and validates swarm.yaml. Any invalid band table, workflow
// graph, trigger operator, or cadence is a load error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ConservativeAction != "" && !vote.Action(c.ConservativeAction).Valid() {
		return fmt.Errorf("conservative_action: unrecognized %q", c.ConservativeAction)
	}
	if err := c.Bands().Validate(); err != nil {
		return err
	}

	if len(c.Workflows) == 0 {
		return fmt.Errorf("no workflows defined")
	}
	defs, err := c.Definitions()
	if err != nil {
		return err
	}
	byName := make(map[string]bool, len(defs))
	for _, d := range defs {
		if byName[d.Name] {
			return fmt.Errorf("duplicate workflow %q", d.Name)
		}
		byName[d.Name] = true
		if err := d.Validate(); err != nil {
			return err
		}
		// A workflow naming the refresh step needs a refresh command, or the
		// step would fail on every run.
		if _, uses := d.Step(steps.StepRefresh); uses && len(c.Refresh) == 0 {
			return fmt.Errorf("workflow %q uses step %q but no refresh command is configured", d.Name, steps.StepRefresh)
		}
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent with no name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
		if len(a.Command) == 0 {
			return fmt.Errorf("agent %q: no command", a.Name)
		}
	}

	for _, t := range c.Triggers {
		if _, err := trigger.ParseOp(t.Op); err != nil {
			return fmt.Errorf("trigger %q: %w", t.Name, err)
		}
		if !byName[t.Workflow] {
			return fmt.Errorf("trigger %q: unknown workflow %q", t.Name, t.Workflow)
		}
		if t.Cooldown != "" {
			if _, err := time.ParseDuration(t.Cooldown); err != nil {
				return fmt.Errorf("trigger %q: bad cooldown %q: %w", t.Name, t.Cooldown, err)
			}
		}
	}
	for _, s := range c.Schedules {
		if _, err := cron.ParseStandard(s.Cadence); err != nil {
			return fmt.Errorf("schedule %q: bad cadence %q: %w", s.Name, s.Cadence, err)
		}
		if !byName[s.Workflow] {
			return fmt.Errorf("schedule %q: unknown workflow %q", s.Name, s.Workflow)
		}
	}
	return nil
}

// #endregion load

// #region conversions

// Bands converts the configured band table, or the default when absent.
func (c *Config) Bands() consensus.Bands {
	if len(c.ActionBands) == 0 {
		return consensus.DefaultBands()
	}
	out := make(consensus.Bands, len(c.ActionBands))
	for i, b := range c.ActionBands {
		out[i] = consensus.Band{Min: b.Min, Action: vote.Action(b.Action), Emoji: b.Emoji}
	}
	return out
}

// GateConfig merges configured thresholds over the defaults.
func (c *Config) GateConfig() riskgate.Config {
	out := riskgate.DefaultConfig()
	if c.ConservativeAction != "" {
		out.Conservative = vote.Action(c.ConservativeAction)
	}
	if c.Gate.MinConfidence != nil {
		out.MinConfidence = *c.Gate.MinConfidence
	}
	if c.Gate.FragilityIndicator != "" {
		out.FragilityIndicator = c.Gate.FragilityIndicator
	}
	if c.Gate.FragilityCeiling != nil {
		out.FragilityCeiling = *c.Gate.FragilityCeiling
	}
	if c.Gate.ConflictCeiling != nil {
		out.ConflictCeiling = *c.Gate.ConflictCeiling
	}
	if c.Gate.MinConfirmations != nil {
		out.MinConfirmations = *c.Gate.MinConfirmations
	}
	return out
}

// CommandAgents builds the configured external agents.
func (c *Config) CommandAgents() []steps.Agent {
	out := make([]steps.Agent, len(c.Agents))
	for i, a := range c.Agents {
		out[i] = steps.CommandAgent{Name: a.Name, Command: a.Command}
	}
	return out
}

// Definitions converts the configured workflows, parsing timeouts.
func (c *Config) Definitions() ([]workflow.Definition, error) {
	out := make([]workflow.Definition, len(c.Workflows))
	for i, f := range c.Workflows {
		def := workflow.Definition{Name: f.Name, Steps: make([]workflow.Step, len(f.Steps))}
		for j, s := range f.Steps {
			timeout, err := parseTimeout(s.Timeout)
			if err != nil {
				return nil, fmt.Errorf("workflow %q step %q: %w", f.Name, s.Name, err)
			}
			step := workflow.Step{
				Name:      s.Name,
				Kind:      workflow.Kind(s.Kind),
				Timeout:   timeout,
				DependsOn: s.DependsOn,
				Required:  s.Required,
			}
			if step.Kind == "" {
				step.Kind = workflow.KindAtomic
			}
			for _, task := range s.Tasks {
				tt, err := parseTimeout(task.Timeout)
				if err != nil {
					return nil, fmt.Errorf("workflow %q task %q: %w", f.Name, task.Name, err)
				}
				step.Tasks = append(step.Tasks, workflow.Task{Name: task.Name, Timeout: tt})
			}
			def.Steps[j] = step
		}
		out[i] = def
	}
	return out, nil
}

// TriggerRules converts the configured triggers, parsing cooldowns.
func (c *Config) TriggerRules() ([]trigger.Rule, error) {
	out := make([]trigger.Rule, len(c.Triggers))
	for i, t := range c.Triggers {
		cooldown, err := parseTimeout(t.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("trigger %q: %w", t.Name, err)
		}
		op, err := trigger.ParseOp(t.Op)
		if err != nil {
			return nil, fmt.Errorf("trigger %q: %w", t.Name, err)
		}
		out[i] = trigger.Rule{
			Name:      t.Name,
			EventType: t.EventType,
			Metric:    t.Metric,
			Op:        op,
			Threshold: t.Threshold,
			Cooldown:  cooldown,
			Workflow:  t.Workflow,
		}
	}
	return out, nil
}

// TriggerSchedules converts the configured schedules.
func (c *Config) TriggerSchedules() []trigger.Schedule {
	out := make([]trigger.Schedule, len(c.Schedules))
	for i, s := range c.Schedules {
		out[i] = trigger.Schedule{Name: s.Name, Cadence: s.Cadence, Workflow: s.Workflow}
	}
	return out
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// #endregion conversions
