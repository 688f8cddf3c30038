// Package workflow defines the static workflow graph loaded at process
// start: named steps, dependencies, timeouts, and parallel task groups.
package workflow

import (
	"fmt"
	"strings"
	"time"
)

// #region kinds

// Kind distinguishes a single unit of work from a fan-out group.
type Kind string

const (
	KindAtomic Kind = "atomic"
	KindGroup  Kind = "parallel-group"
)

// #endregion kinds

// #region types

// Task is one child of a parallel-group step, with its own timeout.
type Task struct {
	Name    string
	Timeout time.Duration
}

// Step is one node of a workflow graph. Static once loaded.
type Step struct {
	Name      string
	Kind      Kind
	Timeout   time.Duration
	DependsOn []string
	Required  bool // a required step's failure marks the whole run failed
	Tasks     []Task
}

// Definition is a named workflow graph. Static once loaded; Validate must
// pass before a definition is ever scheduled.
type Definition struct {
	Name  string
	Steps []Step
}

// #endregion types

// #region cycle-error

// CycleError reports a dependency cycle found at load time.
type CycleError struct {
	Workflow string
	Steps    []string // members of the cycle, in walk order
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow %q: dependency cycle: %s", e.Workflow, strings.Join(e.Steps, " → "))
}

// #endregion cycle-error

// #region validate

// Validate checks structural invariants: non-empty unique step names, deps
// referencing declared steps, task lists matching step kind, and an acyclic
// dependency graph. A definition failing validation is never executed.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow: missing name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q: no steps", d.Name)
	}

	byName := make(map[string]Step, len(d.Steps))
	for _, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow %q: step with empty name", d.Name)
		}
		if _, dup := byName[s.Name]; dup {
			return fmt.Errorf("workflow %q: duplicate step %q", d.Name, s.Name)
		}
		byName[s.Name] = s

		switch s.Kind {
		case KindAtomic:
			if len(s.Tasks) > 0 {
				return fmt.Errorf("workflow %q: atomic step %q declares tasks", d.Name, s.Name)
			}
		case KindGroup:
			if len(s.Tasks) == 0 {
				return fmt.Errorf("workflow %q: parallel-group step %q has no tasks", d.Name, s.Name)
			}
			seen := make(map[string]bool, len(s.Tasks))
			for _, task := range s.Tasks {
				if task.Name == "" {
					return fmt.Errorf("workflow %q: step %q: task with empty name", d.Name, s.Name)
				}
				if seen[task.Name] {
					return fmt.Errorf("workflow %q: step %q: duplicate task %q", d.Name, s.Name, task.Name)
				}
				seen[task.Name] = true
			}
		default:
			return fmt.Errorf("workflow %q: step %q: unrecognized kind %q", d.Name, s.Name, s.Kind)
		}
	}

	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("workflow %q: step %q depends on undeclared step %q", d.Name, s.Name, dep)
			}
			if dep == s.Name {
				return &CycleError{Workflow: d.Name, Steps: []string{s.Name, s.Name}}
			}
		}
	}

	return d.checkCycles(byName)
}

// checkCycles runs a depth-first walk over the dependency edges.
func (d Definition) checkCycles(byName map[string]Step) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(d.Steps))

	var walk func(name string, trail []string) *CycleError
	walk = func(name string, trail []string) *CycleError {
		state[name] = visiting
		trail = append(trail, name)
		for _, dep := range byName[name].DependsOn {
			switch state[dep] {
			case visiting:
				return &CycleError{Workflow: d.Name, Steps: append(trail, dep)}
			case unvisited:
				if err := walk(dep, trail); err != nil {
					return err
				}
			}
		}
		state[name] = done
		return nil
	}

	for _, s := range d.Steps {
		if state[s.Name] == unvisited {
			if err := walk(s.Name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// #endregion validate

// #region lookup

// Step returns the named step, if declared.
func (d Definition) Step(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// #endregion lookup
