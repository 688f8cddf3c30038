package executor

import "context"

// #region run-context

// RunContext identifies the run a step executes within.
type RunContext struct {
	RunKey   string // date key or explicit run identifier
	Workflow string
}

// #endregion run-context

// #region step-func

// StepFunc is the unit of work behind an atomic step or a group task.
// The executor treats it as opaque: it either returns before its context
// deadline or is recorded as timed out.
type StepFunc func(ctx context.Context, rc RunContext) error

// #endregion step-func

// #region registry

// Registry maps step and task names to their implementations. Populated
// before a run starts; read-only during execution.
type Registry struct {
	funcs map[string]StepFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]StepFunc)}
}

// Register binds a step or task name to an implementation.
// A later registration for the same name replaces the earlier one.
func (r *Registry) Register(name string, fn StepFunc) {
	r.funcs[name] = fn
}

// Lookup returns the implementation for name, if registered.
func (r *Registry) Lookup(name string) (StepFunc, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// #endregion registry
