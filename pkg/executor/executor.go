// Package executor provides pluggable execution backends for jobs.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownEntrypoint is returned when no executor is registered for
// a job's entrypoint.
var ErrUnknownEntrypoint = errors.New("unknown entrypoint")

// Task is the executor's view of a job. It carries everything a
// backend needs without exposing queue-owned state.
type Task struct {
	JobID      string            `json:"job_id"`
	Entrypoint string            `json:"entrypoint"`
	Target     string            `json:"target"`
	RunID      string            `json:"run_id,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Attempt    int               `json:"attempt"`
}

// Result is the outcome of a single execution attempt. Exactly one of
// three outcomes holds: success (Execute returned nil error and
// NeedsApproval is false), approval-required (NeedsApproval is true),
// or failure (Execute returned an error).
type Result struct {
	// Output is the result payload, possibly empty.
	Output []byte
	// NeedsApproval signals the backend refused to act without a human
	// sign-off. Summary describes the plan a reviewer should see.
	NeedsApproval bool
	Summary       string
	// PlanHash binds a future approval to the exact plan produced here.
	PlanHash string
	// Risk is free-form risk metadata forwarded to the approval ticket.
	Risk string
}

// Executor runs tasks against one kind of backend.
type Executor interface {
	// Name identifies the backend in logs and registry lookups.
	Name() string
	// Execute runs the task. It must honor ctx cancellation; the caller
	// enforces the hard timeout through ctx.
	Execute(ctx context.Context, task Task) (*Result, error)
}

// Registry maps entrypoint names to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds an entrypoint to an executor, replacing any previous
// binding.
func (r *Registry) Register(entrypoint string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[entrypoint] = e
}

// Get returns the executor for an entrypoint.
func (r *Registry) Get(entrypoint string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[entrypoint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntrypoint, entrypoint)
	}
	return e, nil
}

// Entrypoints returns all registered entrypoint names.
func (r *Registry) Entrypoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}

// Func adapts a plain function into an Executor. Useful in tests and
// for in-process entrypoints.
type Func struct {
	name string
	fn   func(ctx context.Context, task Task) (*Result, error)
}

// NewFunc creates a function-backed executor.
func NewFunc(name string, fn func(ctx context.Context, task Task) (*Result, error)) *Func {
	return &Func{name: name, fn: fn}
}

// Name implements Executor.
func (f *Func) Name() string { return f.name }

// Execute implements Executor.
func (f *Func) Execute(ctx context.Context, task Task) (*Result, error) {
	return f.fn(ctx, task)
}
