package graph

import (
	"context"

	"github.com/nodestream/flowline/log"
)

// Definition is a user-supplied pipeline blueprint: Define populates b with nodes and edges the
// same way a hand-written Builder call sequence would, but wrapped in something a Runner can
// build and re-build independently of any particular *Graph value. rc is supplied so
// a Definition can stash setup-time values (e.g. a shared client) as run parameters before the
// graph starts executing.
type Definition interface {
	Define(b *Builder, rc *Context) error
}

// DefinitionFunc adapts a plain function to Definition.
type DefinitionFunc func(b *Builder, rc *Context) error

// Define implements Definition.
func (f DefinitionFunc) Define(b *Builder, rc *Context) error { return f(b, rc) }

// RunOptions configures one Runner.Run invocation.
type RunOptions struct {
	// State overrides the default single-writer StateManager.
	State StateManager
	// Logger, Tracer, Observer wire this run's observability collaborators. Nil means a no-op
	// implementation for Tracer/Observer and log.NoOpLogger for Logger.
	Logger   log.Logger
	Tracer   Tracer
	Observer Observer
	// ValidationMode overrides the Builder's default LenientValidation.
	ValidationMode ValidationMode
}

// Runner drives a Definition to completion: building the Graph is the compile step, Run is the
// invocation. A run has no terminal value, only success or failure.
type Runner struct {
	def Definition
}

// NewRunner wraps a Definition for execution.
func NewRunner(def Definition) *Runner {
	return &Runner{def: def}
}

// RunGraphDirect executes an already-built Graph directly, for callers that built it themselves
// via Builder.Build rather than through a Definition.
func RunGraphDirect(ctx context.Context, g *Graph, opts RunOptions) error {
	rc := NewContext(ctx, opts.State, opts.Logger, opts.Tracer, opts.Observer)
	runErr := RunGraph(rc, rc, g)
	disposeErr := rc.DisposeAll(ctx)
	if runErr != nil {
		return runErr
	}
	return disposeErr
}

// Run builds the graph from r's Definition and executes it to completion against ctx, returning
// once every sink has finished or the first unrecovered error/cancellation occurs. On return,
// every node's Disposable has been released (success or failure) via Context.DisposeAll.
func (r *Runner) Run(ctx context.Context, opts RunOptions) error {
	rc := NewContext(ctx, opts.State, opts.Logger, opts.Tracer, opts.Observer)

	b := NewBuilder()
	b.SetValidationMode(opts.ValidationMode)
	if err := r.def.Define(b, rc); err != nil {
		return err
	}
	g, err := b.Build()
	if err != nil {
		return err
	}

	runErr := RunGraph(rc, rc, g)
	disposeErr := rc.DisposeAll(ctx)

	if runErr != nil {
		return runErr
	}
	return disposeErr
}

// RunAsync starts the graph in a background goroutine and returns immediately with a channel
// that receives the single terminal error (nil on success) once the run completes. Callers that
// want to stop the run early should cancel ctx; Run (and therefore RunAsync) always observes
// cancellation via the Context it builds from ctx.
func (r *Runner) RunAsync(ctx context.Context, opts RunOptions) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, opts)
	}()
	return done
}
