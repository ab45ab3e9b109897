package graph

import (
	"context"
	"sync"
	"time"

	"github.com/nodestream/flowline/log"
)

// StateManager is the pluggable collaborator behind Context's shared parameter map.
// The default implementation serializes every Get and Set behind one mutex; it neither detects
// nor rejects writes from several goroutines. NewLockingStateManager returns a read/write-locked
// alternative for graphs whose nodes write shared parameters from many workers.
type StateManager interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// singleWriterState is the default StateManager: reads and writes both take one mutex, so
// concurrent access is serialized but never reported; the inUse field is not consulted.
type singleWriterState struct {
	mu     sync.Mutex
	values map[string]any
	inUse  bool
}

func newSingleWriterState() *singleWriterState {
	return &singleWriterState{values: make(map[string]any)}
}

func (s *singleWriterState) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *singleWriterState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// lockingState is an opt-in StateManager safe for concurrent writers, e.g. from within a
// Parallel strategy's worker pool.
type lockingState struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewLockingStateManager returns a StateManager safe for concurrent Set calls from multiple
// goroutines, for graphs that need cross-worker shared parameters under a Parallel strategy.
func NewLockingStateManager() StateManager {
	return &lockingState{values: make(map[string]any)}
}

func (s *lockingState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *lockingState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Context is the per-run handle threaded through every node call: cancellation, shared
// parameters, resource disposal, the currently-executing node scope, and the observability
// collaborators (logger, tracer, observer).
type Context struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	state StateManager

	disposeMu    sync.Mutex
	disposables  []Disposable

	scopeMu    sync.Mutex
	nodeScope  []NodeID

	retryCache *strategyCache
	breakers   *breakerRegistry

	// graph backs node(id); populated by RunGraph so node adapters (builder.go) can resolve a
	// node's own configuration (e.g. a CustomCardinality LineageMapper) without the typed Add*
	// closures needing a *Graph at registration time, before one exists.
	graph *Graph

	// ErrorHandling is populated by RunGraph from the Graph being executed, so node adapters
	// (see builder.go) can resolve per-item error decisions without the Builder needing to know
	// about the Graph it hasn't produced yet.
	ErrorHandling PipelineErrorConfig

	// Lineage is populated by RunGraph from the Graph being executed, mirroring
	// ErrorHandling above: node adapters consult it to decide whether to wrap/unwrap
	// LineagePacket envelopes without needing the Builder to know about the Graph it
	// hasn't produced yet.
	Lineage LineageOptions

	Logger   log.Logger
	Tracer   Tracer
	Observer Observer
}

// NewContext wraps parent with the run-scoped collaborators. A nil state defaults to a
// singleWriterState; a nil logger defaults to log.NoOpLogger.
func NewContext(parent context.Context, state StateManager, logger log.Logger, tracer Tracer, observer Observer) *Context {
	ctx, cancel := context.WithCancelCause(parent)
	if state == nil {
		state = newSingleWriterState()
	}
	if logger == nil {
		logger = &log.NoOpLogger{}
	}
	if tracer == nil {
		tracer = NoOpTracer{}
	}
	if observer == nil {
		observer = NoOpObserver{}
	}
	return &Context{
		ctx:        ctx,
		cancel:     cancel,
		state:      state,
		retryCache: newStrategyCache(),
		breakers:   newBreakerRegistry(),
		Logger:     logger,
		Tracer:     tracer,
		Observer:   observer,
	}
}

// Done, Err, Deadline, Value satisfy context.Context so a *Context can be passed anywhere a
// context.Context is expected.
func (c *Context) Done() <-chan struct{}                { return c.ctx.Done() }
func (c *Context) Err() error                           { return c.ctx.Err() }
func (c *Context) Deadline() (deadline time.Time, ok bool) { return c.ctx.Deadline() }
func (c *Context) Value(key any) any                    { return c.ctx.Value(key) }

// Cancel aborts the run with cause, which downstream CancellationError values will wrap.
func (c *Context) Cancel(cause error) { c.cancel(cause) }

// Get reads a shared run parameter.
func (c *Context) Get(key string) (any, bool) { return c.state.Get(key) }

// Set writes a shared run parameter.
func (c *Context) Set(key string, value any) { c.state.Set(key, value) }

// Defer registers d for disposal when the run ends. Disposables are released in reverse
// registration order, mirroring typical defer-stack teardown semantics.
func (c *Context) Defer(d Disposable) {
	c.disposeMu.Lock()
	defer c.disposeMu.Unlock()
	c.disposables = append(c.disposables, d)
}

// DisposeAll releases every registered Disposable in reverse order, collecting every error into
// a *ResourceDisposalAggregate rather than stopping at the first failure, so one misbehaving
// node's teardown never masks another's.
func (c *Context) DisposeAll(ctx context.Context) error {
	c.disposeMu.Lock()
	ds := c.disposables
	c.disposables = nil
	c.disposeMu.Unlock()

	var errs []error
	for i := len(ds) - 1; i >= 0; i-- {
		if err := ds[i].Dispose(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &ResourceDisposalAggregate{Errors: errs}
}

// pushNode records id as the currently executing node, for diagnostics.
func (c *Context) pushNode(id NodeID) {
	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()
	c.nodeScope = append(c.nodeScope, id)
}

func (c *Context) popNode() {
	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()
	if len(c.nodeScope) > 0 {
		c.nodeScope = c.nodeScope[:len(c.nodeScope)-1]
	}
}

// node resolves id's frozen NodeDefinition, once RunGraph has populated the run's graph
// reference. Returns nil before that point or for an unknown id.
func (c *Context) node(id NodeID) *NodeDefinition {
	if c.graph == nil {
		return nil
	}
	n, _ := c.graph.Node(id)
	return n
}

// CurrentNode returns the most recently pushed node id on the Context's scope stack, or "" if
// none is active. The stack is shared by every goroutine of the run, not kept per goroutine.
func (c *Context) CurrentNode() NodeID {
	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()
	if len(c.nodeScope) == 0 {
		return ""
	}
	return c.nodeScope[len(c.nodeScope)-1]
}
