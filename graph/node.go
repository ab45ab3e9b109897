package graph

import "context"

// Disposable is implemented by any node instance that owns resources needing release at the
// end of a run. Every node kind must be disposable: the scheduler registers each
// instance with the run's Context, which guarantees a release call on every exit path —
// success, cancellation, or failure.
type Disposable interface {
	Dispose(ctx context.Context) error
}

// Source produces a lazy, cancellable sequence of TOut. Produce must respect ctx
// cancellation: once ctx is done, the returned channel must eventually close.
type Source[TOut any] interface {
	Disposable
	Produce(ctx context.Context, rc *Context) (<-chan TOut, error)
}

// Transform processes one input item into zero or more output items. The node's declared
// Cardinality (set at registration, not here) governs how the lineage envelope rewraps
// outputs; Transform itself only knows about raw payloads.
type Transform[TIn, TOut any] interface {
	Disposable
	Process(ctx context.Context, rc *Context, item TIn) ([]TOut, error)
}

// Sink consumes a lazy sequence of TIn to completion. Consume returning nil after `in` closes
// signals successful completion; a non-nil error is routed through the error pipeline.
type Sink[TIn any] interface {
	Disposable
	Consume(ctx context.Context, rc *Context, in <-chan TIn) error
}

// Join merges two typed input streams by key. KeyFirst/KeySecond extract a comparable join key
// from each side; Merge combines a matched pair. Implementations decide their own matching
// window/strategy (e.g. hash-join buffering one side) — the engine only guarantees both input
// channels are delivered in per-edge FIFO order.
type Join[TIn1, TIn2, TOut any] interface {
	Disposable
	KeyFirst(item TIn1) any
	KeySecond(item TIn2) any
	Merge(first TIn1, second TIn2) (TOut, error)
}

// Aggregate groups items by key within time windows, accumulating to a result emitted when the
// window closes.
type Aggregate[TIn any, TKey comparable, TAcc, TResult any] interface {
	Disposable
	KeyOf(item TIn) TKey
	NewAccumulator() TAcc
	Accumulate(acc TAcc, item TIn) (TAcc, error)
	Finish(key TKey, w Window, acc TAcc) (TResult, error)
}

// NodeRunner is the type-erased, item-at-a-time execution contract the scheduler actually
// drives for Source, Transform and Sink nodes. AddSource/AddTransform/AddSink adapt the generic,
// typed node contracts above into a NodeRunner at registration time (AddJoin and AddAggregate
// produce a JoinRunner and an AggregateRunner instead); the runtime itself is erased to `any`
// payloads.
type NodeRunner interface {
	Disposable
	// Run drives the node: pulling from in (nil for Source), pushing to out (nil for Sink),
	// until in is closed and out has received every produced item, or ctx is done.
	Run(ctx context.Context, rc *Context, in <-chan any, out chan<- any) error
}

// NodeRunnerFunc adapts a plain function to NodeRunner with a no-op Dispose.
type NodeRunnerFunc func(ctx context.Context, rc *Context, in <-chan any, out chan<- any) error

// Run implements NodeRunner.
func (f NodeRunnerFunc) Run(ctx context.Context, rc *Context, in <-chan any, out chan<- any) error {
	return f(ctx, rc, in, out)
}

// Dispose implements Disposable as a no-op.
func (f NodeRunnerFunc) Dispose(context.Context) error { return nil }

// runnerWithDispose pairs a NodeRunnerFunc's Run behavior with a separate Disposable, for
// Source/Transform/Sink adapters whose user-supplied implementation owns resources that must be
// released even though the adapter itself is stateless.
type runnerWithDispose struct {
	run  func(ctx context.Context, rc *Context, in <-chan any, out chan<- any) error
	disp Disposable
}

func (r runnerWithDispose) Run(ctx context.Context, rc *Context, in <-chan any, out chan<- any) error {
	return r.run(ctx, rc, in, out)
}

func (r runnerWithDispose) Dispose(ctx context.Context) error {
	return r.disp.Dispose(ctx)
}

// JoinRunner is the type-erased execution contract for a Join node: it owns both input
// channels directly, since a Join's two streams cannot be multiplexed onto one NodeRunner.in
// without losing per-port FIFO identity.
type JoinRunner interface {
	Disposable
	Run(ctx context.Context, rc *Context, first, second <-chan any, out chan<- any) error
}

// AggregateRunner is the type-erased execution contract for an Aggregate node. The scheduler
// supplies the window assigner and watermark strategy declared on the node's AggregateConfig;
// the runner only knows how to key, accumulate, and finish.
type AggregateRunner interface {
	Disposable
	KeyOf(item any) any
	NewAccumulator() any
	Accumulate(acc, item any) (any, error)
	Finish(key any, w Window, acc any) (any, error)
}
