// Package graph provides the core dataflow execution engine for Flowline.
//
// This package implements a streaming pipeline engine built from typed nodes connected by
// bounded channels: sources produce items, transforms map or flat-map them, joins and
// aggregates combine multiple streams, and sinks consume the result. A Builder assembles a
// Graph from these nodes and edges; RunGraph (or the higher-level Runner facade) schedules the
// graph's nodes onto goroutines and drives them concurrently to completion.
//
// # Core Concepts
//
// ## Builder and Graph
// Builder accumulates typed node definitions (AddSource, AddTransform, AddSink, AddJoin,
// AddAggregate) and edges (Connect, ConnectJoin) and produces an immutable, validated Graph via
// Build. A Builder cannot be reused after Build; TryBuild returns the Graph alongside its full
// diagnostic issue list even when validation fails, for callers that want to inspect problems
// before deciding whether to proceed.
//
// ## Typed Handles, Erased Runners
// Add* functions are generic over the item types a node produces or consumes and return a
// typed Handle for wiring edges at the call site. Internally each typed node is adapted into an
// any-based NodeRunner (or JoinRunner/AggregateRunner), which is what the scheduler actually
// drives — this keeps call-site type safety without forcing the scheduler itself to be generic
// over every pipeline's concrete types.
//
// ## Execution Strategies
// A node's Strategy decides how its runner is driven against its input channel: Sequential
// processes items one at a time in order; Parallel fans items across a bounded worker pool with
// configurable ordering and overflow policy; Resilient wraps another strategy with per-item
// retry and circuit-breaker protection.
//
// ## Windowed Aggregation
// Aggregate nodes assign each item to one or more windows via an Assigner (Tumbling or
// Sliding), accumulate per-key state, and emit a window's result once a WatermarkStrategy
// advances past the window's end. Late events older than AllowedLateness are dropped; any
// windows still open when the input closes are flushed unconditionally.
//
// ## Lineage
// When enabled, items travel wrapped in a LineagePacket carrying a stable lineage id and the
// path of nodes it has passed through. Cardinality (OneToOne, OneToMany, ManyToOne,
// CustomCardinality) governs how a node's output packets are rewrapped relative to their input.
//
// # Example Usage
//
//	type numbers struct{}
//
//	func (numbers) Produce(ctx context.Context, rc *graph.Context) (<-chan int, error) {
//		out := make(chan int)
//		go func() {
//			defer close(out)
//			for i := 0; i < 10; i++ {
//				out <- i
//			}
//		}()
//		return out, nil
//	}
//
//	type double struct{}
//
//	func (double) Process(ctx context.Context, rc *graph.Context, n int) ([]int, error) {
//		return []int{n * 2}, nil
//	}
//
//	b := graph.NewBuilder()
//	src := graph.AddSource[int](b, "numbers", numbers{})
//	tr := graph.AddTransform[int, int](b, "double", double{}, graph.OneToOne)
//	snk := graph.AddSink[int](b, "print", printSink{})
//	b.Connect(src.ID(), tr.ID())
//	b.Connect(tr.ID(), snk.ID())
//
//	g, err := b.Build()
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = graph.RunGraphDirect(context.Background(), g, graph.RunOptions{})
//
// # Resilience
//
//	retry := graph.RetryOptions{MaxAttempts: 5, Backoff: graph.ExponentialBackoff, Base: 50 * time.Millisecond}
//	breaker := graph.DefaultBreakerConfig()
//	b.SetExecutionStrategy(tr.ID(), graph.Resilient(graph.Sequential(), retry, &breaker))
//
// # Error Handling
//
// Each node may carry its own NodeErrorHandler (SkipItem, DeadLetterItem, FailNode); unhandled
// node failures escalate to a graph-wide PipelineErrorHandler (FailPipeline,
// ContinueWithoutNode, RestartNode). DeadLetterItem decisions are routed to a DeadLetterSink
// when one is configured via SetDeadLetterSink.
//
// # Observability
//
// A Context carries Logger, Tracer, and Observer collaborators for every run. Observer receives
// per-item start/end/failure events, retry attempts, queue depth samples, and circuit breaker
// transitions; diagnostics.go's Diag* key functions expose the same data through Context's
// shared parameter store for callers that prefer polling over an Observer implementation.
//
// # Visualization
//
// Export a Graph for documentation or debugging with either concrete Visualizer:
//
//	fmt.Println(graph.MermaidVisualizer{}.Export(g))
//	fmt.Println(graph.TextVisualizer{}.Export(g))
//
// # Thread Safety
//
// A Graph is immutable after Build and safe for concurrent reads. A Builder must not be shared
// across goroutines while open. Context's default StateManager serializes Get and Set with a
// mutex and does not detect or reject concurrent writers; NewLockingStateManager provides a
// read/write-locked alternative for state shared across a Parallel strategy's workers.
//
// # Best Practices
//
//  1. Prefer EnableLineage only where lineage is actually consumed downstream; it adds an
//     allocation per item.
//  2. Size DefaultEdgeBuffer to the pipeline's expected burstiness, not just its steady-state
//     throughput.
//  3. Wrap flaky external calls (network sinks, remote sources) in Resilient rather than
//     hand-rolling retry inside Process/Consume.
//  4. Set a DeadLetterSink before relying on DeadLetterItem decisions; otherwise the item is
//     silently dropped.
//  5. Keep Transform/Join/Aggregate implementations side-effect free where possible; push I/O
//     to Source and Sink.
package graph
