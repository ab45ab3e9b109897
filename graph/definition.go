package graph

import "time"

// NodeDefinition is the immutable, frozen description of one graph node. Handles returned by
// Builder.AddSource/AddTransform/... reference a NodeDefinition by NodeID; the definition
// itself carries only erased type tokens.
type NodeDefinition struct {
	ID   NodeID
	Name string
	Kind NodeKind

	// InputType/OutputType are semantic type tokens used by the Validator for edge-type
	// compatibility checks. Source has no InputType, Sink has no OutputType.
	InputType  TypeToken
	OutputType TypeToken

	// Cardinality governs lineage rewrap strategy for Transform nodes. Ignored
	// for other kinds (Join/Aggregate are always ManyToOne; Source/Sink don't rewrap).
	Cardinality Cardinality

	// ExecutionStrategy is the strategy this node runs under. Defaults to Sequential.
	ExecutionStrategy Strategy

	// RetryOverride, when non-nil, replaces the graph-level default retry policy for this node.
	RetryOverride *RetryOptions

	// ErrorHandler, when non-nil, is consulted before the pipeline-level error handler.
	ErrorHandler NodeErrorHandler

	// LineageMapper is required when Cardinality == CustomCardinality.
	LineageMapper LineageMapper

	// MergeStrategy resolves fan-in when more than one edge targets this node. Nil means the
	// scheduler's default round-robin merge.
	MergeStrategy MergeFunc

	// runner is the type-erased execution adapter built by the typed Add* methods. Populated
	// for Source, Transform, and Sink kinds.
	runner NodeRunner

	// joinRunner and aggregateRunner are populated instead of runner for Kind == Join and
	// Kind == Aggregate respectively, since both need scheduler-level access beyond a single
	// input/output channel pair.
	joinRunner      JoinRunner
	aggregateRunner AggregateRunner

	// Aggregate is the window/watermark configuration for an Aggregate node. Zero value for
	// other kinds.
	Aggregate AggregateConfig
}

// AggregateConfig configures an Aggregate node's windowing.
type AggregateConfig struct {
	// Assigner maps an item's timestamp to the window(s) it belongs to.
	Assigner Assigner

	// TimestampExtractor returns the event time for an item. When nil, arrival time is used;
	// implementers relying on arrival time should be aware it only reflects scheduler
	// delivery order, not true event order.
	TimestampExtractor func(item any) time.Time

	// Watermark advances per key as items arrive; it gates when a window is eligible to close.
	Watermark WatermarkStrategy

	// AllowedLateness is how far behind the current watermark an item's timestamp may be
	// before it is dropped as late.
	AllowedLateness time.Duration
}

// TypeToken identifies a semantic payload type for edge compatibility checks. Builder derives
// one automatically per registered Go type via TypeOf; nodes never construct these by hand.
type TypeToken struct {
	name string
}

// TypeOf returns the TypeToken for T. Two calls with the same T always compare equal.
func TypeOf[T any]() TypeToken {
	var zero T
	return TypeToken{name: typeName(zero)}
}

func (t TypeToken) String() string { return t.name }

// Edge is a typed directed connection between two nodes. TargetPort names the Join input
// (FirstInput/SecondInput) an edge feeds; it is FirstInput, the zero value, for edges added with
// Connect.
type Edge struct {
	From       NodeID
	To         NodeID
	TargetPort InputSlot
}

// Graph is the immutable, validated executable DAG produced by Builder.Build. Every field is
// frozen at construction; nothing mutates a Graph after it is returned.
type Graph struct {
	Nodes []NodeDefinition
	Edges []Edge

	idIndex map[NodeID]*NodeDefinition

	Preconfigured map[NodeID]NodeRunner

	ErrorHandling  PipelineErrorConfig
	Lineage        LineageOptions
	ExecutionOpts  ExecutionOptions
}

// ExecutionOptions carries graph-wide execution defaults applied when a node doesn't override
// them.
type ExecutionOptions struct {
	DefaultStrategy    Strategy
	DefaultRetry       *RetryOptions
	DefaultBreaker     *BreakerConfig
	DefaultEdgeBuffer  int
}

// Node looks up a node definition by id.
func (g *Graph) Node(id NodeID) (*NodeDefinition, bool) {
	n, ok := g.idIndex[id]
	return n, ok
}

// OutEdges returns edges originating at id, in insertion order.
func (g *Graph) OutEdges(id NodeID) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// InEdges returns edges terminating at id, in insertion order.
func (g *Graph) InEdges(id NodeID) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.To == id {
			in = append(in, e)
		}
	}
	return in
}
