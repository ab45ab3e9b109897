package graph

import "fmt"

// NodeID uniquely identifies a node within a Graph. It is assigned when the node is added to
// the Builder, as the node kind's prefix plus the Builder's running count (for example
// "source-1", "transform-2"); it is not derived from the node's display name.
type NodeID string

// EdgeID identifies an edge for diagnostics and observer callbacks. It is derived from its
// endpoints and is not guaranteed unique across graphs with duplicate edges.
type EdgeID string

func edgeID(from, to NodeID) EdgeID {
	return EdgeID(fmt.Sprintf("%s->%s", from, to))
}

// NodeKind is the closed set of node capabilities a NodeDefinition may declare.
type NodeKind int

const (
	// SourceKind produces items with no upstream input.
	SourceKind NodeKind = iota
	// TransformKind processes one input item into one or more output items.
	TransformKind
	// SinkKind consumes items to completion with no downstream output.
	SinkKind
	// JoinKind merges two typed input streams by key into one output stream.
	JoinKind
	// AggregateKind groups items by key within time windows, accumulating to a result.
	AggregateKind
)

// String implements fmt.Stringer.
func (k NodeKind) String() string {
	switch k {
	case SourceKind:
		return "Source"
	case TransformKind:
		return "Transform"
	case SinkKind:
		return "Sink"
	case JoinKind:
		return "Join"
	case AggregateKind:
		return "Aggregate"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// Cardinality describes the declared input/output relationship of a Transform, used to select
// the lineage rewrap strategy (§4.4).
type Cardinality int

const (
	// OneToOne means each input item produces exactly one output item.
	OneToOne Cardinality = iota
	// OneToMany means each input item may produce zero or more output items (flat-map-like).
	OneToMany
	// ManyToOne means outputs are produced from multiple contributing inputs (join/aggregate).
	ManyToOne
	// CustomCardinality defers lineage mapping to a user-supplied LineageMapper.
	CustomCardinality
)

// String implements fmt.Stringer.
func (c Cardinality) String() string {
	switch c {
	case OneToOne:
		return "OneToOne"
	case OneToMany:
		return "OneToMany"
	case ManyToOne:
		return "ManyToOne"
	case CustomCardinality:
		return "Custom"
	default:
		return fmt.Sprintf("Cardinality(%d)", int(c))
	}
}

// InputSlot distinguishes the two inputs of a Join node. Exposing this explicitly means a join
// between two same-typed streams never silently collapses onto one channel: ConnectJoin records
// which physical input an edge feeds (an edge added with Connect feeds FirstInput), and Build
// rejects a Join that has no edge into either input.
type InputSlot int

const (
	// FirstInput is the join's first input stream.
	FirstInput InputSlot = iota
	// SecondInput is the join's second input stream.
	SecondInput
)

// SourceHandle is an opaque, phantom-typed reference to a Source node returned by
// Builder.AddSource. It carries no runtime payload of type TOut. Builder.Connect takes plain
// NodeIDs, so the type parameter is not checked at compile time; mismatched edge types are
// reported by validation at Build.
type SourceHandle[TOut any] struct {
	id NodeID
}

// ID returns the underlying node identifier.
func (h SourceHandle[TOut]) ID() NodeID { return h.id }

// TransformHandle is an opaque, phantom-typed reference to a Transform node.
type TransformHandle[TIn, TOut any] struct {
	id NodeID
}

// ID returns the underlying node identifier.
func (h TransformHandle[TIn, TOut]) ID() NodeID { return h.id }

// SinkHandle is an opaque, phantom-typed reference to a Sink node.
type SinkHandle[TIn any] struct {
	id NodeID
}

// ID returns the underlying node identifier.
func (h SinkHandle[TIn]) ID() NodeID { return h.id }

// JoinHandle is an opaque, phantom-typed reference to a Join node with two distinct input types.
type JoinHandle[TIn1, TIn2, TOut any] struct {
	id NodeID
}

// ID returns the underlying node identifier.
func (h JoinHandle[TIn1, TIn2, TOut]) ID() NodeID { return h.id }

// AggregateHandle is an opaque, phantom-typed reference to an Aggregate node.
type AggregateHandle[TIn any, TKey comparable, TAcc, TResult any] struct {
	id NodeID
}

// ID returns the underlying node identifier.
func (h AggregateHandle[TIn, TKey, TAcc, TResult]) ID() NodeID { return h.id }
