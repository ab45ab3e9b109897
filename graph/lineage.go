package graph

import (
	"context"

	"github.com/google/uuid"
)

// LineageOptions configures the lineage envelope for a whole graph.
type LineageOptions struct {
	// Enabled turns on lineage packet wrapping at sources and unwrapping at sinks.
	Enabled bool

	// SampleEvery gates which packets carry their payload onward. A packet's Collect flag is
	// set when (emission count % SampleEvery) == 0; 0 or 1 means collect every item.
	SampleEvery int

	// RedactData, when true, clears a packet's Data once Collect is false, keeping only the
	// topology (lineage id, traversal path, hops) to bound memory.
	RedactData bool

	// Sink receives one LineageInfo per collected packet as it reaches a sink.
	Sink LineageSink
}

// LineageSink is the external collaborator that records completed lineage.
type LineageSink interface {
	Record(ctx context.Context, info LineageInfo) error
}

// LineagePacket wraps one in-flight item with its provenance. Allocation dominates the hot
// path; Hops is backed by a fixed-size array that only spills to a heap slice past
// four entries, so the common shallow-pipeline case never allocates for hop tracking.
type LineagePacket[T any] struct {
	Data          T
	HasData       bool
	LineageID     uuid.UUID
	TraversalPath []NodeID
	Hops          hopList
	Collect       bool
}

// Hop records one node's contribution to a packet's lineage.
type Hop struct {
	NodeID      NodeID
	InputIDs    []uuid.UUID
	Cardinality Cardinality
}

// hopList is a small-vector: up to 4 hops stored inline, overflow promotes to a slice, to avoid
// an allocation on the common case of a short pipeline.
type hopList struct {
	inline [4]Hop
	n      int
	spill  []Hop
}

// append is copy-on-write: a hopList value is copied by every rewrap* call (each output
// packet gets its own copy of its parent's Hops), so growing in place would alias sibling
// outputs' hop lists through a shared backing array. Always allocating exactly len+1 avoids
// that at the cost of an allocation per hop past the inline capacity.
func (h *hopList) append(hop Hop) {
	if h.spill != nil {
		next := make([]Hop, len(h.spill)+1)
		copy(next, h.spill)
		next[len(h.spill)] = hop
		h.spill = next
		return
	}
	if h.n < len(h.inline) {
		h.inline[h.n] = hop
		h.n++
		return
	}
	next := make([]Hop, h.n+1)
	copy(next, h.inline[:h.n])
	next[h.n] = hop
	h.spill = next
}

// Slice returns the hops in order. The returned slice must not be mutated.
func (h *hopList) Slice() []Hop {
	if h.spill != nil {
		return h.spill
	}
	return h.inline[:h.n]
}

// Len reports the number of recorded hops.
func (h *hopList) Len() int {
	if h.spill != nil {
		return len(h.spill)
	}
	return h.n
}

// LineageInfo is recorded at a sink for every collected packet.
type LineageInfo struct {
	Data          any
	HasData       bool
	LineageID     uuid.UUID
	TraversalPath []NodeID
	Hops          []Hop
}

// LineageMapper is the user-supplied function for Cardinality == CustomCardinality transforms:
// it receives the full contextual tuple (input packets, output item) and returns the output's
// lineage packet.
type LineageMapper func(inputs []LineagePacket[any], output any) LineagePacket[any]

func newSourcePacket[T any](data T, sourceID NodeID, collect bool, redact bool) LineagePacket[T] {
	p := LineagePacket[T]{
		LineageID:     uuid.New(),
		TraversalPath: []NodeID{sourceID},
		Collect:       collect,
	}
	if collect || !redact {
		p.Data = data
		p.HasData = true
	}
	return p
}

// rewrapOneToOne inherits the parent's lineage id, appends nodeID to the traversal path, and
// records a OneToOne hop.
func rewrapOneToOne[TIn, TOut any](parent LineagePacket[TIn], output TOut, nodeID NodeID, collect, redact bool) LineagePacket[TOut] {
	out := LineagePacket[TOut]{
		LineageID:     parent.LineageID,
		TraversalPath: append(append([]NodeID{}, parent.TraversalPath...), nodeID),
		Hops:          parent.Hops,
		Collect:       collect,
	}
	out.Hops.append(Hop{NodeID: nodeID, InputIDs: []uuid.UUID{parent.LineageID}, Cardinality: OneToOne})
	if collect || !redact {
		out.Data = output
		out.HasData = true
	}
	return out
}

// rewrapOneToMany inherits the parent's lineage id for every child output and records one
// OneToMany hop per child.
func rewrapOneToMany[TIn, TOut any](parent LineagePacket[TIn], output TOut, nodeID NodeID, collect, redact bool) LineagePacket[TOut] {
	out := LineagePacket[TOut]{
		LineageID:     parent.LineageID,
		TraversalPath: append(append([]NodeID{}, parent.TraversalPath...), nodeID),
		Hops:          parent.Hops,
		Collect:       collect,
	}
	out.Hops.append(Hop{NodeID: nodeID, InputIDs: []uuid.UUID{parent.LineageID}, Cardinality: OneToMany})
	if collect || !redact {
		out.Data = output
		out.HasData = true
	}
	return out
}

// rewrapManyToOne mints a fresh lineage id for a join/aggregate output whose InputIDs is the
// union of every contributing parent.
func rewrapManyToOne[TOut any](parents []LineagePacket[any], output TOut, nodeID NodeID, collect, redact bool) LineagePacket[TOut] {
	ids := make([]uuid.UUID, 0, len(parents))
	for _, p := range parents {
		ids = append(ids, p.LineageID)
	}
	out := LineagePacket[TOut]{
		LineageID:     uuid.New(),
		TraversalPath: []NodeID{nodeID},
		Collect:       collect,
	}
	out.Hops.append(Hop{NodeID: nodeID, InputIDs: ids, Cardinality: ManyToOne})
	if collect || !redact {
		out.Data = output
		out.HasData = true
	}
	return out
}

// rewrapManyToOneIDs is rewrapManyToOne for callers (Join, Aggregate) that accumulate
// contributing lineage ids incrementally rather than holding onto every parent packet.
func rewrapManyToOneIDs[TOut any](ids []uuid.UUID, output TOut, nodeID NodeID, collect, redact bool) LineagePacket[TOut] {
	out := LineagePacket[TOut]{
		LineageID:     uuid.New(),
		TraversalPath: []NodeID{nodeID},
		Collect:       collect,
	}
	out.Hops.append(Hop{NodeID: nodeID, InputIDs: append([]uuid.UUID{}, ids...), Cardinality: ManyToOne})
	if collect || !redact {
		out.Data = output
		out.HasData = true
	}
	return out
}

// toAnyPacket erases a typed LineagePacket[T] to LineagePacket[any], for handing to a
// CustomCardinality LineageMapper.
func toAnyPacket[T any](p LineagePacket[T]) LineagePacket[any] {
	return LineagePacket[any]{
		Data:          p.Data,
		HasData:       p.HasData,
		LineageID:     p.LineageID,
		TraversalPath: p.TraversalPath,
		Hops:          p.Hops,
		Collect:       p.Collect,
	}
}

// shouldCollect reports whether the item at counter should be retained, given a sampling
// stride of sampleEvery. sampleEvery <= 1 collects every item.
func shouldCollect(counter int, sampleEvery int) bool {
	if sampleEvery <= 1 {
		return true
	}
	return counter%sampleEvery == 0
}

// lineageEnvelope is implemented by every LineagePacket[T] regardless of T, letting
// type-erased call sites (Aggregate's runtime loop in scheduler.go, which only ever sees
// `any`) recognize and unwrap a lineage-wrapped item without knowing its static payload type.
type lineageEnvelope interface {
	unwrappedData() any
	lineageIDAny() uuid.UUID
	collected() bool
}

func (p LineagePacket[T]) unwrappedData() any    { return p.Data }
func (p LineagePacket[T]) lineageIDAny() uuid.UUID { return p.LineageID }
func (p LineagePacket[T]) collected() bool       { return p.Collect }

// unwrapAny unwraps raw if it implements lineageEnvelope, returning the underlying payload and
// its lineage id; ok is false when raw carries no lineage envelope.
func unwrapAny(raw any) (data any, lineageID uuid.UUID, ok bool) {
	env, ok := raw.(lineageEnvelope)
	if !ok {
		return raw, uuid.UUID{}, false
	}
	return env.unwrappedData(), env.lineageIDAny(), true
}

// asPacket attempts to read raw as a LineagePacket[T], returning its unwrapped data and the
// packet itself when lineage was enabled at the producing node; ok is false when raw is a
// plain, unwrapped T (lineage disabled upstream, or a preconfigured NodeRunner that doesn't
// participate in lineage).
func asPacket[T any](raw any) (item T, pkt LineagePacket[T], ok bool) {
	p, ok := raw.(LineagePacket[T])
	if !ok {
		return item, pkt, false
	}
	return p.Data, p, true
}
