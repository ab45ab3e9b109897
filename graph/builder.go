package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BuilderState is the Builder's lifecycle position; a Builder may only be mutated in
// StateOpen, and Build/TryBuild moves it to StateBuilt. After that, Add* calls latch a
// *BuilderStateError (surfaced by the next Build/TryBuild), Connect/ConnectJoin return one, and
// a second Build/TryBuild returns one.
type BuilderState int

const (
	StateOpen BuilderState = iota
	StateBuilt
)

// Builder accumulates node and edge definitions and produces an immutable, validated Graph.
// Named nodes and typed edges build up a DAG of Source/Transform/Sink/Join/Aggregate kinds
// with per-transform cardinality, validated as a whole at Build time.
type Builder struct {
	state BuilderState

	nodes   []NodeDefinition
	byID    map[NodeID]int
	byName  map[string]NodeID
	edges   []Edge
	preconf map[NodeID]NodeRunner

	errHandling  PipelineErrorConfig
	lineage      LineageOptions
	execOpts     ExecutionOptions

	validationMode ValidationMode
	extraRules     []Rule

	seq      int
	firstErr error
}

// NewBuilder returns an empty Builder with the package's default execution options: Sequential
// strategy, the default retry and breaker configs, and an edge buffer of 16 items.
func NewBuilder() *Builder {
	retry := DefaultRetryOptions()
	breaker := DefaultBreakerConfig()
	return &Builder{
		byID:   make(map[NodeID]int),
		byName: make(map[string]NodeID),
		preconf: make(map[NodeID]NodeRunner),
		errHandling: PipelineErrorConfig{
			DefaultNodeHandler: FailOnError,
			Handler:            FailPipelineOnError,
		},
		execOpts: ExecutionOptions{
			DefaultStrategy:   Sequential(),
			DefaultRetry:      &retry,
			DefaultBreaker:    &breaker,
			DefaultEdgeBuffer: 16,
		},
	}
}

func (b *Builder) nextID(prefix string) NodeID {
	b.seq++
	return NodeID(fmt.Sprintf("%s-%d", prefix, b.seq))
}

// register adds def to the builder's accumulated node set. Errors (builder already built,
// duplicate name) are latched into b.firstErr rather than returned, since the typed Add* call
// sites return a plain Handle for ergonomic chaining — Build/TryBuild surface the first latched
// error before running validation.
func (b *Builder) register(def NodeDefinition) {
	if b.firstErr != nil {
		return
	}
	if b.state != StateOpen {
		b.firstErr = &BuilderStateError{Inner: ErrBuilderAlreadyBuilt}
		return
	}
	if _, exists := b.byName[def.Name]; exists {
		b.firstErr = &BuilderStateError{Inner: fmt.Errorf("%w: %q", ErrDuplicateName, def.Name)}
		return
	}
	b.byID[def.ID] = len(b.nodes)
	b.byName[def.Name] = def.ID
	b.nodes = append(b.nodes, def)
}

// AddSource registers a Source node under name, adapting it into a NodeRunner that ignores its
// input channel and forwards every produced item.
func AddSource[TOut any](b *Builder, name string, src Source[TOut]) SourceHandle[TOut] {
	id := b.nextID("source")
	runner := runnerWithDispose{disp: src, run: func(ctx context.Context, rc *Context, _ <-chan any, out chan<- any) error {
		items, err := src.Produce(ctx, rc)
		if err != nil {
			rc.Observer.OnItemFailure(ctx, id, nil, err)
			if handled, escalated := handleNodeError(ctx, rc.ErrorHandling, id, nil, err); handled {
				return nil
			} else {
				return escalated
			}
		}
		counter := 0
		for item := range items {
			rc.Observer.OnItemStart(ctx, id, item)
			var payload any = item
			if rc.Lineage.Enabled {
				collect := shouldCollect(counter, rc.Lineage.SampleEvery)
				counter++
				payload = newSourcePacket(item, id, collect, rc.Lineage.RedactData)
			}
			select {
			case out <- payload:
				rc.Observer.OnItemEnd(ctx, id, item, 0)
			case <-ctx.Done():
				return &CancellationError{Cause: ctx.Err()}
			}
		}
		return nil
	}}
	def := NodeDefinition{
		ID:         id,
		Name:       name,
		Kind:       SourceKind,
		OutputType: TypeOf[TOut](),
		runner:     runner,
	}
	def.ExecutionStrategy = b.execOpts.DefaultStrategy
	b.register(def)
	return SourceHandle[TOut]{id: id}
}

// AddTransform registers a Transform node under name with the given fan-out cardinality.
func AddTransform[TIn, TOut any](b *Builder, name string, t Transform[TIn, TOut], card Cardinality) TransformHandle[TIn, TOut] {
	id := b.nextID("transform")
	runner := runnerWithDispose{disp: t, run: func(ctx context.Context, rc *Context, in <-chan any, out chan<- any) error {
		for {
			select {
			case <-ctx.Done():
				return &CancellationError{Cause: ctx.Err()}
			case raw, ok := <-in:
				if !ok {
					return nil
				}
				item, parentPkt, hasParent := asPacket[TIn](raw)
				if !hasParent {
					item, _ = raw.(TIn)
				}
				rc.Observer.OnItemStart(ctx, id, item)
				start := time.Now()
				results, err := t.Process(ctx, rc, item)
				if err != nil {
					rc.Observer.OnItemFailure(ctx, id, item, err)
					handled, escalated := handleNodeError(ctx, rc.ErrorHandling, id, item, err)
					if handled {
						continue
					}
					return escalated
				}
				rc.Observer.OnItemEnd(ctx, id, item, time.Since(start))
				lineageOn := rc.Lineage.Enabled && hasParent
				var mapper LineageMapper
				if lineageOn && card == CustomCardinality {
					if nd := rc.node(id); nd != nil {
						mapper = nd.LineageMapper
					}
				}
				for _, r := range results {
					var payload any = r
					if lineageOn {
						switch card {
						case OneToOne:
							payload = rewrapOneToOne(parentPkt, r, id, parentPkt.Collect, rc.Lineage.RedactData)
						case OneToMany:
							payload = rewrapOneToMany(parentPkt, r, id, parentPkt.Collect, rc.Lineage.RedactData)
						case CustomCardinality:
							if mapper != nil {
								payload = mapper([]LineagePacket[any]{toAnyPacket(parentPkt)}, r)
							}
							// else: no mapper configured, Validate already warned about it
							// — fall through with the
							// unwrapped payload rather than guessing a cardinality.
						default:
							payload = rewrapOneToOne(parentPkt, r, id, parentPkt.Collect, rc.Lineage.RedactData)
						}
					}
					select {
					case out <- payload:
					case <-ctx.Done():
						return &CancellationError{Cause: ctx.Err()}
					}
				}
			}
		}
	}}
	def := NodeDefinition{
		ID:          id,
		Name:        name,
		Kind:        TransformKind,
		InputType:   TypeOf[TIn](),
		OutputType:  TypeOf[TOut](),
		Cardinality: card,
		runner:      runner,
	}
	def.ExecutionStrategy = b.execOpts.DefaultStrategy
	b.register(def)
	return TransformHandle[TIn, TOut]{id: id}
}

// AddSink registers a Sink node under name.
func AddSink[TIn any](b *Builder, name string, s Sink[TIn]) SinkHandle[TIn] {
	id := b.nextID("sink")
	runner := runnerWithDispose{disp: s, run: func(ctx context.Context, rc *Context, in <-chan any, _ chan<- any) error {
		typed := make(chan TIn)
		done := make(chan error, 1)
		go func() {
			done <- s.Consume(ctx, rc, typed)
		}()
		defer close(typed)
		for {
			select {
			case <-ctx.Done():
				return &CancellationError{Cause: ctx.Err()}
			case raw, ok := <-in:
				if !ok {
					if err := <-done; err != nil {
						rc.Observer.OnItemFailure(ctx, id, nil, err)
						if handled, escalated := handleNodeError(ctx, rc.ErrorHandling, id, nil, err); handled {
							return nil
						} else {
							return escalated
						}
					}
					return nil
				}
				item, parentPkt, hasParent := asPacket[TIn](raw)
				if !hasParent {
					item, _ = raw.(TIn)
				}
				if rc.Lineage.Enabled && hasParent && parentPkt.Collect && rc.Lineage.Sink != nil {
					info := LineageInfo{
						Data:          parentPkt.Data,
						HasData:       parentPkt.HasData,
						LineageID:     parentPkt.LineageID,
						TraversalPath: append(append([]NodeID{}, parentPkt.TraversalPath...), id),
						Hops:          parentPkt.Hops.Slice(),
					}
					if err := rc.Lineage.Sink.Record(ctx, info); err != nil {
						rc.Logger.Warn("sink/lineage: record failed for node %s: %v", id, err)
					}
				}
				rc.Observer.OnItemStart(ctx, id, item)
				select {
				case typed <- item:
					rc.Observer.OnItemEnd(ctx, id, item, 0)
				case <-ctx.Done():
					return &CancellationError{Cause: ctx.Err()}
				}
			}
		}
	}}
	def := NodeDefinition{
		ID:        id,
		Name:      name,
		Kind:      SinkKind,
		InputType: TypeOf[TIn](),
		runner:    runner,
	}
	def.ExecutionStrategy = b.execOpts.DefaultStrategy
	b.register(def)
	return SinkHandle[TIn]{id: id}
}

// AddJoin registers a Join node under name.
func AddJoin[TIn1, TIn2, TOut any](b *Builder, name string, j Join[TIn1, TIn2, TOut]) JoinHandle[TIn1, TIn2, TOut] {
	id := b.nextID("join")
	runner := joinRunnerFunc[TIn1, TIn2, TOut]{id: id, j: j}
	def := NodeDefinition{
		ID:          id,
		Name:        name,
		Kind:        JoinKind,
		OutputType:  TypeOf[TOut](),
		Cardinality: ManyToOne,
	}
	def.joinRunner = runner
	def.ExecutionStrategy = b.execOpts.DefaultStrategy
	b.register(def)
	return JoinHandle[TIn1, TIn2, TOut]{id: id}
}

type joinRunnerFunc[TIn1, TIn2, TOut any] struct {
	id NodeID
	j  Join[TIn1, TIn2, TOut]
}

func (r joinRunnerFunc[TIn1, TIn2, TOut]) Dispose(ctx context.Context) error { return r.j.Dispose(ctx) }

// joinSide pairs a buffered join input with the lineage id of the packet it arrived in, when
// lineage is enabled; hasLineage is false when lineage is off or the channel never carried a
// packet.
type joinSide[T any] struct {
	item       T
	lineageID  uuid.UUID
	hasLineage bool
}

func (r joinRunnerFunc[TIn1, TIn2, TOut]) Run(ctx context.Context, rc *Context, first, second <-chan any, out chan<- any) error {
	// Buffer each side by key so either stream may lead; a production Join implementation owns
	// its own matching window, this adapter only demultiplexes the typed calls.
	firstBuf := make(map[any][]joinSide[TIn1])
	secondBuf := make(map[any][]joinSide[TIn2])

	emit := func(a joinSide[TIn1], b2 joinSide[TIn2]) error {
		rc.Observer.OnItemStart(ctx, r.id, a.item)
		start := time.Now()
		result, err := r.j.Merge(a.item, b2.item)
		if err != nil {
			rc.Observer.OnItemFailure(ctx, r.id, a.item, err)
			if handled, escalated := handleNodeError(ctx, rc.ErrorHandling, r.id, a.item, err); handled {
				return nil
			} else {
				return escalated
			}
		}
		rc.Observer.OnItemEnd(ctx, r.id, a.item, time.Since(start))
		var payload any = result
		if rc.Lineage.Enabled && (a.hasLineage || b2.hasLineage) {
			var ids []uuid.UUID
			if a.hasLineage {
				ids = append(ids, a.lineageID)
			}
			if b2.hasLineage {
				ids = append(ids, b2.lineageID)
			}
			payload = rewrapManyToOneIDs(ids, result, r.id, true, rc.Lineage.RedactData)
		}
		select {
		case out <- payload:
			return nil
		case <-ctx.Done():
			return &CancellationError{Cause: ctx.Err()}
		}
	}

	firstOpen, secondOpen := true, true
	for firstOpen || secondOpen {
		select {
		case <-ctx.Done():
			return &CancellationError{Cause: ctx.Err()}
		case v, ok := <-first:
			if !ok {
				firstOpen = false
				if secondOpen {
					first = nil
				}
				continue
			}
			item, pkt, hasPkt := asPacket[TIn1](v)
			if !hasPkt {
				item, _ = v.(TIn1)
			}
			side := joinSide[TIn1]{item: item, lineageID: pkt.LineageID, hasLineage: hasPkt}
			key := r.j.KeyFirst(item)
			if matches := secondBuf[key]; len(matches) > 0 {
				m := matches[0]
				secondBuf[key] = matches[1:]
				if err := emit(side, m); err != nil {
					return err
				}
				continue
			}
			firstBuf[key] = append(firstBuf[key], side)
		case v, ok := <-second:
			if !ok {
				secondOpen = false
				if firstOpen {
					second = nil
				}
				continue
			}
			item, pkt, hasPkt := asPacket[TIn2](v)
			if !hasPkt {
				item, _ = v.(TIn2)
			}
			side := joinSide[TIn2]{item: item, lineageID: pkt.LineageID, hasLineage: hasPkt}
			key := r.j.KeySecond(item)
			if matches := firstBuf[key]; len(matches) > 0 {
				m := matches[0]
				firstBuf[key] = matches[1:]
				if err := emit(m, side); err != nil {
					return err
				}
				continue
			}
			secondBuf[key] = append(secondBuf[key], side)
		}
		if first == nil && second == nil {
			break
		}
	}
	return nil
}

// AddAggregate registers an Aggregate node under name with the given windowing configuration.
func AddAggregate[TIn any, TKey comparable, TAcc, TResult any](b *Builder, name string, agg Aggregate[TIn, TKey, TAcc, TResult], cfg AggregateConfig) AggregateHandle[TIn, TKey, TAcc, TResult] {
	id := b.nextID("aggregate")
	runner := aggregateRunnerFunc[TIn, TKey, TAcc, TResult]{id: id, agg: agg}
	def := NodeDefinition{
		ID:          id,
		Name:        name,
		Kind:        AggregateKind,
		InputType:   TypeOf[TIn](),
		OutputType:  TypeOf[TResult](),
		Cardinality: ManyToOne,
		Aggregate:   cfg,
	}
	def.aggregateRunner = runner
	def.ExecutionStrategy = b.execOpts.DefaultStrategy
	b.register(def)
	return AggregateHandle[TIn, TKey, TAcc, TResult]{id: id}
}

type aggregateRunnerFunc[TIn any, TKey comparable, TAcc, TResult any] struct {
	id  NodeID
	agg Aggregate[TIn, TKey, TAcc, TResult]
}

func (r aggregateRunnerFunc[TIn, TKey, TAcc, TResult]) Dispose(ctx context.Context) error {
	return r.agg.Dispose(ctx)
}

func (r aggregateRunnerFunc[TIn, TKey, TAcc, TResult]) KeyOf(item any) any {
	typed, _ := item.(TIn)
	return r.agg.KeyOf(typed)
}

func (r aggregateRunnerFunc[TIn, TKey, TAcc, TResult]) NewAccumulator() any {
	return r.agg.NewAccumulator()
}

func (r aggregateRunnerFunc[TIn, TKey, TAcc, TResult]) Accumulate(acc, item any) (any, error) {
	typedAcc, _ := acc.(TAcc)
	typedItem, _ := item.(TIn)
	next, err := r.agg.Accumulate(typedAcc, typedItem)
	if err != nil {
		return nil, &NodeExecutionError{NodeID: r.id, Inner: err}
	}
	return next, nil
}

func (r aggregateRunnerFunc[TIn, TKey, TAcc, TResult]) Finish(key any, w Window, acc any) (any, error) {
	typedKey, _ := key.(TKey)
	typedAcc, _ := acc.(TAcc)
	result, err := r.agg.Finish(typedKey, w, typedAcc)
	if err != nil {
		return nil, &NodeExecutionError{NodeID: r.id, Inner: err}
	}
	return result, nil
}

// Connect wires an ordinary (non-Join) edge between two node ids.
func (b *Builder) Connect(from, to NodeID) error {
	if b.state != StateOpen {
		return &BuilderStateError{Inner: ErrBuilderAlreadyBuilt}
	}
	if _, ok := b.byID[from]; !ok {
		return &BuilderStateError{Inner: fmt.Errorf("%w: %s", ErrNodeNotFound, from)}
	}
	if _, ok := b.byID[to]; !ok {
		return &BuilderStateError{Inner: fmt.Errorf("%w: %s", ErrNodeNotFound, to)}
	}
	b.edges = append(b.edges, Edge{From: from, To: to})
	return nil
}

// ConnectJoin wires an edge into a Join node's explicit input port.
func (b *Builder) ConnectJoin(from, to NodeID, port InputSlot) error {
	if err := b.Connect(from, to); err != nil {
		return err
	}
	b.edges[len(b.edges)-1].TargetPort = port
	return nil
}

// SetRetryOverride sets a per-node retry policy, replacing the graph default for that node.
func (b *Builder) SetRetryOverride(id NodeID, opts RetryOptions) {
	if idx, ok := b.byID[id]; ok {
		b.nodes[idx].RetryOverride = &opts
	}
}

// SetErrorHandler sets a per-node error handler, consulted before the pipeline-level handler.
func (b *Builder) SetErrorHandler(id NodeID, h NodeErrorHandler) {
	if idx, ok := b.byID[id]; ok {
		b.nodes[idx].ErrorHandler = h
	}
}

// SetMergeStrategy overrides the default round-robin fan-in merge for a node with multiple
// inbound edges.
func (b *Builder) SetMergeStrategy(id NodeID, fn MergeFunc) {
	if idx, ok := b.byID[id]; ok {
		b.nodes[idx].MergeStrategy = fn
	}
}

// SetExecutionStrategy overrides a node's execution strategy.
func (b *Builder) SetExecutionStrategy(id NodeID, s Strategy) {
	if idx, ok := b.byID[id]; ok {
		b.nodes[idx].ExecutionStrategy = s
	}
}

// SetLineageMapper sets the required custom lineage mapper for a CustomCardinality transform.
func (b *Builder) SetLineageMapper(id NodeID, m LineageMapper) {
	if idx, ok := b.byID[id]; ok {
		b.nodes[idx].LineageMapper = m
	}
}

// SetDeadLetterSink configures where DeadLetterItem decisions are routed.
func (b *Builder) SetDeadLetterSink(sink DeadLetterSink) { b.errHandling.DeadLetter = sink }

// SetPipelineErrorHandler overrides the default FailPipeline escalation policy.
func (b *Builder) SetPipelineErrorHandler(h PipelineErrorHandler) { b.errHandling.Handler = h }

// SetDefaultNodeErrorHandler overrides the graph-wide default node error handler.
func (b *Builder) SetDefaultNodeErrorHandler(h NodeErrorHandler) { b.errHandling.DefaultNodeHandler = h }

// EnableLineage turns on lineage envelope tracking for every source/sink in the graph.
func (b *Builder) EnableLineage(opts LineageOptions) {
	opts.Enabled = true
	b.lineage = opts
}

// SetValidationMode controls whether Validator issues classified as warnings also fail Build.
func (b *Builder) SetValidationMode(m ValidationMode) { b.validationMode = m }

// AddValidationRule registers an additional, opt-in validation rule.
func (b *Builder) AddValidationRule(r Rule) { b.extraRules = append(b.extraRules, r) }

// SetDefaultEdgeBuffer overrides the default bounded channel capacity used for every edge.
func (b *Builder) SetDefaultEdgeBuffer(n int) { b.execOpts.DefaultEdgeBuffer = n }

// SetPreconfigured swaps in a pre-built NodeRunner for a Source, Transform, or Sink node,
// bypassing the typed adapter generated by AddSource/AddTransform/AddSink. Setting a second
// runner for the same id latches ErrDuplicatePreconfigured. RestartNode recovery does not use
// this: it re-runs the node's existing runner.
func (b *Builder) SetPreconfigured(id NodeID, runner NodeRunner) {
	if b.firstErr != nil {
		return
	}
	if _, exists := b.preconf[id]; exists {
		b.firstErr = &BuilderStateError{Inner: fmt.Errorf("%w: %s", ErrDuplicatePreconfigured, id)}
		return
	}
	b.preconf[id] = runner
}

// Build validates and freezes the accumulated definition into a Graph, returning a
// *ValidationError (possibly wrapping multiple Issues) if any Error-severity issue is found, or
// if the ValidationMode is Strict and any Warning-severity issue is found. The Builder itself
// becomes unusable afterward regardless of success.
func (b *Builder) Build() (*Graph, error) {
	if b.state != StateOpen {
		return nil, &BuilderStateError{Inner: ErrBuilderAlreadyBuilt}
	}
	if b.firstErr != nil {
		return nil, b.firstErr
	}

	g := &Graph{
		Nodes:         append([]NodeDefinition{}, b.nodes...),
		Edges:         append([]Edge{}, b.edges...),
		Preconfigured: b.preconf,
		ErrorHandling: b.errHandling,
		Lineage:       b.lineage,
		ExecutionOpts: b.execOpts,
	}
	g.idIndex = make(map[NodeID]*NodeDefinition, len(g.Nodes))
	for i := range g.Nodes {
		g.idIndex[g.Nodes[i].ID] = &g.Nodes[i]
		if runner, ok := g.Preconfigured[g.Nodes[i].ID]; ok {
			g.Nodes[i].runner = runner
		}
	}
	g.ErrorHandling.nodeLookup = func(id NodeID) *NodeDefinition { n, _ := g.Node(id); return n }

	issues := Validate(g, b.extraRules)
	var hard []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			hard = append(hard, iss)
		} else if b.validationMode == StrictValidation {
			hard = append(hard, iss)
		}
	}
	b.state = StateBuilt
	if len(hard) > 0 {
		return nil, &ValidationError{Issues: hard}
	}
	return g, nil
}

// TryBuild is Build without discarding the Graph on warning-only issues: it always returns the
// constructed Graph (possibly with Error-severity issues still present) alongside the full
// issue list, for callers that want to inspect diagnostics before deciding whether to proceed.
func (b *Builder) TryBuild() (*Graph, []Issue, error) {
	if b.state != StateOpen {
		return nil, nil, &BuilderStateError{Inner: ErrBuilderAlreadyBuilt}
	}
	if b.firstErr != nil {
		return nil, nil, b.firstErr
	}
	g := &Graph{
		Nodes:         append([]NodeDefinition{}, b.nodes...),
		Edges:         append([]Edge{}, b.edges...),
		Preconfigured: b.preconf,
		ErrorHandling: b.errHandling,
		Lineage:       b.lineage,
		ExecutionOpts: b.execOpts,
	}
	g.idIndex = make(map[NodeID]*NodeDefinition, len(g.Nodes))
	for i := range g.Nodes {
		g.idIndex[g.Nodes[i].ID] = &g.Nodes[i]
		if runner, ok := g.Preconfigured[g.Nodes[i].ID]; ok {
			g.Nodes[i].runner = runner
		}
	}
	g.ErrorHandling.nodeLookup = func(id NodeID) *NodeDefinition { n, _ := g.Node(id); return n }
	issues := Validate(g, b.extraRules)
	b.state = StateBuilt

	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return g, issues, &ValidationError{Issues: issues}
		}
	}
	return g, issues, nil
}
