package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MergeFunc resolves fan-in when more than one edge targets an ordinary (non-Join) node. It
// reads from every channel in ins until all are closed, writing merged items to out, and must
// close neither — the caller closes out once MergeFunc returns.
type MergeFunc func(ctx context.Context, ins []<-chan any, out chan<- any)

// defaultMerge round-robins across ins, skipping exhausted channels.
func defaultMerge(ctx context.Context, ins []<-chan any, out chan<- any) {
	active := make([]bool, len(ins))
	remaining := 0
	for i := range active {
		active[i] = true
		remaining++
	}
	if remaining == 0 {
		return
	}
	i := 0
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !active[i] {
			i = (i + 1) % len(ins)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ins[i]:
			if !ok {
				active[i] = false
				remaining--
			} else {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
		i = (i + 1) % len(ins)
	}
}

// topoOrder returns the graph's nodes in a valid topological order via Kahn's algorithm. The
// Validator already rejects cycles before a Graph is ever built, so an error here
// indicates a validator/builder inconsistency rather than user input.
func topoOrder(g *Graph) ([]NodeID, error) {
	indegree := make(map[NodeID]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		indegree[e.To]++
	}

	var queue []NodeID
	for _, n := range g.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]NodeID, 0, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, e := range g.OutEdges(id) {
			indegree[e.To]--
			if indegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("graph: cycle detected during scheduling (got %d of %d nodes)", len(order), len(g.Nodes))
	}
	return order, nil
}

// mergeInputsFor wires a single receive channel for a node from however many edges target it,
// merging with fn (defaultMerge if fn is nil) when there is more than one.
func mergeInputsFor(ctx context.Context, edges []Edge, edgeChans map[Edge]chan any, fn MergeFunc) <-chan any {
	if len(edges) == 0 {
		return nil
	}
	if len(edges) == 1 {
		return edgeChans[edges[0]]
	}
	ins := make([]<-chan any, len(edges))
	for i, e := range edges {
		ins[i] = edgeChans[e]
	}
	if fn == nil {
		fn = defaultMerge
	}
	merged := make(chan any, 1)
	go func() {
		defer close(merged)
		fn(ctx, ins, merged)
	}()
	return merged
}

// fanOut duplicates every item read from localOut onto each of outEdges' channels, closing them
// all once localOut closes or ctx is done.
func fanOut(ctx context.Context, rc *Context, localOut <-chan any, outEdges []Edge, edgeChans map[Edge]chan any) {
	defer func() {
		for _, e := range outEdges {
			close(edgeChans[e])
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-localOut:
			if !ok {
				return
			}
			for _, e := range outEdges {
				select {
				case edgeChans[e] <- item:
					rc.Observer.OnQueueDepth(ctx, edgeID(e.From, e.To), len(edgeChans[e]))
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// RunGraph instantiates g's nodes in topological order and drives them concurrently to
// completion, wiring one bounded channel per edge for backpressure. It returns
// once every sink has completed, or the first node error/cancellation, whichever comes first —
// golang.org/x/sync/errgroup propagates the first error and cancels every other node's context.
func RunGraph(ctx context.Context, rc *Context, g *Graph) error {
	order, err := topoOrder(g)
	if err != nil {
		return err
	}

	rc.ErrorHandling = g.ErrorHandling
	rc.Lineage = g.Lineage
	rc.graph = g

	bufSize := g.ExecutionOpts.DefaultEdgeBuffer
	if bufSize <= 0 {
		bufSize = 1
	}
	edgeChans := make(map[Edge]chan any, len(g.Edges))
	for _, e := range g.Edges {
		edgeChans[e] = make(chan any, bufSize)
	}

	grp, gctx := errgroup.WithContext(ctx)

	for _, id := range order {
		nd, _ := g.Node(id)
		nd := nd
		switch nd.Kind {
		case JoinKind:
			rc.Defer(nd.joinRunner)
		case AggregateKind:
			rc.Defer(nd.aggregateRunner)
		default:
			rc.Defer(nd.runner)
		}
		inEdges := g.InEdges(id)
		outEdges := g.OutEdges(id)

		switch nd.Kind {
		case JoinKind:
			grp.Go(func() error { return runJoinNode(gctx, rc, nd, inEdges, outEdges, edgeChans) })
		case AggregateKind:
			grp.Go(func() error { return runAggregateNode(gctx, rc, nd, inEdges, outEdges, edgeChans) })
		default:
			grp.Go(func() error { return runOrdinaryNode(gctx, rc, g, nd, inEdges, outEdges, edgeChans) })
		}
	}

	return grp.Wait()
}

func runOrdinaryNode(ctx context.Context, rc *Context, g *Graph, nd *NodeDefinition, inEdges, outEdges []Edge, edgeChans map[Edge]chan any) error {
	in := mergeInputsFor(ctx, inEdges, edgeChans, nd.MergeStrategy)

	var localOut chan any
	if len(outEdges) > 0 {
		localOut = make(chan any, 1)
	}

	strategy := nd.ExecutionStrategy
	if strategy == nil {
		strategy = g.ExecutionOpts.DefaultStrategy
	}
	if strategy == nil {
		strategy = Sequential()
	}
	// A per-node retry override upgrades that node's strategy to Resilient automatically,
	// using the graph's breaker default, so SetRetryOverride alone is enough to add retry
	// protection without also requiring an explicit SetExecutionStrategy(Resilient(...)) call.
	if nd.RetryOverride != nil {
		strategy = Resilient(strategy, *nd.RetryOverride, g.ExecutionOpts.DefaultBreaker)
	}

	runErr := make(chan error, 1)
	go func() {
		rc.pushNode(nd.ID)
		defer rc.popNode()
		var out chan<- any
		if localOut != nil {
			out = localOut
		}
		err := runWithPipelineHandler(ctx, rc, g, nd, strategy, in, out)
		if localOut != nil {
			close(localOut)
		}
		runErr <- err
	}()

	fanDone := make(chan struct{})
	if localOut != nil {
		go func() {
			fanOut(ctx, rc, localOut, outEdges, edgeChans)
			close(fanDone)
		}()
	} else {
		close(fanDone)
	}

	err := <-runErr
	<-fanDone
	return err
}

// runWithPipelineHandler drives strategy.Execute against nd, consulting the graph's
// PipelineErrorHandler whenever a *NodeExecutionError escapes the node.
// RestartNode re-invokes Execute against the same runner and remaining input: the node's
// circuit breaker state is scoped to the run's Context, not to one Execute call, so repeated
// trips still fail fast once the threshold is reached. ContinueWithoutNode treats the node as
// cleanly finished. FailPipeline, the default when no handler is configured, surfaces the error.
// Cancellation errors are never routed to the handler.
func runWithPipelineHandler(ctx context.Context, rc *Context, g *Graph, nd *NodeDefinition, strategy Strategy, in <-chan any, out chan<- any) error {
	for {
		err := strategy.Execute(ctx, rc, nd.ID, nd.runner, in, out)
		if err == nil {
			return nil
		}
		var cancellation *CancellationError
		if errors.As(err, &cancellation) {
			return err
		}
		// A tripped breaker bypasses the handler entirely: restarting a node whose breaker is
		// still open would just trip it again, forever, rather than converge.
		var breakerOpen *CircuitBreakerOpenError
		if errors.As(err, &breakerOpen) {
			return &NodeExecutionError{NodeID: nd.ID, Inner: err}
		}
		// Only an error that is itself a NodeExecutionError is passed through as is; anything
		// else (e.g. a RetryExhaustedError around one) is wrapped whole so it stays visible.
		nodeErr, ok := err.(*NodeExecutionError)
		if !ok {
			nodeErr = &NodeExecutionError{NodeID: nd.ID, Inner: err}
		}
		handler := g.ErrorHandling.Handler
		if handler == nil {
			handler = FailPipelineOnError
		}
		switch handler(ctx, nd.ID, nodeErr.Inner).Kind {
		case RestartNode:
			continue
		case ContinueWithoutNode:
			return nil
		default:
			return nodeErr
		}
	}
}

func runJoinNode(ctx context.Context, rc *Context, nd *NodeDefinition, inEdges, outEdges []Edge, edgeChans map[Edge]chan any) error {
	var firstEdges, secondEdges []Edge
	for _, e := range inEdges {
		if e.TargetPort == SecondInput {
			secondEdges = append(secondEdges, e)
		} else {
			firstEdges = append(firstEdges, e)
		}
	}
	first := mergeInputsFor(ctx, firstEdges, edgeChans, nil)
	second := mergeInputsFor(ctx, secondEdges, edgeChans, nil)

	var localOut chan any
	if len(outEdges) > 0 {
		localOut = make(chan any, 1)
	}

	runErr := make(chan error, 1)
	go func() {
		rc.pushNode(nd.ID)
		defer rc.popNode()
		err := nd.joinRunner.Run(ctx, rc, first, second, localOut)
		if localOut != nil {
			close(localOut)
		}
		runErr <- err
	}()

	fanDone := make(chan struct{})
	if localOut != nil {
		go func() {
			fanOut(ctx, rc, localOut, outEdges, edgeChans)
			close(fanDone)
		}()
	} else {
		close(fanDone)
	}

	err := <-runErr
	<-fanDone
	return err
}

// aggWindowState tracks one (key, window) pair's running accumulator.
type aggWindowState struct {
	key    any
	window Window
	acc    any
	// lineageIDs accumulates the contributing parent lineage ids for this (key, window), used
	// to rewrap the emitted result as a ManyToOne packet when lineage is enabled.
	lineageIDs []uuid.UUID
}

func runAggregateNode(ctx context.Context, rc *Context, nd *NodeDefinition, inEdges, outEdges []Edge, edgeChans map[Edge]chan any) error {
	in := mergeInputsFor(ctx, inEdges, edgeChans, nil)

	var localOut chan any
	if len(outEdges) > 0 {
		localOut = make(chan any, 1)
	}

	runErr := make(chan error, 1)
	go func() {
		rc.pushNode(nd.ID)
		defer rc.popNode()
		err := driveAggregate(ctx, rc, nd, in, localOut)
		if localOut != nil {
			close(localOut)
		}
		runErr <- err
	}()

	fanDone := make(chan struct{})
	if localOut != nil {
		go func() {
			fanOut(ctx, rc, localOut, outEdges, edgeChans)
			close(fanDone)
		}()
	} else {
		close(fanDone)
	}

	err := <-runErr
	<-fanDone
	return err
}

// driveAggregate runs the window/watermark loop for one Aggregate node: each item
// is assigned to one or more windows via Assigner, accumulated, and a window's result is emitted
// once the watermark passes its end. Any windows still open when the input closes are flushed
// unconditionally.
func driveAggregate(ctx context.Context, rc *Context, nd *NodeDefinition, in <-chan any, out chan<- any) error {
	cfg := nd.Aggregate
	runner := nd.aggregateRunner
	states := make(map[string]*aggWindowState)

	emit := func(st *aggWindowState) error {
		result, err := runner.Finish(st.key, st.window, st.acc)
		if err != nil {
			rc.Observer.OnItemFailure(ctx, nd.ID, st.key, err)
			if handled, escalated := handleNodeError(ctx, rc.ErrorHandling, nd.ID, st.key, err); handled {
				return nil
			}
			return escalated
		}
		var payload any = result
		if rc.Lineage.Enabled && len(st.lineageIDs) > 0 {
			payload = rewrapManyToOneIDs(st.lineageIDs, result, nd.ID, true, rc.Lineage.RedactData)
		}
		if out != nil {
			select {
			case out <- payload:
			case <-ctx.Done():
				return &CancellationError{Cause: ctx.Err()}
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return &CancellationError{Cause: ctx.Err()}
		case raw, ok := <-in:
			if !ok {
				for _, st := range states {
					if err := emit(st); err != nil {
						return err
					}
				}
				return nil
			}

			item, lineageID, hasLineage := unwrapAny(raw)
			rc.Observer.OnItemStart(ctx, nd.ID, item)
			itemStart := time.Now()

			ts := time.Now()
			if cfg.TimestampExtractor != nil {
				ts = cfg.TimestampExtractor(item)
			}
			key := runner.KeyOf(item)

			var watermark time.Time
			hasWatermark := cfg.Watermark != nil
			if hasWatermark {
				watermark = cfg.Watermark.Advance(key, ts)
				if ts.Before(watermark.Add(-cfg.AllowedLateness)) {
					count, _ := rc.Get(DiagLateDrops(nd.ID))
					dropped, _ := count.(int)
					rc.Set(DiagLateDrops(nd.ID), dropped+1)
					continue
				}
			}

			var accErr error
			for _, w := range cfg.Assigner.AssignWindows(ts) {
				w.Key = key
				sk := stateKey(key, w)
				st, ok := states[sk]
				if !ok {
					st = &aggWindowState{key: key, window: w, acc: runner.NewAccumulator()}
					states[sk] = st
				}
				newAcc, err := runner.Accumulate(st.acc, item)
				if err != nil {
					accErr = err
					break
				}
				st.acc = newAcc
				if hasLineage {
					st.lineageIDs = append(st.lineageIDs, lineageID)
				}
			}
			if accErr != nil {
				rc.Observer.OnItemFailure(ctx, nd.ID, item, accErr)
				if handled, escalated := handleNodeError(ctx, rc.ErrorHandling, nd.ID, item, accErr); !handled {
					return escalated
				}
				continue
			}
			rc.Observer.OnItemEnd(ctx, nd.ID, item, time.Since(itemStart))

			if hasWatermark {
				for sk, st := range states {
					if !st.window.End.After(watermark) {
						if err := emit(st); err != nil {
							return err
						}
						delete(states, sk)
					}
				}
			}
		}
	}
}

func stateKey(key any, w Window) string {
	return fmt.Sprintf("%v|%d|%d", key, w.Start.UnixNano(), w.End.UnixNano())
}
