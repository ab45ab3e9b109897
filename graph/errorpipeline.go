package graph

import "context"

// NodeDecisionKind is what a NodeErrorHandler chose to do with one failed item.
type NodeDecisionKind int

const (
	// SkipItem drops the failed item and continues processing the stream.
	SkipItem NodeDecisionKind = iota
	// DeadLetterItem routes the failed item to the graph's DeadLetterSink, then continues.
	DeadLetterItem
	// FailNode propagates the error out of the node, triggering the pipeline-level handler.
	FailNode
)

// NodeDecision is the outcome of a NodeErrorHandler call.
type NodeDecision struct {
	Kind NodeDecisionKind
	// Reason is recorded alongside a DeadLetterItem decision for diagnostics.
	Reason string
}

// NodeErrorHandler decides what happens to one item that failed inside a node.
type NodeErrorHandler func(ctx context.Context, nodeID NodeID, item any, err error) NodeDecision

// SkipOnError is a NodeErrorHandler that always skips the failed item.
func SkipOnError(context.Context, NodeID, any, error) NodeDecision {
	return NodeDecision{Kind: SkipItem}
}

// DeadLetterOnError is a NodeErrorHandler that always routes the failed item to the dead
// letter sink.
func DeadLetterOnError(_ context.Context, _ NodeID, _ any, err error) NodeDecision {
	return NodeDecision{Kind: DeadLetterItem, Reason: err.Error()}
}

// FailOnError is a NodeErrorHandler that always propagates the failure to the pipeline level.
func FailOnError(context.Context, NodeID, any, error) NodeDecision {
	return NodeDecision{Kind: FailNode}
}

// PipelineDecisionKind is what a PipelineErrorHandler chose to do once a node's error escaped
// its own NodeErrorHandler.
type PipelineDecisionKind int

const (
	// FailPipeline cancels the whole run, the default.
	FailPipeline PipelineDecisionKind = iota
	// ContinueWithoutNode removes the failed node from the running graph: its output channel is
	// closed and downstream nodes observe end-of-stream on that edge, but every other branch
	// keeps running.
	ContinueWithoutNode
	// RestartNode runs the failed node's strategy again with the same runner against the
	// remaining input; the node is neither disposed nor re-instantiated. Items the node had
	// already taken from its input when it failed are lost. A node whose circuit breaker is open
	// fails without consulting the handler.
	RestartNode
)

// PipelineDecision is the outcome of a PipelineErrorHandler call.
type PipelineDecision struct {
	Kind PipelineDecisionKind
}

// PipelineErrorHandler decides the run-wide fallout of one node's unhandled error.
type PipelineErrorHandler func(ctx context.Context, nodeID NodeID, err error) PipelineDecision

// FailPipelineOnError is the default PipelineErrorHandler: any escaped node error cancels the
// whole run.
func FailPipelineOnError(context.Context, NodeID, error) PipelineDecision {
	return PipelineDecision{Kind: FailPipeline}
}

// ContinueWithoutNodeOnError is a PipelineErrorHandler that isolates the failed node and lets
// the rest of the graph continue.
func ContinueWithoutNodeOnError(context.Context, NodeID, error) PipelineDecision {
	return PipelineDecision{Kind: ContinueWithoutNode}
}

// PipelineErrorConfig is the graph-wide error handling configuration.
type PipelineErrorConfig struct {
	// DefaultNodeHandler applies to any node without its own ErrorHandler set.
	DefaultNodeHandler NodeErrorHandler
	// Handler decides pipeline-wide fallout once a node's error escapes NodeErrorHandler.
	Handler PipelineErrorHandler
	// DeadLetter receives items routed by a DeadLetterItem decision. Required when any node's
	// resolved NodeErrorHandler can produce that decision.
	DeadLetter DeadLetterSink

	// nodeLookup resolves a node's own ErrorHandler override; set by Builder.Build once the
	// node index exists.
	nodeLookup func(NodeID) *NodeDefinition
}

// DeadLetterSink is the external collaborator that records items a node gave up on.
type DeadLetterSink interface {
	Send(ctx context.Context, item any, reason string) error
}

// resolveNodeHandler returns the handler that should decide a failed item's fate for nd: its
// own override if set, else the graph-wide default.
func resolveNodeHandler(nd *NodeDefinition, cfg PipelineErrorConfig) NodeErrorHandler {
	if nd.ErrorHandler != nil {
		return nd.ErrorHandler
	}
	if cfg.DefaultNodeHandler != nil {
		return cfg.DefaultNodeHandler
	}
	return FailOnError
}

// handleNodeError runs nd's resolved NodeErrorHandler against one failed item. It returns
// (true, nil) when the item was skipped or dead-lettered and the node's stream should continue;
// it returns (false, err) when the decision was FailNode, wrapping err as a *NodeExecutionError
// for the caller to propagate.
func handleNodeError(ctx context.Context, cfg PipelineErrorConfig, nodeID NodeID, item any, err error) (handled bool, escalated error) {
	nd := cfg.lookup(nodeID)
	handler := resolveNodeHandler(nd, cfg)
	decision := handler(ctx, nodeID, item, err)
	switch decision.Kind {
	case SkipItem:
		return true, nil
	case DeadLetterItem:
		if cfg.DeadLetter != nil {
			reason := decision.Reason
			if reason == "" {
				reason = err.Error()
			}
			_ = cfg.DeadLetter.Send(ctx, item, reason)
		}
		return true, nil
	default:
		return false, &NodeExecutionError{NodeID: nodeID, Inner: err}
	}
}

// lookup is a seam so handleNodeError can find a node's own ErrorHandler override without
// PipelineErrorConfig depending on *Graph; callers that don't need per-node overrides (most
// tests) can leave it nil, in which case DefaultNodeHandler always applies.
func (cfg PipelineErrorConfig) lookup(id NodeID) *NodeDefinition {
	if cfg.nodeLookup == nil {
		return nil
	}
	return cfg.nodeLookup(id)
}
