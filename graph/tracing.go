package graph

import (
	"context"
	"time"
)

// Observer receives lifecycle events for every item a node processes, plus breaker and queue
// diagnostics.
type Observer interface {
	OnItemStart(ctx context.Context, node NodeID, item any)
	OnItemEnd(ctx context.Context, node NodeID, item any, d time.Duration)
	OnItemFailure(ctx context.Context, node NodeID, item any, err error)
	OnRetry(ctx context.Context, node NodeID, attempt int, err error)
	OnQueueDepth(ctx context.Context, edge EdgeID, depth int)
	OnCircuitTransition(ctx context.Context, node NodeID, from, to BreakerState)
}

// NoOpObserver discards every event. It is the default when no Observer is configured.
type NoOpObserver struct{}

func (NoOpObserver) OnItemStart(context.Context, NodeID, any)                     {}
func (NoOpObserver) OnItemEnd(context.Context, NodeID, any, time.Duration)        {}
func (NoOpObserver) OnItemFailure(context.Context, NodeID, any, error)            {}
func (NoOpObserver) OnRetry(context.Context, NodeID, int, error)                  {}
func (NoOpObserver) OnQueueDepth(context.Context, EdgeID, int)                    {}
func (NoOpObserver) OnCircuitTransition(context.Context, NodeID, BreakerState, BreakerState) {}

// Span represents one traced unit of work, closed by calling End.
type Span interface {
	End(err error)
	SetAttribute(key string, value any)
}

// Tracer opens spans for node executions, independent of the Observer event stream: a Tracer
// is meant to feed an external tracing backend (spans/traces), while Observer feeds metrics and
// structured logs.
type Tracer interface {
	StartSpan(ctx context.Context, nodeID NodeID, operation string) (context.Context, Span)
}

// NoOpTracer starts spans that do nothing. It is the default when no Tracer is configured.
type NoOpTracer struct{}

func (NoOpTracer) StartSpan(ctx context.Context, _ NodeID, _ string) (context.Context, Span) {
	return ctx, noOpSpan{}
}

type noOpSpan struct{}

func (noOpSpan) End(error)                  {}
func (noOpSpan) SetAttribute(string, any)   {}
