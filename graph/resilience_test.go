package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodestream/flowline/graph"
)

// TestCircuitBreakerTripsAfterConfiguredAttempts covers Scenario 3: a Resilient(Sequential)
// strategy with a one-attempt retry policy and a two-failure breaker threshold, paired with an
// always-restart pipeline handler. The breaker must trip after exactly two invocations of the
// failing transform, and the run after the second restart must be short-circuited by the open
// breaker rather than calling the transform again.
func TestCircuitBreakerTripsAfterConfiguredAttempts(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", sliceSource[int]{items: []int{1, 2, 3, 4, 5}})
	failing := &alwaysFailTransform{}
	tr := graph.AddTransform[int, int](b, "always-fail", failing, graph.OneToOne)
	snk := graph.AddSink[int](b, "collect", &collectSink[int]{})

	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	b.SetExecutionStrategy(tr.ID(), graph.Resilient(
		graph.Sequential(),
		graph.RetryOptions{MaxAttempts: 1, Backoff: graph.FixedBackoff, Base: time.Millisecond},
		&graph.BreakerConfig{FailureThreshold: 2, Window: time.Minute, OpenDuration: time.Minute, HalfOpenSuccesses: 1},
	))
	b.SetPipelineErrorHandler(func(context.Context, graph.NodeID, error) graph.PipelineDecision {
		return graph.PipelineDecision{Kind: graph.RestartNode}
	})

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := graph.RunGraphDirect(ctx, g, graph.RunOptions{})

	require.Error(t, runErr)
	var nodeErr *graph.NodeExecutionError
	require.ErrorAs(t, runErr, &nodeErr)
	var breakerErr *graph.CircuitBreakerOpenError
	require.ErrorAs(t, runErr, &breakerErr)
	assert.Equal(t, 2, failing.Attempts())
}

// TestRetryExhaustsAfterMaxAttempts covers the retry bound property: a transform that always
// fails is invoked exactly MaxAttempts times before RetryExhaustedError propagates.
func TestRetryExhaustsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", sliceSource[int]{items: []int{1, 2, 3, 4, 5, 6, 7, 8}})
	failing := &alwaysFailTransform{}
	tr := graph.AddTransform[int, int](b, "always-fail", failing, graph.OneToOne)
	snk := graph.AddSink[int](b, "collect", &collectSink[int]{})

	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	b.SetRetryOverride(tr.ID(), graph.RetryOptions{MaxAttempts: 4, Backoff: graph.FixedBackoff, Base: time.Millisecond})

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := graph.RunGraphDirect(ctx, g, graph.RunOptions{})

	require.Error(t, runErr)
	var retryErr *graph.RetryExhaustedError
	require.ErrorAs(t, runErr, &retryErr)
	assert.Equal(t, 4, retryErr.Attempts)
	assert.Equal(t, 4, failing.Attempts())
}

// TestRetrySucceedsWithinMaxAttempts covers the other half of the retry bound: a transform
// whose global call counter stays below failUntil fails, so only the first item dequeued pays
// for those attempts (its own retries re-invoke the same item, never the next one from the
// source), while the remaining items each succeed on their own first attempt.
func TestRetrySucceedsWithinMaxAttempts(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", sliceSource[int]{items: []int{1, 2, 3}})
	flaky := &flakyTransform{failUntil: 2}
	tr := graph.AddTransform[int, int](b, "flaky", flaky, graph.OneToOne)
	sink := &collectSink[int]{}
	snk := graph.AddSink[int](b, "collect", sink)

	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	b.SetRetryOverride(tr.ID(), graph.RetryOptions{MaxAttempts: 5, Backoff: graph.FixedBackoff, Base: time.Millisecond})

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	assert.Equal(t, 5, flaky.Calls())
	assert.Equal(t, []int{1, 2, 3}, sink.Snapshot())
}

// TestDeadLetterRoutesFailedItems covers Scenario 5: odd items fail the transform and are routed
// to the dead-letter sink, even items pass through to the ordinary sink.
func TestDeadLetterRoutesFailedItems(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", sliceSource[int]{items: []int{1, 2, 3, 4, 5, 6}})
	tr := graph.AddTransform[int, int](b, "even-only", evenOddTransform{}, graph.OneToOne)
	sink := &collectSink[int]{}
	snk := graph.AddSink[int](b, "collect", sink)

	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	dlq := &memDeadLetter{}
	b.SetErrorHandler(tr.ID(), graph.DeadLetterOnError)
	b.SetDeadLetterSink(dlq)

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	assert.Equal(t, []int{2, 4, 6}, sink.Snapshot())
	assert.Equal(t, 3, dlq.Count())
	assert.ElementsMatch(t, []any{1, 3, 5}, dlq.Items())
}

// TestCancellationUnderBackpressureResolvesPromptly covers Scenario 6: an endless source feeding
// a bounded edge into a sink that never drains, under a context cancelled shortly after start.
// The run must resolve within a bounded time, reporting cancellation rather than hanging.
func TestCancellationUnderBackpressureResolvesPromptly(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", infiniteSource{})
	snk := graph.AddSink[int](b, "blocking", &slowSink{release: make(chan struct{})})

	require.NoError(t, b.Connect(src.ID(), snk.ID()))
	b.SetDefaultEdgeBuffer(2)

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- graph.RunGraphDirect(ctx, g, graph.RunOptions{}) }()

	select {
	case runErr := <-done:
		require.Error(t, runErr)
		var cancelErr *graph.CancellationError
		assert.ErrorAs(t, runErr, &cancelErr)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not resolve within bounded time after cancellation")
	}
}
