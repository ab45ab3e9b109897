package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodestream/flowline/graph"
)

// jitterDoubler doubles its input after a tiny, item-dependent sleep, so a worker pool actually
// has a chance to finish items out of submission order.
type jitterDoubler struct{}

func (jitterDoubler) Process(ctx context.Context, rc *graph.Context, item int) ([]int, error) {
	time.Sleep(time.Duration(item%3) * time.Millisecond)
	return []int{item * 2}, nil
}

func (jitterDoubler) Dispose(context.Context) error { return nil }

// TestParallelUnorderedPreservesMultiset covers Scenario 4: a bounded worker pool processing
// every item exactly once, with Unordered ordering allowed to reshuffle arrival order as long as
// the output multiset matches the input multiset under the transform.
func TestParallelUnorderedPreservesMultiset(t *testing.T) {
	t.Parallel()

	items := make([]int, 0, 20)
	expected := make([]any, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, i)
		expected = append(expected, i*2)
	}

	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", sliceSource[int]{items: items})
	tr := graph.AddTransform[int, int](b, "double", jitterDoubler{}, graph.OneToOne)
	sink := &collectSink[int]{}
	snk := graph.AddSink[int](b, "collect", sink)

	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	b.SetExecutionStrategy(tr.ID(), graph.Parallel(graph.ParallelOptions{
		MaxDegree: 4,
		Ordering:  graph.Unordered,
		QueueSize: 8,
		Overflow:  graph.Block,
	}))

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	got := sink.Snapshot()
	require.Len(t, got, 20)
	gotAny := make([]any, len(got))
	for i, v := range got {
		gotAny[i] = v
	}
	assert.ElementsMatch(t, expected, gotAny)
}

// TestParallelPreserveOrderReassemblesInputOrder covers the PreserveOrder mode: despite workers
// completing out of turn, the sink must observe results in the original input order.
func TestParallelPreserveOrderReassemblesInputOrder(t *testing.T) {
	t.Parallel()

	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", sliceSource[int]{items: items})
	tr := graph.AddTransform[int, int](b, "double", jitterDoubler{}, graph.OneToOne)
	sink := &collectSink[int]{}
	snk := graph.AddSink[int](b, "collect", sink)

	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	b.SetExecutionStrategy(tr.ID(), graph.Parallel(graph.ParallelOptions{
		MaxDegree: 4,
		Ordering:  graph.PreserveOrder,
		QueueSize: 8,
		Overflow:  graph.Block,
	}))

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	assert.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, sink.Snapshot())
}
