package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodestream/flowline/graph"
)

// TestLinearPipelinePreservesOrder covers a Source -> Transform -> Sink chain under the default
// Sequential strategy: the sink must observe items in exactly the order the source produced them
// (no reordering, no drops).
func TestLinearPipelinePreservesOrder(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", sliceSource[int]{items: []int{1, 2, 3}})
	tr := graph.AddTransform[int, int](b, "double", doublerTransform{}, graph.OneToOne)
	sink := &collectSink[int]{}
	snk := graph.AddSink[int](b, "collect", sink)

	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	assert.Equal(t, []int{2, 4, 6}, sink.Snapshot())
}

// TestTumblingAggregateEmitsOnWatermarkAndFlushesOnClose covers Scenario 2: hourly sums per
// category, emitted as the watermark crosses each window boundary, with any windows still open
// at stream close flushed unconditionally.
func TestTumblingAggregateEmitsOnWatermarkAndFlushesOnClose(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []saleEvent{
		{Category: "snacks", Amount: 10}, // 00:10, window [00:00,01:00)
		{Category: "snacks", Amount: 5},  // 00:45, same window
		{Category: "snacks", Amount: 7},  // 01:05, window [01:00,02:00) -> closes prior window
		{Category: "snacks", Amount: 3},  // 02:05, window [02:00,03:00) -> closes prior window, then flushed at close
	}
	offsets := []time.Duration{10 * time.Minute, 45 * time.Minute, time.Hour + 5*time.Minute, 2*time.Hour + 5*time.Minute}

	b := graph.NewBuilder()
	src := graph.AddSource[saleEvent](b, "sales", sliceSource[saleEvent]{items: events})

	idx := 0
	cfg := graph.AggregateConfig{
		Assigner: graph.Tumbling(time.Hour),
		TimestampExtractor: func(item any) time.Time {
			ts := base.Add(offsets[idx])
			idx++
			return ts
		},
		Watermark: graph.NewEventTimeWatermark(0),
	}
	agg := graph.AddAggregate[saleEvent, string, int, categoryTotal](b, "hourly-total", sumAggregate{}, cfg)
	sink := &collectSink[categoryTotal]{}
	snk := graph.AddSink[categoryTotal](b, "collect", sink)

	require.NoError(t, b.Connect(src.ID(), agg.ID()))
	require.NoError(t, b.Connect(agg.ID(), snk.ID()))

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	got := sink.Snapshot()
	require.Len(t, got, 3)
	sum := 0
	for _, ct := range got {
		assert.Equal(t, "snacks", ct.Category)
		sum += ct.Total
	}
	assert.Equal(t, 25, sum) // 10+5+7+3 split across three emitted windows
}

// TestJoinMergesMatchingKeys covers a two-input Join node merging by key.
func TestJoinMergesMatchingKeys(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder()
	first := graph.AddSource[int](b, "first", sliceSource[int]{items: []int{1, 2, 3}})
	second := graph.AddSource[int](b, "second", sliceSource[int]{items: []int{1, 2, 3}})
	j := graph.AddJoin[int, int, int](b, "sum", sumJoin{})
	sink := &collectSink[int]{}
	snk := graph.AddSink[int](b, "collect", sink)

	require.NoError(t, b.ConnectJoin(first.ID(), j.ID(), graph.FirstInput))
	require.NoError(t, b.ConnectJoin(second.ID(), j.ID(), graph.SecondInput))
	require.NoError(t, b.Connect(j.ID(), snk.ID()))

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	got := sink.Snapshot()
	require.Len(t, got, 3)
	sum := 0
	for _, v := range got {
		sum += v
	}
	assert.Equal(t, 2+4+6, sum)
}
