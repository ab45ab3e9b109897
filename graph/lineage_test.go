package graph_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodestream/flowline/graph"
)

// capturingLineageSink records every LineageInfo handed to it by a sink node.
type capturingLineageSink struct {
	mu    sync.Mutex
	infos []graph.LineageInfo
}

func (s *capturingLineageSink) Record(ctx context.Context, info graph.LineageInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, info)
	return nil
}

func (s *capturingLineageSink) Snapshot() []graph.LineageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]graph.LineageInfo{}, s.infos...)
}

// TestLineageRoundTripThroughOneToOneTransform verifies that when lineage is enabled, a sink
// receives a traversal path covering every node on the item's path and one recorded hop per
// OneToOne transform it passed through.
func TestLineageRoundTripThroughOneToOneTransform(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", sliceSource[int]{items: []int{7}})
	tr := graph.AddTransform[int, int](b, "double", doublerTransform{}, graph.OneToOne)
	snk := graph.AddSink[int](b, "collect", &collectSink[int]{})

	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	lineageSink := &capturingLineageSink{}
	b.EnableLineage(graph.LineageOptions{SampleEvery: 1, Sink: lineageSink})

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	infos := lineageSink.Snapshot()
	require.Len(t, infos, 1)
	info := infos[0]
	require.Len(t, info.TraversalPath, 3)
	assert.Equal(t, src.ID(), info.TraversalPath[0])
	assert.Equal(t, tr.ID(), info.TraversalPath[1])
	assert.Equal(t, snk.ID(), info.TraversalPath[2])
	assert.Len(t, info.Hops, 1)
	assert.Equal(t, tr.ID(), info.Hops[0].NodeID)
	assert.Equal(t, graph.OneToOne, info.Hops[0].Cardinality)
	assert.Equal(t, 14, info.Data)
}

// TestLineageJoinProducesManyToOneHop verifies a Join's output packet carries a ManyToOne hop
// whose InputIDs cover both contributing parent lineage ids.
func TestLineageJoinProducesManyToOneHop(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder()
	first := graph.AddSource[int](b, "first", sliceSource[int]{items: []int{1}})
	second := graph.AddSource[int](b, "second", sliceSource[int]{items: []int{1}})
	j := graph.AddJoin[int, int, int](b, "sum", sumJoin{})
	snk := graph.AddSink[int](b, "collect", &collectSink[int]{})

	require.NoError(t, b.ConnectJoin(first.ID(), j.ID(), graph.FirstInput))
	require.NoError(t, b.ConnectJoin(second.ID(), j.ID(), graph.SecondInput))
	require.NoError(t, b.Connect(j.ID(), snk.ID()))

	lineageSink := &capturingLineageSink{}
	b.EnableLineage(graph.LineageOptions{SampleEvery: 1, Sink: lineageSink})

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	infos := lineageSink.Snapshot()
	require.Len(t, infos, 1)
	info := infos[0]
	require.Len(t, info.Hops, 1)
	assert.Equal(t, graph.ManyToOne, info.Hops[0].Cardinality)
	assert.Len(t, info.Hops[0].InputIDs, 2)
}
