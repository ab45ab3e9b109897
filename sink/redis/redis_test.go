package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodestream/flowline/graph"
)

func TestLineageSink_RecordAndTrail(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := New(Options{Addr: mr.Addr()})
	defer s.Close()

	ctx := context.Background()
	id := uuid.New()

	first := graph.LineageInfo{
		LineageID:     id,
		TraversalPath: []graph.NodeID{"source-1"},
		Data:          "first",
		HasData:       true,
	}
	second := graph.LineageInfo{
		LineageID:     id,
		TraversalPath: []graph.NodeID{"source-1", "transform-1"},
		Data:          "second",
		HasData:       true,
	}

	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, second))

	trail, err := s.Trail(ctx, id.String())
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "first", trail[0].Data)
	assert.Equal(t, "second", trail[1].Data)
}

func TestLineageSink_EmptyTrail(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := New(Options{Addr: mr.Addr()})
	defer s.Close()

	trail, err := s.Trail(context.Background(), uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, trail)
}
