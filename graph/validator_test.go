package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodestream/flowline/graph"
)

func TestBuildRejectsCycle(t *testing.T) {
	t.Parallel()
	b := graph.NewBuilder()
	t1 := graph.AddTransform[int, int](b, "t1", doublerTransform{}, graph.OneToOne)
	t2 := graph.AddTransform[int, int](b, "t2", doublerTransform{}, graph.OneToOne)

	require.NoError(t, b.Connect(t1.ID(), t2.ID()))
	require.NoError(t, b.Connect(t2.ID(), t1.ID()))

	_, err := b.Build()
	require.Error(t, err)
	var verr *graph.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, hasCategory(verr.Issues, "cycle"))
}

func TestBuildRejectsDuplicateNames(t *testing.T) {
	t.Parallel()
	b := graph.NewBuilder()
	graph.AddSource[int](b, "dup", sliceSource[int]{items: []int{1}})
	graph.AddTransform[int, int](b, "dup", doublerTransform{}, graph.OneToOne)

	_, err := b.Build()
	require.Error(t, err)
	var berr *graph.BuilderStateError
	require.ErrorAs(t, err, &berr)
	assert.ErrorIs(t, err, graph.ErrDuplicateName)
}

func TestConnectRejectsDanglingEdge(t *testing.T) {
	t.Parallel()
	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "src", sliceSource[int]{items: []int{1}})
	err := b.Connect(src.ID(), "no-such-node")
	require.Error(t, err)
}

func TestBuildRejectsTypeMismatch(t *testing.T) {
	t.Parallel()
	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "src", sliceSource[int]{items: []int{1}})
	snk := graph.AddSink[string](b, "snk", &collectSink[string]{})

	require.NoError(t, b.Connect(src.ID(), snk.ID()))

	_, err := b.Build()
	require.Error(t, err)
	var verr *graph.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, hasCategory(verr.Issues, "type-mismatch"))
}

func TestBuildRejectsIncompleteJoin(t *testing.T) {
	t.Parallel()
	b := graph.NewBuilder()
	src1 := graph.AddSource[int](b, "src1", sliceSource[int]{items: []int{1}})
	src2 := graph.AddSource[int](b, "src2", sliceSource[int]{items: []int{1}})
	j := graph.AddJoin[int, int, int](b, "join", sumJoin{})

	require.NoError(t, b.ConnectJoin(src1.ID(), j.ID(), graph.FirstInput))
	require.NoError(t, b.ConnectJoin(src2.ID(), j.ID(), graph.FirstInput))

	_, err := b.Build()
	require.Error(t, err)
	var verr *graph.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, hasCategory(verr.Issues, "incomplete-join"))
}

func TestBuilderCannotBeReusedAfterBuild(t *testing.T) {
	t.Parallel()
	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "src", sliceSource[int]{items: []int{1}})
	snk := graph.AddSink[int](b, "snk", &collectSink[int]{})
	require.NoError(t, b.Connect(src.ID(), snk.ID()))

	_, err := b.Build()
	require.NoError(t, err)

	_, err = b.Build()
	require.Error(t, err)
	var berr *graph.BuilderStateError
	require.ErrorAs(t, err, &berr)
}

func TestCustomCardinalityMissingMapperIsWarningOnly(t *testing.T) {
	t.Parallel()
	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "src", sliceSource[int]{items: []int{1}})
	tr := graph.AddTransform[int, int](b, "custom", doublerTransform{}, graph.CustomCardinality)
	snk := graph.AddSink[int](b, "snk", &collectSink[int]{})
	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	g, issues, err := b.TryBuild()
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.True(t, hasCategory(issues, "missing-lineage-mapper"))
}
