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

// trackedSource/trackedTransform/trackedSink each append their name to a shared, mutex-guarded
// order slice on Dispose, so TestDisposalRunsInReverseRegistrationOrder can assert the teardown
// sequence.
type disposalOrder struct {
	mu    sync.Mutex
	order []string
}

func (d *disposalOrder) record(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = append(d.order, name)
}

func (d *disposalOrder) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.order...)
}

type trackedSource struct {
	name  string
	order *disposalOrder
	items []int
}

func (s trackedSource) Produce(ctx context.Context, rc *graph.Context) (<-chan int, error) {
	out := make(chan int)
	go func() {
		defer close(out)
		for _, v := range s.items {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s trackedSource) Dispose(context.Context) error {
	s.order.record(s.name)
	return nil
}

type trackedTransform struct {
	name  string
	order *disposalOrder
}

func (t trackedTransform) Process(ctx context.Context, rc *graph.Context, item int) ([]int, error) {
	return []int{item}, nil
}

func (t trackedTransform) Dispose(context.Context) error {
	t.order.record(t.name)
	return nil
}

type trackedSink struct {
	name  string
	order *disposalOrder
}

func (s trackedSink) Consume(ctx context.Context, rc *graph.Context, in <-chan int) error {
	for {
		select {
		case _, ok := <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s trackedSink) Dispose(context.Context) error {
	s.order.record(s.name)
	return nil
}

// TestDisposalRunsInReverseRegistrationOrder covers the teardown invariant: every node's
// Disposable is released exactly once, in the reverse of its topological/registration order.
func TestDisposalRunsInReverseRegistrationOrder(t *testing.T) {
	t.Parallel()

	order := &disposalOrder{}
	b := graph.NewBuilder()
	src := graph.AddSource[int](b, "numbers", trackedSource{name: "source", order: order, items: []int{1, 2, 3}})
	tr := graph.AddTransform[int, int](b, "pass", trackedTransform{name: "transform", order: order}, graph.OneToOne)
	snk := graph.AddSink[int](b, "sink", trackedSink{name: "sink", order: order})

	require.NoError(t, b.Connect(src.ID(), tr.ID()))
	require.NoError(t, b.Connect(tr.ID(), snk.ID()))

	g, err := b.Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graph.RunGraphDirect(ctx, g, graph.RunOptions{}))

	assert.Equal(t, []string{"sink", "transform", "source"}, order.snapshot())
}
