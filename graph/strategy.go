package graph

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Strategy decides how a node's NodeRunner is driven against its input channel: in strict
// order, across a bounded worker pool, or wrapped with retry/breaker protection.
// The scheduler calls Execute once per node instance with the runner it should drive; Execute
// reads in to completion but does not close out, which the scheduler closes once Execute (and
// any RestartNode re-run) has returned.
type Strategy interface {
	Execute(ctx context.Context, rc *Context, nodeID NodeID, runner NodeRunner, in <-chan any, out chan<- any) error
}

// Ordering controls whether Parallel preserves input order on output.
type Ordering int

const (
	// PreserveOrder reassembles outputs in input order, buffering ahead-of-turn results.
	PreserveOrder Ordering = iota
	// Unordered emits outputs as soon as each worker finishes, in completion order.
	Unordered
)

// OverflowPolicy governs what a Parallel strategy does when its internal work queue is full
//.
type OverflowPolicy int

const (
	// Block waits for queue space (backpressure propagates upstream).
	Block OverflowPolicy = iota
	// DropOldest discards the queue's oldest pending item to make room for the new one.
	DropOldest
	// DropNewest discards the incoming item, keeping the queue's existing contents.
	DropNewest
)

// sequentialStrategy runs the node runner directly against the scheduler-provided channels,
// relying on the runner's own Run loop to process items one at a time. This is the default:
// no pool, no reordering.
type sequentialStrategy struct{}

// Sequential returns the default, order-preserving, non-concurrent execution strategy.
func Sequential() Strategy { return sequentialStrategy{} }

func (sequentialStrategy) Execute(ctx context.Context, rc *Context, nodeID NodeID, runner NodeRunner, in <-chan any, out chan<- any) error {
	return runner.Run(ctx, rc, in, out)
}

// ParallelOptions configures a bounded worker pool over a node's Transform calls.
type ParallelOptions struct {
	MaxDegree int
	Ordering  Ordering
	QueueSize int
	Overflow  OverflowPolicy
}

// parallelStrategy fans a node's input across MaxDegree goroutines, each independently driving
// the same runner, with configurable result ordering and queue overflow handling.
type parallelStrategy struct {
	opts ParallelOptions
}

// Parallel returns a Strategy that processes items from a single node across a bounded worker
// pool. Each worker calls runner.Run independently with a one-item-at-a-time view (obtained by
// handing the worker its own pair of one-slot buffered channels), so NodeRunner implementations need no
// concurrency awareness of their own.
func Parallel(opts ParallelOptions) Strategy {
	if opts.MaxDegree <= 0 {
		opts.MaxDegree = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.MaxDegree
	}
	return parallelStrategy{opts: opts}
}

type sequencedItem struct {
	seq  uint64
	item any
}

func (p parallelStrategy) Execute(ctx context.Context, rc *Context, nodeID NodeID, runner NodeRunner, in <-chan any, out chan<- any) error {
	queue := make(chan sequencedItem, p.opts.QueueSize)
	results := make(chan sequencedItem, p.opts.QueueSize)

	g, gctx := errgroup.WithContext(ctx)

	// feeder reads `in`, applies the overflow policy, and pushes onto queue.
	g.Go(func() error {
		defer close(queue)
		var seq uint64
		for {
			select {
			case <-gctx.Done():
				return nil
			case item, ok := <-in:
				if !ok {
					return nil
				}
				si := sequencedItem{seq: seq, item: item}
				seq++
				if err := p.enqueue(gctx, queue, si); err != nil {
					return err
				}
			}
		}
	})

	// workers each run an independent single-item Run loop against the shared runner.
	var activeMu sync.Mutex
	active := 0
	var wg sync.WaitGroup
	for i := 0; i < p.opts.MaxDegree; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for {
				select {
				case <-gctx.Done():
					return nil
				case si, ok := <-queue:
					if !ok {
						return nil
					}
					activeMu.Lock()
					active++
					rc.Set(DiagParallelMetrics(nodeID), ParallelMetrics{QueueDepth: len(queue), ActiveWorkers: active})
					activeMu.Unlock()
					workerIn := make(chan any, 1)
					workerOut := make(chan any, 1)
					workerIn <- si.item
					close(workerIn)
					runErr := runner.Run(gctx, rc, workerIn, workerOut)
					activeMu.Lock()
					active--
					rc.Set(DiagParallelMetrics(nodeID), ParallelMetrics{QueueDepth: len(queue), ActiveWorkers: active})
					activeMu.Unlock()
					if runErr != nil {
						return runErr
					}
					close(workerOut)
					for v := range workerOut {
						select {
						case results <- sequencedItem{seq: si.seq, item: v}:
						case <-gctx.Done():
							return nil
						}
					}
				}
			}
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	if p.opts.Ordering == Unordered {
		g.Go(func() error {
			for r := range results {
				select {
				case out <- r.item:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	} else {
		g.Go(func() error {
			return p.reorder(gctx, results, out)
		})
	}

	return g.Wait()
}

func (p parallelStrategy) enqueue(ctx context.Context, queue chan sequencedItem, si sequencedItem) error {
	switch p.opts.Overflow {
	case Block:
		select {
		case queue <- si:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case DropNewest:
		select {
		case queue <- si:
			return nil
		default:
			return nil
		}
	case DropOldest:
		for {
			select {
			case queue <- si:
				return nil
			default:
				select {
				case <-queue:
				default:
				}
			}
		}
	default:
		select {
		case queue <- si:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reorder buffers out-of-turn results until the in-order item arrives, preserving input
// sequence on output.
func (p parallelStrategy) reorder(ctx context.Context, results <-chan sequencedItem, out chan<- any) error {
	pending := make(map[uint64]any)
	var next uint64
	for r := range results {
		pending[r.seq] = r.item
		for {
			v, ok := pending[next]
			if !ok {
				break
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return nil
			}
			delete(pending, next)
			next++
		}
	}
	return nil
}

// resilientStrategy wraps an inner Strategy with retry and circuit-breaker protection applied
// to each item's processing independently: a failed item is retried up to retry.MaxAttempts
// times without disturbing items ahead of or behind it in the stream. A node with no input
// channel (a Source, which has no per-item granularity) falls back to wrapping its single
// Produce call as a whole.
type resilientStrategy struct {
	inner   Strategy
	retry   RetryOptions
	breaker *BreakerConfig
}

// Resilient wraps inner with retry according to retry, and, when breaker is non-nil, a circuit
// breaker as well. Both wrap each individual item's execution through the node's runner.
func Resilient(inner Strategy, retry RetryOptions, breaker *BreakerConfig) Strategy {
	return resilientStrategy{inner: inner, retry: retry, breaker: breaker}
}

func (r resilientStrategy) Execute(ctx context.Context, rc *Context, nodeID NodeID, runner NodeRunner, in <-chan any, out chan<- any) error {
	if in == nil {
		call := func(ctx context.Context) error {
			return r.inner.Execute(ctx, rc, nodeID, runner, in, out)
		}
		return r.guard(ctx, rc, nodeID, call)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.runItem(ctx, rc, nodeID, runner, item, out); err != nil {
				return err
			}
		}
	}
}

// runItem drives runner over a single item, retrying and breaker-gating that one item's
// processing rather than the node's whole input stream.
func (r resilientStrategy) runItem(ctx context.Context, rc *Context, nodeID NodeID, runner NodeRunner, item any, out chan<- any) error {
	call := func(ctx context.Context) error {
		itemIn := make(chan any, 1)
		itemOut := make(chan any, 1)
		itemIn <- item
		close(itemIn)
		if err := r.inner.Execute(ctx, rc, nodeID, runner, itemIn, itemOut); err != nil {
			return err
		}
		close(itemOut)
		for v := range itemOut {
			select {
			case out <- v:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	return r.guard(ctx, rc, nodeID, call)
}

// guard applies the breaker (if configured) and retry policy around call.
func (r resilientStrategy) guard(ctx context.Context, rc *Context, nodeID NodeID, call func(context.Context) error) error {
	if r.breaker != nil {
		return runWithBreaker(ctx, rc, nodeID, *r.breaker, func() error {
			return runWithRetry(ctx, rc, nodeID, r.retry, call)
		})
	}
	return runWithRetry(ctx, rc, nodeID, r.retry, call)
}
