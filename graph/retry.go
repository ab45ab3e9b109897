package graph

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffKind selects the delay curve between retry attempts.
type BackoffKind int

const (
	// FixedBackoff uses the same delay for every attempt.
	FixedBackoff BackoffKind = iota
	// LinearBackoff grows the delay linearly with attempt number.
	LinearBackoff
	// ExponentialBackoff doubles (or scales by Factor) the delay each attempt.
	ExponentialBackoff
)

// JitterKind perturbs a computed backoff delay to avoid thundering-herd retries.
type JitterKind int

const (
	// NoJitter returns the delay unperturbed.
	NoJitter JitterKind = iota
	// EqualJitter returns delay/2 + U(0, delay/2).
	EqualJitter
	// DecorrelatedJitter implements the AWS "decorrelated jitter" algorithm:
	// min(cap, U(base, previous*3)).
	DecorrelatedJitter
)

// RetryOptions configures the retry/backoff engine for one node.
type RetryOptions struct {
	MaxAttempts uint32
	Backoff     BackoffKind
	// Base is the initial delay for Fixed/Linear/Exponential curves.
	Base time.Duration
	// Factor scales Linear (per-attempt increment) and Exponential (multiplier) backoff.
	Factor float64
	Jitter JitterKind
	// DelayCap bounds every computed delay before jitter is applied; zero means no cap.
	DelayCap time.Duration
}

// DefaultRetryOptions returns a conservative baseline: three attempts, exponential backoff,
// equal jitter.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff,
		Base:        100 * time.Millisecond,
		Factor:      2.0,
		Jitter:      EqualJitter,
		DelayCap:    5 * time.Second,
	}
}

// retryStrategy computes the delay sequence for one RetryOptions value.
type retryStrategy struct {
	opts RetryOptions
	rng  *rand.Rand
	mu   sync.Mutex
}

func newRetryStrategy(opts RetryOptions) *retryStrategy {
	return &retryStrategy{opts: opts, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// next computes the delay to wait before attempt n+1, given the previous (pre-jitter) delay.
// It returns the new pre-jitter base for the caller to pass back in as prev next time (needed
// for DecorrelatedJitter, which is defined recursively on the previous delay).
func (s *retryStrategy) next(attempt int, prevBase time.Duration) (delay time.Duration, base time.Duration) {
	base = s.curve(attempt, prevBase)
	if s.opts.DelayCap > 0 && base > s.opts.DelayCap {
		base = s.opts.DelayCap
	}
	return s.jitter(base, prevBase), base
}

func (s *retryStrategy) curve(attempt int, prevBase time.Duration) time.Duration {
	switch s.opts.Backoff {
	case FixedBackoff:
		return s.opts.Base
	case LinearBackoff:
		factor := s.opts.Factor
		if factor <= 0 {
			factor = 1
		}
		return s.opts.Base + time.Duration(float64(attempt-1)*factor*float64(s.opts.Base))
	case ExponentialBackoff:
		factor := s.opts.Factor
		if factor <= 0 {
			factor = 2
		}
		return time.Duration(float64(s.opts.Base) * math.Pow(factor, float64(attempt-1)))
	default:
		return s.opts.Base
	}
}

func (s *retryStrategy) jitter(delay, prev time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.opts.Jitter {
	case EqualJitter:
		half := delay / 2
		return half + time.Duration(s.rng.Int63n(int64(half)+1))
	case DecorrelatedJitter:
		if prev <= 0 {
			prev = s.opts.Base
		}
		lo, hi := int64(s.opts.Base), int64(prev)*3
		if hi <= lo {
			return time.Duration(lo)
		}
		d := lo + s.rng.Int63n(hi-lo)
		if s.opts.DelayCap > 0 && time.Duration(d) > s.opts.DelayCap {
			return s.opts.DelayCap
		}
		return time.Duration(d)
	default:
		return delay
	}
}

// strategyCache memoizes retryStrategy values per Context/run so repeated node invocations
// don't reconstruct the same strategy, keyed by the RetryOptions value itself.
type strategyCache struct {
	mu    sync.Mutex
	cache map[RetryOptions]*retryStrategy
}

func newStrategyCache() *strategyCache {
	return &strategyCache{cache: make(map[RetryOptions]*retryStrategy)}
}

func (c *strategyCache) get(opts RetryOptions) *retryStrategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cache[opts]; ok {
		return s
	}
	s := newRetryStrategy(opts)
	c.cache[opts] = s
	return s
}

// runWithRetry invokes fn up to opts.MaxAttempts times, honoring ctx cancellation at every
// suspension point. It returns the first success, or a *RetryExhaustedError
// wrapping the last failure once attempts are exhausted. A context cancellation during the
// call or the backoff wait aborts immediately with a *CancellationError, bypassing the retry
// loop entirely.
func runWithRetry(ctx context.Context, rc *Context, nodeID NodeID, opts RetryOptions, fn func(context.Context) error) error {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 1
	}
	strat := rc.retryCache.get(opts)

	var lastErr error
	var prevBase time.Duration
	for attempt := 1; uint32(attempt) <= opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return &CancellationError{Cause: ctx.Err()}
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &CancellationError{Cause: ctx.Err()}
		}
		lastErr = err

		if uint32(attempt) == opts.MaxAttempts {
			break
		}

		delay, base := strat.next(attempt, prevBase)
		prevBase = base
		rc.Observer.OnRetry(ctx, nodeID, attempt, lastErr)
		rc.Set(DiagRetry(nodeID), RetryMetrics{Attempts: attempt, LastErr: lastErr})
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &CancellationError{Cause: ctx.Err()}
		}
	}

	return &RetryExhaustedError{NodeID: nodeID, Attempts: int(opts.MaxAttempts), LastErr: lastErr}
}
