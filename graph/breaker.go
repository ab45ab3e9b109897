package graph

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current position in the Closed/Open/HalfOpen state
// machine.
type BreakerState int

const (
	// BreakerClosed allows calls through and counts failures in a rolling window.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls immediately with a *CircuitBreakerOpenError.
	BreakerOpen
	// BreakerHalfOpen allows a single trial call through to probe recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures one node's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within Window that trips the breaker open.
	FailureThreshold int
	// Window is the rolling duration over which failures are counted.
	Window time.Duration
	// OpenDuration is how long the breaker stays Open before allowing a HalfOpen probe.
	OpenDuration time.Duration
	// HalfOpenSuccesses is how many consecutive HalfOpen successes are required to close again.
	HalfOpenSuccesses int
}

// DefaultBreakerConfig returns a conservative baseline breaker: five failures inside a five
// minute window trips it, it stays open for one minute, and one half-open success closes it
// again.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		Window:            5 * time.Minute,
		OpenDuration:      1 * time.Minute,
		HalfOpenSuccesses: 1,
	}
}

// breaker is one node's circuit breaker instance, scoped to a single run via breakerRegistry.
type breaker struct {
	cfg BreakerConfig

	mu             sync.Mutex
	state          BreakerState
	failures       []time.Time
	openedAt       time.Time
	halfOpenOK     int
	halfOpenInUse  bool
}

func newBreaker(cfg BreakerConfig) *breaker {
	return &breaker{cfg: cfg, state: BreakerClosed}
}

// allow reports whether a call may proceed, transitioning Open -> HalfOpen once OpenDuration
// has elapsed. Only one trial call is let through while HalfOpen; concurrent callers arriving while a trial is in flight are rejected.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(b.openedAt) < b.cfg.OpenDuration {
			return false
		}
		b.state = BreakerHalfOpen
		b.halfOpenInUse = true
		return true
	case BreakerHalfOpen:
		if b.halfOpenInUse {
			return false
		}
		b.halfOpenInUse = true
		return true
	default:
		return true
	}
}

// recordSuccess updates breaker state after a successful call.
func (b *breaker) recordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.halfOpenOK++
		b.halfOpenInUse = false
		if b.halfOpenOK >= max(1, b.cfg.HalfOpenSuccesses) {
			b.state = BreakerClosed
			b.failures = nil
			b.halfOpenOK = 0
		}
	case BreakerClosed:
		b.prune(now)
	}
}

// recordFailure updates breaker state after a failed call, tripping the breaker open once
// FailureThreshold failures fall within Window.
func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = now
		b.halfOpenOK = 0
		b.halfOpenInUse = false
		return
	}

	b.failures = append(b.failures, now)
	b.prune(now)
	if len(b.failures) >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.failures = nil
	}
}

func (b *breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept
}

func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakerRegistry holds one breaker per node for the lifetime of a single run, keyed by NodeID
// since one Context drives many nodes at once.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[NodeID]*breaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[NodeID]*breaker)}
}

func (r *breakerRegistry) get(nodeID NodeID, cfg BreakerConfig) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[nodeID]
	if !ok {
		b = newBreaker(cfg)
		r.breakers[nodeID] = b
	}
	return b
}

// State reports a node's current breaker state, for observers/tests. Returns BreakerClosed if
// the node has no breaker configured (it has never been asked for one).
func (r *breakerRegistry) State(nodeID NodeID) BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[nodeID]; ok {
		return b.currentState()
	}
	return BreakerClosed
}

// runWithBreaker gates fn behind the node's breaker, recording success/failure and translating
// a tripped breaker into *CircuitBreakerOpenError.
func runWithBreaker(ctx context.Context, rc *Context, nodeID NodeID, cfg BreakerConfig, fn func() error) error {
	b := rc.breakers.get(nodeID, cfg)
	before := b.currentState()
	now := time.Now()
	if !b.allow(now) {
		return &CircuitBreakerOpenError{NodeID: nodeID}
	}

	err := fn()
	if err != nil {
		b.recordFailure(time.Now())
	} else {
		b.recordSuccess(time.Now())
	}
	b.mu.Lock()
	failureCount := len(b.failures)
	b.mu.Unlock()
	rc.Set(DiagResilienceFailures(nodeID), failureCount)
	if after := b.currentState(); after != before {
		rc.Observer.OnCircuitTransition(ctx, nodeID, before, after)
	}
	return err
}
