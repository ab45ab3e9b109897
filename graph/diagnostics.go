package graph

import "fmt"

// Diagnostic configuration keys are stable strings under which runtime collaborators publish
// values through Context.Get/Set, so operators and tests can read them back without importing
// the producing package's internal types.

// DiagParallelMetrics is the key under which a Parallel strategy publishes its last observed
// queue/worker utilization snapshot for nodeID.
func DiagParallelMetrics(nodeID NodeID) string {
	return fmt.Sprintf("parallel.metrics::%s", nodeID)
}

// DiagRetry is the key under which runWithRetry publishes the attempt count of the most recent
// retry sequence for nodeID.
func DiagRetry(nodeID NodeID) string {
	return fmt.Sprintf("retry::%s", nodeID)
}

// DiagResilienceFailures is the key under which a node's circuit breaker publishes its rolling
// failure count for nodeID.
func DiagResilienceFailures(nodeID NodeID) string {
	return fmt.Sprintf("diag.resilience.%s.failures", nodeID)
}

// DiagLateDrops is the key under which an Aggregate node publishes the running count of items
// dropped for arriving later than the watermark allows for nodeID.
func DiagLateDrops(nodeID NodeID) string {
	return fmt.Sprintf("diag.window.%s.late_drops", nodeID)
}

// ParallelMetrics is the value type published under DiagParallelMetrics.
type ParallelMetrics struct {
	QueueDepth   int
	ActiveWorkers int
}

// RetryMetrics is the value type published under DiagRetry.
type RetryMetrics struct {
	Attempts int
	LastErr  error
}
