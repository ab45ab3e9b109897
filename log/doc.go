// Package log provides a simple, leveled logging interface for flowline applications.
//
// This package implements a lightweight logging system with support for different log levels
// and customizable output destinations. It's consumed opaquely by the graph package's
// Context (the core never depends on a concrete logging backend).
//
// # Log Levels
//
// The package supports five log levels, in order of increasing severity:
//
//   - LogLevelDebug: detailed debugging information for development
//   - LogLevelInfo: general informational messages about normal operation
//   - LogLevelWarn: warning messages for potentially problematic situations
//   - LogLevelError: error messages for failures that need attention
//   - LogLevelNone: disables all logging output
//
// # Example Usage
//
//	logger := log.NewDefaultLogger(log.LogLevelInfo)
//	logger.Info("run %s started", runID)
//	logger.Debug("node %s emitted %d items", nodeID, count)
//	logger.Warn("circuit breaker for %s half-open", nodeID)
//	logger.Error("node %s failed: %v", nodeID, err)
//
// # golog Integration
//
// For users who prefer github.com/kataras/golog, a minimal wrapper is provided:
//
//	glogger := golog.New()
//	logger := log.NewGologLogger(glogger)
//	logger.Info("run started")
//	logger.SetLevel(log.LogLevelDebug)
//
// # Custom Loggers
//
// Any type implementing Debug/Info/Warn/Error with this signature satisfies Logger and can be
// passed to a graph.Context.
package log
