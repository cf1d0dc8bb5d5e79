// Package observability carries the ambient logging and metrics contracts
// shared by the core's components, with pluggable implementations.
package observability

import (
	"context"
	"time"
)

// Logger is the minimal structured logging contract accepted by the core.
// Arguments are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything. It is the default when no logger is injected.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// MetricsRecorder observes operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	// IncCache records a materialization cache lookup outcome ("hit" or "miss").
	IncCache(outcome string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (NopMetrics) IncCache(string)                                      {}
