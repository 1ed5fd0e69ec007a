// Package lifecycle tracks the process phase reported by /health.
package lifecycle

import "sync/atomic"

// Phase is the coarse process state.
type Phase int32

const (
	// Starting lasts until the seed list has been applied.
	Starting Phase = iota
	Ready
	// ShuttingDown is set when SIGTERM/SIGINT is received.
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetReady marks startup complete. It does not leave ShuttingDown.
func SetReady() {
	phase.CompareAndSwap(int32(Starting), int32(Ready))
}

// SetShuttingDown sets the shutdown flag. Health handler returns 503 with
// status shutting-down from then on.
func SetShuttingDown() {
	phase.Store(int32(ShuttingDown))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown returns true once shutdown has begun.
func IsShuttingDown() bool {
	return Current() == ShuttingDown
}

// Reset returns to Starting. For tests only.
func Reset() {
	phase.Store(int32(Starting))
}
