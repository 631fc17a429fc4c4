package toolexecutor

import (
	"fmt"
	"time"
)

// Mode selects how a batch of tool calls is dispatched.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// DefaultToolTimeout bounds a single tool invocation when the policy sets none.
const DefaultToolTimeout = 30 * time.Second

// Policy governs dispatch of one batch of tool calls.
type Policy struct {
	Mode           Mode
	MaxConcurrency int
	Timeout        time.Duration
}

// SequentialPolicy runs calls one at a time in request order.
func SequentialPolicy() Policy {
	return Policy{Mode: ModeSequential, MaxConcurrency: 1}
}

// ParallelPolicy runs up to maxConcurrency calls at once.
func ParallelPolicy(maxConcurrency int) Policy {
	return Policy{Mode: ModeParallel, MaxConcurrency: maxConcurrency}
}

// Validate rejects unknown modes and non-positive concurrency.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeSequential, ModeParallel:
	default:
		return fmt.Errorf("unknown execution mode %q", p.Mode)
	}
	if p.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be >= 1, got %d", p.MaxConcurrency)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	return nil
}

// parallelFor reports whether a batch of n requests should run concurrently.
func (p Policy) parallelFor(n int) bool {
	return p.Mode == ModeParallel && n > 1 && p.MaxConcurrency > 1
}

func (p Policy) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultToolTimeout
}
