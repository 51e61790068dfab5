package governance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvocationTimeout is returned when an invocation exceeds its deadline.
var ErrInvocationTimeout = errors.New("invocation timeout exceeded")

// DefaultInvocationTimeout bounds a single pipeline run when nothing is configured.
const DefaultInvocationTimeout = 10 * time.Second

// TimeoutConfig defines timeout behavior for invocations.
type TimeoutConfig struct {
	// InvocationTimeout is the maximum duration of a complete pipeline run.
	InvocationTimeout time.Duration
}

// DefaultTimeoutConfig returns sensible timeout defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{InvocationTimeout: DefaultInvocationTimeout}
}

// TimeoutManager enforces the invocation deadline.
type TimeoutManager struct {
	config TimeoutConfig
}

// NewTimeoutManager creates a timeout manager with the given configuration.
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	if config.InvocationTimeout <= 0 {
		config.InvocationTimeout = DefaultInvocationTimeout
	}
	return &TimeoutManager{config: config}
}

// Config returns a copy of the current timeout configuration.
func (tm *TimeoutManager) Config() TimeoutConfig {
	return tm.config
}

// WithInvocationTimeout derives a context bounded by the invocation deadline.
// A parent deadline that is already shorter wins.
func (tm *TimeoutManager) WithInvocationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, tm.config.InvocationTimeout)
}

// TimeoutError converts a context failure into ErrInvocationTimeout when the
// deadline was the cause and returns nil otherwise.
func (tm *TimeoutManager) TimeoutError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrInvocationTimeout, tm.config.InvocationTimeout)
	}
	return nil
}
