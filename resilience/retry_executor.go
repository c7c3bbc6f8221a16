package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hydra-run/hydra/core"
)

// RetryExecutor wraps Retry with structured logging, the way
// CircuitBreaker wraps its state machine: every attempt, backoff, and
// exhaustion is logged against the operation name passed to Execute.
type RetryExecutor struct {
	config           *RetryConfig
	logger           core.Logger
	telemetryEnabled bool
}

// NewRetryExecutor builds a RetryExecutor. A nil config falls back to
// DefaultRetryConfig.
func NewRetryExecutor(config *RetryConfig) *RetryExecutor {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryExecutor{
		config: config,
		logger: &core.NoOpLogger{},
	}
}

// SetLogger tags the logger with "framework/resilience" when it is
// component-aware, mirroring CircuitBreaker.SetLogger.
func (e *RetryExecutor) SetLogger(logger core.Logger) {
	if logger == nil {
		e.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		e.logger = cal.WithComponent("framework/resilience")
	} else {
		e.logger = logger
	}
}

// Execute runs fn under the executor's retry policy, logging the start
// of the attempt sequence, each backoff, and final exhaustion.
func (e *RetryExecutor) Execute(ctx context.Context, operation string, fn func() error) error {
	config := e.config
	if config == nil {
		config = DefaultRetryConfig()
	}

	e.logger.Info("Starting retry operation", map[string]interface{}{
		"operation":       "retry_start",
		"retry_operation": operation,
		"max_attempts":    config.MaxAttempts,
		"initial_delay":   config.InitialDelay.String(),
		"backoff_factor":  config.BackoffFactor,
	})

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			if attempt > 1 {
				e.logger.Info("retry operation succeeded", map[string]interface{}{
					"operation":       "retry_success",
					"retry_operation": operation,
					"attempt":         attempt,
				})
			}
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		e.logger.Debug("backing off before next retry attempt", map[string]interface{}{
			"operation":       "retry_backoff",
			"retry_operation": operation,
			"attempt":         attempt,
			"delay":           delay.String(),
			"error":           lastErr.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	e.logger.Error("retry attempts exhausted", map[string]interface{}{
		"operation":       "retry_exhausted",
		"retry_operation": operation,
		"max_attempts":    config.MaxAttempts,
		"error":           lastErr.Error(),
	})

	return fmt.Errorf("max retry attempts (%d) exceeded for operation %q: %w", config.MaxAttempts, operation, core.ErrMaxRetriesExceeded)
}
