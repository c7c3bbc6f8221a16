package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrTransport is retryable", ErrTransport, true},
		{"ErrTimeout is retryable", ErrTimeout, true},
		{"ErrConnectionFailed is retryable", ErrConnectionFailed, true},
		{"ErrNodeUnreachable is retryable", ErrNodeUnreachable, true},
		{"wrapped retryable error is retryable", fmt.Errorf("operation failed: %w", ErrTimeout), true},
		{"ErrNodeNotFound is not retryable", ErrNodeNotFound, false},
		{"ErrInvalidConfiguration is not retryable", ErrInvalidConfiguration, false},
		{"custom error is not retryable", errors.New("custom error"), false},
		{"nil error is not retryable", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsRetryable(tt.err); result != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrNodeNotFound is not found", ErrNodeNotFound, true},
		{"ErrToolNotFound is not found", ErrToolNotFound, true},
		{"ErrModelNotFound is not found", ErrModelNotFound, true},
		{"wrapped not found error is detected", fmt.Errorf("failed to locate: %w", ErrNodeNotFound), true},
		{"ErrTimeout is not a not-found error", ErrTimeout, false},
		{"ErrInvalidConfiguration is not a not-found error", ErrInvalidConfiguration, false},
		{"custom error is not a not-found error", errors.New("something else"), false},
		{"nil error is not a not-found error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsNotFound(tt.err); result != tt.expected {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsConfigurationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrInvalidConfiguration is configuration error", ErrInvalidConfiguration, true},
		{"ErrMissingConfiguration is configuration error", ErrMissingConfiguration, true},
		{"wrapped configuration error is detected", fmt.Errorf("config validation failed: %w", ErrInvalidConfiguration), true},
		{"ErrNodeNotFound is not configuration error", ErrNodeNotFound, false},
		{"custom error is not configuration error", errors.New("random error"), false},
		{"nil error is not configuration error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsConfigurationError(tt.err); result != tt.expected {
				t.Errorf("IsConfigurationError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsStateError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrAlreadyStarted is state error", ErrAlreadyStarted, true},
		{"ErrNotInitialized is state error", ErrNotInitialized, true},
		{"ErrAlreadyRegistered is state error", ErrAlreadyRegistered, true},
		{"wrapped state error is detected", fmt.Errorf("cannot proceed: %w", ErrNotInitialized), true},
		{"ErrTimeout is not state error", ErrTimeout, false},
		{"ErrNodeNotFound is not state error", ErrNodeNotFound, false},
		{"custom error is not state error", errors.New("some other error"), false},
		{"nil error is not state error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsStateError(tt.err); result != tt.expected {
				t.Errorf("IsStateError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsResourceExhausted(t *testing.T) {
	if !IsResourceExhausted(ErrResourceExhausted) {
		t.Error("ErrResourceExhausted should be resource-exhausted")
	}
	if !IsResourceExhausted(fmt.Errorf("node oom: %w", ErrResourceExhausted)) {
		t.Error("wrapped ErrResourceExhausted should be detected")
	}
	if IsResourceExhausted(ErrTimeout) {
		t.Error("ErrTimeout should not be resource-exhausted")
	}
}

func TestIsOOMError(t *testing.T) {
	cases := []struct {
		text     string
		expected bool
	}{
		{"model runner process was killed", true},
		{"CUDA out of memory", true},
		{"cannot allocate memory", true},
		{"connection refused", false},
	}
	for _, c := range cases {
		if got := IsOOMError(c.text); got != c.expected {
			t.Errorf("IsOOMError(%q) = %v, want %v", c.text, got, c.expected)
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	baseErr := ErrNodeNotFound
	wrappedOnce := fmt.Errorf("failed to find node 'test': %w", baseErr)
	wrappedTwice := fmt.Errorf("operation failed: %w", wrappedOnce)

	if !IsNotFound(baseErr) {
		t.Error("Base error should be detected as not-found")
	}
	if !IsNotFound(wrappedOnce) {
		t.Error("Once-wrapped error should be detected as not-found")
	}
	if !IsNotFound(wrappedTwice) {
		t.Error("Twice-wrapped error should be detected as not-found")
	}
	if !errors.Is(wrappedTwice, ErrNodeNotFound) {
		t.Error("errors.Is should work through multiple wrapping layers")
	}
}

func TestErrorCombinations(t *testing.T) {
	if !IsRetryable(ErrNodeUnreachable) {
		t.Error("ErrNodeUnreachable should be retryable")
	}
	if IsConfigurationError(ErrTimeout) {
		t.Error("ErrTimeout should not be a configuration error")
	}
	if IsStateError(ErrInvalidConfiguration) {
		t.Error("ErrInvalidConfiguration should not be a state error")
	}
}

func TestHydraErrorFormatting(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	err := NewHydraError("router.Select", "transport", base).WithID("node-1")

	if err.Unwrap() != base {
		t.Error("Unwrap should return the wrapped error")
	}
	if !errors.Is(err, base) {
		t.Error("errors.Is should see through HydraError")
	}
	msg := err.Error()
	if msg == "" {
		t.Error("Error() should not be empty")
	}
}

func BenchmarkIsRetryable(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", ErrTimeout)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsRetryable(err)
	}
}

func BenchmarkIsNotFound(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", ErrNodeNotFound)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsNotFound(err)
	}
}

func BenchmarkIsConfigurationError(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", ErrInvalidConfiguration)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsConfigurationError(err)
	}
}

func BenchmarkIsStateError(b *testing.B) {
	err := fmt.Errorf("wrapped: %w", ErrNotInitialized)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsStateError(err)
	}
}
