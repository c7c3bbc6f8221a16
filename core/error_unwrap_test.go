package core

import (
	"errors"
	"testing"
)

// TestHydraError_Unwrap tests the Unwrap method for error unwrapping
func TestHydraError_Unwrap(t *testing.T) {
	t.Run("with wrapped error", func(t *testing.T) {
		originalErr := errors.New("original error")
		wrappedErr := &HydraError{
			Op:      "test_operation",
			Kind:    "validation",
			Message: "configuration error",
			Err:     originalErr,
		}

		unwrapped := wrappedErr.Unwrap()
		if unwrapped != originalErr {
			t.Errorf("Unwrap() = %v, want %v", unwrapped, originalErr)
		}
	})

	t.Run("with nil wrapped error", func(t *testing.T) {
		wrappedErr := &HydraError{
			Op:      "test_operation",
			Kind:    "validation",
			Message: "configuration error",
			Err:     nil,
		}

		unwrapped := wrappedErr.Unwrap()
		if unwrapped != nil {
			t.Errorf("Unwrap() = %v, want nil", unwrapped)
		}
	})

	t.Run("unwrapping chain with errors.Is", func(t *testing.T) {
		originalErr := ErrNodeNotFound
		wrappedErr := &HydraError{
			Op:      "lookup_node",
			Kind:    "not_found",
			Message: "node lookup failed",
			Err:     originalErr,
		}

		if !errors.Is(wrappedErr, originalErr) {
			t.Error("errors.Is() should find original error in wrapped error")
		}
	})

	t.Run("unwrapping chain with errors.As", func(t *testing.T) {
		originalErr := &HydraError{
			Op:      "find_node",
			Kind:    "not_found",
			Message: "node not found",
			Err:     nil,
		}

		wrappedErr := &HydraError{
			Op:      "validate_config",
			Kind:    "validation",
			Message: "configuration error",
			Err:     originalErr,
		}

		var targetErr *HydraError
		if !errors.As(wrappedErr, &targetErr) {
			t.Error("errors.As() should find HydraError in wrapped error")
		}

		if targetErr != wrappedErr {
			t.Error("errors.As() should return the outermost HydraError")
		}
	})

	t.Run("multiple levels of wrapping", func(t *testing.T) {
		baseErr := errors.New("base error")

		level1Err := &HydraError{
			Op:      "connect_node",
			Kind:    "connection",
			Message: "node connection error",
			Err:     baseErr,
		}

		level2Err := &HydraError{
			Op:      "validate_config",
			Kind:    "validation",
			Message: "config error",
			Err:     level1Err,
		}

		unwrapped := level2Err.Unwrap()
		if unwrapped != level1Err {
			t.Errorf("Unwrap() = %v, want %v", unwrapped, level1Err)
		}

		if !errors.Is(level2Err, baseErr) {
			t.Error("errors.Is() should find base error through multiple wrapping levels")
		}

		if !errors.Is(level2Err, level1Err) {
			t.Error("errors.Is() should find intermediate error")
		}
	})

	t.Run("with standard library error", func(t *testing.T) {
		stdErr := errors.New("standard error")
		wrappedErr := &HydraError{
			Op:      "connect",
			Kind:    "connection",
			Message: "connection failed",
			Err:     stdErr,
		}

		unwrapped := wrappedErr.Unwrap()
		if unwrapped != stdErr {
			t.Errorf("Unwrap() = %v, want %v", unwrapped, stdErr)
		}

		if !errors.Is(wrappedErr, stdErr) {
			t.Error("errors.Is() should work with standard library errors")
		}
	})
}
