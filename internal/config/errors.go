package config

import (
	"errors"
	"fmt"
)

// Sentinel errors - Configuration
var (
	ErrMissingL1RPC  = errors.New("popfleet: chain.l1_rpc is required")
	ErrMissingL2RPC  = errors.New("popfleet: chain.l2_rpc is required")
	ErrMissingBridge = errors.New("popfleet: chain.l1_standard_bridge is required unless deposit.skip is set")
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError with the given field and message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

func wrapValidation(field string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: err.Error(),
		Err:     err,
	}
}
