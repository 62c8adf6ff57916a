// Package gucc structured error types for better error handling
package gucc

import (
	"fmt"
)

// ErrorType represents categories of errors
type ErrorType int

const (
	// Configuration errors: unsupported rank count or dtype, misaligned
	// element counts, incompatible mode combinations. Always detected
	// before any device memory is touched; never retryable.
	ErrTypeConfig ErrorType = iota
	// Memory errors
	ErrTypeMemory
	// Execution errors
	ErrTypeExecution
)

// GUCCError represents a structured error with context
type GUCCError struct {
	Type    ErrorType
	Op      string // Operation that failed
	Message string // Human-readable message
	Err     error  // Underlying error if any
}

// Error implements the error interface
func (e *GUCCError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("GUCC %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("GUCC %s error in %s: %s",
		e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *GUCCError) Unwrap() error {
	return e.Err
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeConfig:
		return "Configuration"
	case ErrTypeMemory:
		return "Memory"
	case ErrTypeExecution:
		return "Execution"
	default:
		return "Unknown"
	}
}

// Common error constructors

// NewConfigError creates a configuration error
func NewConfigError(op string, message string) error {
	return &GUCCError{
		Type:    ErrTypeConfig,
		Op:      op,
		Message: message,
	}
}

// NewMemoryError creates a memory-related error
func NewMemoryError(op string, message string, err error) error {
	return &GUCCError{
		Type:    ErrTypeMemory,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewExecutionError creates an execution error
func NewExecutionError(op string, message string, err error) error {
	return &GUCCError{
		Type:    ErrTypeExecution,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Common pre-defined errors

var (
	// ErrInvalidSize indicates invalid size parameter
	ErrInvalidSize = NewConfigError("Malloc", "size must be positive")

	// ErrDoubleFree indicates double free attempt
	ErrDoubleFree = NewMemoryError("Free", "double free detected", nil)
)

// IsConfigError checks if an error is a configuration error
func IsConfigError(err error) bool {
	if e, ok := err.(*GUCCError); ok {
		return e.Type == ErrTypeConfig
	}
	return false
}

// IsMemoryError checks if an error is a memory error
func IsMemoryError(err error) bool {
	if e, ok := err.(*GUCCError); ok {
		return e.Type == ErrTypeMemory
	}
	return false
}
