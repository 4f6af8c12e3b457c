package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for data and configuration integrity.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidSeverity = errors.New("invalid severity")
	ErrMalformedInput  = errors.New("malformed input")
	ErrConfiguration   = errors.New("configuration error")
)

// OracleError wraps a failure from one of the external oracles (taxonomy,
// similarity, code extraction). It is recovered locally: the affected
// sub-attempt is recorded as FAILED and the cascade proceeds.
type OracleError struct {
	Oracle string
	Err    error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("%s oracle: %v", e.Oracle, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// NewOracleError wraps err with the failing oracle's name.
func NewOracleError(oracle string, err error) *OracleError {
	return &OracleError{Oracle: oracle, Err: err}
}

// ValidationError reports an invalid configuration field. Configuration
// errors are fatal at startup.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrConfiguration }

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
