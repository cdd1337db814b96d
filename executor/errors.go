package executor

import (
	"fmt"
)

/*
ErrorType represents the type of error that occurred during a mutation
*/
type ErrorType string

const (
	/*
		ErrorTypeConnection represents a connection error
	*/
	ErrorTypeConnection ErrorType = "connection"
	/*
		ErrorTypeTimeout represents an operation-level timeout
	*/
	ErrorTypeTimeout ErrorType = "timeout"
	/*
		ErrorTypeContention represents transient lock contention
	*/
	ErrorTypeContention ErrorType = "contention"
	/*
		ErrorTypePrivilege represents insufficient privileges
	*/
	ErrorTypePrivilege ErrorType = "privilege"
	/*
		ErrorTypeDefinition represents an invalid index definition
	*/
	ErrorTypeDefinition ErrorType = "definition"
	/*
		ErrorTypeVerification represents a post-build verification failure
	*/
	ErrorTypeVerification ErrorType = "verification"
	/*
		ErrorTypeUnknown represents an unknown error
	*/
	ErrorTypeUnknown ErrorType = "unknown"
)

/*
ExecutorError represents an error that occurred while mutating schema
*/
type ExecutorError struct {
	Type        ErrorType
	Message     string
	OriginalErr error
	TenantID    string
	Table       string
	Index       string
}

/*
Error implements the error interface
*/
func (e *ExecutorError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s error: %s - %v", e.Type, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

/*
Unwrap returns the original error
*/
func (e *ExecutorError) Unwrap() error {
	return e.OriginalErr
}

// NewExecutorError creates a new executor error
func NewExecutorError(errType ErrorType, message string, originalErr error) *ExecutorError {
	return &ExecutorError{
		Type:        errType,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// WithTenant adds tenant information to the error
func (e *ExecutorError) WithTenant(tenantID string) *ExecutorError {
	e.TenantID = tenantID
	return e
}

// WithTable adds table information to the error
func (e *ExecutorError) WithTable(table string) *ExecutorError {
	e.Table = table
	return e
}

// WithIndex adds index information to the error
func (e *ExecutorError) WithIndex(index string) *ExecutorError {
	e.Index = index
	return e
}

// IsTransientError checks if the error is worth a single bounded retry.
// Timeouts count: each attempt runs under its own build timeout, so a
// retry after a timed-out attempt is well-defined.
func IsTransientError(err error) bool {
	e, ok := err.(*ExecutorError)
	if !ok {
		return false
	}
	return e.Type == ErrorTypeContention || e.Type == ErrorTypeConnection || e.Type == ErrorTypeTimeout
}

// IsTimeoutError checks if the error is an operation-level timeout
func IsTimeoutError(err error) bool {
	e, ok := err.(*ExecutorError)
	if !ok {
		return false
	}
	return e.Type == ErrorTypeTimeout
}

// IsPermanentError checks if the error must not be retried
func IsPermanentError(err error) bool {
	e, ok := err.(*ExecutorError)
	if !ok {
		return false
	}
	return e.Type == ErrorTypePrivilege || e.Type == ErrorTypeDefinition
}
