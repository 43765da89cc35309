package prover

import (
	"errors"
	"fmt"
)

// ExecutionError is returned when the engine fails to produce a result.
type ExecutionError struct {
	Op     Operation
	Reason string
	err    error
}

func (e ExecutionError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Op, e.Reason, e.err)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Reason)
}

func (e ExecutionError) Unwrap() error {
	return e.err
}

// NewExecutionError returns a new ExecutionError.
func NewExecutionError(op Operation, reason string, err error) ExecutionError {
	return ExecutionError{Op: op, Reason: reason, err: err}
}

// NewExecutionErrorf returns a new ExecutionError with a formatted reason.
func NewExecutionErrorf(op Operation, msg string, args ...interface{}) ExecutionError {
	return ExecutionError{Op: op, Reason: fmt.Sprintf(msg, args...)}
}

// IsExecutionError returns whether err is an ExecutionError.
func IsExecutionError(err error) bool {
	var e ExecutionError
	return errors.As(err, &e)
}

// VerificationError is returned when a receipt fails verification.
type VerificationError struct {
	Reason string
}

func (e VerificationError) Error() string {
	return fmt.Sprintf("receipt verification failed: %s", e.Reason)
}

// NewVerificationErrorf returns a new VerificationError.
func NewVerificationErrorf(msg string, args ...interface{}) VerificationError {
	return VerificationError{Reason: fmt.Sprintf(msg, args...)}
}

// IsVerificationError returns whether err is a VerificationError.
func IsVerificationError(err error) bool {
	var e VerificationError
	return errors.As(err, &e)
}
