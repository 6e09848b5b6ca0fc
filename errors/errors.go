// Package errors provides standardized error handling for chanbridge
// components. It includes error classification, sentinel errors for the
// bridge's failure taxonomy, and helpers for consistent error wrapping
// across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop the component
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors for the bridge failure taxonomy. Handlers report these to
// callers; none of them may crash the process or another subscription.
var (
	// ErrInvalidAddress indicates a subject build/parse violation. This is a
	// programmer or configuration error and is surfaced immediately, never
	// retried.
	ErrInvalidAddress = errors.New("invalid subject address")

	// ErrMalformedRequest indicates an undecodable inbound payload. The
	// request is dropped and counted as a failure.
	ErrMalformedRequest = errors.New("malformed request payload")

	// ErrUnknownAction indicates an inbound command action with no dispatch
	// table entry.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownCommand indicates a query command with no registered handler.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingCommand indicates a query request without a command field.
	ErrMissingCommand = errors.New("missing 'command' field")

	// ErrInvalidParameters indicates a handler-level argument mismatch
	// (missing, extra, or ill-typed fields).
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrExecutionFailed indicates the downstream origin operation itself
	// raised. Logged with full detail, reported to the caller, process
	// continues.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrDependencyUnavailable indicates the durable store or substrate was
	// not reachable at start-up. Fatal for the affected component.
	ErrDependencyUnavailable = errors.New("required dependency unavailable")
)

// Component lifecycle and infrastructure errors
var (
	ErrAlreadyStarted     = errors.New("component already started")
	ErrAlreadyStopped     = errors.New("component already stopped")
	ErrNotStarted         = errors.New("component not started")
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingConfig      = errors.New("missing required configuration")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrCircuitOpen        = errors.New("circuit breaker open")
)

// Is reports whether any error in err's chain matches target. Re-exported
// so callers need only one errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target. Re-exported so
// callers need only one errors import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable", "retry"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error should stop the affected component
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrDependencyUnavailable) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrMalformedRequest) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrMissingCommand) ||
		errors.Is(err, ErrInvalidParameters)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		// Unknown errors default to transient to allow retry
		return ErrorTransient
	}
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
