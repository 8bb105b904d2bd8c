package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Base error definitions for the orchestration core.
var (
	// ErrWorkerNotFound is returned when dispatch or routing references
	// an unregistered worker name. It is fatal for the task and never
	// retried.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrWorkerExists is returned when registering a duplicate name.
	ErrWorkerExists = errors.New("worker already registered")

	// ErrTaskTimeout marks a task that exceeded its deadline.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrEmptyBatch is returned for an empty task list passed to a
	// batch entry point. This is the only task-shaped condition that
	// surfaces to the immediate caller as an error.
	ErrEmptyBatch = errors.New("task list cannot be empty")

	// ErrAggregationInput marks malformed input to the aggregator.
	ErrAggregationInput = errors.New("malformed aggregation input")

	// ErrNoController is returned when a single-task entry point is
	// invoked without a configured controlling agent.
	ErrNoController = errors.New("no controller configured")
)

// ErrorClass represents the category of a failure for retry decisions.
type ErrorClass int

const (
	// ErrorClassTransient errors are temporary and may be retried
	// (network failures, timeouts, momentary unavailability).
	ErrorClassTransient ErrorClass = iota

	// ErrorClassPermanent errors are non-retryable (unknown worker,
	// validation failures, malformed input).
	ErrorClassPermanent
)

// String returns the string representation of ErrorClass.
func (e ErrorClass) String() string {
	switch e {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps a failure with its class and retry guidance.
type ClassifiedError struct {
	Original   error
	Class      ErrorClass
	RetryAfter time.Duration
}

// Error returns a formatted error message.
func (c *ClassifiedError) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: class=%s", c.Class)
	}
	return fmt.Sprintf("%s: %v", c.Class, c.Original)
}

// Unwrap returns the original error for errors.Is/As.
func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// IsTransient returns true if the error may be retried.
func (c *ClassifiedError) IsTransient() bool {
	return c.Class == ErrorClassTransient
}

// ClassifyError analyzes a task failure and determines its class.
// Unknown errors default to permanent so that retry loops fail safe.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	// Worker-not-found is always fatal for the task.
	if errors.Is(err, ErrWorkerNotFound) {
		return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
	}

	// Deadline and timeout failures are transient.
	if errors.Is(err, ErrTaskTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{
			Class:      ErrorClassTransient,
			Original:   err,
			RetryAfter: 3 * time.Second,
		}
	}

	if isNetworkError(err) {
		return &ClassifiedError{
			Class:      ErrorClassTransient,
			Original:   err,
			RetryAfter: 2 * time.Second,
		}
	}

	errMsg := strings.ToLower(err.Error())

	if containsAny(errMsg, "timeout", "deadline exceeded", "i/o timeout", "operation timed out") {
		return &ClassifiedError{
			Class:      ErrorClassTransient,
			Original:   err,
			RetryAfter: 3 * time.Second,
		}
	}

	if containsAny(errMsg, "unavailable", "temporarily", "too many requests", "rate limit") {
		return &ClassifiedError{
			Class:      ErrorClassTransient,
			Original:   err,
			RetryAfter: 2 * time.Second,
		}
	}

	if containsAny(errMsg, "invalid", "not found", "unauthorized", "forbidden", "required") {
		return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
	}

	return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
}

// isNetworkError checks if an error is network-related (transient).
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	return containsAny(errMsg,
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"no such host",
		"dial tcp",
		"connection lost",
	)
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
