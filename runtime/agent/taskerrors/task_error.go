// Package taskerrors provides structured error types for task execution
// failures. TaskError preserves message and causal context while supporting
// errors.Is/As, and carries a Kind so the recovery coordinator and
// supervisor can branch on failure category without parsing messages.
package taskerrors

import (
	"errors"
	"fmt"
)

// Kind categorizes a task failure for recovery and supervisor decisions.
type Kind string

const (
	// KindRuntime indicates the Agent Runner reported an error. Recoverable
	// via the Recovery Coordinator.
	KindRuntime Kind = "task_runtime_failure"
	// KindTransitive indicates the task failed only because an upstream
	// dependency failed. Never directly recoverable; reset to pending when
	// the root cause is repaired.
	KindTransitive Kind = "transitive_failure"
	// KindPlanning indicates the planner returned an invalid DAG or no
	// replacement plan.
	KindPlanning Kind = "planning_failure"
	// KindDepthLimit indicates a sub-action was attempted at the maximum
	// recursion depth. A TaskRuntimeFailure with a specific message;
	// eligible for recovery with an alternative agent type.
	KindDepthLimit Kind = "depth_limit_failure"
	// KindStore indicates a Store operation failed. Store calls are made
	// once, without an in-process retry.
	KindStore Kind = "store_failure"
)

// DependencyFailedMessage is the sentinel error message the DAG Scheduler
// assigns to a task that failed only because one of its dependencies
// failed. The Recovery Coordinator treats this message specially: it is
// never a root cause and is reset to pending once its root cause is fixed.
const DependencyFailedMessage = "Dependency failed"

// TaskError represents a structured task failure that preserves message and
// causal context while still implementing the standard error interface.
// Errors may be nested via Cause to retain diagnostics across recovery
// attempts and sub-action hops.
type TaskError struct {
	// Kind categorizes the failure for recovery/supervisor branching.
	Kind Kind
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying error, enabling error chains with errors.Is/As.
	Cause *TaskError
}

// New constructs a TaskError of the given kind with the provided message.
func New(kind Kind, message string) *TaskError {
	if message == "" {
		message = "task error"
	}
	return &TaskError{Kind: kind, Message: message}
}

// NewWithCause constructs a TaskError that wraps an underlying error. The
// cause is converted into a TaskError chain so error metadata survives
// serialization while still supporting errors.Is/As through Unwrap.
func NewWithCause(kind Kind, message string, cause error) *TaskError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &TaskError{
		Kind:    kind,
		Message: message,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into a TaskError chain, defaulting
// to KindRuntime when the error carries no structured kind of its own.
func FromError(err error) *TaskError {
	if err == nil {
		return nil
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return &TaskError{
		Kind:    KindRuntime,
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Errorf formats according to a format specifier and returns a KindRuntime TaskError.
func Errorf(format string, args ...any) *TaskError {
	return New(KindRuntime, fmt.Sprintf(format, args...))
}

// DepthLimitError builds the TaskRuntimeFailure a Sub-Action task fails with
// when invoked at the maximum recursion depth.
func DepthLimitError(depth, max int) *TaskError {
	return New(KindDepthLimit, fmt.Sprintf("sub-action depth limit (%d) reached; parent action depth=%d", max, depth))
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying error to support errors.Is/As.
func (e *TaskError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
