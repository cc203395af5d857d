package journey

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store lifecycle errors.
var (
	ErrNoStore     = errors.New("journey: no store configured")
	ErrStoreClosed = errors.New("journey: store closed")
)

// FieldViolation describes a single invalid configuration field.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports one or more malformed or missing input fields.
// All violations are collected, not just the first.
type ValidationError struct {
	Violations []FieldViolation
}

// Add appends a violation. It is safe to call on the zero value.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Violations = append(e.Violations, FieldViolation{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// Empty reports whether no violations were collected.
func (e *ValidationError) Empty() bool { return len(e.Violations) == 0 }

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "journey: validation failed"
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return "journey: validation failed: " + strings.Join(parts, "; ")
}

// StructureError reports an invalid workflow graph: no trigger node,
// a dangling successor reference, or too many nodes.
type StructureError struct {
	Problems []string
}

func (e *StructureError) Error() string {
	return "journey: invalid workflow structure: " + strings.Join(e.Problems, "; ")
}

// NotFoundError reports an unknown workflow, execution, node, node type
// or provider.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("journey: %s %q not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// StateError reports an operation that is invalid for the entity's
// current status.
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("journey: %s not allowed in state %q", e.Op, e.State)
}

// ConflictError reports an operation blocked by concurrent activity,
// such as deleting a workflow that still has active executions.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return "journey: conflict: " + e.Msg
}

// LimitExceededError reports that a customer has reached the configured
// cap on concurrent executions.
type LimitExceededError struct {
	CustomerID string
	Limit      int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("journey: customer %q exceeds limit of %d concurrent executions", e.CustomerID, e.Limit)
}

// TimeoutError reports that an execution exceeded its wall-clock budget.
type TimeoutError struct {
	ExecutionID string
	Budget      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("journey: execution %s exceeded timeout of %s", e.ExecutionID, e.Budget)
}

// ProviderError wraps an opaque failure from an external channel
// provider, preserving the original cause.
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("journey: provider %q: %v", e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
