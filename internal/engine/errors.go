package engine

import (
	"fmt"
	"strings"

	"pfmt/internal/validation"
)

// Conflict codes.
const (
	CodeStepOutOfOrder            = "STEP_OUT_OF_ORDER"
	CodeStepAccessDenied          = "STEP_ACCESS_DENIED"
	CodeStepLimitReached          = "STEP_LIMIT_REACHED"
	CodeStepIncomplete            = "STEP_INCOMPLETE"
	CodeInvalidState              = "INVALID_STATE"
	CodeSessionModified           = "SESSION_MODIFIED"
	CodeInvalidWorkflowTransition = "INVALID_WORKFLOW_TRANSITION"
	CodeInvalidVersionTransition  = "INVALID_VERSION_TRANSITION"
)

// ValidationError carries user-correctable field problems.
type ValidationError struct {
	Errors []validation.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", fe.Field, fe.Message, fe.Code))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasCode reports whether any field error carries code.
func (e *ValidationError) HasCode(code string) bool {
	return validation.HasCode(e.Errors, code)
}

func invalid(errs []validation.FieldError) error {
	return &ValidationError{Errors: errs}
}

func invalidField(field, message, code string) error {
	return &ValidationError{Errors: []validation.FieldError{{Field: field, Message: message, Code: code}}}
}

// ConflictError reports an operation that is not valid in the current
// state. NextAllowed and CurrentStep are set for wizard step conflicts.
type ConflictError struct {
	Code        string
	Message     string
	NextAllowed *int
	CurrentStep *int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func conflict(code, format string, args ...any) *ConflictError {
	return &ConflictError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) withSteps(nextAllowed, current int) *ConflictError {
	if nextAllowed > 0 {
		e.NextAllowed = &nextAllowed
	}
	e.CurrentStep = &current
	return e
}
