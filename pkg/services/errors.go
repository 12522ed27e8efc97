// Package services provides the control surface consumed by the API and
// command layers: workflow creation plus the instance lifecycle operations.
package services

import (
	"errors"
	"fmt"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/compiler"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/engine"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/ingest"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store"
)

// Business logic errors. Validation errors map to 400 responses,
// conflicts to 409, not-found to 404.
var (
	ErrInvalidRequest = errors.New("invalid request")

	ErrWorkflowNotFound = store.ErrDefinitionNotFound
	ErrInstanceNotFound = store.ErrInstanceNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ingest.ErrUnknownSkill) ||
		compiler.IsCompileError(err, compiler.ErrorKindInvalidGraph) ||
		compiler.IsCompileError(err, compiler.ErrorKindCyclicGraph)
}

// IsConflictError checks if an error is a lifecycle conflict that should
// return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, engine.ErrInvalidTransition) ||
		errors.Is(err, engine.ErrActiveWorker) ||
		errors.Is(err, engine.ErrNoActiveWorker)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return store.IsDefinitionNotFound(err) || store.IsInstanceNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
