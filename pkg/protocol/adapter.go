// Package protocol defines the contract between the orchestration core and
// platform-specific adapters. Adapters live outside the core; the engine
// only ever sees this interface and the uniform result envelope.
package protocol

import (
	"context"
	"log/slog"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
)

// Adapter performs one platform's actions. Implementations must honor
// context cancellation; the dispatcher enforces a hard timeout around
// every call regardless.
type Adapter interface {
	Perform(ctx context.Context, actionType string, parameters map[string]any) (map[string]any, error)
}

// AdapterFactory creates adapters for one platform.
type AdapterFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Adapter, error)
	Platform() string
}

// AdapterError carries a failure classification from an adapter. Errors
// without a classification are treated as retryable transport failures.
type AdapterError struct {
	Kind    models.ErrorKind
	Message string
}

func (e *AdapterError) Error() string {
	return e.Message
}

// NewFatalError marks a failure that retrying cannot fix, such as an
// authentication failure or a target that does not exist.
func NewFatalError(message string) *AdapterError {
	return &AdapterError{Kind: models.ErrorKindFatal, Message: message}
}

// NewRetryableError marks a transient failure worth retrying.
func NewRetryableError(message string) *AdapterError {
	return &AdapterError{Kind: models.ErrorKindRetryable, Message: message}
}
