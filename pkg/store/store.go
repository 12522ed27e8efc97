// Package store provides the persistence abstraction for workflow
// definitions, instances and their append-only event history.
package store

import (
	"context"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/google/uuid"
)

// InstanceFilter narrows ListInstances. Zero values match everything.
type InstanceFilter struct {
	Status   *models.InstanceStatus
	Platform string
}

// Store is the single owner of persisted workflow data. The engine holds
// only a transient cursor during an active run and writes it back after
// every step, so a crash mid-run loses at most one step.
//
// AppendEvent is atomic. Once an instance reaches a terminal status, a
// further status-changing append is rejected with ErrTerminalInstance and
// logged; events without a status change (such as the late result of an
// in-flight call on a cancelled instance) still append.
type Store interface {
	CreateDefinition(ctx context.Context, definition *models.WorkflowDefinition) (string, error)
	Definition(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	LatestDefinition(ctx context.Context) (*models.WorkflowDefinition, error)
	Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error)

	CreateInstance(ctx context.Context, instance *models.WorkflowInstance) (string, error)
	Instance(ctx context.Context, id string) (*models.WorkflowInstance, error)
	Instances(ctx context.Context, filter InstanceFilter) ([]*models.WorkflowInstance, error)
	AppendEvent(ctx context.Context, instanceID string, event models.Event) error
	UpdateCursor(ctx context.Context, instanceID string, cursor int) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewID returns an opaque, collision-resistant, time-sortable token.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}
