package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/compiler"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/engine"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/ingest"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store"
	"github.com/go-playground/validator/v10"
)

// Outreach is the control surface over definitions and instances. All
// state lives in the store; the engine owns only active workers.
type Outreach struct {
	store    store.Store
	engine   *engine.Engine
	validate *validator.Validate
	logger   *slog.Logger
}

// NewOutreach creates a new outreach service.
func NewOutreach(workflowStore store.Store, eng *engine.Engine, logger *slog.Logger) *Outreach {
	return &Outreach{
		store:    workflowStore,
		engine:   eng,
		validate: validator.New(),
		logger:   logger.With("module", "outreach_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Outreach) HealthCheck(ctx context.Context) (string, bool) {
	if s.store == nil {
		return "Persistence layer not initialized", false
	}

	err := s.store.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateWorkflow ingests an editor payload, validates the graph end to
// end and persists the definition. A definition that does not compile is
// never stored, so no partial instance can ever reference it.
func (s *Outreach) CreateWorkflow(ctx context.Context, owner string, body []byte) (string, error) {
	definition, err := ingest.Parse(body)
	if err != nil {
		return "", NewValidationError("CreateWorkflow", "INVALID_PAYLOAD", err.Error(), errUnwrapOrInvalid(err))
	}

	definition.Owner = owner

	err = s.validate.Struct(definition)
	if err != nil {
		return "", NewValidationError("CreateWorkflow", "INVALID_DEFINITION", err.Error(), ErrInvalidRequest)
	}

	_, err = compiler.Compile(definition.ID, definition.Nodes, definition.Connections)
	if err != nil {
		return "", err
	}

	id, err := s.store.CreateDefinition(ctx, definition)
	if err != nil {
		return "", fmt.Errorf("failed to create workflow: %w", err)
	}

	s.logger.InfoContext(ctx, "Workflow created",
		"definition_id", id, "owner", owner, "nodes", len(definition.Nodes))

	return id, nil
}

// Run creates a fresh instance for a definition and starts it.
func (s *Outreach) Run(ctx context.Context, definitionID, userID string) (string, error) {
	definition, err := s.store.Definition(ctx, definitionID)
	if err != nil {
		return "", err
	}

	instanceID, err := s.store.CreateInstance(ctx, &models.WorkflowInstance{
		DefinitionID: definition.ID,
		UserID:       userID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create instance: %w", err)
	}

	err = s.engine.Start(ctx, instanceID)
	if err != nil {
		return "", err
	}

	return instanceID, nil
}

// Pause asks a running instance to stop after its in-flight step.
func (s *Outreach) Pause(ctx context.Context, instanceID string) error {
	return s.engine.Pause(ctx, instanceID)
}

// Resume continues a paused instance from its persisted cursor.
func (s *Outreach) Resume(ctx context.Context, instanceID string) error {
	return s.engine.Resume(ctx, instanceID)
}

// Cancel aborts a non-terminal instance.
func (s *Outreach) Cancel(ctx context.Context, instanceID string) error {
	return s.engine.Cancel(ctx, instanceID)
}

// InstanceStatus is the fully-written snapshot returned by Status. Reads
// go through the store, so cursor and history are never torn.
type InstanceStatus struct {
	InstanceID   string                `json:"instance_id"`
	DefinitionID string                `json:"definition_id"`
	Status       models.InstanceStatus `json:"status"`
	Cursor       int                   `json:"cursor"`
	History      []models.Event        `json:"history"`
}

// Status returns the current snapshot of one instance.
func (s *Outreach) Status(ctx context.Context, instanceID string) (*InstanceStatus, error) {
	instance, err := s.store.Instance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return &InstanceStatus{
		InstanceID:   instance.ID,
		DefinitionID: instance.DefinitionID,
		Status:       instance.Status,
		Cursor:       instance.Cursor,
		History:      instance.History,
	}, nil
}

// InstanceSummary is the persisted record shape exposed by List.
type InstanceSummary struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	DefinitionID string                `json:"definition_id"`
	Platforms    []string              `json:"platforms"`
	NodeCount    int                   `json:"node_count"`
	Status       models.InstanceStatus `json:"status"`
	Cursor       int                   `json:"cursor"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Status   *models.InstanceStatus
	Platform string
}

// List returns instance summaries matching the filter, newest first.
func (s *Outreach) List(ctx context.Context, filter ListFilter) ([]*InstanceSummary, error) {
	instances, err := s.store.Instances(ctx, store.InstanceFilter{
		Status:   filter.Status,
		Platform: filter.Platform,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	summaries := make([]*InstanceSummary, 0, len(instances))

	for _, instance := range instances {
		summary := &InstanceSummary{
			ID:           instance.ID,
			DefinitionID: instance.DefinitionID,
			Status:       instance.Status,
			Cursor:       instance.Cursor,
			CreatedAt:    instance.CreatedAt,
			UpdatedAt:    instance.UpdatedAt,
		}

		definition, err := s.store.Definition(ctx, instance.DefinitionID)
		if err == nil {
			summary.Name = definition.Name
			summary.Platforms = definition.Platforms()
			summary.NodeCount = len(definition.Nodes)
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// Workflows returns all stored definitions, newest first.
func (s *Outreach) Workflows(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return s.store.Definitions(ctx)
}

// Workflow returns one stored definition.
func (s *Outreach) Workflow(ctx context.Context, definitionID string) (*models.WorkflowDefinition, error) {
	return s.store.Definition(ctx, definitionID)
}

// errUnwrapOrInvalid preserves typed ingest errors so callers can match
// them, while mapping anything else to the generic validation sentinel.
func errUnwrapOrInvalid(err error) error {
	if IsValidationError(err) {
		return err
	}

	return ErrInvalidRequest
}
