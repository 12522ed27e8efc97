package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store"
)

// CreateInstance inserts a new instance and returns its id.
func (s *Store) CreateInstance(ctx context.Context, instance *models.WorkflowInstance) (string, error) {
	if instance.ID == "" {
		instance.ID = store.NewID()
	}

	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	if instance.Status == "" {
		instance.Status = models.InstanceStatusPending
	}

	query := `
		INSERT INTO workflow_instances (id, definition_id, user_id, status, cursor_position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		instance.ID,
		instance.DefinitionID,
		instance.UserID,
		instance.Status,
		instance.Cursor,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert instance: %w", err)
	}

	return instance.ID, nil
}

// Instance returns an instance with its full event history.
func (s *Store) Instance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `
		SELECT
			id
		  , definition_id
		  , user_id
		  , status
		  , cursor_position
		  , created_at
		  , updated_at
		FROM workflow_instances
		WHERE id = $1
	`

	instance, err := scanInstance(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("instance %s: %w", id, store.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	instance.History, err = s.loadEvents(ctx, id)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

// Instances returns instances matching the filter, newest first.
func (s *Store) Instances(ctx context.Context, filter store.InstanceFilter) ([]*models.WorkflowInstance, error) {
	query := `
		SELECT
			i.id
		  , i.definition_id
		  , i.user_id
		  , i.status
		  , i.cursor_position
		  , i.created_at
		  , i.updated_at
		FROM workflow_instances i
		JOIN workflow_definitions d ON d.id = i.definition_id
		WHERE ($1 = '' OR i.status = $1)
		  AND ($2 = '' OR EXISTS (
				SELECT 1 FROM jsonb_array_elements(d.nodes) AS node
				WHERE node->>'platform' = $2
		  ))
		ORDER BY i.created_at DESC, i.id DESC
	`

	status := ""
	if filter.Status != nil {
		status = string(*filter.Status)
	}

	rows, err := s.db.QueryContext(ctx, query, status, filter.Platform)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error("failed to close rows", "error", closeErr)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	for _, instance := range instances {
		instance.History, err = s.loadEvents(ctx, instance.ID)
		if err != nil {
			return nil, err
		}
	}

	return instances, nil
}

// AppendEvent appends one event inside a transaction that locks the
// instance row, so the terminal-status guard and the history append are
// atomic under concurrent writers.
func (s *Store) AppendEvent(ctx context.Context, instanceID string, event models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status models.InstanceStatus

	err = tx.QueryRowContext(ctx,
		"SELECT status FROM workflow_instances WHERE id = $1 FOR UPDATE", instanceID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("instance %s: %w", instanceID, store.ErrInstanceNotFound)
		}

		return err
	}

	if event.StatusChange != "" && status.IsTerminal() {
		_ = tx.Rollback()

		s.logger.WarnContext(ctx, "Rejected status-changing event on terminal instance",
			"instance_id", instanceID,
			"status", status,
			"attempted_status", event.StatusChange)

		err = store.NewInstanceError("AppendEvent", instanceID, store.ErrTerminalInstance)

		return err
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO instance_events (instance_id, event) VALUES ($1, $2)",
		instanceID, eventJSON)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if event.StatusChange != "" {
		_, err = tx.ExecContext(ctx,
			"UPDATE workflow_instances SET status = $1, updated_at = $2 WHERE id = $3",
			event.StatusChange, time.Now().UTC(), instanceID)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE workflow_instances SET updated_at = $1 WHERE id = $2",
			time.Now().UTC(), instanceID)
	}

	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit event append: %w", err)
	}

	return nil
}

// UpdateCursor atomically updates the instance's cursor field.
func (s *Store) UpdateCursor(ctx context.Context, instanceID string, cursor int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE workflow_instances SET cursor_position = $1, updated_at = $2 WHERE id = $3",
		cursor, time.Now().UTC(), instanceID)
	if err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	updated, err := result.RowsAffected()
	if err == nil && updated == 0 {
		return fmt.Errorf("instance %s: %w", instanceID, store.ErrInstanceNotFound)
	}

	return nil
}

func (s *Store) loadEvents(ctx context.Context, instanceID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT event FROM instance_events WHERE instance_id = $1 ORDER BY id", instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error("failed to close rows", "error", closeErr)
		}
	}()

	events := make([]models.Event, 0)

	for rows.Next() {
		var eventJSON []byte

		err = rows.Scan(&eventJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		var event models.Event

		err = json.Unmarshal(eventJSON, &event)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	err := row.Scan(
		&instance.ID,
		&instance.DefinitionID,
		&instance.UserID,
		&instance.Status,
		&instance.Cursor,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &instance, nil
}
