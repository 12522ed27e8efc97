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

// CreateDefinition inserts a new definition and returns its id.
func (s *Store) CreateDefinition(ctx context.Context, definition *models.WorkflowDefinition) (string, error) {
	if definition.ID == "" {
		definition.ID = store.NewID()
	}

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	nodesJSON, err := json.Marshal(definition.Nodes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal nodes: %w", err)
	}

	connectionsJSON, err := json.Marshal(definition.Connections)
	if err != nil {
		return "", fmt.Errorf("failed to marshal connections: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (id, name, owner, nodes, connections, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		definition.ID,
		definition.Name,
		definition.Owner,
		nodesJSON,
		connectionsJSON,
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert definition: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err == nil && inserted == 0 {
		return "", fmt.Errorf("definition %s: %w", definition.ID, store.ErrDefinitionExists)
	}

	return definition.ID, nil
}

// Definition returns a definition by its id.
func (s *Store) Definition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , name
		  , owner
		  , nodes
		  , connections
		  , created_at
		  , updated_at
		FROM workflow_definitions
		WHERE id = $1
	`

	definition, err := scanDefinition(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("definition %s: %w", id, store.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	return definition, nil
}

// LatestDefinition returns the most recently created definition.
func (s *Store) LatestDefinition(ctx context.Context) (*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , name
		  , owner
		  , nodes
		  , connections
		  , created_at
		  , updated_at
		FROM workflow_definitions
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	definition, err := scanDefinition(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	return definition, nil
}

// Definitions returns all definitions, newest first.
func (s *Store) Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , name
		  , owner
		  , nodes
		  , connections
		  , created_at
		  , updated_at
		FROM workflow_definitions
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error("failed to close rows", "error", closeErr)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		definition      models.WorkflowDefinition
		nodesJSON       []byte
		connectionsJSON []byte
	)

	err := row.Scan(
		&definition.ID,
		&definition.Name,
		&definition.Owner,
		&nodesJSON,
		&connectionsJSON,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(nodesJSON, &definition.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	err = json.Unmarshal(connectionsJSON, &definition.Connections)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
	}

	return &definition, nil
}
