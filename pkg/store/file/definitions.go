package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store"
)

const definitionsDir = "workflows"

// CreateDefinition saves a new definition and returns its id.
func (s *Store) CreateDefinition(_ context.Context, definition *models.WorkflowDefinition) (string, error) {
	if definition.ID == "" {
		definition.ID = store.NewID()
	}

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	dir := path.Join(s.root, definitionsDir)

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return "", fmt.Errorf("failed to create workflows directory: %w", err)
	}

	filePath := path.Join(dir, definition.ID+".json")
	if _, err := os.Stat(filePath); err == nil {
		return "", fmt.Errorf("definition %s: %w", definition.ID, store.ErrDefinitionExists)
	}

	data, err := json.MarshalIndent(definition, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal definition %s: %w", definition.ID, err)
	}

	err = os.WriteFile(filePath, data, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to write definition %s: %w", definition.ID, err)
	}

	return definition.ID, nil
}

// Definition retrieves a definition by its id.
func (s *Store) Definition(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	filePath := filepath.Clean(path.Join(s.root, definitionsDir, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("definition %s: %w", id, store.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to read definition %s: %w", id, err)
	}

	var definition models.WorkflowDefinition

	err = json.Unmarshal(body, &definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition %s: %w", id, err)
	}

	return &definition, nil
}

// Definitions returns all definitions, newest first.
func (s *Store) Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	root := os.DirFS(path.Join(s.root, definitionsDir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list definition files: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := file[:len(file)-len(".json")]

		definition, err := s.Definition(ctx, id)
		if err != nil {
			return nil, err
		}

		definitions = append(definitions, definition)
	}

	sortByCreatedAtDesc(definitions)

	return definitions, nil
}

// LatestDefinition returns the most recently created definition.
func (s *Store) LatestDefinition(ctx context.Context) (*models.WorkflowDefinition, error) {
	definitions, err := s.Definitions(ctx)
	if err != nil {
		return nil, err
	}

	if len(definitions) == 0 {
		return nil, store.ErrDefinitionNotFound
	}

	return definitions[0], nil
}

func sortByCreatedAtDesc(definitions []*models.WorkflowDefinition) {
	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.After(definitions[j].CreatedAt)
	})
}
