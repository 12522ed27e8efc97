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

const instancesDir = "instances"

// CreateInstance saves a new instance and returns its id.
func (s *Store) CreateInstance(_ context.Context, instance *models.WorkflowInstance) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	if instance.History == nil {
		instance.History = make([]models.Event, 0)
	}

	err := s.writeInstance(instance)
	if err != nil {
		return "", err
	}

	return instance.ID, nil
}

// Instance retrieves an instance by its id.
func (s *Store) Instance(_ context.Context, id string) (*models.WorkflowInstance, error) {
	return s.readInstance(id)
}

// Instances returns instances matching the filter, newest first. The
// platform filter resolves each instance's definition.
func (s *Store) Instances(ctx context.Context, filter store.InstanceFilter) ([]*models.WorkflowInstance, error) {
	root := os.DirFS(path.Join(s.root, instancesDir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list instance files: %w", err)
	}

	instances := make([]*models.WorkflowInstance, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := file[:len(file)-len(".json")]

		instance, err := s.readInstance(id)
		if err != nil {
			return nil, err
		}

		if filter.Status != nil && instance.Status != *filter.Status {
			continue
		}

		if filter.Platform != "" {
			matches, err := s.definitionUsesPlatform(ctx, instance.DefinitionID, filter.Platform)
			if err != nil {
				return nil, err
			}

			if !matches {
				continue
			}
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.After(instances[j].CreatedAt)
	})

	return instances, nil
}

// AppendEvent atomically appends one event to the instance history. A
// status-changing event against a terminal instance is rejected and
// logged; events without a status change still append.
func (s *Store) AppendEvent(ctx context.Context, instanceID string, event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, err := s.readInstance(instanceID)
	if err != nil {
		return err
	}

	if event.StatusChange != "" && instance.Status.IsTerminal() {
		s.logger.WarnContext(ctx, "Rejected status-changing event on terminal instance",
			"instance_id", instanceID,
			"status", instance.Status,
			"attempted_status", event.StatusChange)

		return store.NewInstanceError("AppendEvent", instanceID, store.ErrTerminalInstance)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	instance.History = append(instance.History, event)

	if event.StatusChange != "" {
		instance.Status = event.StatusChange
	}

	instance.UpdatedAt = time.Now().UTC()

	return s.writeInstance(instance)
}

// UpdateCursor atomically updates the instance's cursor field.
func (s *Store) UpdateCursor(_ context.Context, instanceID string, cursor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, err := s.readInstance(instanceID)
	if err != nil {
		return err
	}

	instance.Cursor = cursor
	instance.UpdatedAt = time.Now().UTC()

	return s.writeInstance(instance)
}

func (s *Store) definitionUsesPlatform(ctx context.Context, definitionID, platform string) (bool, error) {
	definition, err := s.Definition(ctx, definitionID)
	if err != nil {
		if store.IsDefinitionNotFound(err) {
			return false, nil
		}

		return false, err
	}

	for _, candidate := range definition.Platforms() {
		if candidate == platform {
			return true, nil
		}
	}

	return false, nil
}

func (s *Store) readInstance(id string) (*models.WorkflowInstance, error) {
	filePath := filepath.Clean(path.Join(s.root, instancesDir, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("instance %s: %w", id, store.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to read instance %s: %w", id, err)
	}

	var instance models.WorkflowInstance

	err = json.Unmarshal(body, &instance)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", id, err)
	}

	return &instance, nil
}

func (s *Store) writeInstance(instance *models.WorkflowInstance) error {
	dir := path.Join(s.root, instancesDir)

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create instances directory: %w", err)
	}

	data, err := json.MarshalIndent(instance, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", instance.ID, err)
	}

	return os.WriteFile(path.Join(dir, instance.ID+".json"), data, 0600)
}
