// Package file provides file-based persistence for workflow definitions
// and instances. One JSON document per record.
package file

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Store implements the store.Store interface using the file system.
type Store struct {
	root   string
	logger *slog.Logger

	// Serializes read-modify-write cycles on instance documents so
	// AppendEvent and UpdateCursor stay atomic.
	mu sync.Mutex
}

// NewStore creates a file-backed store rooted at the given directory.
func NewStore(root string, logger *slog.Logger) *Store {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Store{
		root:   cleanRoot,
		logger: logger.With("module", "file_store"),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there
// is nothing to clean up.
func (s *Store) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}
