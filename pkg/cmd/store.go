// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store/file"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store/postgresql"
)

// NewStore creates a workflow store from a database URL. PostgreSQL URLs
// get the SQL store; anything else is treated as a file root.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) store.Store {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		pgStore, err := postgresql.NewStore(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL store: %w", err))
		}

		return pgStore
	}

	return file.NewStore(databaseURL, logger)
}
