// Package simulated provides dry-run adapters for the built-in platforms.
// They log what a real integration would do and return canned data, so
// workflows can be exercised end to end without touching any platform.
package simulated

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/protocol"
	"github.com/google/uuid"
)

type Adapter struct {
	platform string
	logger   *slog.Logger
}

func (a *Adapter) Perform(ctx context.Context, actionType string, parameters map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "Simulated action performed",
		"platform", a.platform, "action_type", actionType)

	data := map[string]any{
		"simulated":    true,
		"platform":     a.platform,
		"action_type":  actionType,
		"performed_at": time.Now().UTC().Format(time.RFC3339),
	}

	if actionType == "search" {
		data["profiles"] = []any{
			map[string]any{"id": uuid.New().String(), "name": "Sample Profile 1"},
			map[string]any{"id": uuid.New().String(), "name": "Sample Profile 2"},
		}
	}

	// Echo the rendered message so it shows up in instance history.
	if message, ok := parameters["message"].(string); ok {
		data["message"] = message
	}

	return data, nil
}

type Factory struct {
	platform string
}

func NewFactory(platform string) *Factory {
	return &Factory{platform: platform}
}

func (f *Factory) Create(_ map[string]any, logger *slog.Logger) (protocol.Adapter, error) {
	if f.platform == "" {
		return nil, fmt.Errorf("simulated adapter requires a platform")
	}

	return &Adapter{
		platform: f.platform,
		logger:   logger.With("module", "simulated_adapter"),
	}, nil
}

func (f *Factory) Platform() string {
	return f.platform
}
