package cmd

import (
	"context"
	"log/slog"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/adapters/simulated"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/registry"
)

func registerNativeAdapters(reg *registry.Registry) {
	reg.RegisterAdapter(simulated.NewFactory("discovery"))
	reg.RegisterAdapter(simulated.NewFactory("linkedin"))
	reg.RegisterAdapter(simulated.NewFactory("twitter"))
	reg.RegisterAdapter(simulated.NewFactory("email"))
}

// NewRegistry creates an adapter registry with the native simulated
// adapters registered, then loads adapter plugins from the plugins path.
// Plugins registered for a built-in platform replace the simulated one.
func NewRegistry(ctx context.Context, logger *slog.Logger, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registerNativeAdapters(reg)

	if pluginsPath != "" {
		err := reg.LoadAdapterPlugins(pluginsPath)
		if err != nil {
			logger.WarnContext(ctx, "Failed to load adapter plugins",
				"plugins_path", pluginsPath, "error", err)
		}
	}

	return reg
}
