// Package registry holds the capability-keyed table of platform adapters.
package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sync"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/protocol"
)

type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[string]protocol.AdapterFactory
	adapters  map[string]protocol.Adapter
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]protocol.AdapterFactory),
		adapters:  make(map[string]protocol.Adapter),
	}
}

// RegisterAdapter registers a factory under its platform key.
func (r *Registry) RegisterAdapter(factory protocol.AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.Platform()] = factory
}

// AdapterFor returns the adapter for a platform, creating and caching it
// on first use.
func (r *Registry) AdapterFor(platform string, config map[string]any) (protocol.Adapter, error) {
	r.mu.RLock()
	adapter, cached := r.adapters[platform]
	r.mu.RUnlock()

	if cached {
		return adapter, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, cached = r.adapters[platform]; cached {
		return adapter, nil
	}

	factory, ok := r.factories[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", platform)
	}

	adapter, err := factory.Create(config, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter for platform %q: %w", platform, err)
	}

	r.adapters[platform] = adapter

	return adapter, nil
}

// Platforms returns the registered platform keys.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	platforms := make([]string, 0, len(r.factories))
	for platform := range r.factories {
		platforms = append(platforms, platform)
	}

	return platforms
}

// HasPlatform reports whether an adapter factory exists for the platform.
func (r *Registry) HasPlatform(platform string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[platform]

	return ok
}

// HealthCheck reports whether the registry is usable.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.factories) == 0 {
		return "No adapters registered", false
	}

	return fmt.Sprintf("%d adapter(s) registered", len(r.factories)), true
}

// LoadAdapterPlugins loads AdapterFactory symbols named "Adapter" from .so
// files under pluginsPath/adapters.
func (r *Registry) LoadAdapterPlugins(pluginsPath string) error {
	rootPath := pluginsPath + "/adapters"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return err
	}

	logger := r.logger.With(slog.String("path", rootPath))
	logger.Info("Loading adapter plugins")

	for _, pluginPath := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + pluginPath)
		if err != nil {
			return fmt.Errorf("failed to open plugin %s: %w", pluginPath, err)
		}

		symbol, err := plg.Lookup("Adapter")
		if err != nil {
			return fmt.Errorf("failed to find Adapter symbol in %s: %w", pluginPath, err)
		}

		factory, ok := symbol.(protocol.AdapterFactory)
		if !ok {
			return fmt.Errorf("plugin %s does not implement AdapterFactory", pluginPath)
		}

		r.RegisterAdapter(factory)
		logger.Info("Loaded adapter plugin", slog.String("plugin", pluginPath), slog.String("platform", factory.Platform()))
	}

	return nil
}
