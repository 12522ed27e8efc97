package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/ratelimit"
)

// NewRateLimiter builds a limiter from an optional JSON limit table and
// an optional Redis URL. Without Redis, counters live in process memory,
// which is only correct for a single-node deployment.
func NewRateLimiter(ctx context.Context, logger *slog.Logger, configPath, redisURL string) *ratelimit.Limiter {
	config := ratelimit.DefaultConfig()

	if configPath != "" {
		loaded, err := ratelimit.LoadConfig(configPath)
		if err != nil {
			panic(fmt.Errorf("failed to load rate limit config: %w", err))
		}

		config = loaded
	}

	var stateStore ratelimit.Store = ratelimit.NewMemoryStore()

	if redisURL != "" {
		addr := strings.TrimPrefix(redisURL, "redis://")

		redisStore, err := ratelimit.NewRedisStore(ctx, addr, "", 0)
		if err != nil {
			panic(fmt.Errorf("failed to connect to Redis at %s: %w", addr, err))
		}

		stateStore = redisStore
	}

	return ratelimit.NewLimiter(config, stateStore, logger)
}
