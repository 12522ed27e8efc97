// Package ratelimit enforces per (user, platform, action) quotas and
// computes human-paced delays between outreach actions.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ActionLimits declares the quota and pacing bounds for one action type.
// Durations are expressed in seconds so the table can be loaded from JSON.
type ActionLimits struct {
	DailyLimit       int `json:"daily_limit"`
	HourlyBurstLimit int `json:"hourly_burst_limit"`
	MinDelaySeconds  int `json:"min_delay_seconds"`
	MaxDelaySeconds  int `json:"max_delay_seconds"`
	CooldownSeconds  int `json:"cooldown_seconds"`
}

func (a ActionLimits) MinDelay() time.Duration {
	return time.Duration(a.MinDelaySeconds) * time.Second
}

func (a ActionLimits) MaxDelay() time.Duration {
	return time.Duration(a.MaxDelaySeconds) * time.Second
}

func (a ActionLimits) Cooldown() time.Duration {
	return time.Duration(a.CooldownSeconds) * time.Second
}

// PlatformLimits groups the action table for one platform with its
// active-hours window. Outside [ActiveHourStart, ActiveHourEnd) UTC,
// pacing delays are multiplied by InactiveHourFactor (>= 1.0).
type PlatformLimits struct {
	Actions            map[string]ActionLimits `json:"actions"`
	ActiveHourStart    int                     `json:"active_hour_start"`
	ActiveHourEnd      int                     `json:"active_hour_end"`
	InactiveHourFactor float64                 `json:"inactive_hour_factor"`
}

// Config is the declarative limit table keyed by platform.
type Config map[string]PlatformLimits

// DefaultConfig returns the built-in limit table. Values stay deliberately
// conservative; a deployment overrides them with LoadConfig.
func DefaultConfig() Config {
	return Config{
		"linkedin": {
			Actions: map[string]ActionLimits{
				"view":    {DailyLimit: 80, HourlyBurstLimit: 15, MinDelaySeconds: 20, MaxDelaySeconds: 90, CooldownSeconds: 1800},
				"like":    {DailyLimit: 60, HourlyBurstLimit: 12, MinDelaySeconds: 15, MaxDelaySeconds: 60, CooldownSeconds: 1800},
				"connect": {DailyLimit: 25, HourlyBurstLimit: 5, MinDelaySeconds: 60, MaxDelaySeconds: 240, CooldownSeconds: 3600},
				"message": {DailyLimit: 40, HourlyBurstLimit: 8, MinDelaySeconds: 45, MaxDelaySeconds: 180, CooldownSeconds: 3600},
			},
			ActiveHourStart:    8,
			ActiveHourEnd:      20,
			InactiveHourFactor: 2.5,
		},
		"twitter": {
			Actions: map[string]ActionLimits{
				"view":   {DailyLimit: 120, HourlyBurstLimit: 25, MinDelaySeconds: 10, MaxDelaySeconds: 45, CooldownSeconds: 900},
				"like":   {DailyLimit: 90, HourlyBurstLimit: 20, MinDelaySeconds: 10, MaxDelaySeconds: 45, CooldownSeconds: 900},
				"follow": {DailyLimit: 50, HourlyBurstLimit: 10, MinDelaySeconds: 30, MaxDelaySeconds: 120, CooldownSeconds: 1800},
			},
			ActiveHourStart:    7,
			ActiveHourEnd:      22,
			InactiveHourFactor: 1.5,
		},
		"email": {
			Actions: map[string]ActionLimits{
				"send": {DailyLimit: 100, HourlyBurstLimit: 20, MinDelaySeconds: 30, MaxDelaySeconds: 120, CooldownSeconds: 1800},
			},
			ActiveHourStart:    6,
			ActiveHourEnd:      23,
			InactiveHourFactor: 1.2,
		},
		"discovery": {
			Actions: map[string]ActionLimits{
				"search": {DailyLimit: 200, HourlyBurstLimit: 40, MinDelaySeconds: 5, MaxDelaySeconds: 20, CooldownSeconds: 600},
			},
			ActiveHourStart:    0,
			ActiveHourEnd:      24,
			InactiveHourFactor: 1.0,
		},
	}
}

// LoadConfig reads a limit table from a JSON file.
func LoadConfig(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit config %s: %w", path, err)
	}

	var config Config

	err = json.Unmarshal(body, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rate limit config %s: %w", path, err)
	}

	return config, nil
}

// Lookup returns the limits for a platform/action pair.
func (c Config) Lookup(platform, action string) (ActionLimits, PlatformLimits, bool) {
	platformLimits, ok := c[platform]
	if !ok {
		return ActionLimits{}, PlatformLimits{}, false
	}

	actionLimits, ok := platformLimits.Actions[action]
	if !ok {
		return ActionLimits{}, platformLimits, false
	}

	return actionLimits, platformLimits, true
}
