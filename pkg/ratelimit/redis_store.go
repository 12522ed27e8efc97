package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore keeps quota state in Redis so multiple engine processes for
// the same user share one set of counters. One hash per key.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Load(ctx context.Context, key Key) (State, error) {
	fields, err := r.client.HGetAll(ctx, key.String()).Result()
	if err != nil {
		return State{}, fmt.Errorf("failed to load rate limit state %s: %w", key, err)
	}

	if len(fields) == 0 {
		return State{}, nil
	}

	state := State{
		DailyCount:        parseInt(fields["daily_count"]),
		DailyResetAt:      parseTime(fields["daily_reset_at"]),
		HourlyCount:       parseInt(fields["hourly_count"]),
		HourlyWindowStart: parseTime(fields["hourly_window_start"]),
		CooldownUntil:     parseTime(fields["cooldown_until"]),
		LastActionAt:      parseTime(fields["last_action_at"]),
	}

	return state, nil
}

func (r *RedisStore) Save(ctx context.Context, key Key, state State) error {
	err := r.client.HSet(ctx, key.String(), map[string]any{
		"daily_count":         state.DailyCount,
		"daily_reset_at":      formatTime(state.DailyResetAt),
		"hourly_count":        state.HourlyCount,
		"hourly_window_start": formatTime(state.HourlyWindowStart),
		"cooldown_until":      formatTime(state.CooldownUntil),
		"last_action_at":      formatTime(state.LastActionAt),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to save rate limit state %s: %w", key, err)
	}

	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}

	return parsed
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}
