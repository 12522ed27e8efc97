package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Key identifies one quota bucket.
type Key struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform"`
	Action   string `json:"action"`
}

func (k Key) String() string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", k.UserID, k.Platform, k.Action)
}

// State holds the usage counters for one key. Reset boundaries are
// UTC-day and UTC-hour aligned for determinism.
type State struct {
	DailyCount        int       `json:"daily_count"`
	DailyResetAt      time.Time `json:"daily_reset_at"`
	HourlyCount       int       `json:"hourly_count"`
	HourlyWindowStart time.Time `json:"hourly_window_start"`
	CooldownUntil     time.Time `json:"cooldown_until"`
	LastActionAt      time.Time `json:"last_action_at"`
}

// rollover lazily resets expired windows. Returns true when anything changed.
func (s *State) rollover(now time.Time) bool {
	changed := false

	if !s.DailyResetAt.IsZero() && !now.Before(s.DailyResetAt) {
		s.DailyCount = 0
		s.DailyResetAt = nextUTCMidnight(now)
		changed = true
	}

	if s.DailyResetAt.IsZero() {
		s.DailyResetAt = nextUTCMidnight(now)
		changed = true
	}

	hourStart := now.UTC().Truncate(time.Hour)
	if !s.HourlyWindowStart.Equal(hourStart) {
		s.HourlyCount = 0
		s.HourlyWindowStart = hourStart
		changed = true
	}

	return changed
}

func nextUTCMidnight(now time.Time) time.Time {
	utc := now.UTC()

	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// Store persists quota state. Implementations need not be safe for
// concurrent use of the same key; the limiter serializes access per key.
type Store interface {
	Load(ctx context.Context, key Key) (State, error)
	Save(ctx context.Context, key Key, state State) error
}

// MemoryStore is the default in-process store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[Key]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[Key]State)}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.states[key], nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[key] = state

	return nil
}
