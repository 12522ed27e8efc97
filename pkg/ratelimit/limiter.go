package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// ErrNoLimits indicates no limit table entry exists for a platform/action
// pair. Definitions are validated against the table before they run, so
// hitting this at execution time means the table changed underneath a run.
var ErrNoLimits = errors.New("no rate limits configured for platform/action")

// Denial reasons reported by CanProceed.
const (
	ReasonCooldown   = "cooldown_active"
	ReasonDailyLimit = "daily_limit_reached"
	ReasonBurstLimit = "hourly_burst_limit_reached"
)

// Decision is the outcome of a CanProceed check. RetryAfter is the wait
// after which a re-check is worthwhile; it is advisory, never a promise.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Limiter tracks per (user, platform, action) quotas. All four operations
// are pure given state, config, the clock and the PRNG seed, which keeps
// tests deterministic. Access to any single key is serialized through a
// per-key mutex so concurrent branches or instances never double-count.
type Limiter struct {
	config Config
	store  Store
	clock  func() time.Time
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	locks sync.Map // Key -> *sync.Mutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a time source. Tests use a fake clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// WithSeed makes delay sampling reproducible.
func WithSeed(seed int64) Option {
	return func(l *Limiter) {
		l.rng = rand.New(rand.NewSource(seed))
	}
}

func NewLimiter(config Config, store Store, logger *slog.Logger, opts ...Option) *Limiter {
	limiter := &Limiter{
		config: config,
		store:  store,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger.With("module", "ratelimit"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, opt := range opts {
		opt(limiter)
	}

	return limiter
}

func (l *Limiter) keyLock(key Key) *sync.Mutex {
	lock, _ := l.locks.LoadOrStore(key, &sync.Mutex{})

	mutex, ok := lock.(*sync.Mutex)
	if !ok {
		panic("ratelimit: unexpected lock type")
	}

	return mutex
}

// CanProceed checks whether an action for the key is currently allowed.
// Expired windows are lazily reset before checking.
func (l *Limiter) CanProceed(ctx context.Context, userID, platform, action string) (Decision, error) {
	limits, _, ok := l.config.Lookup(platform, action)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s/%s", ErrNoLimits, platform, action)
	}

	key := Key{UserID: userID, Platform: platform, Action: action}
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	state, err := l.store.Load(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	now := l.clock()
	changed := state.rollover(now)

	decision := Decision{Allowed: true}

	switch {
	case now.Before(state.CooldownUntil):
		decision = Decision{Reason: ReasonCooldown, RetryAfter: state.CooldownUntil.Sub(now)}
	case limits.DailyLimit > 0 && state.DailyCount >= limits.DailyLimit:
		decision = Decision{Reason: ReasonDailyLimit, RetryAfter: state.DailyResetAt.Sub(now)}
	case limits.HourlyBurstLimit > 0 && state.HourlyCount >= limits.HourlyBurstLimit:
		decision = Decision{Reason: ReasonBurstLimit, RetryAfter: state.HourlyWindowStart.Add(time.Hour).Sub(now)}
	}

	if changed {
		if err := l.store.Save(ctx, key, state); err != nil {
			return Decision{}, err
		}
	}

	if !decision.Allowed {
		l.logger.DebugContext(ctx, "Action denied by rate limiter",
			"user_id", userID, "platform", platform, "action", action,
			"reason", decision.Reason, "retry_after", decision.RetryAfter)
	}

	return decision, nil
}

// RecordAction increments the counters for the key. When the increment is
// the one that hits the hourly burst limit, the cooldown starts here, once,
// never on later checks.
func (l *Limiter) RecordAction(ctx context.Context, userID, platform, action string) error {
	limits, _, ok := l.config.Lookup(platform, action)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoLimits, platform, action)
	}

	key := Key{UserID: userID, Platform: platform, Action: action}
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	state, err := l.store.Load(ctx, key)
	if err != nil {
		return err
	}

	now := l.clock()
	state.rollover(now)

	state.DailyCount++
	state.HourlyCount++
	state.LastActionAt = now

	if limits.HourlyBurstLimit > 0 && state.HourlyCount == limits.HourlyBurstLimit {
		state.CooldownUntil = now.Add(limits.Cooldown())
	}

	return l.store.Save(ctx, key, state)
}

// CalculateDelay samples a human-paced delay for the key: a Gaussian
// centered between the configured bounds, clipped to them, doubled when
// usage is at or past 80% of either limit, then scaled by the platform's
// time-of-day factor.
func (l *Limiter) CalculateDelay(ctx context.Context, userID, platform, action string) (time.Duration, error) {
	limits, platformLimits, ok := l.config.Lookup(platform, action)
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrNoLimits, platform, action)
	}

	minDelay := limits.MinDelay()
	maxDelay := limits.MaxDelay()
	mean := float64(minDelay+maxDelay) / 2
	stddev := float64(maxDelay-minDelay) / 4

	l.rngMu.Lock()
	sample := l.rng.NormFloat64()*stddev + mean
	l.rngMu.Unlock()

	delay := time.Duration(sample)
	if delay < minDelay {
		delay = minDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	key := Key{UserID: userID, Platform: platform, Action: action}
	lock := l.keyLock(key)
	lock.Lock()
	state, err := l.store.Load(ctx, key)
	lock.Unlock()

	if err != nil {
		return 0, err
	}

	now := l.clock()
	state.rollover(now)

	if nearLimit(state.DailyCount, limits.DailyLimit) || nearLimit(state.HourlyCount, limits.HourlyBurstLimit) {
		delay *= 2
	}

	factor := l.timeOfDayFactor(platformLimits, now)
	delay = time.Duration(float64(delay) * factor)

	return delay, nil
}

// Usage returns a snapshot of the current counters for the key, with
// expired windows already rolled over.
func (l *Limiter) Usage(ctx context.Context, userID, platform, action string) (State, error) {
	key := Key{UserID: userID, Platform: platform, Action: action}
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	state, err := l.store.Load(ctx, key)
	if err != nil {
		return State{}, err
	}

	state.rollover(l.clock())

	return state, nil
}

func nearLimit(count, limit int) bool {
	if limit <= 0 {
		return false
	}

	return float64(count) >= 0.8*float64(limit)
}

func (l *Limiter) timeOfDayFactor(platformLimits PlatformLimits, now time.Time) float64 {
	if platformLimits.InactiveHourFactor <= 1.0 {
		return 1.0
	}

	hour := now.UTC().Hour()
	if hour >= platformLimits.ActiveHourStart && hour < platformLimits.ActiveHourEnd {
		return 1.0
	}

	return platformLimits.InactiveHourFactor
}
