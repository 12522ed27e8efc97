package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/dispatcher"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/engine"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/protocol"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/ratelimit"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/registry"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/services"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type okAdapter struct{}

func (okAdapter) Perform(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

type okFactory struct{}

func (okFactory) Create(_ map[string]any, _ *slog.Logger) (protocol.Adapter, error) {
	return okAdapter{}, nil
}

func (okFactory) Platform() string {
	return "linkedin"
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()

	logger := slog.Default()
	st := file.NewStore(t.TempDir(), logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterAdapter(okFactory{})

	tracer := noop.NewTracerProvider().Tracer("test")

	limits := ratelimit.Config{
		"linkedin": {
			Actions:            map[string]ratelimit.ActionLimits{"view": {DailyLimit: 100, HourlyBurstLimit: 100}},
			ActiveHourEnd:      24,
			InactiveHourFactor: 1.0,
		},
	}

	limiter := ratelimit.NewLimiter(limits, ratelimit.NewMemoryStore(), logger, ratelimit.WithSeed(1))
	eng := engine.NewEngine(st, limiter, dispatcher.NewDispatcher(reg, logger, tracer), nil, logger, tracer)

	return NewScheduler(services.NewOutreach(st, eng, logger), logger)
}

func TestAdd_ValidatesCronExpression(t *testing.T) {
	scheduler := newTestScheduler(t)

	err := scheduler.Add(Schedule{DefinitionID: "def-1", CronExpression: "not a cron"})
	require.Error(t, err)

	err = scheduler.Add(Schedule{DefinitionID: "def-1", CronExpression: "0 9 * * *"})
	require.NoError(t, err)
}

func TestAdd_RejectsDuplicateDefinition(t *testing.T) {
	scheduler := newTestScheduler(t)

	require.NoError(t, scheduler.Add(Schedule{DefinitionID: "def-1", CronExpression: "0 9 * * *"}))

	err := scheduler.Add(Schedule{DefinitionID: "def-1", CronExpression: "0 10 * * *"})
	require.ErrorIs(t, err, ErrScheduleExists)
}

func TestSchedules_ReportsNextDue(t *testing.T) {
	scheduler := newTestScheduler(t)

	require.NoError(t, scheduler.Add(Schedule{
		DefinitionID:   "def-1",
		UserID:         "user-1",
		CronExpression: "0 9 * * *",
	}))

	schedules := scheduler.Schedules()
	require.Len(t, schedules, 1)

	assert.Equal(t, "def-1", schedules[0].DefinitionID)
	assert.False(t, schedules[0].NextDueAt.IsZero())
	assert.True(t, schedules[0].NextDueAt.After(time.Now().Add(-time.Minute)))
}

func TestRemove_DropsSchedule(t *testing.T) {
	scheduler := newTestScheduler(t)

	require.NoError(t, scheduler.Add(Schedule{DefinitionID: "def-1", CronExpression: "0 9 * * *"}))
	scheduler.Remove("def-1")

	assert.Empty(t, scheduler.Schedules())

	// Re-registration after removal is allowed.
	require.NoError(t, scheduler.Add(Schedule{DefinitionID: "def-1", CronExpression: "0 9 * * *"}))
}

func TestStop_ReturnsPromptly(t *testing.T) {
	scheduler := newTestScheduler(t)
	scheduler.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, scheduler.Stop(ctx))
}
