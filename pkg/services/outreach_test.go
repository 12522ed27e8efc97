package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/dispatcher"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/engine"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/protocol"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/ratelimit"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/registry"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type okAdapter struct{}

func (okAdapter) Perform(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

type okFactory struct {
	platform string
}

func (f *okFactory) Create(_ map[string]any, _ *slog.Logger) (protocol.Adapter, error) {
	return okAdapter{}, nil
}

func (f *okFactory) Platform() string {
	return f.platform
}

func testLimits() ratelimit.Config {
	fast := ratelimit.ActionLimits{DailyLimit: 1000, HourlyBurstLimit: 1000}

	return ratelimit.Config{
		"discovery": {
			Actions:            map[string]ratelimit.ActionLimits{"search": fast},
			ActiveHourEnd:      24,
			InactiveHourFactor: 1.0,
		},
		"linkedin": {
			Actions:            map[string]ratelimit.ActionLimits{"view": fast, "connect": fast},
			ActiveHourEnd:      24,
			InactiveHourFactor: 1.0,
		},
	}
}

func newTestService(t *testing.T) (*Outreach, *engine.Engine) {
	t.Helper()

	logger := slog.Default()
	st := file.NewStore(t.TempDir(), logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterAdapter(&okFactory{platform: "discovery"})
	reg.RegisterAdapter(&okFactory{platform: "linkedin"})

	tracer := noop.NewTracerProvider().Tracer("test")
	limiter := ratelimit.NewLimiter(testLimits(), ratelimit.NewMemoryStore(), logger, ratelimit.WithSeed(1))
	disp := dispatcher.NewDispatcher(reg, logger, tracer)

	eng := engine.NewEngine(st, limiter, disp, nil, logger, tracer,
		engine.WithDispatchTimeout(time.Second),
		engine.WithRetryPolicy(3, time.Millisecond, 5*time.Millisecond),
	)

	return NewOutreach(st, eng, logger), eng
}

const chainPayload = `{
	"name": "linkedin warmup",
	"nodes": [
		{"id": "A", "skill": "search_profiles", "config": {"query": "golang"}},
		{"id": "B", "skill": "view_profile"},
		{"id": "C", "skill": "send_connection"}
	],
	"connections": [
		{"from": "A", "to": "B"},
		{"from": "B", "to": "C"}
	]
}`

func TestCreateWorkflow_PersistsDefinition(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	id, err := service.CreateWorkflow(ctx, "owner-1", []byte(chainPayload))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	definition, err := service.Workflow(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "linkedin warmup", definition.Name)
	assert.Equal(t, "owner-1", definition.Owner)
	assert.Len(t, definition.Nodes, 3)
	assert.Equal(t, []string{"discovery", "linkedin"}, definition.Platforms())
}

func TestCreateWorkflow_RejectsCyclicGraph(t *testing.T) {
	service, _ := newTestService(t)

	payload := `{
		"nodes": [
			{"id": "A", "skill": "view_profile"},
			{"id": "B", "skill": "send_connection"}
		],
		"connections": [
			{"from": "A", "to": "B"},
			{"from": "B", "to": "A"}
		]
	}`

	_, err := service.CreateWorkflow(context.Background(), "owner-1", []byte(payload))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	// Nothing was persisted.
	definitions, err := service.Workflows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, definitions)
}

func TestCreateWorkflow_RejectsUnknownSkill(t *testing.T) {
	service, _ := newTestService(t)

	payload := `{"nodes": [{"id": "A", "skill": "teleport"}]}`

	_, err := service.CreateWorkflow(context.Background(), "owner-1", []byte(payload))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestRun_ExecutesToCompletion(t *testing.T) {
	service, eng := newTestService(t)
	ctx := context.Background()

	definitionID, err := service.CreateWorkflow(ctx, "owner-1", []byte(chainPayload))
	require.NoError(t, err)

	instanceID, err := service.Run(ctx, definitionID, "user-1")
	require.NoError(t, err)

	<-eng.Wait(instanceID)

	status, err := service.Status(ctx, instanceID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, status.Status)
	assert.Equal(t, 3, status.Cursor)
	assert.NotEmpty(t, status.History)
}

func TestRun_UnknownDefinition(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Run(context.Background(), "missing", "user-1")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}

func TestResume_NonPausedIsConflict(t *testing.T) {
	service, eng := newTestService(t)
	ctx := context.Background()

	definitionID, err := service.CreateWorkflow(ctx, "owner-1", []byte(chainPayload))
	require.NoError(t, err)

	instanceID, err := service.Run(ctx, definitionID, "user-1")
	require.NoError(t, err)
	<-eng.Wait(instanceID)

	err = service.Resume(ctx, instanceID)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
}

func TestList_FiltersByStatusAndPlatform(t *testing.T) {
	service, eng := newTestService(t)
	ctx := context.Background()

	definitionID, err := service.CreateWorkflow(ctx, "owner-1", []byte(chainPayload))
	require.NoError(t, err)

	instanceID, err := service.Run(ctx, definitionID, "user-1")
	require.NoError(t, err)
	<-eng.Wait(instanceID)

	completed := models.InstanceStatusCompleted
	summaries, err := service.List(ctx, ListFilter{Status: &completed})
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	assert.Equal(t, instanceID, summaries[0].ID)
	assert.Equal(t, "linkedin warmup", summaries[0].Name)
	assert.Equal(t, 3, summaries[0].NodeCount)
	assert.Contains(t, summaries[0].Platforms, "linkedin")

	summaries, err = service.List(ctx, ListFilter{Platform: "twitter"})
	require.NoError(t, err)
	assert.Empty(t, summaries)

	failed := models.InstanceStatusFailed
	summaries, err = service.List(ctx, ListFilter{Status: &failed})
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
