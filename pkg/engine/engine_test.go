package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/protocol"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/ratelimit"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/registry"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/dispatcher"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, name)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

// nodeAdapter identifies the executing node via its "node" parameter and
// delegates to an optional per-test perform hook.
type nodeAdapter struct {
	rec     *recorder
	perform func(ctx context.Context, node string, parameters map[string]any) (map[string]any, error)
}

func (a *nodeAdapter) Perform(ctx context.Context, _ string, parameters map[string]any) (map[string]any, error) {
	node, _ := parameters["node"].(string)
	a.rec.record(node)

	if a.perform != nil {
		return a.perform(ctx, node, parameters)
	}

	return map[string]any{"ok": true}, nil
}

type adapterFactory struct {
	platform string
	adapter  protocol.Adapter
}

func (f *adapterFactory) Create(_ map[string]any, _ *slog.Logger) (protocol.Adapter, error) {
	return f.adapter, nil
}

func (f *adapterFactory) Platform() string {
	return f.platform
}

// testLimits allows everything with zero pacing so tests run fast.
func testLimits() ratelimit.Config {
	fast := ratelimit.ActionLimits{DailyLimit: 1000, HourlyBurstLimit: 1000}

	return ratelimit.Config{
		"discovery": {
			Actions:            map[string]ratelimit.ActionLimits{"search": fast},
			ActiveHourEnd:      24,
			InactiveHourFactor: 1.0,
		},
		"linkedin": {
			Actions:            map[string]ratelimit.ActionLimits{"view": fast, "connect": fast, "message": fast},
			ActiveHourEnd:      24,
			InactiveHourFactor: 1.0,
		},
	}
}

func newTestEngine(t *testing.T, adapter protocol.Adapter) (*Engine, store.Store) {
	t.Helper()

	logger := slog.Default()

	st := file.NewStore(t.TempDir(), logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterAdapter(&adapterFactory{platform: "discovery", adapter: adapter})
	reg.RegisterAdapter(&adapterFactory{platform: "linkedin", adapter: adapter})

	tracer := noop.NewTracerProvider().Tracer("test")
	limiter := ratelimit.NewLimiter(testLimits(), ratelimit.NewMemoryStore(), logger, ratelimit.WithSeed(1))
	disp := dispatcher.NewDispatcher(reg, logger, tracer)

	eng := NewEngine(st, limiter, disp, nil, logger, tracer,
		WithDispatchTimeout(time.Second),
		WithRetryPolicy(3, time.Millisecond, 5*time.Millisecond),
	)

	return eng, st
}

func chainDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name: "outreach chain",
		Nodes: []models.Node{
			{ID: "A", Platform: "discovery", ActionType: "search", Parameters: map[string]any{"node": "A"}},
			{ID: "B", Platform: "linkedin", ActionType: "view", Parameters: map[string]any{"node": "B"}},
			{ID: "C", Platform: "linkedin", ActionType: "connect", Parameters: map[string]any{"node": "C"}},
		},
		Connections: []models.Edge{{From: "A", To: "B"}, {From: "B", To: "C"}},
	}
}

func createInstance(t *testing.T, st store.Store, definition *models.WorkflowDefinition) string {
	t.Helper()

	ctx := context.Background()

	defID, err := st.CreateDefinition(ctx, definition)
	require.NoError(t, err)

	instanceID, err := st.CreateInstance(ctx, &models.WorkflowInstance{
		DefinitionID: defID,
		UserID:       "user-1",
	})
	require.NoError(t, err)

	return instanceID
}

func nodeEvents(history []models.Event, nodeID string) []models.Event {
	matched := make([]models.Event, 0)

	for _, event := range history {
		if event.NodeID == nodeID && event.NodeOutcome != "" {
			matched = append(matched, event)
		}
	}

	return matched
}

func TestRun_LinearChainCompletes(t *testing.T) {
	rec := &recorder{}
	eng, st := newTestEngine(t, &nodeAdapter{rec: rec})

	instanceID := createInstance(t, st, chainDefinition())

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-eng.Wait(instanceID)

	assert.Equal(t, []string{"A", "B", "C"}, rec.snapshot())

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, 3, instance.Cursor)

	for _, nodeID := range []string{"A", "B", "C"} {
		events := nodeEvents(instance.History, nodeID)
		require.Len(t, events, 1, "node %s", nodeID)
		assert.Equal(t, models.NodeOutcomeCompleted, events[0].NodeOutcome)
	}
}

func TestRun_EachNodeRecordedBeforeSuccessorStarts(t *testing.T) {
	var (
		st         store.Store
		instanceID string
	)

	rec := &recorder{}

	adapter := &nodeAdapter{
		rec: rec,
		perform: func(_ context.Context, node string, _ map[string]any) (map[string]any, error) {
			if node == "A" {
				return map[string]any{"ok": true}, nil
			}

			// By the time a successor's adapter runs, the
			// predecessor's event must already be persisted.
			instance, err := st.Instance(context.Background(), instanceID)
			if err != nil {
				return nil, err
			}

			predecessor := map[string]string{"B": "A", "C": "B"}[node]
			outcome, recorded := instance.LastOutcome(predecessor)
			if !recorded || outcome != models.NodeOutcomeCompleted {
				return nil, protocol.NewFatalError("predecessor event not yet recorded")
			}

			return map[string]any{"ok": true}, nil
		},
	}

	eng, testStore := newTestEngine(t, adapter)
	st = testStore
	instanceID = createInstance(t, st, chainDefinition())

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-eng.Wait(instanceID)

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
}

func TestRun_PauseThenResumeRunsRemainderExactlyOnce(t *testing.T) {
	var (
		eng        *Engine
		instanceID string
	)

	rec := &recorder{}
	paused := make(chan struct{})

	adapter := &nodeAdapter{
		rec: rec,
		perform: func(_ context.Context, node string, _ map[string]any) (map[string]any, error) {
			if node == "B" {
				// Pause while B is in flight; the engine must
				// finish B, then stop before C.
				_ = eng.Pause(context.Background(), instanceID)
				close(paused)
			}

			return map[string]any{"ok": true}, nil
		},
	}

	var st store.Store

	eng, st = newTestEngine(t, adapter)
	instanceID = createInstance(t, st, chainDefinition())

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-eng.Wait(instanceID)
	<-paused

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusPaused, instance.Status)
	assert.Equal(t, 2, instance.Cursor)
	assert.Equal(t, []string{"A", "B"}, rec.snapshot())
	assert.Empty(t, nodeEvents(instance.History, "C"))

	require.NoError(t, eng.Resume(context.Background(), instanceID))
	<-eng.Wait(instanceID)

	instance, err = st.Instance(context.Background(), instanceID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, []string{"A", "B", "C"}, rec.snapshot())

	for _, nodeID := range []string{"A", "B", "C"} {
		assert.Len(t, nodeEvents(instance.History, nodeID), 1, "node %s", nodeID)
	}
}

func TestRun_CancelWhileNodeInFlight(t *testing.T) {
	rec := &recorder{}
	inFlight := make(chan struct{})
	release := make(chan struct{})

	adapter := &nodeAdapter{
		rec: rec,
		perform: func(ctx context.Context, node string, _ map[string]any) (map[string]any, error) {
			if node == "C" {
				close(inFlight)

				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			return map[string]any{"ok": true}, nil
		},
	}

	eng, st := newTestEngine(t, adapter)

	definition := chainDefinition()
	definition.Nodes = append(definition.Nodes,
		models.Node{ID: "D", Platform: "linkedin", ActionType: "message", Parameters: map[string]any{"node": "D"}})
	definition.Connections = append(definition.Connections, models.Edge{From: "C", To: "D"})

	instanceID := createInstance(t, st, definition)

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-inFlight

	require.NoError(t, eng.Cancel(context.Background(), instanceID))

	// Status flips immediately, before the in-flight call resolves.
	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, instance.Status)

	close(release)
	<-eng.Wait(instanceID)

	instance, err = st.Instance(context.Background(), instanceID)
	require.NoError(t, err)

	// C's eventual result is on record; D was never dispatched and the
	// terminal status survived the worker's shutdown.
	assert.Equal(t, models.InstanceStatusCancelled, instance.Status)
	assert.Len(t, nodeEvents(instance.History, "C"), 1)
	assert.Empty(t, nodeEvents(instance.History, "D"))
	assert.NotContains(t, rec.snapshot(), "D")
}

func TestRun_FailedBranchSkipsDependents(t *testing.T) {
	rec := &recorder{}

	adapter := &nodeAdapter{
		rec: rec,
		perform: func(_ context.Context, node string, _ map[string]any) (map[string]any, error) {
			if node == "X" {
				return nil, protocol.NewFatalError("profile not found")
			}

			return map[string]any{"ok": true}, nil
		},
	}

	eng, st := newTestEngine(t, adapter)

	definition := &models.WorkflowDefinition{
		Name: "branching outreach",
		Nodes: []models.Node{
			{ID: "R", Platform: "discovery", ActionType: "search", Parameters: map[string]any{"node": "R"}},
			{ID: "X", Platform: "linkedin", ActionType: "view", Parameters: map[string]any{"node": "X"}},
			{ID: "X2", Platform: "linkedin", ActionType: "connect", Parameters: map[string]any{"node": "X2"}},
			{ID: "Y", Platform: "linkedin", ActionType: "view", Parameters: map[string]any{"node": "Y"}},
		},
		Connections: []models.Edge{
			{From: "R", To: "X"},
			{From: "X", To: "X2"},
			{From: "R", To: "Y"},
		},
	}

	instanceID := createInstance(t, st, definition)

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-eng.Wait(instanceID)

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)

	// The failed branch is skipped, the sibling branch still runs, and
	// the instance completes because at least one node succeeded.
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)

	require.Len(t, nodeEvents(instance.History, "X"), 1)
	assert.Equal(t, models.NodeOutcomeFailed, nodeEvents(instance.History, "X")[0].NodeOutcome)

	require.Len(t, nodeEvents(instance.History, "X2"), 1)
	assert.Equal(t, models.NodeOutcomeSkipped, nodeEvents(instance.History, "X2")[0].NodeOutcome)

	require.Len(t, nodeEvents(instance.History, "Y"), 1)
	assert.Equal(t, models.NodeOutcomeCompleted, nodeEvents(instance.History, "Y")[0].NodeOutcome)

	assert.NotContains(t, rec.snapshot(), "X2")
}

func TestRun_RetryableFailureRetriesThenSucceeds(t *testing.T) {
	rec := &recorder{}

	var attempts int32

	adapter := &nodeAdapter{
		rec: rec,
		perform: func(_ context.Context, node string, _ map[string]any) (map[string]any, error) {
			if node != "B" {
				return map[string]any{"ok": true}, nil
			}

			attempts++
			if attempts < 3 {
				return nil, protocol.NewRetryableError("rate limited upstream")
			}

			return map[string]any{"ok": true}, nil
		},
	}

	eng, st := newTestEngine(t, adapter)
	instanceID := createInstance(t, st, chainDefinition())

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-eng.Wait(instanceID)

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.EqualValues(t, 3, attempts)
	assert.Equal(t, models.NodeOutcomeCompleted, nodeEvents(instance.History, "B")[0].NodeOutcome)
}

func TestRun_RetryBudgetExhausted(t *testing.T) {
	rec := &recorder{}

	var attempts int32

	adapter := &nodeAdapter{
		rec: rec,
		perform: func(_ context.Context, node string, _ map[string]any) (map[string]any, error) {
			if node != "A" {
				return map[string]any{"ok": true}, nil
			}

			attempts++

			return nil, protocol.NewRetryableError("connection reset")
		},
	}

	eng, st := newTestEngine(t, adapter)
	instanceID := createInstance(t, st, chainDefinition())

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-eng.Wait(instanceID)

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)

	// A exhausted its budget; its whole chain was skipped, so nothing
	// succeeded and the instance failed.
	assert.EqualValues(t, 3, attempts)
	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	assert.Equal(t, models.NodeOutcomeFailed, nodeEvents(instance.History, "A")[0].NodeOutcome)
	assert.Equal(t, models.NodeOutcomeSkipped, nodeEvents(instance.History, "B")[0].NodeOutcome)
	assert.Equal(t, models.NodeOutcomeSkipped, nodeEvents(instance.History, "C")[0].NodeOutcome)
}

func TestRun_FatalFailureDoesNotRetry(t *testing.T) {
	rec := &recorder{}

	var attempts int32

	adapter := &nodeAdapter{
		rec: rec,
		perform: func(_ context.Context, node string, _ map[string]any) (map[string]any, error) {
			if node != "B" {
				return map[string]any{"ok": true}, nil
			}

			attempts++

			return nil, protocol.NewFatalError("authentication expired")
		},
	}

	eng, st := newTestEngine(t, adapter)
	instanceID := createInstance(t, st, chainDefinition())

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-eng.Wait(instanceID)

	assert.EqualValues(t, 1, attempts)

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeOutcomeFailed, nodeEvents(instance.History, "B")[0].NodeOutcome)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	eng, st := newTestEngine(t, &nodeAdapter{rec: &recorder{}})
	instanceID := createInstance(t, st, chainDefinition())

	ctx := context.Background()

	// Resume requires paused.
	err := eng.Resume(ctx, instanceID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Pause requires an active worker.
	err = eng.Pause(ctx, instanceID)
	require.ErrorIs(t, err, ErrNoActiveWorker)

	require.NoError(t, eng.Start(ctx, instanceID))
	<-eng.Wait(instanceID)

	// Terminal instances reject every lifecycle operation.
	err = eng.Start(ctx, instanceID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = eng.Cancel(ctx, instanceID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancel_PendingInstanceWithoutWorker(t *testing.T) {
	eng, st := newTestEngine(t, &nodeAdapter{rec: &recorder{}})
	instanceID := createInstance(t, st, chainDefinition())

	require.NoError(t, eng.Cancel(context.Background(), instanceID))

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, instance.Status)

	err = eng.Start(context.Background(), instanceID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRun_ParameterTemplatesSeeUpstreamResults(t *testing.T) {
	var mu sync.Mutex

	captured := make(map[string]map[string]any)

	adapter := &nodeAdapter{
		rec: &recorder{},
		perform: func(_ context.Context, node string, parameters map[string]any) (map[string]any, error) {
			mu.Lock()
			captured[node] = parameters
			mu.Unlock()

			if node == "A" {
				return map[string]any{"name": "Grace", "profile": "urn:li:grace"}, nil
			}

			return map[string]any{"ok": true}, nil
		},
	}

	eng, st := newTestEngine(t, adapter)

	definition := chainDefinition()
	definition.Nodes[2].Parameters["message"] = "Hi {{ .results.A.name }}, saw your profile"
	definition.Nodes[2].Parameters["target"] = "{{ .results.A.profile }}"

	instanceID := createInstance(t, st, definition)

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-eng.Wait(instanceID)

	mu.Lock()
	defer mu.Unlock()

	require.Contains(t, captured, "C")
	assert.Equal(t, "Hi Grace, saw your profile", captured["C"]["message"])
	assert.Equal(t, "urn:li:grace", captured["C"]["target"])
}

func TestRun_BrokenParameterTemplateFailsNode(t *testing.T) {
	rec := &recorder{}
	eng, st := newTestEngine(t, &nodeAdapter{rec: rec})

	definition := chainDefinition()
	definition.Nodes[1].Parameters["message"] = "{{ .results.A.name"

	instanceID := createInstance(t, st, definition)

	require.NoError(t, eng.Start(context.Background(), instanceID))
	<-eng.Wait(instanceID)

	// B never reaches its adapter; C is gated on B.
	assert.Equal(t, []string{"A"}, rec.snapshot())

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)

	events := nodeEvents(instance.History, "B")
	require.Len(t, events, 1)
	assert.Equal(t, models.NodeOutcomeFailed, events[0].NodeOutcome)

	events = nodeEvents(instance.History, "C")
	require.Len(t, events, 1)
	assert.Equal(t, models.NodeOutcomeSkipped, events[0].NodeOutcome)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
}

func TestStart_ConcurrentCallsSpawnOneWorker(t *testing.T) {
	for iteration := 0; iteration < 25; iteration++ {
		rec := &recorder{}
		eng, st := newTestEngine(t, &nodeAdapter{rec: rec})

		definition := &models.WorkflowDefinition{
			Name: "single action",
			Nodes: []models.Node{
				{ID: "A", Platform: "discovery", ActionType: "search", Parameters: map[string]any{"node": "A"}},
			},
		}
		instanceID := createInstance(t, st, definition)

		var wg sync.WaitGroup

		results := make([]error, 2)

		for i := range results {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				results[i] = eng.Start(context.Background(), instanceID)
			}(i)
		}

		wg.Wait()
		<-eng.Wait(instanceID)

		accepted := 0

		for _, err := range results {
			if err == nil {
				accepted++

				continue
			}

			assert.True(t, errors.Is(err, ErrActiveWorker) || errors.Is(err, ErrInvalidTransition),
				"unexpected error: %v", err)
		}

		// Exactly one caller wins the worker slot; the node is never
		// dispatched twice.
		require.Equal(t, 1, accepted, "iteration %d", iteration)
		require.Equal(t, []string{"A"}, rec.snapshot(), "iteration %d", iteration)
	}
}

func TestPause_WhileSuspendedByRateLimiter(t *testing.T) {
	logger := slog.Default()
	st := file.NewStore(t.TempDir(), logger)

	rec := &recorder{}
	adapter := &nodeAdapter{rec: rec}

	reg := registry.NewRegistry(logger)
	reg.RegisterAdapter(&adapterFactory{platform: "discovery", adapter: adapter})
	reg.RegisterAdapter(&adapterFactory{platform: "linkedin", adapter: adapter})

	// B's action allows one call per day; consuming it up front parks the
	// worker at the rate-limit gate until the next UTC midnight.
	limits := testLimits()
	linkedin := limits["linkedin"]
	linkedin.Actions["view"] = ratelimit.ActionLimits{DailyLimit: 1, HourlyBurstLimit: 1}
	limits["linkedin"] = linkedin

	limiter := ratelimit.NewLimiter(limits, ratelimit.NewMemoryStore(), logger, ratelimit.WithSeed(1))
	require.NoError(t, limiter.RecordAction(context.Background(), "user-1", "linkedin", "view"))

	tracer := noop.NewTracerProvider().Tracer("test")
	eng := NewEngine(st, limiter, dispatcher.NewDispatcher(reg, logger, tracer), nil, logger, tracer,
		WithDispatchTimeout(time.Second),
		WithRetryPolicy(3, time.Millisecond, 5*time.Millisecond),
	)

	instanceID := createInstance(t, st, chainDefinition())
	require.NoError(t, eng.Start(context.Background(), instanceID))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, eng.Pause(context.Background(), instanceID))

	select {
	case <-eng.Wait(instanceID):
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop while suspended at the rate-limit gate")
	}

	// B was never dispatched; the instance paused at B's position.
	assert.Equal(t, []string{"A"}, rec.snapshot())

	instance, err := st.Instance(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPaused, instance.Status)
	assert.Equal(t, 1, instance.Cursor)
	assert.Empty(t, nodeEvents(instance.History, "B"))
}
