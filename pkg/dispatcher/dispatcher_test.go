package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/protocol"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type stubAdapter struct {
	perform func(ctx context.Context, actionType string, parameters map[string]any) (map[string]any, error)
}

func (s *stubAdapter) Perform(ctx context.Context, actionType string, parameters map[string]any) (map[string]any, error) {
	return s.perform(ctx, actionType, parameters)
}

type stubFactory struct {
	platform string
	adapter  protocol.Adapter
}

func (s *stubFactory) Create(_ map[string]any, _ *slog.Logger) (protocol.Adapter, error) {
	return s.adapter, nil
}

func (s *stubFactory) Platform() string {
	return s.platform
}

func newTestDispatcher(t *testing.T, adapter protocol.Adapter) *Dispatcher {
	t.Helper()

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterAdapter(&stubFactory{platform: "linkedin", adapter: adapter})

	return NewDispatcher(reg, slog.Default(), noop.NewTracerProvider().Tracer("test"))
}

func compiledNode() models.CompiledNode {
	return models.CompiledNode{
		Node: models.Node{ID: "n1", Platform: "linkedin", ActionType: "view", Parameters: map[string]any{"profile": "x"}},
	}
}

func TestExecute_Success(t *testing.T) {
	d := newTestDispatcher(t, &stubAdapter{
		perform: func(_ context.Context, actionType string, parameters map[string]any) (map[string]any, error) {
			assert.Equal(t, "view", actionType)
			assert.Equal(t, "x", parameters["profile"])

			return map[string]any{"viewed": true}, nil
		},
	})

	result := d.Execute(context.Background(), compiledNode(), time.Second)

	require.True(t, result.Success)
	assert.Equal(t, true, result.Data["viewed"])
}

func TestExecute_UnknownPlatformIsFatal(t *testing.T) {
	reg := registry.NewRegistry(slog.Default())
	d := NewDispatcher(reg, slog.Default(), noop.NewTracerProvider().Tracer("test"))

	result := d.Execute(context.Background(), compiledNode(), time.Second)

	require.False(t, result.Success)
	assert.Equal(t, models.ErrorKindFatal, result.ErrorKind)
}

func TestExecute_TimeoutIsRetryable(t *testing.T) {
	d := newTestDispatcher(t, &stubAdapter{
		perform: func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		},
	})

	result := d.Execute(context.Background(), compiledNode(), 20*time.Millisecond)

	require.False(t, result.Success)
	assert.Equal(t, models.ErrorKindRetryable, result.ErrorKind)
}

func TestExecute_NonCooperativeAdapterStillTimesOut(t *testing.T) {
	d := newTestDispatcher(t, &stubAdapter{
		perform: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
			time.Sleep(5 * time.Second)

			return nil, nil
		},
	})

	start := time.Now()
	result := d.Execute(context.Background(), compiledNode(), 20*time.Millisecond)

	require.False(t, result.Success)
	assert.Equal(t, models.ErrorKindRetryable, result.ErrorKind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_FatalAdapterError(t *testing.T) {
	d := newTestDispatcher(t, &stubAdapter{
		perform: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
			return nil, protocol.NewFatalError("authentication expired")
		},
	})

	result := d.Execute(context.Background(), compiledNode(), time.Second)

	require.False(t, result.Success)
	assert.Equal(t, models.ErrorKindFatal, result.ErrorKind)
	assert.Equal(t, "authentication expired", result.Message)
}

func TestExecute_UnclassifiedErrorIsRetryable(t *testing.T) {
	d := newTestDispatcher(t, &stubAdapter{
		perform: func(_ context.Context, _ string, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("connection reset by peer")
		},
	})

	result := d.Execute(context.Background(), compiledNode(), time.Second)

	require.False(t, result.Success)
	assert.Equal(t, models.ErrorKindRetryable, result.ErrorKind)
}
