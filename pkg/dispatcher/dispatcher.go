// Package dispatcher invokes platform adapters for compiled nodes under a
// hard timeout and normalizes every outcome into one result envelope.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/otelhelper"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/protocol"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 60 * time.Second

type Dispatcher struct {
	registry *registry.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewDispatcher(reg *registry.Registry, logger *slog.Logger, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		logger:   logger.With("module", "dispatcher"),
		tracer:   tracer,
	}
}

type adapterOutcome struct {
	data map[string]any
	err  error
}

// Execute runs one compiled node through its platform adapter. The call is
// bounded by timeout; a timeout or transport failure yields a retryable
// result, an adapter-declared fatal failure yields a fatal one. The engine
// receives the same envelope shape for every platform.
func (d *Dispatcher) Execute(ctx context.Context, compiled models.CompiledNode, timeout time.Duration) models.Result {
	node := compiled.Node

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	spanCtx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.execute",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.PlatformKey, node.Platform),
		attribute.String(otelhelper.ActionTypeKey, node.ActionType),
	)
	defer span.End()

	adapter, err := d.registry.AdapterFor(node.Platform, node.Parameters)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Result{
			Success:   false,
			ErrorKind: models.ErrorKindFatal,
			Message:   err.Error(),
		}
	}

	callCtx, cancel := context.WithTimeout(spanCtx, timeout)
	defer cancel()

	// The adapter runs in its own goroutine so a non-cooperative
	// implementation cannot hold the step past the timeout.
	outcomeCh := make(chan adapterOutcome, 1)

	go func() {
		data, performErr := adapter.Perform(callCtx, node.ActionType, node.Parameters)
		outcomeCh <- adapterOutcome{data: data, err: performErr}
	}()

	select {
	case <-callCtx.Done():
		err = callCtx.Err()
	case outcome := <-outcomeCh:
		if outcome.err == nil {
			return models.Result{Success: true, Data: outcome.data}
		}

		err = outcome.err
	}

	result := d.classify(node, err)
	otelhelper.SetError(span, err, attribute.String("error_kind", string(result.ErrorKind)))

	return result
}

func (d *Dispatcher) classify(node models.Node, err error) models.Result {
	var adapterErr *protocol.AdapterError

	switch {
	case errors.As(err, &adapterErr):
		return models.Result{
			Success:   false,
			ErrorKind: adapterErr.Kind,
			Message:   adapterErr.Message,
		}
	case errors.Is(err, context.DeadlineExceeded):
		d.logger.Warn("Adapter call timed out",
			"node_id", node.ID, "platform", node.Platform, "action_type", node.ActionType)

		return models.Result{
			Success:   false,
			ErrorKind: models.ErrorKindRetryable,
			Message:   fmt.Sprintf("adapter call for %s/%s timed out", node.Platform, node.ActionType),
		}
	default:
		// Unclassified errors are treated as transport-level and retried.
		return models.Result{
			Success:   false,
			ErrorKind: models.ErrorKindRetryable,
			Message:   err.Error(),
		}
	}
}
