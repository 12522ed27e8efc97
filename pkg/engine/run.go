package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/events"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/otelhelper"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/template"
	"go.opentelemetry.io/otel/attribute"
)

// ratelimitRecheck is the fallback suspension when the limiter denies an
// action without an advisory wait.
const ratelimitRecheck = 1 * time.Second

func (e *Engine) runLoop(ctx context.Context, worker *run, instance *models.WorkflowInstance, plan *models.ExecutionPlan) {
	defer func() {
		e.mu.Lock()
		delete(e.runs, instance.ID)
		e.mu.Unlock()

		close(worker.done)
	}()

	// Store writes must survive a mid-step cancel so the in-flight
	// result still lands in history.
	persistCtx := context.WithoutCancel(ctx)

	spanCtx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.run",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.WorkflowIDKey, instance.DefinitionID),
		attribute.String(otelhelper.UserIDKey, instance.UserID),
		attribute.Int(otelhelper.CursorKey, instance.Cursor),
	)
	defer span.End()

	logger := e.logger.With("instance_id", instance.ID, "definition_id", instance.DefinitionID)
	started := time.Now()

	// Outcomes from earlier runs count toward the completion tally after
	// a resume; dependency gates read instance.LastOutcome directly.
	succeeded, failed, skipped := 0, 0, 0

	for _, compiled := range plan.Nodes {
		outcome, ok := instance.LastOutcome(compiled.Node.ID)
		if !ok {
			continue
		}

		switch outcome {
		case models.NodeOutcomeCompleted:
			succeeded++
		case models.NodeOutcomeFailed:
			failed++
		case models.NodeOutcomeSkipped:
			skipped++
		}
	}

	// Completed-node data feeds parameter templates of downstream nodes,
	// across pause/resume boundaries.
	results := make(map[string]map[string]any)

	for _, event := range instance.History {
		if event.NodeOutcome == models.NodeOutcomeCompleted && event.Result != nil {
			results[event.NodeID] = event.Result
		}
	}

	cursor := instance.Cursor

	for cursor < plan.Len() {
		if ctx.Err() != nil {
			logger.InfoContext(persistCtx, "Worker stopped by cancellation", "cursor", cursor)

			return
		}

		if worker.pause.Load() {
			e.recordPause(persistCtx, instance, cursor, logger)

			return
		}

		compiled := plan.Nodes[cursor]

		outcome, dispatched := e.step(spanCtx, persistCtx, worker, instance, compiled, results, logger)
		if !dispatched && outcome == "" {
			// Interrupted while waiting; nothing was dispatched and
			// nothing is recorded for this node.
			if ctx.Err() == nil && worker.pause.Load() {
				e.recordPause(persistCtx, instance, cursor, logger)
			}

			return
		}

		switch outcome {
		case models.NodeOutcomeCompleted:
			succeeded++
		case models.NodeOutcomeFailed:
			failed++
		case models.NodeOutcomeSkipped:
			skipped++
		}

		cursor++

		err := e.store.UpdateCursor(persistCtx, instance.ID, cursor)
		if err != nil {
			logger.ErrorContext(persistCtx, "Failed to persist cursor", "cursor", cursor, "error", err)
		}
	}

	if ctx.Err() != nil {
		// The last step's result was recorded above; the cancelled
		// status was already set by Cancel.
		return
	}

	status := models.InstanceStatusFailed
	if succeeded > 0 || plan.Len() == 0 {
		status = models.InstanceStatusCompleted
	}

	e.appendEvent(persistCtx, instance.ID, models.Event{
		StatusChange: status,
		Message:      fmt.Sprintf("Instance finished: %d completed, %d failed, %d skipped", succeeded, failed, skipped),
	}, logger)

	duration := time.Since(started)

	if status == models.InstanceStatusCompleted {
		e.publish(persistCtx, instance.ID, events.InstanceCompleted{
			BaseEvent:      events.NewBaseEvent(events.InstanceCompletedEvent, instance.ID, instance.DefinitionID),
			NodesSucceeded: succeeded,
			NodesFailed:    failed,
			NodesSkipped:   skipped,
			Duration:       duration,
		})
	} else {
		e.publish(persistCtx, instance.ID, events.InstanceFailed{
			BaseEvent:      events.NewBaseEvent(events.InstanceFailedEvent, instance.ID, instance.DefinitionID),
			NodesSucceeded: succeeded,
			NodesFailed:    failed,
			Duration:       duration,
		})
	}

	logger.InfoContext(persistCtx, "Instance finished",
		"status", status, "succeeded", succeeded, "failed", failed, "skipped", skipped,
		"duration", duration)
}

// step executes one plan position: dependency gate, rate-limit gate,
// pacing delay, dispatch with retries, outcome recording. An empty
// outcome with dispatched=false means the wait was cancelled before any
// adapter call was issued.
func (e *Engine) step(
	ctx context.Context,
	persistCtx context.Context,
	worker *run,
	instance *models.WorkflowInstance,
	compiled models.CompiledNode,
	results map[string]map[string]any,
	logger *slog.Logger,
) (models.NodeOutcome, bool) {
	node := compiled.Node

	for _, depID := range compiled.DependsOn {
		outcome, _ := instance.LastOutcome(depID)
		if outcome == models.NodeOutcomeCompleted {
			continue
		}

		message := fmt.Sprintf("Skipped: dependency %s did not complete", depID)

		e.appendEvent(persistCtx, instance.ID, models.Event{
			NodeID:      node.ID,
			NodeOutcome: models.NodeOutcomeSkipped,
			Message:     message,
		}, logger)
		e.recordNodeOutcome(instance, node.ID, models.NodeOutcomeSkipped)

		skippedEvent := events.NodeSkipped{
			BaseEvent: events.NewBaseEvent(events.NodeSkippedEvent, instance.ID, instance.DefinitionID),
			NodeID:    node.ID,
			Reason:    message,
		}
		e.publish(persistCtx, instance.ID, skippedEvent)

		logger.InfoContext(persistCtx, "Node skipped", "node_id", node.ID, "dependency", depID)

		return models.NodeOutcomeSkipped, true
	}

	allowed, err := e.awaitRateLimit(ctx, worker, instance, node, logger)
	if err != nil {
		return e.failNode(persistCtx, instance, node, models.Result{
			ErrorKind: models.ErrorKindFatal,
			Message:   err.Error(),
		}, 0, logger), true
	}

	if !allowed {
		return "", false
	}

	delay, err := e.limiter.CalculateDelay(ctx, instance.UserID, node.Platform, node.ActionType)
	if err != nil {
		return e.failNode(persistCtx, instance, node, models.Result{
			ErrorKind: models.ErrorKindFatal,
			Message:   err.Error(),
		}, 0, logger), true
	}

	logger.DebugContext(ctx, "Pacing before dispatch",
		"node_id", node.ID, "platform", node.Platform, "delay", delay)

	if !sleepStep(ctx, worker, delay) {
		return "", false
	}

	parameters, err := template.RenderParameters(node.Parameters,
		template.ContextData(instance.UserID, instance.ID, instance.DefinitionID, results))
	if err != nil {
		// A template that does not parse will not parse on retry either.
		return e.failNode(persistCtx, instance, node, models.Result{
			ErrorKind: models.ErrorKindFatal,
			Message:   err.Error(),
		}, 0, logger), true
	}

	compiled.Node.Parameters = parameters

	result, attempts := e.dispatchWithRetries(ctx, compiled, logger)

	if result.Success {
		results[node.ID] = result.Data
		err = e.limiter.RecordAction(persistCtx, instance.UserID, node.Platform, node.ActionType)
		if err != nil {
			logger.WarnContext(persistCtx, "Failed to record action against rate limits",
				"node_id", node.ID, "error", err)
		}

		e.appendEvent(persistCtx, instance.ID, models.Event{
			NodeID:      node.ID,
			NodeOutcome: models.NodeOutcomeCompleted,
			Message:     fmt.Sprintf("%s/%s completed", node.Platform, node.ActionType),
			Result:      result.Data,
		}, logger)
		e.recordNodeOutcome(instance, node.ID, models.NodeOutcomeCompleted)

		e.publish(persistCtx, instance.ID, events.NodeCompleted{
			BaseEvent:  events.NewBaseEvent(events.NodeCompletedEvent, instance.ID, instance.DefinitionID),
			NodeID:     node.ID,
			Platform:   node.Platform,
			ActionType: node.ActionType,
			Data:       result.Data,
		})

		return models.NodeOutcomeCompleted, true
	}

	return e.failNode(persistCtx, instance, node, result, attempts, logger), true
}

// awaitRateLimit suspends until the limiter allows the action, a pause is
// requested, or the instance is cancelled. A daily-limit denial can hold
// the worker until the next UTC midnight, so the suspension must wake on
// pause, not only on cancel. Denials never consume the retry budget.
func (e *Engine) awaitRateLimit(ctx context.Context, worker *run, instance *models.WorkflowInstance, node models.Node, logger *slog.Logger) (bool, error) {
	for {
		if worker.pause.Load() {
			return false, nil
		}

		decision, err := e.limiter.CanProceed(ctx, instance.UserID, node.Platform, node.ActionType)
		if err != nil {
			logger.ErrorContext(ctx, "Rate limit check failed", "node_id", node.ID, "error", err)

			return false, err
		}

		if decision.Allowed {
			return true, nil
		}

		wait := decision.RetryAfter
		if wait <= 0 {
			wait = ratelimitRecheck
		}

		logger.InfoContext(ctx, "Suspended by rate limiter",
			"node_id", node.ID, "platform", node.Platform, "action_type", node.ActionType,
			"reason", decision.Reason, "retry_after", wait)

		if !sleepStep(ctx, worker, wait) {
			return false, nil
		}
	}
}

func (e *Engine) dispatchWithRetries(ctx context.Context, compiled models.CompiledNode, logger *slog.Logger) (models.Result, int) {
	node := compiled.Node

	var result models.Result

	attempt := 1
	for ; attempt <= e.maxAttempts; attempt++ {
		result = e.dispatcher.Execute(ctx, compiled, e.dispatchTimeout)
		if result.Success || result.ErrorKind == models.ErrorKindFatal {
			break
		}

		// A cancel mid-flight surfaces as a retryable result; the
		// caller records it as this node's eventual outcome.
		if ctx.Err() != nil || attempt == e.maxAttempts {
			break
		}

		backoff := e.backoffBase << (attempt - 1)
		if backoff > e.backoffCap {
			backoff = e.backoffCap
		}

		logger.WarnContext(ctx, "Retryable node failure, backing off",
			"node_id", node.ID, "attempt", attempt, "backoff", backoff, "error", result.Message)

		if !sleepCtx(ctx, backoff) {
			break
		}
	}

	if attempt > e.maxAttempts {
		attempt = e.maxAttempts
	}

	return result, attempt
}

func (e *Engine) failNode(
	persistCtx context.Context,
	instance *models.WorkflowInstance,
	node models.Node,
	result models.Result,
	attempts int,
	logger *slog.Logger,
) models.NodeOutcome {
	message := fmt.Sprintf("%s/%s failed (%s)", node.Platform, node.ActionType, result.ErrorKind)
	if attempts > 1 {
		message = fmt.Sprintf("%s/%s failed after %d attempts (%s)",
			node.Platform, node.ActionType, attempts, result.ErrorKind)
	}

	e.appendEvent(persistCtx, instance.ID, models.Event{
		NodeID:      node.ID,
		NodeOutcome: models.NodeOutcomeFailed,
		Message:     message,
		Error:       result.Message,
	}, logger)
	e.recordNodeOutcome(instance, node.ID, models.NodeOutcomeFailed)

	e.publish(persistCtx, instance.ID, events.NodeFailed{
		BaseEvent:  events.NewBaseEvent(events.NodeFailedEvent, instance.ID, instance.DefinitionID),
		NodeID:     node.ID,
		Platform:   node.Platform,
		ActionType: node.ActionType,
		ErrorKind:  result.ErrorKind,
		Error:      result.Message,
		Attempts:   attempts,
	})

	logger.WarnContext(persistCtx, "Node failed",
		"node_id", node.ID, "error_kind", result.ErrorKind, "attempts", attempts, "error", result.Message)

	return models.NodeOutcomeFailed
}

func (e *Engine) recordPause(persistCtx context.Context, instance *models.WorkflowInstance, cursor int, logger *slog.Logger) {
	e.appendEvent(persistCtx, instance.ID, models.Event{
		StatusChange: models.InstanceStatusPaused,
		Message:      "Instance paused",
	}, logger)

	e.publish(persistCtx, instance.ID, events.InstancePaused{
		BaseEvent: events.NewBaseEvent(events.InstancePausedEvent, instance.ID, instance.DefinitionID),
		Cursor:    cursor,
	})

	logger.InfoContext(persistCtx, "Instance paused", "cursor", cursor)
}

// appendEvent persists one history event. A terminal-state rejection is
// logged and swallowed here; it reaches no caller.
func (e *Engine) appendEvent(ctx context.Context, instanceID string, event models.Event, logger *slog.Logger) {
	err := e.store.AppendEvent(ctx, instanceID, event)
	if err == nil {
		return
	}

	if store.IsTerminalInstance(err) {
		logger.WarnContext(ctx, "Dropped status change for terminal instance",
			"attempted_status", event.StatusChange)

		return
	}

	logger.ErrorContext(ctx, "Failed to append event", "node_id", event.NodeID, "error", err)
}

// recordNodeOutcome mirrors a persisted node event into the worker's
// in-memory history copy so later dependency gates see it.
func (e *Engine) recordNodeOutcome(instance *models.WorkflowInstance, nodeID string, outcome models.NodeOutcome) {
	instance.History = append(instance.History, models.Event{
		Timestamp:   time.Now().UTC(),
		NodeID:      nodeID,
		NodeOutcome: outcome,
	})
}

func sleepCtx(ctx context.Context, duration time.Duration) bool {
	if duration <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sleepStep waits like sleepCtx but also wakes when a pause is requested.
// Used for pre-dispatch waits only; once an adapter call is in flight the
// step runs to its outcome.
func sleepStep(ctx context.Context, worker *run, duration time.Duration) bool {
	if worker.pause.Load() {
		return false
	}

	if duration <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-worker.pauseCh:
		return false
	case <-timer.C:
		return true
	}
}
