// Package engine drives compiled execution plans through rate-limited,
// dispatcher-executed steps and owns the instance lifecycle state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/compiler"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/dispatcher"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/eventbus"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/events"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/ratelimit"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidTransition indicates an operation was requested from a
	// status that does not permit it.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrActiveWorker indicates the instance already has a running worker.
	ErrActiveWorker = errors.New("instance already has an active worker")

	// ErrNoActiveWorker indicates a pause was requested for an instance
	// with no running worker.
	ErrNoActiveWorker = errors.New("instance has no active worker")
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 1 * time.Second
	defaultBackoffCap  = 30 * time.Second
)

// Engine executes workflow instances, one worker goroutine per running
// instance. All engine waits (rate-limit suspensions, pacing delays,
// retry backoff) select on the instance context so cancel interrupts
// them immediately.
type Engine struct {
	store      store.Store
	limiter    *ratelimit.Limiter
	dispatcher *dispatcher.Dispatcher
	eventBus   eventbus.EventBus
	logger     *slog.Logger
	tracer     trace.Tracer

	dispatchTimeout time.Duration
	maxAttempts     int
	backoffBase     time.Duration
	backoffCap      time.Duration

	mu   sync.Mutex
	runs map[string]*run
}

// run is one instance's worker slot. pauseCh closes when a pause is
// requested so waits at the rate-limit gate and the pacing delay wake
// immediately instead of sleeping the denial out.
type run struct {
	instanceID string
	cancel     context.CancelFunc
	pause      atomic.Bool
	pauseCh    chan struct{}
	done       chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithDispatchTimeout bounds each adapter call.
func WithDispatchTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.dispatchTimeout = timeout
	}
}

// WithRetryPolicy sets the retryable-failure policy: attempts per node and
// the exponential backoff base and cap.
func WithRetryPolicy(maxAttempts int, base, cap time.Duration) Option {
	return func(e *Engine) {
		e.maxAttempts = maxAttempts
		e.backoffBase = base
		e.backoffCap = cap
	}
}

func NewEngine(
	workflowStore store.Store,
	limiter *ratelimit.Limiter,
	disp *dispatcher.Dispatcher,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Engine {
	engine := &Engine{
		store:           workflowStore,
		limiter:         limiter,
		dispatcher:      disp,
		eventBus:        eventBus,
		logger:          logger.With("module", "engine"),
		tracer:          tracer,
		dispatchTimeout: dispatcher.DefaultTimeout,
		maxAttempts:     defaultMaxAttempts,
		backoffBase:     defaultBackoffBase,
		backoffCap:      defaultBackoffCap,
		runs:            make(map[string]*run),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Start begins executing a pending instance from plan position zero.
func (e *Engine) Start(ctx context.Context, instanceID string) error {
	return e.begin(ctx, instanceID, models.InstanceStatusPending)
}

// Resume continues a paused instance from its persisted cursor. Completed
// nodes are never re-run.
func (e *Engine) Resume(ctx context.Context, instanceID string) error {
	return e.begin(ctx, instanceID, models.InstanceStatusPaused)
}

func (e *Engine) begin(ctx context.Context, instanceID string, from models.InstanceStatus) error {
	// The worker outlives the caller's request context.
	runCtx, cancel := context.WithCancel(context.Background())
	worker := &run{
		instanceID: instanceID,
		cancel:     cancel,
		pauseCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}

	// Reserve the worker slot before any store read. Concurrent begins
	// for the same instance can never both pass this check, and once the
	// instance can be observed as running, a concurrent Cancel always
	// finds a worker to signal.
	e.mu.Lock()
	if _, active := e.runs[instanceID]; active {
		e.mu.Unlock()
		cancel()

		return fmt.Errorf("instance %s: %w", instanceID, ErrActiveWorker)
	}
	e.runs[instanceID] = worker
	e.mu.Unlock()

	instance, err := e.store.Instance(ctx, instanceID)
	if err != nil {
		e.release(worker)

		return err
	}

	if instance.Status != from {
		e.release(worker)

		return fmt.Errorf("instance %s is %s, not %s: %w",
			instanceID, instance.Status, from, ErrInvalidTransition)
	}

	definition, err := e.store.Definition(ctx, instance.DefinitionID)
	if err != nil {
		e.release(worker)

		return err
	}

	plan, err := compiler.Compile(definition.ID, definition.Nodes, definition.Connections)
	if err != nil {
		e.release(worker)

		return fmt.Errorf("failed to compile definition %s: %w", definition.ID, err)
	}

	message := "Instance started"
	if from == models.InstanceStatusPaused {
		message = "Instance resumed"
	}

	// A Cancel that won the race appends cancelled first; the terminal
	// guard then rejects this transition and the reservation is released.
	err = e.store.AppendEvent(ctx, instanceID, models.Event{
		StatusChange: models.InstanceStatusRunning,
		Message:      message,
	})
	if err != nil {
		e.release(worker)

		return err
	}

	instance.Status = models.InstanceStatusRunning

	if from == models.InstanceStatusPaused {
		e.publish(ctx, instanceID, events.InstanceResumed{
			BaseEvent: events.NewBaseEvent(events.InstanceResumedEvent, instanceID, definition.ID),
			Cursor:    instance.Cursor,
		})
	} else {
		e.publish(ctx, instanceID, events.InstanceStarted{
			BaseEvent: events.NewBaseEvent(events.InstanceStartedEvent, instanceID, definition.ID),
			UserID:    instance.UserID,
			NodeCount: plan.Len(),
			Cursor:    instance.Cursor,
		})
	}

	go e.runLoop(runCtx, worker, instance, plan)

	return nil
}

// release drops a reserved worker slot that never reached runLoop and
// unblocks any Wait callers.
func (e *Engine) release(worker *run) {
	worker.cancel()

	e.mu.Lock()
	delete(e.runs, worker.instanceID)
	e.mu.Unlock()

	close(worker.done)
}

// Pause asks a running instance to stop after its in-flight step
// completes. A step still waiting at the rate-limit gate or in its
// pacing delay has dispatched nothing and stops immediately. The cursor
// already points at the next unexecuted step.
func (e *Engine) Pause(_ context.Context, instanceID string) error {
	e.mu.Lock()
	worker, active := e.runs[instanceID]
	e.mu.Unlock()

	if !active {
		return fmt.Errorf("instance %s: %w", instanceID, ErrNoActiveWorker)
	}

	if worker.pause.CompareAndSwap(false, true) {
		close(worker.pauseCh)
	}

	return nil
}

// Cancel moves any non-terminal instance to cancelled immediately and
// signals its worker, if one is active. The abort is cooperative: an
// in-flight adapter call is not forcibly killed and its eventual result
// is still recorded, but no further steps run. Already-applied external
// side effects are not rolled back.
func (e *Engine) Cancel(ctx context.Context, instanceID string) error {
	instance, err := e.store.Instance(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status.IsTerminal() {
		return fmt.Errorf("instance %s is already %s: %w",
			instanceID, instance.Status, ErrInvalidTransition)
	}

	err = e.store.AppendEvent(ctx, instanceID, models.Event{
		StatusChange: models.InstanceStatusCancelled,
		Message:      "Instance cancelled",
	})
	if err != nil {
		return err
	}

	e.publish(ctx, instanceID, events.InstanceCancelled{
		BaseEvent: events.NewBaseEvent(events.InstanceCancelledEvent, instanceID, instance.DefinitionID),
		Cursor:    instance.Cursor,
	})

	e.mu.Lock()
	worker, active := e.runs[instanceID]
	e.mu.Unlock()

	if active {
		worker.cancel()
	}

	return nil
}

// Wait returns a channel that closes when the instance's worker exits.
// If no worker is active the returned channel is already closed.
func (e *Engine) Wait(instanceID string) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if worker, active := e.runs[instanceID]; active {
		return worker.done
	}

	closed := make(chan struct{})
	close(closed)

	return closed
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	err := e.eventBus.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "key", key, "error", err)
	}
}
