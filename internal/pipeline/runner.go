package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/plugins"
	"github.com/latchflow/latchflow/internal/queue"
	"github.com/latchflow/latchflow/internal/store"
)

// ErrTriggerNotFound reports a fire against an unknown definition.
var ErrTriggerNotFound = errors.New("pipeline: trigger definition not found")

// Runner turns trigger fires into queued action invocations and
// supervises long-lived trigger runtimes.
type Runner struct {
	store    store.Store
	queue    queue.Queue
	registry *plugins.Registry
	cond     *conditionEvaluator
	logger   *slog.Logger

	mu       sync.Mutex
	runtimes map[string]plugins.TriggerRuntime
}

// NewRunner wires the runner's collaborators.
func NewRunner(s store.Store, q queue.Queue, registry *plugins.Registry, logger *slog.Logger) (*Runner, error) {
	cond, err := newConditionEvaluator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    s,
		queue:    q,
		registry: registry,
		cond:     cond,
		logger:   logger,
		runtimes: map[string]plugins.TriggerRuntime{},
	}, nil
}

// FireTriggerOnce records the trigger event and enqueues one message per
// enabled mapping whose condition passes. Duplicate fires produce
// duplicate events; idempotency is the caller's concern.
func (r *Runner) FireTriggerOnce(ctx context.Context, triggerDefinitionID string, fireContext map[string]any) (*store.TriggerEvent, error) {
	if _, err := r.store.GetTriggerDefinition(ctx, triggerDefinitionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTriggerNotFound
		}
		return nil, err
	}

	event := &store.TriggerEvent{
		ID:                  uuid.NewString(),
		TriggerDefinitionID: triggerDefinitionID,
		Context:             fireContext,
		CreatedAt:           time.Now().UTC(),
	}
	if err := r.store.CreateTriggerEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("record trigger event: %w", err)
	}

	mappings, err := r.store.ListMappingsForTrigger(ctx, triggerDefinitionID)
	if err != nil {
		return nil, err
	}
	enqueued := 0
	for _, mapping := range mappings {
		pass, err := r.cond.Evaluate(mapping.Condition, triggerDefinitionID, fireContext)
		if err != nil {
			r.logger.Error("mapping condition failed",
				"mappingId", mapping.ID,
				"triggerDefinitionId", triggerDefinitionID,
				"error", err,
			)
			continue
		}
		if !pass {
			continue
		}
		msg := queue.Message{
			ActionDefinitionID: mapping.ActionID,
			TriggerEventID:     event.ID,
			Context:            fireContext,
		}
		if err := r.queue.EnqueueAction(ctx, msg); err != nil {
			return nil, fmt.Errorf("enqueue action %s: %w", mapping.ActionID, err)
		}
		enqueued++
	}

	r.logger.Info("trigger fired",
		"triggerDefinitionId", triggerDefinitionID,
		"triggerEventId", event.ID,
		"actionsEnqueued", enqueued,
	)
	return event, nil
}

// StartTriggers builds and starts a runtime for every enabled trigger
// definition whose capability is registered. Missing capabilities are
// logged and skipped so one broken plug-in does not block boot.
func (r *Runner) StartTriggers(ctx context.Context) error {
	defs, err := r.store.ListTriggerDefinitions(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if !def.IsEnabled {
			continue
		}
		if err := r.startRuntime(ctx, def); err != nil {
			r.logger.Error("trigger runtime start failed",
				"triggerDefinitionId", def.ID,
				"capabilityId", def.CapabilityID,
				"error", err,
			)
		}
	}
	return nil
}

func (r *Runner) startRuntime(ctx context.Context, def *store.TriggerDefinition) error {
	reg, ok := r.registry.GetTriggerByID(def.CapabilityID)
	if !ok {
		return fmt.Errorf("capability %q not registered", def.CapabilityID)
	}
	runtime, err := reg.Factory(def.ID, def.Config, func(fireCtx context.Context, id string, payload map[string]any) error {
		_, err := r.FireTriggerOnce(fireCtx, id, payload)
		return err
	})
	if err != nil {
		return err
	}
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.runtimes[def.ID] = runtime
	r.mu.Unlock()
	return nil
}

// StopTriggers stops every running trigger runtime.
func (r *Runner) StopTriggers(ctx context.Context) {
	r.mu.Lock()
	runtimes := r.runtimes
	r.runtimes = map[string]plugins.TriggerRuntime{}
	r.mu.Unlock()
	for id, runtime := range runtimes {
		if err := runtime.Stop(ctx); err != nil {
			r.logger.Error("trigger runtime stop failed", "triggerDefinitionId", id, "error", err)
		}
	}
}
