package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/metrics"
	"github.com/latchflow/latchflow/internal/plugins"
	"github.com/latchflow/latchflow/internal/queue"
	"github.com/latchflow/latchflow/internal/store"
)

// Consumer drains the action queue into plug-in executions and records
// one ActionInvocation per attempt.
type Consumer struct {
	store    store.Store
	queue    queue.Queue
	registry *plugins.Registry
	recorder *metrics.Recorder
	logger   *slog.Logger

	// retryDelay overrides action-requested delays in tests.
	retryFloor time.Duration
}

// NewConsumer wires the consumer; Start registers it with the queue.
func NewConsumer(s store.Store, q queue.Queue, registry *plugins.Registry, recorder *metrics.Recorder, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{store: s, queue: q, registry: registry, recorder: recorder, logger: logger}
}

// Start registers the handler. Call once.
func (c *Consumer) Start() error {
	return c.queue.ConsumeActions(c.handle)
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) error {
	started := time.Now().UTC()
	invocation := &store.ActionInvocation{
		ID:                 uuid.NewString(),
		ActionDefinitionID: msg.ActionDefinitionID,
		TriggerEventID:     msg.TriggerEventID,
		ManualInvokerID:    msg.ManualInvokerID,
		StartedAt:          started,
		Attempt:            msg.Attempt + 1,
	}

	result, capabilityID, err := c.execute(ctx, msg)
	finished := time.Now().UTC()
	invocation.FinishedAt = &finished

	switch {
	case err != nil:
		invocation.Status = store.InvocationFailed
		invocation.Error = err.Error()
		c.logger.Error("action invocation failed",
			"actionDefinitionId", msg.ActionDefinitionID,
			"triggerEventId", msg.TriggerEventID,
			"attempt", invocation.Attempt,
			"error", err,
		)
	case result != nil && result.Retry != nil:
		invocation.Status = store.InvocationRetry
		invocation.Error = result.Retry.Reason
		c.reschedule(msg, result.Retry)
	default:
		invocation.Status = store.InvocationSuccess
		if result != nil {
			invocation.Output = result.Output
		}
	}

	c.recorder.ObservePluginInvocation(capabilityID, string(invocation.Status), finished.Sub(started))
	if err := c.store.CreateActionInvocation(ctx, invocation); err != nil {
		c.logger.Error("record invocation failed", "actionDefinitionId", msg.ActionDefinitionID, "error", err)
	}
	return err
}

func (c *Consumer) execute(ctx context.Context, msg queue.Message) (*plugins.ExecuteResult, string, error) {
	def, err := c.store.GetActionDefinition(ctx, msg.ActionDefinitionID)
	if err != nil {
		return nil, "", fmt.Errorf("load action definition: %w", err)
	}
	if !def.IsEnabled {
		return nil, def.CapabilityID, fmt.Errorf("action definition %s is disabled", def.ID)
	}
	reg, ok := c.registry.GetActionByID(def.CapabilityID)
	if !ok {
		return nil, def.CapabilityID, fmt.Errorf("capability %q not registered", def.CapabilityID)
	}
	action, err := reg.Factory(def.Config)
	if err != nil {
		return nil, def.CapabilityID, fmt.Errorf("build action executor: %w", err)
	}
	result, err := action.Execute(ctx, plugins.ExecuteInput{Config: def.Config, Context: msg.Context})
	if err != nil {
		return nil, def.CapabilityID, err
	}
	return result, def.CapabilityID, nil
}

// reschedule re-enqueues the message after the action-requested delay.
func (c *Consumer) reschedule(msg queue.Message, retry *plugins.Retry) {
	delay := time.Duration(retry.DelayMs) * time.Millisecond
	if delay < c.retryFloor {
		delay = c.retryFloor
	}
	next := msg
	next.Attempt++
	time.AfterFunc(delay, func() {
		if err := c.queue.EnqueueAction(context.Background(), next); err != nil {
			c.logger.Error("retry enqueue failed", "actionDefinitionId", next.ActionDefinitionID, "error", err)
		}
	})
	c.logger.Info("action retry scheduled",
		"actionDefinitionId", msg.ActionDefinitionID,
		"delayMs", retry.DelayMs,
		"reason", retry.Reason,
		"attempt", next.Attempt,
	)
}
