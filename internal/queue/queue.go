// Package queue carries action invocations from the trigger runner to
// the action consumer. Delivery is at-least-once and FIFO within a
// single driver instance.
package queue

import (
	"context"
	"errors"
)

// Message is one pending action invocation.
type Message struct {
	ActionDefinitionID string         `json:"actionDefinitionId"`
	TriggerEventID     string         `json:"triggerEventId,omitempty"`
	ManualInvokerID    string         `json:"manualInvokerId,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
	Attempt            int            `json:"attempt,omitempty"`
}

// Handler processes one message. A returned error leaves the message
// consumed; redelivery is the consumer's business via re-enqueue.
type Handler func(ctx context.Context, msg Message) error

// ErrStopped reports an enqueue against a stopped queue.
var ErrStopped = errors.New("queue: stopped")

// Queue is the minimal driver contract.
type Queue interface {
	// EnqueueAction appends a message.
	EnqueueAction(ctx context.Context, msg Message) error
	// ConsumeActions registers the single handler and starts delivery.
	// Only one registration is accepted.
	ConsumeActions(handler Handler) error
	// Stop halts delivery and waits for the in-flight message.
	Stop(ctx context.Context) error
}
