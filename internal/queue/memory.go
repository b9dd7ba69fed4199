package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/latchflow/latchflow/internal/metrics"
)

// MemoryQueue is the in-process reference driver: a mutex-guarded FIFO
// with a wake-up channel feeding one delivery goroutine.
type MemoryQueue struct {
	recorder *metrics.Recorder

	mu      sync.Mutex
	pending []Message
	wake    chan struct{}
	handler Handler
	stopped bool
	done    chan struct{}
}

// NewMemory returns an empty queue.
func NewMemory(recorder *metrics.Recorder) *MemoryQueue {
	return &MemoryQueue{
		recorder: recorder,
		wake:     make(chan struct{}, 1),
	}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) EnqueueAction(_ context.Context, msg Message) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.pending = append(q.pending, msg)
	depth := len(q.pending)
	q.mu.Unlock()

	q.recorder.SetQueueDepth(depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) ConsumeActions(handler Handler) error {
	if handler == nil {
		return errors.New("queue: handler required")
	}
	q.mu.Lock()
	if q.handler != nil {
		q.mu.Unlock()
		return errors.New("queue: consumer already registered")
	}
	q.handler = handler
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.deliver()
	return nil
}

func (q *MemoryQueue) deliver() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.stopped && len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			if _, ok := <-q.wake; !ok {
				return
			}
			continue
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		depth := len(q.pending)
		q.mu.Unlock()

		q.recorder.SetQueueDepth(depth)
		// Handler errors are the consumer's to record; delivery moves on.
		_ = q.handler(context.Background(), msg)
	}
}

func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		done := q.done
		q.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	q.stopped = true
	done := q.done
	q.mu.Unlock()

	close(q.wake)
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
