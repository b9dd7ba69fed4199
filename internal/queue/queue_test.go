package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered messages in order.
type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func TestMemoryQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(nil)
	var got collector
	require.NoError(t, q.ConsumeActions(got.handle))

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, q.EnqueueAction(ctx, Message{ActionDefinitionID: id}))
	}

	require.Eventually(t, func() bool { return len(got.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	msgs := got.snapshot()
	require.Equal(t, "a-1", msgs[0].ActionDefinitionID)
	require.Equal(t, "a-2", msgs[1].ActionDefinitionID)
	require.Equal(t, "a-3", msgs[2].ActionDefinitionID)

	require.NoError(t, q.Stop(ctx))
	require.ErrorIs(t, q.EnqueueAction(ctx, Message{ActionDefinitionID: "late"}), ErrStopped)
}

func TestMemoryQueue_SingleConsumer(t *testing.T) {
	q := NewMemory(nil)
	var got collector
	require.NoError(t, q.ConsumeActions(got.handle))
	require.Error(t, q.ConsumeActions(got.handle))
	require.Error(t, q.ConsumeActions(nil))
	require.NoError(t, q.Stop(context.Background()))
}

func TestMemoryQueue_StopDrainsPending(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.EnqueueAction(ctx, Message{ActionDefinitionID: "a"}))
	}
	var got collector
	require.NoError(t, q.ConsumeActions(got.handle))
	require.NoError(t, q.Stop(ctx))
	require.Len(t, got.snapshot(), 5)
}

func TestValkeyQueue_RoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)

	q, err := NewValkey(ValkeyConfig{Address: srv.Addr()}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.EnqueueAction(ctx, Message{
		ActionDefinitionID: "a-1",
		TriggerEventID:     "ev-1",
		Context:            map[string]any{"fileId": "f-1"},
	}))
	require.NoError(t, q.EnqueueAction(ctx, Message{ActionDefinitionID: "a-2"}))

	var got collector
	require.NoError(t, q.ConsumeActions(got.handle))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, 5*time.Second, 25*time.Millisecond)
	msgs := got.snapshot()
	require.Equal(t, "a-1", msgs[0].ActionDefinitionID)
	require.Equal(t, "ev-1", msgs[0].TriggerEventID)
	require.Equal(t, "f-1", msgs[0].Context["fileId"])
	require.Equal(t, "a-2", msgs[1].ActionDefinitionID)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(stopCtx))
	require.ErrorIs(t, q.EnqueueAction(ctx, Message{ActionDefinitionID: "late"}), ErrStopped)
}

func TestValkeyQueue_RequiresAddress(t *testing.T) {
	_, err := NewValkey(ValkeyConfig{}, nil, nil)
	require.Error(t, err)
}
