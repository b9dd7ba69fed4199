package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/latchflow/latchflow/internal/metrics"
)

const defaultListKey = "latchflow:actions"

// ValkeyConfig binds the durable driver to a server.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	// ListKey overrides the queue list name; empty uses the default.
	ListKey string
}

// ValkeyQueue is the durable driver: RPUSH to enqueue, BLPOP to consume.
// FIFO holds per list key.
type ValkeyQueue struct {
	client   valkey.Client
	key      string
	recorder *metrics.Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	handler Handler
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewValkey connects and pings the server.
func NewValkey(cfg ValkeyConfig, recorder *metrics.Recorder, logger *slog.Logger) (*ValkeyQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("queue: valkey address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("queue: valkey ping: %w", err)
	}

	key := cfg.ListKey
	if key == "" {
		key = defaultListKey
	}
	return &ValkeyQueue{client: client, key: key, recorder: recorder, logger: logger}, nil
}

var _ Queue = (*ValkeyQueue)(nil)

func (q *ValkeyQueue) EnqueueAction(ctx context.Context, msg Message) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	resp := q.client.Do(ctx, q.client.B().Rpush().Key(q.key).Element(string(payload)).Build())
	depth, err := resp.ToInt64()
	if err != nil {
		return fmt.Errorf("queue: rpush: %w", err)
	}
	q.recorder.SetQueueDepth(int(depth))
	return nil
}

func (q *ValkeyQueue) ConsumeActions(handler Handler) error {
	if handler == nil {
		return errors.New("queue: handler required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handler != nil {
		return errors.New("queue: consumer already registered")
	}
	if q.stopped {
		return ErrStopped
	}
	q.handler = handler
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.deliver(ctx)
	return nil
}

func (q *ValkeyQueue) deliver(ctx context.Context) {
	defer close(q.done)
	for {
		if ctx.Err() != nil {
			return
		}
		resp := q.client.Do(ctx, q.client.B().Blpop().Key(q.key).Timeout(1).Build())
		if err := resp.Error(); err != nil {
			if errors.Is(err, valkey.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.Error("queue blpop failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		fields, err := resp.AsStrSlice()
		if err != nil || len(fields) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(fields[1]), &msg); err != nil {
			q.logger.Error("queue message malformed", "error", err)
			continue
		}
		_ = q.handler(context.Background(), msg)
	}
}

func (q *ValkeyQueue) Stop(ctx context.Context) error {
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
	cancel := q.cancel
	done := q.done
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			q.client.Close()
			return ctx.Err()
		}
	}
	q.client.Close()
	return nil
}
