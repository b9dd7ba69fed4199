package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Executors bundles the named executor implementations a manifest can
// bind capabilities to.
type Executors struct {
	logger   *slog.Logger
	client   *http.Client
	triggers map[string]TriggerFactory
	actions  map[string]ActionFactory
}

// NewExecutors wires the built-in executor set.
func NewExecutors(logger *slog.Logger) *Executors {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executors{
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	e.triggers = map[string]TriggerFactory{
		"manual":   e.manualTrigger,
		"schedule": e.scheduleTrigger,
	}
	e.actions = map[string]ActionFactory{
		"webhook": e.webhookAction,
		"log":     e.logAction,
	}
	return e
}

// Trigger resolves a named trigger executor.
func (e *Executors) Trigger(name string) (TriggerFactory, bool) {
	f, ok := e.triggers[name]
	return f, ok
}

// Action resolves a named action executor.
func (e *Executors) Action(name string) (ActionFactory, bool) {
	f, ok := e.actions[name]
	return f, ok
}

// manualTrigger never fires on its own; it exists so definitions can be
// test-fired through the admin API.
func (e *Executors) manualTrigger(string, map[string]any, FireFunc) (TriggerRuntime, error) {
	return noopRuntime{}, nil
}

type noopRuntime struct{}

func (noopRuntime) Start(context.Context) error { return nil }
func (noopRuntime) Stop(context.Context) error  { return nil }

// scheduleTrigger fires on a fixed interval taken from config
// (intervalSeconds, minimum 1).
func (e *Executors) scheduleTrigger(definitionID string, config map[string]any, fire FireFunc) (TriggerRuntime, error) {
	interval := configInt(config, "intervalSeconds", 60)
	if interval < 1 {
		return nil, fmt.Errorf("plugins: schedule interval must be >= 1s, got %d", interval)
	}
	return &scheduleRuntime{
		definitionID: definitionID,
		interval:     time.Duration(interval) * time.Second,
		fire:         fire,
		logger:       e.logger,
	}, nil
}

type scheduleRuntime struct {
	definitionID string
	interval     time.Duration
	fire         FireFunc
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *scheduleRuntime) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case tick := <-ticker.C:
				payload := map[string]any{"scheduledAt": tick.UTC().Format(time.RFC3339)}
				if err := s.fire(runCtx, s.definitionID, payload); err != nil {
					s.logger.Error("scheduled trigger fire failed", "triggerDefinitionId", s.definitionID, "error", err)
				}
			}
		}
	}()
	return nil
}

func (s *scheduleRuntime) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// webhookAction POSTs the invocation context as JSON to config.url.
func (e *Executors) webhookAction(config map[string]any) (Action, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("plugins: webhook action requires a url")
	}
	return &webhookExecutor{client: e.client, url: url, config: config}, nil
}

type webhookExecutor struct {
	client *http.Client
	url    string
	config map[string]any
}

func (w *webhookExecutor) Execute(ctx context.Context, input ExecuteInput) (*ExecuteResult, error) {
	body, err := json.Marshal(map[string]any{"context": input.Context})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &ExecuteResult{Output: map[string]any{"status": resp.StatusCode}}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		delay := configInt(w.config, "retryDelayMs", 5000)
		return &ExecuteResult{Retry: &Retry{DelayMs: delay, Reason: fmt.Sprintf("upstream status %d", resp.StatusCode)}}, nil
	default:
		return nil, fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
}

// logAction writes the invocation context to the structured log. Useful
// as a wiring smoke test and in dev deployments.
func (e *Executors) logAction(config map[string]any) (Action, error) {
	message, _ := config["message"].(string)
	if message == "" {
		message = "action invoked"
	}
	logger := e.logger
	return actionFunc(func(_ context.Context, input ExecuteInput) (*ExecuteResult, error) {
		logger.Info(message, "context", input.Context)
		return &ExecuteResult{Output: map[string]any{"logged": true}}, nil
	}), nil
}

type actionFunc func(ctx context.Context, input ExecuteInput) (*ExecuteResult, error)

func (f actionFunc) Execute(ctx context.Context, input ExecuteInput) (*ExecuteResult, error) {
	return f(ctx, input)
}

func configInt(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}
