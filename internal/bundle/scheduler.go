package bundle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/latchflow/latchflow/internal/store"
)

// BuildState is the scheduler's view of one bundle.
type BuildState string

const (
	StateIdle    BuildState = "idle"
	StateQueued  BuildState = "queued"
	StateRunning BuildState = "running"
)

// LastBuild summarizes the most recent completed build.
type LastBuild struct {
	When   time.Time   `json:"when"`
	Status BuildStatus `json:"status,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Status is the scheduler's answer for one bundle.
type Status struct {
	State BuildState `json:"state"`
	Last  *LastBuild `json:"last,omitempty"`
}

type bundleState struct {
	state       BuildState
	timer       *time.Timer
	force       bool
	queuedAgain bool
	again       bool // force carried by the queued-again pass
	last        *LastBuild
}

// Scheduler debounces rebuild requests per bundle and guarantees
// single-flight execution per bundle while allowing different bundles to
// build in parallel.
type Scheduler struct {
	builder  *Builder
	store    store.Store
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	bundles map[string]*bundleState
	wg      sync.WaitGroup
	stopped bool
}

// NewScheduler wires the scheduler; debounce <= 0 uses the 2s default.
func NewScheduler(builder *Builder, s store.Store, logger *slog.Logger, debounce time.Duration) *Scheduler {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		builder:  builder,
		store:    s,
		logger:   logger,
		debounce: debounce,
		bundles:  map[string]*bundleState{},
	}
}

// Schedule requests a rebuild. Repeated calls within the debounce window
// coalesce; force is sticky across the coalesced window. A call landing
// while a build runs marks the bundle to rebuild once more on completion.
func (s *Scheduler) Schedule(bundleID string, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	bs := s.bundles[bundleID]
	if bs == nil {
		bs = &bundleState{state: StateIdle}
		s.bundles[bundleID] = bs
	}
	switch bs.state {
	case StateRunning:
		bs.queuedAgain = true
		if force {
			bs.again = true
		}
	case StateQueued:
		bs.force = bs.force || force
		bs.timer.Reset(s.debounce)
	default:
		bs.state = StateQueued
		bs.force = force
		bs.timer = time.AfterFunc(s.debounce, func() { s.fire(bundleID) })
	}
}

// ScheduleForFiles schedules every bundle containing any of the files.
func (s *Scheduler) ScheduleForFiles(ctx context.Context, fileIDs []string, force bool) error {
	bundleIDs, err := s.store.ListBundleIDsForFiles(ctx, fileIDs)
	if err != nil {
		return err
	}
	for _, id := range bundleIDs {
		s.Schedule(id, force)
	}
	return nil
}

// GetStatus reports the scheduler state for one bundle.
func (s *Scheduler) GetStatus(bundleID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs := s.bundles[bundleID]
	if bs == nil {
		return Status{State: StateIdle}
	}
	status := Status{State: bs.state}
	if bs.last != nil {
		last := *bs.last
		status.Last = &last
	}
	return status
}

// Stop cancels pending timers and waits for running builds.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, bs := range s.bundles {
		if bs.state == StateQueued && bs.timer != nil {
			bs.timer.Stop()
			bs.state = StateIdle
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) fire(bundleID string) {
	s.mu.Lock()
	bs := s.bundles[bundleID]
	if bs == nil || bs.state != StateQueued || s.stopped {
		s.mu.Unlock()
		return
	}
	force := bs.force
	bs.state = StateRunning
	bs.force = false
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		result, err := s.builder.Build(context.Background(), bundleID, force)

		last := &LastBuild{When: time.Now().UTC()}
		if err != nil {
			last.Error = err.Error()
			s.logger.Error("bundle build failed", "bundleId", bundleID, "error", err)
		} else {
			last.Status = result.Status
		}

		s.mu.Lock()
		bs.state = StateIdle
		bs.last = last
		rearm := bs.queuedAgain && !s.stopped
		again := bs.again
		bs.queuedAgain = false
		bs.again = false
		s.mu.Unlock()

		if rearm {
			s.Schedule(bundleID, again)
		}
	}()
}
