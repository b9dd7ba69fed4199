// Package history maintains the per-entity versioned change log: periodic
// snapshots with patch chains between them, each entry hashed over the
// canonical form of the materialized state.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/canonical"
	"github.com/latchflow/latchflow/internal/store"
)

// Serializer produces the current JSON-shaped state of an aggregate.
// Returning store.ErrNotFound means the entity no longer exists.
type Serializer func(ctx context.Context, entityType, entityID string) (any, error)

// PatchOp is one operation of a stored diff. The current producer emits a
// single root replace; Apply also accepts an empty op list (state
// unchanged).
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Actor identifies who caused an append.
type Actor struct {
	Type             store.ActorType
	UserID           string
	InvocationID     string
	ActionID         string
	OnBehalfOfUserID string
}

// AppendOptions carries optional annotation fields.
type AppendOptions struct {
	ChangeNote  string
	ChangedPath string
	ChangeKind  string
}

// Options tunes snapshot cadence.
type Options struct {
	// SnapshotInterval forces a snapshot every N versions. Minimum 1.
	SnapshotInterval int
	// MaxChainDepth caps consecutive patches before a forced snapshot.
	MaxChainDepth int
}

// Log appends and materializes versioned entity state.
type Log struct {
	store     store.Store
	serialize Serializer
	logger    *slog.Logger
	opts      Options
}

// NewLog builds a change log over the given store and serializer.
func NewLog(s store.Store, serialize Serializer, logger *slog.Logger, opts Options) *Log {
	if opts.SnapshotInterval < 1 {
		opts.SnapshotInterval = 20
	}
	if opts.MaxChainDepth < 1 {
		opts.MaxChainDepth = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: s, serialize: serialize, logger: logger, opts: opts}
}

// Append serializes the entity's current state and persists the next
// version, choosing snapshot or patch per the compaction policy.
func (l *Log) Append(ctx context.Context, entityType, entityID string, actor Actor, opts *AppendOptions) (*store.ChangeEntry, error) {
	state, err := l.serialize(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("serialize %s/%s: %w", entityType, entityID, err)
	}
	canonState, err := canonical.Canonicalize(state)
	if err != nil {
		return nil, fmt.Errorf("canonicalize %s/%s: %w", entityType, entityID, err)
	}
	hash, err := canonical.Hash(canonState)
	if err != nil {
		return nil, fmt.Errorf("hash %s/%s: %w", entityType, entityID, err)
	}

	latest, err := l.store.LatestChangeVersion(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	next := latest + 1

	snapshot := next == 1 || (next-1)%l.opts.SnapshotInterval == 0
	var prior any
	if !snapshot {
		prior, err = l.Materialize(ctx, entityType, entityID, latest)
		if err != nil || prior == nil {
			snapshot = true
		}
	}
	if !snapshot {
		depth, err := l.chainDepth(ctx, entityType, entityID, latest)
		if err != nil {
			return nil, err
		}
		if depth >= l.opts.MaxChainDepth {
			snapshot = true
		}
	}

	entry := &store.ChangeEntry{
		ID:               uuid.NewString(),
		EntityType:       entityType,
		EntityID:         entityID,
		Version:          next,
		IsSnapshot:       snapshot,
		Hash:             hash,
		ActorType:        actor.Type,
		ActorUserID:      actor.UserID,
		ActorInvocationID: actor.InvocationID,
		ActorActionID:    actor.ActionID,
		OnBehalfOfUserID: actor.OnBehalfOfUserID,
		CreatedAt:        time.Now().UTC(),
	}
	if opts != nil {
		entry.ChangeNote = opts.ChangeNote
		entry.ChangedPath = opts.ChangedPath
		entry.ChangeKind = opts.ChangeKind
	}
	if snapshot {
		entry.State = canonState
	} else {
		entry.Diff = diff(prior, canonState)
	}

	if err := l.store.AppendChangeEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("append %s/%s: %w", entityType, entityID, err)
	}
	l.logger.Debug("change log append",
		"entityType", entityType,
		"entityId", entityID,
		"version", entry.Version,
		"snapshot", entry.IsSnapshot,
	)
	return entry, nil
}

// Materialize folds the entry chain up to version and returns the
// reconstructed state, or nil when no entries exist.
func (l *Log) Materialize(ctx context.Context, entityType, entityID string, version int) (any, error) {
	entries, err := l.store.ListChangeEntries(ctx, entityType, entityID, version)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	var state any
	for _, entry := range entries {
		if entry.IsSnapshot {
			state = entry.State
			continue
		}
		state = applyPatch(state, entry.Diff)
	}
	return state, nil
}

// Latest returns the highest stored version, zero when none.
func (l *Log) Latest(ctx context.Context, entityType, entityID string) (int, error) {
	return l.store.LatestChangeVersion(ctx, entityType, entityID)
}

// Entries lists the raw chain up to maxVersion (<=0 for all).
func (l *Log) Entries(ctx context.Context, entityType, entityID string, maxVersion int) ([]*store.ChangeEntry, error) {
	return l.store.ListChangeEntries(ctx, entityType, entityID, maxVersion)
}

// chainDepth counts consecutive patch entries ending at version.
func (l *Log) chainDepth(ctx context.Context, entityType, entityID string, version int) (int, error) {
	entries, err := l.store.ListChangeEntries(ctx, entityType, entityID, version)
	if err != nil {
		return 0, err
	}
	depth := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsSnapshot {
			break
		}
		depth++
	}
	return depth, nil
}

// diff emits a root replace when the states differ, an empty op list when
// they are deep-equal.
func diff(prior, next any) []PatchOp {
	if reflect.DeepEqual(prior, next) {
		return []PatchOp{}
	}
	return []PatchOp{{Op: "replace", Path: "", Value: next}}
}

func applyPatch(state, raw any) any {
	switch ops := raw.(type) {
	case []PatchOp:
		for _, op := range ops {
			if op.Op == "replace" && op.Path == "" {
				state = op.Value
			}
		}
	case []any:
		// Diffs round-tripped through JSON arrive as generic maps.
		for _, item := range ops {
			op, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if op["op"] == "replace" && (op["path"] == "" || op["path"] == nil) {
				state = op["value"]
			}
		}
	}
	return state
}
