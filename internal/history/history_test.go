package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/latchflow/internal/canonical"
	"github.com/latchflow/latchflow/internal/store"
)

// mutableSerializer serves whatever state the test last assigned.
type mutableSerializer struct {
	state any
}

func (s *mutableSerializer) serialize(context.Context, string, string) (any, error) {
	return s.state, nil
}

func TestLog_SnapshotPatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := &mutableSerializer{}
	log := NewLog(store.NewMemory(), src.serialize, nil, Options{SnapshotInterval: 20})

	// 21 versions A..U.
	for i := 0; i < 21; i++ {
		src.state = map[string]any{"name": string(rune('A' + i))}
		entry, err := log.Append(ctx, "BUNDLE", "b-1", Actor{Type: store.ActorUser, UserID: "u-1"}, nil)
		require.NoError(t, err)
		require.Equal(t, i+1, entry.Version)

		wantHash, err := canonical.Hash(src.state)
		require.NoError(t, err)
		require.Equal(t, wantHash, entry.Hash)
	}

	entries, err := log.Entries(ctx, "BUNDLE", "b-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 21)
	require.True(t, entries[0].IsSnapshot)
	require.True(t, entries[20].IsSnapshot)
	for _, entry := range entries[1:20] {
		require.False(t, entry.IsSnapshot, "version %d", entry.Version)
	}

	state, err := log.Materialize(ctx, "BUNDLE", "b-1", 15)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "O"}, state)

	// Every stored hash matches the materialized state's canonical hash.
	for v := 1; v <= 21; v++ {
		materialized, err := log.Materialize(ctx, "BUNDLE", "b-1", v)
		require.NoError(t, err)
		wantHash, err := canonical.Hash(materialized)
		require.NoError(t, err)
		require.Equal(t, wantHash, entries[v-1].Hash, "version %d", v)
	}
}

func TestLog_MaterializeMissingEntity(t *testing.T) {
	log := NewLog(store.NewMemory(), (&mutableSerializer{}).serialize, nil, Options{})
	state, err := log.Materialize(context.Background(), "BUNDLE", "missing", 5)
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestLog_MaxChainDepthForcesSnapshot(t *testing.T) {
	ctx := context.Background()
	src := &mutableSerializer{}
	log := NewLog(store.NewMemory(), src.serialize, nil, Options{SnapshotInterval: 1000, MaxChainDepth: 3})

	for i := 0; i < 6; i++ {
		src.state = map[string]any{"n": i}
		_, err := log.Append(ctx, "USER", "u-1", Actor{Type: store.ActorSystem}, nil)
		require.NoError(t, err)
	}

	entries, err := log.Entries(ctx, "USER", "u-1", 0)
	require.NoError(t, err)
	// v1 snapshot, v2..v4 patches (depth hits 3), v5 snapshot, v6 patch.
	require.True(t, entries[0].IsSnapshot)
	require.False(t, entries[1].IsSnapshot)
	require.False(t, entries[2].IsSnapshot)
	require.False(t, entries[3].IsSnapshot)
	require.True(t, entries[4].IsSnapshot)
	require.False(t, entries[5].IsSnapshot)
}

func TestLog_IdenticalStatePatchIsEmpty(t *testing.T) {
	ctx := context.Background()
	src := &mutableSerializer{state: map[string]any{"name": "same"}}
	log := NewLog(store.NewMemory(), src.serialize, nil, Options{SnapshotInterval: 20})

	_, err := log.Append(ctx, "BUNDLE", "b-1", Actor{Type: store.ActorUser}, nil)
	require.NoError(t, err)
	entry, err := log.Append(ctx, "BUNDLE", "b-1", Actor{Type: store.ActorUser}, nil)
	require.NoError(t, err)
	require.False(t, entry.IsSnapshot)
	require.Empty(t, entry.Diff)

	state, err := log.Materialize(ctx, "BUNDLE", "b-1", 2)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "same"}, state)
}

func TestLog_AnnotationsPersisted(t *testing.T) {
	ctx := context.Background()
	src := &mutableSerializer{state: map[string]any{"name": "x"}}
	log := NewLog(store.NewMemory(), src.serialize, nil, Options{})

	entry, err := log.Append(ctx, "BUNDLE", "b-1",
		Actor{Type: store.ActorAction, ActionID: "act-1", InvocationID: "inv-1", OnBehalfOfUserID: "u-9"},
		&AppendOptions{ChangeNote: "rebuilt", ChangeKind: "UPDATE", ChangedPath: "/name"})
	require.NoError(t, err)
	require.Equal(t, store.ActorAction, entry.ActorType)
	require.Equal(t, "act-1", entry.ActorActionID)
	require.Equal(t, "rebuilt", entry.ChangeNote)
	require.Equal(t, "UPDATE", entry.ChangeKind)
}
