package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_UserLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateUser(ctx, &User{ID: "u-1", Email: "ops@example.com", IsActive: true}))
	require.ErrorIs(t, m.CreateUser(ctx, &User{ID: "u-2", Email: "OPS@example.com"}), ErrConflict)

	got, err := m.GetUserByEmail(ctx, "Ops@Example.com")
	require.NoError(t, err)
	require.Equal(t, "u-1", got.ID)

	// Mutating a returned row must not touch the stored copy.
	got.Email = "changed@example.com"
	again, err := m.GetUser(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", again.Email)

	_, err = m.GetUser(ctx, "u-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_DeleteProtection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateRecipient(ctx, &Recipient{ID: "r-1", Email: "r@example.com"}))
	require.NoError(t, m.CreateBundle(ctx, &Bundle{ID: "b-1", Name: "alpha"}))
	require.NoError(t, m.CreateAssignment(ctx, &BundleAssignment{ID: "ba-1", RecipientID: "r-1", BundleID: "b-1"}))

	require.ErrorIs(t, m.DeleteRecipient(ctx, "r-1"), ErrInUse)
	require.ErrorIs(t, m.DeleteBundle(ctx, "b-1"), ErrInUse)

	require.NoError(t, m.DeleteAssignment(ctx, "ba-1"))
	require.NoError(t, m.DeleteRecipient(ctx, "r-1"))
	require.NoError(t, m.DeleteBundle(ctx, "b-1"))
}

func TestMemory_FileDeleteBlockedByBundleObject(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateBundle(ctx, &Bundle{ID: "b-1"}))
	require.NoError(t, m.CreateFile(ctx, &File{ID: "f-1"}))
	require.NoError(t, m.CreateBundleObject(ctx, &BundleObject{ID: "bo-1", BundleID: "b-1", FileID: "f-1"}))

	require.ErrorIs(t, m.DeleteFile(ctx, "f-1"), ErrInUse)
	require.NoError(t, m.DeleteBundleObject(ctx, "bo-1"))
	require.NoError(t, m.DeleteFile(ctx, "f-1"))
}

func TestMemory_BundleObjectOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateBundle(ctx, &Bundle{ID: "b-1"}))
	for _, f := range []string{"f-1", "f-2", "f-3"} {
		require.NoError(t, m.CreateFile(ctx, &File{ID: f}))
	}
	require.NoError(t, m.CreateBundleObject(ctx, &BundleObject{ID: "bo-b", BundleID: "b-1", FileID: "f-2", SortOrder: 1}))
	require.NoError(t, m.CreateBundleObject(ctx, &BundleObject{ID: "bo-a", BundleID: "b-1", FileID: "f-1", SortOrder: 1}))
	require.NoError(t, m.CreateBundleObject(ctx, &BundleObject{ID: "bo-c", BundleID: "b-1", FileID: "f-3", SortOrder: 0}))

	objects, err := m.ListBundleObjects(ctx, "b-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(objects))
	for _, o := range objects {
		ids = append(ids, o.ID)
	}
	require.Equal(t, []string{"bo-c", "bo-a", "bo-b"}, ids)

	bundles, err := m.ListBundleIDsForFiles(ctx, []string{"f-1", "f-3"})
	require.NoError(t, err)
	require.Equal(t, []string{"b-1"}, bundles)
}

func TestMemory_RecordDownload(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateRecipient(ctx, &Recipient{ID: "r-1", Email: "r@example.com"}))
	require.NoError(t, m.CreateBundle(ctx, &Bundle{ID: "b-1"}))
	require.NoError(t, m.CreateAssignment(ctx, &BundleAssignment{ID: "ba-1", RecipientID: "r-1", BundleID: "b-1"}))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.RecordDownload(ctx, "ba-1", &DownloadEvent{ID: "d-1", AssignmentID: "ba-1", CreatedAt: now}))

	assignment, err := m.GetAssignment(ctx, "ba-1")
	require.NoError(t, err)
	require.Equal(t, 1, assignment.DownloadsUsed)
	require.NotNil(t, assignment.LastDownloadAt)
	require.True(t, assignment.LastDownloadAt.Equal(now))
}

func TestMemory_MagicLinkSingleUse(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateMagicLink(ctx, &MagicLink{ID: "ml-1", TokenHash: "h", UserID: "u-1"}))

	require.NoError(t, m.ConsumeMagicLink(ctx, "ml-1"))
	require.ErrorIs(t, m.ConsumeMagicLink(ctx, "ml-1"), ErrConflict)
}

func TestMemory_MappingsForTrigger(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateTriggerDefinition(ctx, &TriggerDefinition{ID: "t-1"}))
	require.NoError(t, m.CreateActionDefinition(ctx, &ActionDefinition{ID: "a-1"}))
	require.NoError(t, m.CreateActionDefinition(ctx, &ActionDefinition{ID: "a-2"}))

	require.NoError(t, m.CreateMapping(ctx, &TriggerActionMapping{ID: "m-2", TriggerID: "t-1", ActionID: "a-2", SortOrder: 2, IsEnabled: true}))
	require.NoError(t, m.CreateMapping(ctx, &TriggerActionMapping{ID: "m-1", TriggerID: "t-1", ActionID: "a-1", SortOrder: 1, IsEnabled: true}))
	require.NoError(t, m.CreateMapping(ctx, &TriggerActionMapping{ID: "m-3", TriggerID: "t-1", ActionID: "a-1", SortOrder: 0, IsEnabled: false}))

	mappings, err := m.ListMappingsForTrigger(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	require.Equal(t, "m-1", mappings[0].ID)
	require.Equal(t, "m-2", mappings[1].ID)

	// Definitions referenced by mappings cannot be deleted.
	require.ErrorIs(t, m.DeleteTriggerDefinition(ctx, "t-1"), ErrInUse)
	require.ErrorIs(t, m.DeleteActionDefinition(ctx, "a-1"), ErrInUse)
}

func TestMemory_ChangeLogDenseVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 5; i++ {
		entry := &ChangeEntry{ID: string(rune('a' + i)), EntityType: "BUNDLE", EntityID: "b-1"}
		require.NoError(t, m.AppendChangeEntry(ctx, entry))
		require.Equal(t, i+1, entry.Version)
	}

	latest, err := m.LatestChangeVersion(ctx, "BUNDLE", "b-1")
	require.NoError(t, err)
	require.Equal(t, 5, latest)

	entries, err := m.ListChangeEntries(ctx, "BUNDLE", "b-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, 1, entries[0].Version)
	require.Equal(t, 3, entries[2].Version)

	all, err := m.ListChangeEntries(ctx, "BUNDLE", "b-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)

	// An explicit stale version is rejected.
	require.ErrorIs(t, m.AppendChangeEntry(ctx, &ChangeEntry{EntityType: "BUNDLE", EntityID: "b-1", Version: 3}), ErrConflict)

	// Other entities keep an independent version sequence.
	other := &ChangeEntry{EntityType: "BUNDLE", EntityID: "b-2"}
	require.NoError(t, m.AppendChangeEntry(ctx, other))
	require.Equal(t, 1, other.Version)
}

func TestMemory_APITokenLookupAndRevoke(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateUser(ctx, &User{ID: "u-1", Email: "x@example.com"}))
	require.NoError(t, m.CreateAPIToken(ctx, &APIToken{ID: "tok-1", TokenHash: "hash-1", UserID: "u-1"}))

	token, err := m.GetAPITokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, "tok-1", token.ID)

	// Active token blocks user deletion.
	require.ErrorIs(t, m.DeleteUser(ctx, "u-1"), ErrInUse)
	require.NoError(t, m.RevokeAPIToken(ctx, "tok-1"))
	require.NoError(t, m.DeleteUser(ctx, "u-1"))
}
