package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/latchflow/internal/storage"
	"github.com/latchflow/latchflow/internal/store"
)

type fixture struct {
	store   *store.Memory
	storage *storage.Service
	builder *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	driver, err := storage.NewFSDriver(t.TempDir())
	require.NoError(t, err)
	svc := storage.NewService(driver, nil, nil)
	mem := store.NewMemory()
	return &fixture{
		store:   mem,
		storage: svc,
		builder: NewBuilder(mem, svc, nil, nil),
	}
}

func (f *fixture) addFile(t *testing.T, id, key, content string) {
	t.Helper()
	ctx := context.Background()
	put, err := f.storage.PutFile(ctx, strings.NewReader(content), "text/plain")
	require.NoError(t, err)
	require.NoError(t, f.store.CreateFile(ctx, &store.File{
		ID: id, Key: key, ContentHash: put.SHA256, StorageKey: put.StorageKey, Size: put.Size,
	}))
}

func TestComputeDigest(t *testing.T) {
	objects := []*store.BundleObject{
		{ID: "bo-1", FileID: "f-1", Path: "a.txt", Required: true, SortOrder: 0, IsEnabled: true},
		{ID: "bo-2", FileID: "f-2", Path: "b.txt", SortOrder: 1, IsEnabled: true},
		{ID: "bo-3", FileID: "f-3", Path: "c.txt", SortOrder: 2, IsEnabled: false},
	}
	files := map[string]*store.File{
		"f-1": {ID: "f-1", ContentHash: "h1"},
		// f-2 has no content hash yet; digest treats it as "".
	}

	first, err := ComputeDigest(objects, files)
	require.NoError(t, err)
	require.Len(t, first, 64)

	// Disabled rows do not participate.
	trimmed, err := ComputeDigest(objects[:2], files)
	require.NoError(t, err)
	require.Equal(t, first, trimmed)

	// Content hash landing changes the digest.
	files["f-2"] = &store.File{ID: "f-2", ContentHash: "h2"}
	changed, err := ComputeDigest(objects, files)
	require.NoError(t, err)
	require.NotEqual(t, first, changed)
}

func TestBuilder_DeterministicBytes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.CreateBundle(ctx, &store.Bundle{ID: "b-1", Name: "alpha", IsEnabled: true}))
	f.addFile(t, "f-1", "one.txt", "first file")
	f.addFile(t, "f-2", "two.txt", "second file")
	require.NoError(t, f.store.CreateBundleObject(ctx, &store.BundleObject{ID: "bo-1", BundleID: "b-1", FileID: "f-1", Path: "docs/one.txt", SortOrder: 0, IsEnabled: true}))
	require.NoError(t, f.store.CreateBundleObject(ctx, &store.BundleObject{ID: "bo-2", BundleID: "b-1", FileID: "f-2", SortOrder: 1, IsEnabled: true}))

	first, err := f.builder.Build(ctx, "b-1", false)
	require.NoError(t, err)
	require.Equal(t, StatusBuilt, first.Status)
	require.NotEmpty(t, first.Checksum)

	// Unchanged composition skips.
	skipped, err := f.builder.Build(ctx, "b-1", false)
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, skipped.Status)
	require.Equal(t, first.Digest, skipped.Digest)

	// Forcing rebuilds, and the bytes are identical: same checksum,
	// same content-addressed key.
	forced, err := f.builder.Build(ctx, "b-1", true)
	require.NoError(t, err)
	require.Equal(t, StatusBuilt, forced.Status)
	require.Equal(t, first.Checksum, forced.Checksum)
	require.Equal(t, first.StorageKey, forced.StorageKey)

	// Archive entries: composition order, STORE method, epoch mtime,
	// path fallback to file key.
	stream, err := f.storage.GetFileStream(ctx, first.StorageKey)
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	stream.Close()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	require.Equal(t, "docs/one.txt", zr.File[0].Name)
	require.Equal(t, "two.txt", zr.File[1].Name)
	for _, entry := range zr.File {
		require.Equal(t, zip.Store, entry.Method)
		require.True(t, entry.Modified.Before(time.Unix(60, 0)), "epoch mtime expected")
	}

	bundle, err := f.store.GetBundle(ctx, "b-1")
	require.NoError(t, err)
	require.Equal(t, first.StorageKey, bundle.StoragePath)
	require.Equal(t, first.Checksum, bundle.Checksum)
	require.Equal(t, first.Digest, bundle.BundleDigest)
}

func TestBuilder_SkipsFilesWithoutStorageKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.CreateBundle(ctx, &store.Bundle{ID: "b-1"}))
	f.addFile(t, "f-1", "present.txt", "content")
	require.NoError(t, f.store.CreateFile(ctx, &store.File{ID: "f-2", Key: "pending.txt"}))
	require.NoError(t, f.store.CreateBundleObject(ctx, &store.BundleObject{ID: "bo-1", BundleID: "b-1", FileID: "f-1", SortOrder: 0, IsEnabled: true}))
	require.NoError(t, f.store.CreateBundleObject(ctx, &store.BundleObject{ID: "bo-2", BundleID: "b-1", FileID: "f-2", SortOrder: 1, IsEnabled: true}))

	result, err := f.builder.Build(ctx, "b-1", false)
	require.NoError(t, err)
	require.Equal(t, StatusBuilt, result.Status)

	stream, err := f.storage.GetFileStream(ctx, result.StorageKey)
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	stream.Close()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	require.Equal(t, "present.txt", zr.File[0].Name)
}

func TestBuilder_MissingBundle(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(context.Background(), "nope", false)
	require.ErrorIs(t, err, ErrBundleNotFound)
}

func TestScheduler_DebounceAndQueuedAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.CreateBundle(ctx, &store.Bundle{ID: "b-1"}))
	f.addFile(t, "f-1", "a.txt", "a")
	require.NoError(t, f.store.CreateBundleObject(ctx, &store.BundleObject{ID: "bo-1", BundleID: "b-1", FileID: "f-1", IsEnabled: true}))

	sched := NewScheduler(f.builder, f.store, nil, 30*time.Millisecond)
	defer sched.Stop()

	// Burst of schedules collapses into one build.
	sched.Schedule("b-1", false)
	sched.Schedule("b-1", false)
	sched.Schedule("b-1", true)
	require.Equal(t, StateQueued, sched.GetStatus("b-1").State)

	require.Eventually(t, func() bool {
		status := sched.GetStatus("b-1")
		return status.State == StateIdle && status.Last != nil
	}, 2*time.Second, 10*time.Millisecond)

	status := sched.GetStatus("b-1")
	require.Equal(t, StatusBuilt, status.Last.Status)
	require.Empty(t, status.Last.Error)

	// Unchanged content: the next pass skips.
	sched.Schedule("b-1", false)
	require.Eventually(t, func() bool {
		status := sched.GetStatus("b-1")
		return status.State == StateIdle && status.Last != nil && status.Last.Status == StatusSkipped
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_ScheduleForFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.CreateBundle(ctx, &store.Bundle{ID: "b-1"}))
	require.NoError(t, f.store.CreateBundle(ctx, &store.Bundle{ID: "b-2"}))
	f.addFile(t, "f-1", "a.txt", "a")
	require.NoError(t, f.store.CreateBundleObject(ctx, &store.BundleObject{ID: "bo-1", BundleID: "b-1", FileID: "f-1", IsEnabled: true}))
	require.NoError(t, f.store.CreateBundleObject(ctx, &store.BundleObject{ID: "bo-2", BundleID: "b-2", FileID: "f-1", IsEnabled: true}))

	sched := NewScheduler(f.builder, f.store, nil, 10*time.Millisecond)
	defer sched.Stop()

	require.NoError(t, sched.ScheduleForFiles(ctx, []string{"f-1"}, false))
	require.Eventually(t, func() bool {
		return sched.GetStatus("b-1").State != StateIdle || sched.GetStatus("b-1").Last != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		s1, s2 := sched.GetStatus("b-1"), sched.GetStatus("b-2")
		return s1.Last != nil && s2.Last != nil
	}, 2*time.Second, 5*time.Millisecond)
}
