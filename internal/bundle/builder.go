package bundle

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/latchflow/latchflow/internal/metrics"
	"github.com/latchflow/latchflow/internal/storage"
	"github.com/latchflow/latchflow/internal/store"
)

// ErrBundleNotFound reports a build request for a missing bundle.
var ErrBundleNotFound = errors.New("bundle: not found")

// BuildStatus is the terminal state of one build invocation.
type BuildStatus string

const (
	StatusBuilt   BuildStatus = "built"
	StatusSkipped BuildStatus = "skipped"
)

// BuildResult reports what a build produced.
type BuildResult struct {
	Status     BuildStatus `json:"status"`
	StorageKey string      `json:"storageKey,omitempty"`
	Checksum   string      `json:"checksum,omitempty"`
	Size       int64       `json:"size,omitempty"`
	Digest     string      `json:"digest"`
}

// Builder assembles bundle archives from content-addressed storage.
type Builder struct {
	store    store.Store
	storage  *storage.Service
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewBuilder wires the builder's collaborators.
func NewBuilder(s store.Store, svc *storage.Service, recorder *metrics.Recorder, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: s, storage: svc, recorder: recorder, logger: logger}
}

// Build produces the bundle archive unless the digest is unchanged.
// The archive is deterministic: entries in composition order, STORE
// method, epoch mtime, so identical inputs yield identical bytes.
func (b *Builder) Build(ctx context.Context, bundleID string, force bool) (*BuildResult, error) {
	started := time.Now()
	result, err := b.build(ctx, bundleID, force)
	status := "failed"
	if err == nil {
		status = string(result.Status)
	}
	b.recorder.ObserveBundleBuild(status, time.Since(started))
	return result, err
}

func (b *Builder) build(ctx context.Context, bundleID string, force bool) (*BuildResult, error) {
	bundle, err := b.store.GetBundle(ctx, bundleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, err
	}

	objects, err := b.store.ListBundleObjects(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	files := make(map[string]*store.File, len(objects))
	for _, object := range objects {
		if _, seen := files[object.FileID]; seen {
			continue
		}
		file, err := b.store.GetFile(ctx, object.FileID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files[object.FileID] = file
	}

	digest, err := ComputeDigest(objects, files)
	if err != nil {
		return nil, err
	}
	if !force && bundle.BundleDigest == digest {
		b.logger.Debug("bundle unchanged", "bundleId", bundleID, "digest", digest)
		return &BuildResult{Status: StatusSkipped, Digest: digest}, nil
	}

	archive, err := os.CreateTemp("", "latchflow-bundle-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create archive temp: %w", err)
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	if err := b.writeArchive(ctx, archive, objects, files); err != nil {
		return nil, err
	}
	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind archive: %w", err)
	}

	put, err := b.storage.PutFile(ctx, archive, "application/zip")
	if err != nil {
		return nil, fmt.Errorf("store archive: %w", err)
	}
	if err := b.store.UpdateBundlePointer(ctx, bundleID, put.StorageKey, put.SHA256, digest); err != nil {
		return nil, fmt.Errorf("update bundle pointer: %w", err)
	}

	b.logger.Info("bundle built",
		"bundleId", bundleID,
		"storageKey", put.StorageKey,
		"size", put.Size,
		"digest", digest,
	)
	return &BuildResult{
		Status:     StatusBuilt,
		StorageKey: put.StorageKey,
		Checksum:   put.SHA256,
		Size:       put.Size,
		Digest:     digest,
	}, nil
}

func (b *Builder) writeArchive(ctx context.Context, w io.Writer, objects []*store.BundleObject, files map[string]*store.File) error {
	zw := zip.NewWriter(w)
	for _, object := range objects {
		if !object.IsEnabled {
			continue
		}
		file := files[object.FileID]
		if file == nil || file.StorageKey == "" {
			continue
		}
		name := object.Path
		if name == "" {
			name = file.Key
		}
		if name == "" {
			name = file.ID
		}
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: time.Unix(0, 0).UTC(),
		})
		if err != nil {
			return fmt.Errorf("archive entry %s: %w", name, err)
		}
		stream, err := b.storage.GetFileStream(ctx, file.StorageKey)
		if err != nil {
			return fmt.Errorf("open file %s: %w", file.ID, err)
		}
		_, err = io.Copy(entry, stream)
		stream.Close()
		if err != nil {
			return fmt.Errorf("stream file %s: %w", file.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}
