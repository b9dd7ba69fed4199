package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FSDriver stores objects under a base directory. Writes go through a
// temp file in the target directory followed by a rename, so readers
// never observe partial objects.
type FSDriver struct {
	base string
}

// NewFSDriver creates the base directory if needed.
func NewFSDriver(base string) (*FSDriver, error) {
	if base == "" {
		return nil, errors.New("storage: fs base path required")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSDriver{base: base}, nil
}

func (d *FSDriver) Name() string { return "fs" }

func (d *FSDriver) path(key string) string {
	return filepath.Join(d.base, filepath.FromSlash(key))
}

func (d *FSDriver) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	dest := d.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize object %s: %w", key, err)
	}
	return "", nil
}

func (d *FSDriver) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (d *FSDriver) Head(_ context.Context, key string) (*ObjectInfo, error) {
	info, err := os.Stat(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ObjectInfo{Key: key, Size: info.Size()}, nil
}

func (d *FSDriver) Delete(_ context.Context, key string) error {
	err := os.Remove(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
