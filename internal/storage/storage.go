// Package storage provides the content-addressed object service backing
// file uploads and built bundle artifacts. Objects live under
// objects/sha256/aa/bb/<full-hash> regardless of driver; the fs driver
// writes through a temp file and rename, the s3 driver checks for the key
// before uploading.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"
)

// ErrNotFound reports a missing object key.
var ErrNotFound = errors.New("storage: object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
}

// Driver is one storage backend. Keys are opaque slash-separated paths.
type Driver interface {
	Name() string
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (etag string, err error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by drivers that can mint direct download URLs.
type Presigner interface {
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// PutResult reports where content-addressed bytes landed.
type PutResult struct {
	StorageKey  string `json:"storageKey"`
	SHA256      string `json:"sha256"`
	StorageEtag string `json:"storageEtag,omitempty"`
	Size        int64  `json:"size"`
}

// Service is the content-addressed layer over a Driver.
type Service struct {
	driver  Driver
	signer  *LinkSigner
	logger  *slog.Logger
	encMode EncryptionMode
	encKey  []byte
}

// NewService wires a driver and release-link signer.
func NewService(driver Driver, signer *LinkSigner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{driver: driver, signer: signer, logger: logger}
}

// DriverName reports the active backend, for health output.
func (s *Service) DriverName() string { return s.driver.Name() }

// encSidecarSuffix marks the metadata object stored alongside sealed
// bytes. Objects without a sidecar were stored before encryption was
// enabled and read back as-is.
const encSidecarSuffix = ".enc.json"

// EnableEncryption turns on at-rest sealing for objects stored from now
// on. Content hashes are always computed over the plaintext, so the
// object key does not change with the mode.
func (s *Service) EnableEncryption(mode EncryptionMode, masterKey []byte) error {
	switch mode {
	case "", EncryptionNone:
		return nil
	case EncryptionAESGCM:
		if _, err := newGCM(masterKey); err != nil {
			return err
		}
		s.encMode = mode
		s.encKey = masterKey
		return nil
	default:
		return fmt.Errorf("storage: unknown encryption mode %q", mode)
	}
}

// objectKey derives the canonical layout for a content hash.
func objectKey(sum string) string {
	return path.Join("objects", "sha256", sum[:2], sum[2:4], sum)
}

// PutFile spools the body while hashing it, then stores it under its
// content-addressed key. Re-putting identical bytes is a no-op.
func (s *Service) PutFile(ctx context.Context, body io.Reader, contentType string) (*PutResult, error) {
	tmp, err := os.CreateTemp("", "latchflow-put-*")
	if err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), body)
	if err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	key := objectKey(sum)

	if info, err := s.driver.Head(ctx, key); err == nil {
		return &PutResult{StorageKey: key, SHA256: sum, StorageEtag: info.ETag, Size: info.Size}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind spool: %w", err)
	}
	payload := io.Reader(tmp)
	if s.encMode == EncryptionAESGCM {
		sealed, meta, err := WrapEncryptStream(s.encMode, s.encKey, tmp)
		if err != nil {
			return nil, err
		}
		sidecar, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode encryption sidecar: %w", err)
		}
		if _, err := s.driver.Put(ctx, key+encSidecarSuffix, bytes.NewReader(sidecar), int64(len(sidecar)), "application/json"); err != nil {
			return nil, err
		}
		payload = sealed
	}
	etag, err := s.driver.Put(ctx, key, payload, size, contentType)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("object stored", "key", key, "size", size, "driver", s.driver.Name())
	return &PutResult{StorageKey: key, SHA256: sum, StorageEtag: etag, Size: size}, nil
}

// GetFileStream opens the object for reading, transparently unsealing
// when a sidecar says the bytes were stored encrypted.
func (s *Service) GetFileStream(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.driver.Get(ctx, key)
	if err != nil || s.encMode != EncryptionAESGCM {
		return rc, err
	}
	metaRC, err := s.driver.Get(ctx, key+encSidecarSuffix)
	if errors.Is(err, ErrNotFound) {
		return rc, nil
	}
	if err != nil {
		rc.Close()
		return nil, err
	}
	var meta EncryptionMetadata
	decodeErr := json.NewDecoder(metaRC).Decode(&meta)
	metaRC.Close()
	if decodeErr != nil {
		rc.Close()
		return nil, fmt.Errorf("decode encryption sidecar: %w", decodeErr)
	}
	defer rc.Close()
	plain, err := WrapDecryptStream(s.encMode, s.encKey, &meta, rc)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(plain), nil
}

// HeadFile returns object metadata.
func (s *Service) HeadFile(ctx context.Context, key string) (*ObjectInfo, error) {
	return s.driver.Head(ctx, key)
}

// DeleteFile removes the object and any encryption sidecar; deleting a
// missing key is not an error.
func (s *Service) DeleteFile(ctx context.Context, key string) error {
	if err := s.driver.Delete(ctx, key+encSidecarSuffix); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	err := s.driver.Delete(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ReleaseLink is a signed, time-bounded portal download URL.
type ReleaseLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateReleaseLink mints a signed portal URL for one assignment. The
// portal download endpoint is the verifier.
func (s *Service) CreateReleaseLink(bundleID, recipientID string, ttl time.Duration) (*ReleaseLink, error) {
	if s.signer == nil {
		return nil, errors.New("storage: release links not configured")
	}
	return s.signer.Sign(bundleID, recipientID, time.Now().Add(ttl))
}

// VerifyReleaseLink checks a portal link signature and expiry.
func (s *Service) VerifyReleaseLink(bundleID, recipientID string, expires int64, sig string) error {
	if s.signer == nil {
		return errors.New("storage: release links not configured")
	}
	return s.signer.Verify(bundleID, recipientID, expires, sig)
}

// ArtifactURL returns a direct download URL when the driver supports
// presigning, otherwise ok=false and the caller streams the bytes itself.
func (s *Service) ArtifactURL(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	presigner, ok := s.driver.(Presigner)
	if !ok {
		return "", false, nil
	}
	url, err := presigner.Presign(ctx, key, ttl)
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}
