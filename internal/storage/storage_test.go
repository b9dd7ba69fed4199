package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newFSService(t *testing.T) *Service {
	t.Helper()
	driver, err := NewFSDriver(t.TempDir())
	require.NoError(t, err)
	return NewService(driver, NewLinkSigner([]byte("test-secret"), "http://localhost:3001"), nil)
}

func TestService_PutFileContentAddressed(t *testing.T) {
	ctx := context.Background()
	svc := newFSService(t)

	first, err := svc.PutFile(ctx, strings.NewReader("hello world"), "text/plain")
	require.NoError(t, err)
	require.Equal(t, int64(11), first.Size)
	require.Len(t, first.SHA256, 64)
	require.Equal(t, "objects/sha256/"+first.SHA256[:2]+"/"+first.SHA256[2:4]+"/"+first.SHA256, first.StorageKey)

	// Same bytes land on the same key.
	second, err := svc.PutFile(ctx, strings.NewReader("hello world"), "text/plain")
	require.NoError(t, err)
	require.Equal(t, first.StorageKey, second.StorageKey)

	stream, err := svc.GetFileStream(ctx, first.StorageKey)
	require.NoError(t, err)
	defer stream.Close()
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	info, err := svc.HeadFile(ctx, first.StorageKey)
	require.NoError(t, err)
	require.Equal(t, int64(11), info.Size)
}

func TestService_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newFSService(t)

	res, err := svc.PutFile(ctx, strings.NewReader("bytes"), "")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteFile(ctx, res.StorageKey))
	require.NoError(t, svc.DeleteFile(ctx, res.StorageKey))

	_, err = svc.GetFileStream(ctx, res.StorageKey)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_ArtifactURLUnsupportedOnFS(t *testing.T) {
	svc := newFSService(t)
	_, ok, err := svc.ArtifactURL(context.Background(), "objects/sha256/aa/bb/x", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLinkSigner_RoundTrip(t *testing.T) {
	signer := NewLinkSigner([]byte("secret"), "https://dl.example.com")
	expires := time.Now().Add(time.Hour)

	link, err := signer.Sign("b-1", "r-1", expires)
	require.NoError(t, err)
	require.Contains(t, link.URL, "/portal/bundles/b-1/download?")
	require.Contains(t, link.URL, "recipient=r-1")

	require.NoError(t, signer.Verify("b-1", "r-1", expires.Unix(), signer.mac("b-1", "r-1", expires.Unix())))
	require.ErrorIs(t, signer.Verify("b-2", "r-1", expires.Unix(), signer.mac("b-1", "r-1", expires.Unix())), ErrLinkInvalid)

	past := time.Now().Add(-time.Minute).Unix()
	require.ErrorIs(t, signer.Verify("b-1", "r-1", past, signer.mac("b-1", "r-1", past)), ErrLinkExpired)
}

func TestEncryption_AESGCMRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)

	sealed, meta, err := WrapEncryptStream(EncryptionAESGCM, key, strings.NewReader("secret payload"))
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Equal(t, "aes-256-gcm", meta.Algorithm)

	ciphertext, err := io.ReadAll(sealed)
	require.NoError(t, err)
	require.NotEqual(t, "secret payload", string(ciphertext))

	plain, err := WrapDecryptStream(EncryptionAESGCM, key, meta, bytes.NewReader(ciphertext))
	require.NoError(t, err)
	data, err := io.ReadAll(plain)
	require.NoError(t, err)
	require.Equal(t, "secret payload", string(data))

	// Tampering trips the auth tag.
	ciphertext[0] ^= 0xff
	_, err = WrapDecryptStream(EncryptionAESGCM, key, meta, bytes.NewReader(ciphertext))
	require.Error(t, err)
}

func TestService_EncryptedPutAndGet(t *testing.T) {
	ctx := context.Background()
	driver, err := NewFSDriver(t.TempDir())
	require.NoError(t, err)
	svc := NewService(driver, nil, nil)
	key := bytes.Repeat([]byte{0x42}, 32)
	require.NoError(t, svc.EnableEncryption(EncryptionAESGCM, key))

	res, err := svc.PutFile(ctx, strings.NewReader("sealed at rest"), "text/plain")
	require.NoError(t, err)

	// The driver sees ciphertext plus a sidecar.
	raw, err := driver.Get(ctx, res.StorageKey)
	require.NoError(t, err)
	cipherBytes, err := io.ReadAll(raw)
	raw.Close()
	require.NoError(t, err)
	require.NotEqual(t, "sealed at rest", string(cipherBytes))
	_, err = driver.Head(ctx, res.StorageKey+encSidecarSuffix)
	require.NoError(t, err)

	// The service reads back plaintext.
	stream, err := svc.GetFileStream(ctx, res.StorageKey)
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	stream.Close()
	require.NoError(t, err)
	require.Equal(t, "sealed at rest", string(data))

	// Deletion sweeps the sidecar with the object.
	require.NoError(t, svc.DeleteFile(ctx, res.StorageKey))
	_, err = driver.Head(ctx, res.StorageKey+encSidecarSuffix)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEncryption_KeyValidation(t *testing.T) {
	_, _, err := WrapEncryptStream(EncryptionAESGCM, []byte("short"), strings.NewReader("x"))
	require.Error(t, err)

	// none mode passes through untouched.
	out, meta, err := WrapEncryptStream(EncryptionNone, nil, strings.NewReader("plain"))
	require.NoError(t, err)
	require.Nil(t, meta)
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	require.Equal(t, "plain", string(data))
}
