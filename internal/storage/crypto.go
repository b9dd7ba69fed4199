package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// EncryptionMode selects the at-rest wrapper.
type EncryptionMode string

const (
	EncryptionNone   EncryptionMode = "none"
	EncryptionAESGCM EncryptionMode = "aes-gcm"
)

// EncryptionMetadata is the sidecar a decryptor needs.
type EncryptionMetadata struct {
	Algorithm string `json:"algorithm"`
	IV        string `json:"iv"`
	AuthTag   string `json:"authTag"`
}

const gcmAlgorithm = "aes-256-gcm"

// WrapEncryptStream seals the plaintext per the configured mode. For
// aes-gcm the input is buffered so the auth tag can be computed; the
// returned metadata is nil in none mode.
func WrapEncryptStream(mode EncryptionMode, masterKey []byte, plain io.Reader) (io.Reader, *EncryptionMetadata, error) {
	switch mode {
	case "", EncryptionNone:
		return plain, nil, nil
	case EncryptionAESGCM:
		gcm, err := newGCM(masterKey)
		if err != nil {
			return nil, nil, err
		}
		data, err := io.ReadAll(plain)
		if err != nil {
			return nil, nil, fmt.Errorf("read plaintext: %w", err)
		}
		iv := make([]byte, gcm.NonceSize())
		if _, err := rand.Read(iv); err != nil {
			return nil, nil, fmt.Errorf("generate iv: %w", err)
		}
		sealed := gcm.Seal(nil, iv, data, nil)
		// Seal appends the tag; split it out so the sidecar matches the
		// ciphertext bytes stored.
		tagStart := len(sealed) - gcm.Overhead()
		meta := &EncryptionMetadata{
			Algorithm: gcmAlgorithm,
			IV:        base64.StdEncoding.EncodeToString(iv),
			AuthTag:   base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		}
		return bytes.NewReader(sealed[:tagStart]), meta, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown encryption mode %q", mode)
	}
}

// WrapDecryptStream reverses WrapEncryptStream. aes-gcm requires the
// sidecar metadata; a missing key is a configuration error, not a data
// error.
func WrapDecryptStream(mode EncryptionMode, masterKey []byte, meta *EncryptionMetadata, sealed io.Reader) (io.Reader, error) {
	switch mode {
	case "", EncryptionNone:
		return sealed, nil
	case EncryptionAESGCM:
		gcm, err := newGCM(masterKey)
		if err != nil {
			return nil, err
		}
		if meta == nil || meta.Algorithm != gcmAlgorithm {
			return nil, errors.New("storage: missing or mismatched encryption metadata")
		}
		iv, err := base64.StdEncoding.DecodeString(meta.IV)
		if err != nil {
			return nil, fmt.Errorf("decode iv: %w", err)
		}
		tag, err := base64.StdEncoding.DecodeString(meta.AuthTag)
		if err != nil {
			return nil, fmt.Errorf("decode auth tag: %w", err)
		}
		data, err := io.ReadAll(sealed)
		if err != nil {
			return nil, fmt.Errorf("read ciphertext: %w", err)
		}
		plain, err := gcm.Open(nil, iv, append(data, tag...), nil)
		if err != nil {
			return nil, fmt.Errorf("storage: decrypt: %w", err)
		}
		return bytes.NewReader(plain), nil
	default:
		return nil, fmt.Errorf("storage: unknown encryption mode %q", mode)
	}
}

func newGCM(masterKey []byte) (cipher.AEAD, error) {
	if len(masterKey) != 32 {
		return nil, errors.New("storage: aes-gcm requires a 32-byte master key")
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
