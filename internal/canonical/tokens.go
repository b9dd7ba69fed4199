package canonical

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// NewToken returns a fresh 32-byte random value encoded as unpadded
// base64url, suitable for cookies, magic links, and API tokens.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("canonical: token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewOTP returns a zero-padded decimal one-time code of the given length
// drawn from a CSPRNG. Length defaults to 6 when non-positive.
func NewOTP(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	limit := big.NewInt(10)
	for i := 1; i < length; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("canonical: otp entropy: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// HashToken returns the sha256 hex digest of a credential's plaintext.
// Stores keep only this value; the plaintext lives in the cookie or header.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
