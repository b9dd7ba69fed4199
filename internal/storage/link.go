package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Link verification errors, distinguished so the portal can map them to
// response codes.
var (
	ErrLinkExpired = errors.New("storage: release link expired")
	ErrLinkInvalid = errors.New("storage: release link signature invalid")
)

// LinkSigner mints and verifies HMAC-signed portal download URLs.
type LinkSigner struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewLinkSigner binds the signing secret and the public base URL the
// links should point at.
func NewLinkSigner(secret []byte, baseURL string) *LinkSigner {
	return &LinkSigner{secret: secret, baseURL: baseURL, now: time.Now}
}

func (s *LinkSigner) mac(bundleID, recipientID string, expires int64) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%s\n%s\n%d", bundleID, recipientID, expires)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Sign produces the portal URL for one assignment valid until expiresAt.
func (s *LinkSigner) Sign(bundleID, recipientID string, expiresAt time.Time) (*ReleaseLink, error) {
	if len(s.secret) == 0 {
		return nil, errors.New("storage: link signing secret not set")
	}
	expires := expiresAt.Unix()
	q := url.Values{}
	q.Set("recipient", recipientID)
	q.Set("exp", strconv.FormatInt(expires, 10))
	q.Set("sig", s.mac(bundleID, recipientID, expires))
	return &ReleaseLink{
		URL:       fmt.Sprintf("%s/portal/bundles/%s/download?%s", s.baseURL, url.PathEscape(bundleID), q.Encode()),
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

// Verify checks signature first, then expiry, so a forged timestamp
// cannot probe for valid signatures.
func (s *LinkSigner) Verify(bundleID, recipientID string, expires int64, sig string) error {
	want := s.mac(bundleID, recipientID, expires)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) != 1 {
		return ErrLinkInvalid
	}
	if s.now().Unix() > expires {
		return ErrLinkExpired
	}
	return nil
}
