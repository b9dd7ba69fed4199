// Package bundle builds deterministic bundle archives and schedules
// rebuilds when composition or file content changes.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/latchflow/latchflow/internal/store"
)

// digestEntry is one row of the digest input. Field order is part of the
// digest contract and must not change.
type digestEntry struct {
	FileID      string `json:"fileId"`
	ContentHash string `json:"contentHash"`
	Path        string `json:"path"`
	Required    bool   `json:"required"`
	SortOrder   int    `json:"sortOrder"`
}

// ComputeDigest hashes the enabled composition rows in (sortOrder, id)
// order. Objects arrive pre-sorted from the store; files missing a
// content hash contribute the empty string, so the digest still changes
// once the hash lands.
func ComputeDigest(objects []*store.BundleObject, files map[string]*store.File) (string, error) {
	entries := make([]digestEntry, 0, len(objects))
	for _, object := range objects {
		if !object.IsEnabled {
			continue
		}
		entry := digestEntry{
			FileID:    object.FileID,
			Path:      object.Path,
			Required:  object.Required,
			SortOrder: object.SortOrder,
		}
		if file := files[object.FileID]; file != nil {
			entry.ContentHash = file.ContentHash
		}
		entries = append(entries, entry)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal digest input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
