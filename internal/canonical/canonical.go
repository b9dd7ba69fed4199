// Package canonical produces byte-identical serializations of JSON-ish data
// so hashes stay stable across processes and field orderings.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns a deeply canonical copy of v: object keys are
// serialized in sorted order, and array elements are sorted by their
// canonical serialized form. Sorting happens only after the elements
// themselves are canonicalized, so arrays of objects compare by their
// canonical text rather than their original key order.
//
// The input is passed through an encoding/json round trip first, so structs
// with json tags canonicalize the same as the maps they decode into. Values
// json cannot represent (channels, cycles) return an error.
func Canonicalize(v any) (any, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	return canonicalizeValue(generic)
}

func canonicalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			canon, err := canonicalizeValue(elem)
			if err != nil {
				return nil, err
			}
			out[k] = canon
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		keys := make([]string, len(val))
		for i, elem := range val {
			canon, err := canonicalizeValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = canon
			encoded, err := MarshalCanonical(canon)
			if err != nil {
				return nil, err
			}
			keys[i] = string(encoded)
		}
		sort.SliceStable(out, func(i, j int) bool { return keys[i] < keys[j] })
		sort.Strings(keys)
		return out, nil
	default:
		return v, nil
	}
}

// MarshalCanonical serializes v with RFC 8785 object-key ordering. It does
// not reorder arrays; callers wanting the full canonical form pass the value
// through Canonicalize first.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// Hash returns the sha256 hex digest of the fully canonical form of v.
func Hash(v any) (string, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	encoded, err := MarshalCanonical(canon)
	if err != nil {
		return "", err
	}
	return HashBytes(encoded), nil
}

// HashBytes returns the sha256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
