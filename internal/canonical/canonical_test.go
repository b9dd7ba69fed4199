package canonical

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash_KeyOrderInsensitive(t *testing.T) {
	a := map[string]any{"name": "bundle", "where": map[string]any{"bundleIds": []any{"a", "b"}}}
	b := map[string]any{"where": map[string]any{"bundleIds": []any{"a", "b"}}, "name": "bundle"}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	require.Equal(t, ha, hb)
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), ha)
}

func TestCanonicalize_SortsArraysAfterChildren(t *testing.T) {
	// Naive comparison of the raw elements would order these by their
	// original key order; canonical comparison must sort by the serialized
	// form produced after each object's keys are sorted.
	left := []any{
		map[string]any{"z": 1, "a": 2},
		map[string]any{"a": 1, "z": 0},
	}
	right := []any{
		map[string]any{"a": 1, "z": 0},
		map[string]any{"a": 2, "z": 1},
	}

	cl, err := Canonicalize(left)
	require.NoError(t, err)
	cr, err := Canonicalize(right)
	require.NoError(t, err)

	el, err := MarshalCanonical(cl)
	require.NoError(t, err)
	er, err := MarshalCanonical(cr)
	require.NoError(t, err)
	require.Equal(t, string(el), string(er))
}

func TestCanonicalize_StableForEqualElements(t *testing.T) {
	v := []any{"b", "a", "a"}
	canon, err := Canonicalize(v)
	require.NoError(t, err)
	require.Equal(t, []any{"a", "a", "b"}, canon)
}

func TestCanonicalize_RejectsUnrepresentable(t *testing.T) {
	_, err := Canonicalize(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}

func TestNewToken_URLSafeNoPadding(t *testing.T) {
	tok, err := NewToken()
	require.NoError(t, err)
	require.NotContains(t, tok, "=")
	require.NotContains(t, tok, "+")
	require.NotContains(t, tok, "/")
	require.Len(t, tok, 43)

	other, err := NewToken()
	require.NoError(t, err)
	require.NotEqual(t, tok, other)
}

func TestNewOTP_LengthAndCharset(t *testing.T) {
	otp, err := NewOTP(6)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), otp)

	otp, err = NewOTP(0)
	require.NoError(t, err)
	require.Len(t, otp, 6)

	otp, err = NewOTP(8)
	require.NoError(t, err)
	require.Len(t, otp, 8)
}

func TestHashToken_Stable(t *testing.T) {
	require.Equal(t, HashToken("abc"), HashToken("abc"))
	require.NotEqual(t, HashToken("abc"), HashToken("abd"))
	require.Len(t, HashToken("abc"), 64)
}
