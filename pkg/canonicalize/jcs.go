// Package canonicalize implements CanonicalCodec: deterministic JSON/NDJSON
// encoding whose byte output is stable across machines and Go versions, the
// basis for every hash in the governance core.
//
// Grounded on core/pkg/canonicalize/jcs.go, with the hand-rolled recursive
// marshaler swapped for the real github.com/gowebpki/jcs dependency.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/gowebpki/jcs"
)

// Encode returns the canonical JSON byte form of v: UTF-8, no BOM, object
// keys sorted lexicographically, no insignificant whitespace, strings
// escaped per RFC 8259. Returns an error for NaN, infinities, or floats
// with a fractional part found in v's maps and slices; floats holding
// integer values are accepted and encoded as integer JSON numbers.
func Encode(v any) ([]byte, error) {
	if err := rejectNonCanonical(v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return canonical, nil
}

// Hash returns the lowercase hex SHA-256 digest of the canonical encoding
// of v.
func Hash(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EncodeNDJSONLine returns the canonical encoding of v with a trailing
// newline, the unit BundleBuilder writes for each event of
// audit_log.ndjson.
func EncodeNDJSONLine(v any) ([]byte, error) {
	b, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Idempotent reports whether encoding, parsing, and re-encoding v
// produces byte-identical output — the round-trip law of
func Idempotent(v any) (bool, error) {
	first, err := Encode(v)
	if err != nil {
		return false, err
	}
	var parsed any
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return false, fmt.Errorf("canonicalize: reparse: %w", err)
	}
	second, err := Encode(parsed)
	if err != nil {
		return false, err
	}
	return bytes.Equal(first, second), nil
}

// rejectNonCanonical walks v looking for non-integer floats and NaN/Inf,
// which CanonicalCodec refuses to encode ("integer numbers
// only; no floats, no leading zeros" — Go's encoding/json never emits
// leading zeros, so only the float/NaN checks need to be explicit). The
// walk descends into map[string]any and []any values only; it does not
// detect cycles, which json.Marshal reports instead.
func rejectNonCanonical(v any) error {
	seen := make(map[uintptr]bool)
	return walk(v, seen)
}

func walk(v any, seen map[uintptr]bool) error {
	switch t := v.(type) {
	case float32:
		return rejectFloat(float64(t))
	case float64:
		return rejectFloat(t)
	case map[string]any:
		for _, val := range t {
			if err := walk(val, seen); err != nil {
				return err
			}
		}
	case []any:
		for _, val := range t {
			if err := walk(val, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func rejectFloat(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v is not representable in canonical JSON", f)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("floating-point value %v is not an integer; canonical encoding requires integer numbers only", f)
	}
	return nil
}
