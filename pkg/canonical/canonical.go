// Package canonical compares and hashes JSON-shaped values independent of their Go representation.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
)

// Equal reports whether a and b hold the same value. Values that are not reflect.DeepEqual are
// still equal when their JSON encodings match, so an int and the float64 it decodes to compare equal.
func Equal(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	left, err := json.Marshal(a)
	if err != nil {
		return false
	}

	right, err := json.Marshal(b)
	if err != nil {
		return false
	}

	return bytes.Equal(left, right)
}

// Hash returns "sha256:<hex>" over the JSON encoding of v. Map keys are encoded in sorted order.
func Hash(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(b)

	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Clone deep-copies a JSON-shaped map through an encode/decode round trip.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}

		return out
	}

	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}

	return out
}
