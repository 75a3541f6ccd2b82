// Package envelope builds canonical, content-addressed run envelopes for
// idempotent persistence of engine invocations.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
)

// CanonicalJSON serializes v with object keys sorted lexicographically at
// every depth. Array order is preserved. Two logically equal values produce
// byte-identical output regardless of struct field or map insertion order.
func CanonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "envelope: marshal")
	}

	// Round-trip through any so encoding/json re-emits map keys sorted.
	// UseNumber keeps numeric literals byte-stable across the round trip.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", eris.Wrap(err, "envelope: decode canonical")
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return "", eris.Wrap(err, "envelope: remarshal canonical")
	}
	return string(out), nil
}

// HashJSON returns a djb2 fingerprint (seed 5381, h = h*33 XOR byte) of the
// canonical JSON form of v, as an 8-char lowercase hex string. It is a cheap
// dedupe key, not a cryptographic digest: equal logical values hash equal,
// object key order never matters, array order always does.
func HashJSON(v any) (string, error) {
	s, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = (h * 33) ^ uint32(s[i])
	}
	return fmt.Sprintf("%08x", h), nil
}
