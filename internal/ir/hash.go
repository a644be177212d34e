package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainGraph    = "cascade/graph/v1"
	DomainCallback = "cascade/callback/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// specObject is the canonical shape of one callback declaration.
func specObject(s *CallbackSpec) map[string]any {
	endpoints := func(list []Endpoint) []any {
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = map[string]any{
				"id":       e.ID,
				"property": e.Property,
			}
		}
		return out
	}
	return map[string]any{
		"outputs":              endpoints(s.Outputs),
		"inputs":               endpoints(s.Inputs),
		"state":                endpoints(s.State),
		"prevent_initial_call": s.PreventInitialCall,
		"allow_duplicate":      s.AllowDuplicate,
	}
}

// CallbackHash computes the content hash of one declaration. Names are
// excluded: renaming a callback does not change what it does.
func CallbackHash(s *CallbackSpec) (string, error) {
	canonical, err := MarshalCanonical(specObject(s))
	if err != nil {
		return "", fmt.Errorf("CallbackHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCallback, canonical), nil
}

// GraphHash computes the content hash of a callback set. Declaration order
// is significant because it decides which producer wins an overlap.
func GraphHash(specs []CallbackSpec) (string, error) {
	hashes := make([]any, len(specs))
	for i := range specs {
		h, err := CallbackHash(&specs[i])
		if err != nil {
			return "", fmt.Errorf("GraphHash: callback %d: %w", i, err)
		}
		hashes[i] = h
	}

	canonical, err := MarshalCanonical(hashes)
	if err != nil {
		return "", fmt.Errorf("GraphHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainGraph, canonical), nil
}

// MustGraphHash is like GraphHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustGraphHash(specs []CallbackSpec) string {
	h, err := GraphHash(specs)
	if err != nil {
		panic(err)
	}
	return h
}
