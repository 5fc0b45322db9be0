// Package integrity provides tamper-evident hashing and Merkle tree construction
// for stable proof records. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Hashes carry a version prefix so the encoding can change without
// invalidating stored records.
const hashV2Prefix = "v2:"

// ComputeProofHash produces a versioned SHA-256 hex digest over the canonical
// proof fields. Metrics are encoded as JSON, which orders map keys.
func ComputeProofHash(id, signature string, ts time.Time, metrics map[string]any) (string, error) {
	m, err := canonicalMetrics(metrics)
	if err != nil {
		return "", err
	}
	return hashV2Prefix + computeV2Hash(id, signature, ts, m), nil
}

// VerifyProofHash checks whether a stored hash matches the recomputed hash.
// Hashes without a known version prefix never verify.
func VerifyProofHash(stored, id, signature string, ts time.Time, metrics map[string]any) bool {
	if !strings.HasPrefix(stored, hashV2Prefix) {
		return false
	}
	m, err := canonicalMetrics(metrics)
	if err != nil {
		return false
	}
	return stored == hashV2Prefix+computeV2Hash(id, signature, ts, m)
}

func canonicalMetrics(metrics map[string]any) (string, error) {
	if metrics == nil {
		metrics = map[string]any{}
	}
	b, err := json.Marshal(metrics)
	if err != nil {
		return "", fmt.Errorf("integrity: encode metrics: %w", err)
	}
	return string(b), nil
}

// computeV2Hash encodes each field as a 4-byte big-endian length prefix
// followed by the field bytes, so no delimiter can collide with field content.
func computeV2Hash(id, signature string, ts time.Time, metrics string) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // field lengths are bounded by HTTP request body limits
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(id)
	writeField(signature)
	writeField(ts.UTC().Format(time.RFC3339Nano))
	writeField(metrics)
	return hex.EncodeToString(h.Sum(nil))
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes (per RFC 6962),
// so internal node hashes can never collide with leaf hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// Leaves must be sorted lexicographically by the caller for determinism.
// If leaves is empty, returns an empty string.
// If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
