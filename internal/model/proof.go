package model

import "time"

// Proof is a stable, hash-chained proof record.
type Proof struct {
	ID           string         `json:"id"`
	Signature    string         `json:"signature"`
	Timestamp    time.Time      `json:"timestamp"`
	Metrics      map[string]any `json:"metrics"`
	ContentHash  string         `json:"content_hash"`
	PreviousRoot *string        `json:"previous_root,omitempty"`
	RootHash     string         `json:"root_hash"`
	Stable       bool           `json:"stable"`
	RecordedAt   time.Time      `json:"recorded_at"`
}

// EphemeralProof is a time-derived digest. It changes every second.
type EphemeralProof struct {
	SHA256 string `json:"sha256"`
	Stable bool   `json:"stable"`
}

// ProofSummary is returned by GET /aksi/proof.
type ProofSummary struct {
	Proof        EphemeralProof `json:"proof"`
	Seed         EphemeralProof `json:"seed"`
	Signature    string         `json:"signature"`
	StableProofs int            `json:"stable_proofs"`
	TotalProofs  int            `json:"total_proofs"`
	LatestRoot   string         `json:"latest_root,omitempty"`
	History      []Proof        `json:"history"`
}

// ProofVerification reports the outcome of re-hashing every stored proof.
type ProofVerification struct {
	Valid       bool     `json:"valid"`
	Checked     int      `json:"checked"`
	RootHash    string   `json:"root_hash"`
	StoredRoot  string   `json:"stored_root"`
	BadHashes   []string `json:"bad_hashes"`
	BrokenLinks []string `json:"broken_links"`
}
