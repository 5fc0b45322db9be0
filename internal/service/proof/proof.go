// Package proof issues AKSI proofs. An ephemeral proof is a digest of the
// current second. The stable seed is a digest written once to disk and reused
// across restarts. Stable proof records are persisted with a content hash and
// a running Merkle root over every stable record, so tampering with any
// stored record is detectable by Verify.
package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/konard/MILANA808-Milana-backend/internal/integrity"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/storage"
)

// Signature identifies the proof format in summaries.
const Signature = "AKSI-proof-v0.1"

// DefaultHistory is the number of records returned in a summary.
const DefaultHistory = 10

// Store is the subset of storage.Store the proof service needs.
type Store interface {
	CreateProof(ctx context.Context, p model.Proof) error
	ListProofs(ctx context.Context, limit int) ([]model.Proof, error)
	LatestProof(ctx context.Context) (model.Proof, error)
	CountProofs(ctx context.Context) (int, error)
}

// Service issues and verifies proofs.
type Service struct {
	store    Store
	seedPath string
	events   eventlog.Recorder

	// mu serializes seed creation and root chaining.
	mu  sync.Mutex
	now func() time.Time
}

// New creates a proof service. seedPath is the stable seed file.
func New(store Store, seedPath string, events eventlog.Recorder) *Service {
	if events == nil {
		events = eventlog.Nop{}
	}
	return &Service{
		store:    store,
		seedPath: seedPath,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ephemeral returns the digest of the current unix second.
func (s *Service) Ephemeral() model.EphemeralProof {
	return model.EphemeralProof{
		SHA256: digest(fmt.Sprintf("AKSI-PROOF:%d", s.now().Unix())),
		Stable: false,
	}
}

// StableSeed returns the seed stored at the seed path, creating it on first use.
func (s *Service) StableSeed(ctx context.Context) (model.EphemeralProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.seedPath)
	if err == nil {
		if seed := strings.TrimSpace(string(b)); seed != "" {
			return model.EphemeralProof{SHA256: seed, Stable: true}, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return model.EphemeralProof{}, fmt.Errorf("proof: read seed: %w", err)
	}

	seed := digest(fmt.Sprintf("AKSI-PROOF:seed:%d", s.now().Unix()))
	if dir := filepath.Dir(s.seedPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return model.EphemeralProof{}, fmt.Errorf("proof: create seed dir: %w", err)
		}
	}
	if err := os.WriteFile(s.seedPath, []byte(seed), 0o600); err != nil {
		return model.EphemeralProof{}, fmt.Errorf("proof: write seed: %w", err)
	}
	s.events.Record(ctx, model.LevelInfo, "proof_seed_created", map[string]any{"path": s.seedPath})
	return model.EphemeralProof{SHA256: seed, Stable: true}, nil
}

// Record persists a stable proof. A nil ts means now. The new root covers
// every stored content hash plus this one.
func (s *Service) Record(ctx context.Context, signature string, ts *time.Time, metrics map[string]any) (model.Proof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := model.Proof{
		ID:         uuid.NewString(),
		Signature:  signature,
		Timestamp:  now,
		Metrics:    metrics,
		Stable:     true,
		RecordedAt: now,
	}
	if ts != nil {
		p.Timestamp = ts.UTC()
	}
	if p.Metrics == nil {
		p.Metrics = map[string]any{}
	}

	hash, err := integrity.ComputeProofHash(p.ID, p.Signature, p.Timestamp, p.Metrics)
	if err != nil {
		return model.Proof{}, fmt.Errorf("proof: hash: %w", err)
	}
	p.ContentHash = hash

	existing, err := s.store.ListProofs(ctx, 0)
	if err != nil {
		return model.Proof{}, fmt.Errorf("proof: list: %w", err)
	}
	leaves := make([]string, 0, len(existing)+1)
	for _, e := range existing {
		leaves = append(leaves, e.ContentHash)
	}
	leaves = append(leaves, hash)
	sort.Strings(leaves)
	p.RootHash = integrity.BuildMerkleRoot(leaves)
	if n := len(existing); n > 0 {
		prev := existing[n-1].RootHash
		p.PreviousRoot = &prev
	}

	if err := s.store.CreateProof(ctx, p); err != nil {
		return model.Proof{}, fmt.Errorf("proof: create: %w", err)
	}
	s.events.Record(ctx, model.LevelInfo, "proof_recorded", map[string]any{
		"proof_id":  p.ID,
		"root_hash": p.RootHash,
		"total":     len(leaves),
	})
	return p, nil
}

// Count returns the number of stable proofs stored.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.store.CountProofs(ctx)
	if err != nil {
		return 0, fmt.Errorf("proof: count: %w", err)
	}
	return n, nil
}

// Summary returns the ephemeral proof, the stable seed, counters and the
// latest historyLimit records.
func (s *Service) Summary(ctx context.Context, historyLimit int) (model.ProofSummary, error) {
	if historyLimit <= 0 {
		historyLimit = DefaultHistory
	}
	seed, err := s.StableSeed(ctx)
	if err != nil {
		return model.ProofSummary{}, err
	}
	history, err := s.store.ListProofs(ctx, historyLimit)
	if err != nil {
		return model.ProofSummary{}, fmt.Errorf("proof: list: %w", err)
	}
	total, err := s.store.CountProofs(ctx)
	if err != nil {
		return model.ProofSummary{}, fmt.Errorf("proof: count: %w", err)
	}

	out := model.ProofSummary{
		Proof:        s.Ephemeral(),
		Seed:         seed,
		Signature:    Signature,
		StableProofs: total,
		TotalProofs:  total,
		History:      history,
	}
	if out.History == nil {
		out.History = []model.Proof{}
	}
	if n := len(history); n > 0 {
		out.LatestRoot = history[n-1].RootHash
	}
	return out, nil
}

// Verify recomputes every stored content hash, checks that each record links
// to the previous root, and rebuilds the Merkle root over all hashes.
func (s *Service) Verify(ctx context.Context) (model.ProofVerification, error) {
	proofs, err := s.store.ListProofs(ctx, 0)
	if err != nil {
		return model.ProofVerification{}, fmt.Errorf("proof: list: %w", err)
	}

	out := model.ProofVerification{
		Checked:     len(proofs),
		BadHashes:   []string{},
		BrokenLinks: []string{},
	}
	leaves := make([]string, 0, len(proofs))
	prevRoot := ""
	for i, p := range proofs {
		if !integrity.VerifyProofHash(p.ContentHash, p.ID, p.Signature, p.Timestamp, p.Metrics) {
			out.BadHashes = append(out.BadHashes, p.ID)
		}
		linked := (i == 0 && p.PreviousRoot == nil) ||
			(i > 0 && p.PreviousRoot != nil && *p.PreviousRoot == prevRoot)
		if !linked {
			out.BrokenLinks = append(out.BrokenLinks, p.ID)
		}
		prevRoot = p.RootHash
		leaves = append(leaves, p.ContentHash)
	}
	sort.Strings(leaves)
	out.RootHash = integrity.BuildMerkleRoot(leaves)
	out.StoredRoot = prevRoot
	out.Valid = len(out.BadHashes) == 0 && len(out.BrokenLinks) == 0 && out.RootHash == out.StoredRoot

	level := model.LevelInfo
	if !out.Valid {
		level = model.LevelWarning
	}
	s.events.Record(ctx, level, "proof_verify", map[string]any{
		"checked":      out.Checked,
		"valid":        out.Valid,
		"bad_hashes":   len(out.BadHashes),
		"broken_links": len(out.BrokenLinks),
	})
	return out, nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

var _ Store = storage.Store(nil)
