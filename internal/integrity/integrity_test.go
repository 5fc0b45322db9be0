package integrity

import (
	"strings"
	"testing"
	"time"
)

var proofTime = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func TestComputeProofHash_Deterministic(t *testing.T) {
	metrics := map[string]any{"score": 0.93, "issues": 4}

	h1, err := ComputeProofHash("p-1", "sig", proofTime, metrics)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ComputeProofHash("p-1", "sig", proofTime, map[string]any{"issues": 4, "score": 0.93})
	if err != nil {
		t.Fatal(err)
	}

	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if !strings.HasPrefix(h1, "v2:") {
		t.Fatalf("expected v2 prefix, got %q", h1)
	}
	if len(h1) != len("v2:")+64 {
		t.Fatalf("expected 64-char hex SHA-256 after prefix, got %d chars", len(h1)-3)
	}
}

func TestComputeProofHash_NilMetrics(t *testing.T) {
	h1, err := ComputeProofHash("p-2", "sig", proofTime, nil)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ComputeProofHash("p-2", "sig", proofTime, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("nil and empty metrics should produce the same hash: %q != %q", h1, h2)
	}
}

func TestComputeProofHash_TimezoneInsensitive(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	h1, _ := ComputeProofHash("p-3", "sig", proofTime, nil)
	h2, _ := ComputeProofHash("p-3", "sig", proofTime.In(loc), nil)
	if h1 != h2 {
		t.Fatal("same instant in different zones should hash identically")
	}
}

func TestComputeProofHash_NoDelimiterCollision(t *testing.T) {
	h1, _ := ComputeProofHash("a|b", "c", proofTime, nil)
	h2, _ := ComputeProofHash("a", "b|c", proofTime, nil)
	if h1 == h2 {
		t.Fatal("shifted field boundaries must not collide")
	}
}

func TestComputeProofHash_UnencodableMetrics(t *testing.T) {
	_, err := ComputeProofHash("p-4", "sig", proofTime, map[string]any{"ch": make(chan int)})
	if err == nil {
		t.Fatal("expected error for metrics that cannot be encoded")
	}
}

func TestVerifyProofHash(t *testing.T) {
	metrics := map[string]any{"score": 0.5}
	hash, err := ComputeProofHash("p-5", "release-1", proofTime, metrics)
	if err != nil {
		t.Fatal(err)
	}

	if !VerifyProofHash(hash, "p-5", "release-1", proofTime, metrics) {
		t.Fatal("verification should succeed for matching inputs")
	}
	if VerifyProofHash(hash, "p-5", "release-2", proofTime, metrics) {
		t.Fatal("verification should fail for different signature")
	}
	if VerifyProofHash(hash, "p-5", "release-1", proofTime, map[string]any{"score": 0.6}) {
		t.Fatal("verification should fail for different metrics")
	}
	if VerifyProofHash(strings.TrimPrefix(hash, "v2:"), "p-5", "release-1", proofTime, metrics) {
		t.Fatal("verification should fail for unversioned hash")
	}
	if VerifyProofHash("v2:tampered", "p-5", "release-1", proofTime, metrics) {
		t.Fatal("verification should fail for tampered hash")
	}
}

func TestBuildMerkleRoot_Empty(t *testing.T) {
	root := BuildMerkleRoot(nil)
	if root != "" {
		t.Fatalf("empty input should produce empty root, got %q", root)
	}
}

func TestBuildMerkleRoot_SingleLeaf(t *testing.T) {
	leaf := "abc123"
	root := BuildMerkleRoot([]string{leaf})
	if root != leaf {
		t.Fatalf("single leaf should be the root: got %q, want %q", root, leaf)
	}
}

func TestBuildMerkleRoot_Deterministic(t *testing.T) {
	leaves := []string{"hash_a", "hash_b", "hash_c", "hash_d"}

	r1 := BuildMerkleRoot(leaves)
	r2 := BuildMerkleRoot(leaves)

	if r1 != r2 {
		t.Fatalf("Merkle root not deterministic: %q != %q", r1, r2)
	}
	if len(r1) != 64 {
		t.Fatalf("expected 64-char hex SHA-256 root, got %d chars", len(r1))
	}
}

func TestBuildMerkleRoot_OrderMatters(t *testing.T) {
	r1 := BuildMerkleRoot([]string{"a", "b", "c"})
	r2 := BuildMerkleRoot([]string{"b", "a", "c"})

	if r1 == r2 {
		t.Fatal("different leaf ordering should produce different roots")
	}
}

func TestBuildMerkleRoot_OddLeafCount(t *testing.T) {
	root := BuildMerkleRoot([]string{"x", "y", "z"})
	want := hashPair(hashPair("x", "y"), hashPair("z", "z"))
	if root != want {
		t.Fatalf("odd leaf should pair with itself: got %q, want %q", root, want)
	}
}

func TestBuildMerkleRoot_DoesNotMutateInput(t *testing.T) {
	leaves := []string{"a", "b", "c", "d"}
	_ = BuildMerkleRoot(leaves)
	if leaves[0] != "a" || leaves[3] != "d" {
		t.Fatalf("input mutated: %v", leaves)
	}
}
