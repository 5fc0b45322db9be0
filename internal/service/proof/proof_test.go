package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konard/MILANA808-Milana-backend/internal/integrity"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/testutil"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newService(t *testing.T) (*Service, string) {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "seed", "PROOF_SHA256.txt")
	svc := New(testutil.NewSQLiteStore(t), seed, eventlog.Nop{})
	svc.now = func() time.Time { return fixedNow }
	return svc, seed
}

func TestEphemeral(t *testing.T) {
	svc, _ := newService(t)
	p := svc.Ephemeral()
	assert.False(t, p.Stable)
	assert.Equal(t, sha("AKSI-PROOF:1772366400"), p.SHA256)
}

func TestStableSeedPersists(t *testing.T) {
	svc, path := newService(t)
	ctx := context.Background()

	first, err := svc.StableSeed(ctx)
	require.NoError(t, err)
	assert.True(t, first.Stable)
	assert.Equal(t, sha("AKSI-PROOF:seed:1772366400"), first.SHA256)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first.SHA256, string(b))

	svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	second, err := svc.StableSeed(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.SHA256, second.SHA256, "existing seed must be reused")
}

func TestStableSeedReadsExistingFile(t *testing.T) {
	svc, path := newService(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("  abc123\n"), 0o600))

	seed, err := svc.StableSeed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", seed.SHA256)
}

func TestRecordChainsRoots(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p1, err := svc.Record(ctx, "release-1", nil, map[string]any{"score": 0.9})
	require.NoError(t, err)
	assert.True(t, p1.Stable)
	assert.Nil(t, p1.PreviousRoot)
	assert.Equal(t, p1.ContentHash, p1.RootHash, "single leaf is its own root")
	assert.True(t, fixedNow.Equal(p1.Timestamp))

	ts := fixedNow.Add(-time.Hour)
	p2, err := svc.Record(ctx, "release-2", &ts, nil)
	require.NoError(t, err)
	require.NotNil(t, p2.PreviousRoot)
	assert.Equal(t, p1.RootHash, *p2.PreviousRoot)
	assert.True(t, ts.Equal(p2.Timestamp))
	assert.Equal(t, map[string]any{}, p2.Metrics)

	leaves := []string{p1.ContentHash, p2.ContentHash}
	if leaves[1] < leaves[0] {
		leaves[0], leaves[1] = leaves[1], leaves[0]
	}
	assert.Equal(t, integrity.BuildMerkleRoot(leaves), p2.RootHash)
}

func TestSummary(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	empty, err := svc.Summary(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Signature, empty.Signature)
	assert.Zero(t, empty.TotalProofs)
	assert.Empty(t, empty.LatestRoot)
	assert.NotNil(t, empty.History)
	assert.True(t, empty.Seed.Stable)
	assert.False(t, empty.Proof.Stable)

	var last string
	for i := 0; i < 12; i++ {
		p, err := svc.Record(ctx, "sig", nil, map[string]any{"i": i})
		require.NoError(t, err)
		last = p.RootHash
	}

	sum, err := svc.Summary(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 12, sum.TotalProofs)
	assert.Equal(t, 12, sum.StableProofs)
	assert.Len(t, sum.History, DefaultHistory)
	assert.Equal(t, last, sum.LatestRoot)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store is valid", func(t *testing.T) {
		svc, _ := newService(t)
		v, err := svc.Verify(ctx)
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Zero(t, v.Checked)
	})

	t.Run("intact chain", func(t *testing.T) {
		svc, _ := newService(t)
		for i := 0; i < 5; i++ {
			_, err := svc.Record(ctx, "sig", nil, map[string]any{"i": i})
			require.NoError(t, err)
		}
		v, err := svc.Verify(ctx)
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Equal(t, 5, v.Checked)
		assert.Equal(t, v.StoredRoot, v.RootHash)
		assert.Empty(t, v.BadHashes)
		assert.Empty(t, v.BrokenLinks)
	})

	t.Run("tampered metrics", func(t *testing.T) {
		store := testutil.NewSQLiteStore(t)
		svc := New(store, filepath.Join(t.TempDir(), "seed.txt"), nil)
		p, err := svc.Record(ctx, "sig", nil, map[string]any{"score": 0.5})
		require.NoError(t, err)
		_, err = svc.Record(ctx, "sig", nil, map[string]any{"score": 0.7})
		require.NoError(t, err)

		_, err = store.DB().ExecContext(ctx, `UPDATE proofs SET metrics = '{"score":1}' WHERE id = ?`, p.ID)
		require.NoError(t, err)

		v, err := svc.Verify(ctx)
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, []string{p.ID}, v.BadHashes)
		assert.Empty(t, v.BrokenLinks)
	})
}
