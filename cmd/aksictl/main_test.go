package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/service/proof"
	"github.com/konard/MILANA808-Milana-backend/internal/service/quality"
	"github.com/konard/MILANA808-Milana-backend/internal/storage"
	"github.com/konard/MILANA808-Milana-backend/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateIssueFromYAML(t *testing.T) {
	path := writeFile(t, "issue.yaml", `title: "Crash when saving settings"
body: |
  ## Steps
  1. Open settings
  2. Press save

  The app exits with a stack trace instead of saving the file.
labels: [bug]
existing_issues:
  - number: 7
    title: "Dark mode toggle"
`)

	out, err := execute(t, "validate", "issue", "--file", path, "--json")
	require.NoError(t, err)

	var res model.ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Greater(t, res.Score, 0.0)
}

func TestValidateIssueReportsErrors(t *testing.T) {
	path := writeFile(t, "issue.yaml", "title: x\nbody: short\n")

	out, err := execute(t, "validate", "issue", "-f", path, "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "valid=false")
}

func TestValidatePR(t *testing.T) {
	path := writeFile(t, "pr.yaml", `title: "Add retry to uploader"
body: "Retries failed uploads up to three times with backoff."
files_changed: [uploader/upload.go]
target_branch: main
`)

	out, err := execute(t, "validate", "pr", "--file", path, "--json")
	require.NoError(t, err)

	var res model.ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, res.Suggestions, quality.MsgPRAddTests)
	assert.Contains(t, res.Warnings, quality.MsgPRTitleFormat)
}

func TestValidateRequiresFile(t *testing.T) {
	_, err := execute(t, "validate", "issue")
	assert.Error(t, err)
}

func TestCausality(t *testing.T) {
	out, err := execute(t, "causality", "--problem", "Deploys fail after automation change",
		"--pattern", "flaky network", "--pattern", "stale cache", "--similar", "2", "--json")
	require.NoError(t, err)

	var chain model.CausalityChain
	require.NoError(t, json.Unmarshal([]byte(out), &chain))
	assert.Equal(t, "Deploys fail after automation change", chain.RootCause)
	assert.Contains(t, chain.ContributingFactors, "2 similar issues found")
	assert.Contains(t, chain.ExpectedOutcomes, "Increased automation efficiency")
	assert.InDelta(t, 1.0, chain.Confidence, 1e-9)

	_, err = execute(t, "causality")
	assert.Error(t, err)
}

func TestGenkey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	out, err := execute(t, "genkey", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "jwt_private.pem")
	assert.FileExists(t, filepath.Join(dir, "jwt_public.pem"))

	_, err = execute(t, "genkey", "--dir", dir)
	assert.Error(t, err, "existing keys are never overwritten")
}

func TestProofVerify(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "aksi.db")
	store, err := storage.NewSQLite(ctx, dsn, testutil.TestLogger())
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(ctx))
	svc := proof.New(store, "", eventlog.Nop{})
	for _, sig := range []string{"alpha", "beta"} {
		_, err := svc.Record(ctx, sig, nil, map[string]any{"n": 1})
		require.NoError(t, err)
	}
	store.Close(ctx)

	out, err := execute(t, "proof", "verify", "--database-url", dsn, "--json")
	require.NoError(t, err)

	var res model.ProofVerification
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, 2, res.Checked)
}

func TestRemoteCommands(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"status": "healthy", "service": "aksi", "version": "1.2.3", "storage": "connected",
		}})
	})
	mux.HandleFunc("POST /v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "acme/widgets", req["repository"])
		assert.EqualValues(t, 12, req["issue_number"])
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"task_id": "t-1", "status": "running"}})
	})
	mux.HandleFunc("GET /v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "t-1" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "task not found"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"task_id": "t-1", "status": "completed", "repository": "acme/widgets"}})
	})
	mux.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"stats": map[string]any{"analyses_performed": 4}, "threshold": 0.6,
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := execute(t, "health", "--server", srv.URL, "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "aksi healthy (1.2.3)")

	out, err = execute(t, "task", "submit", "--server", srv.URL, "--repo", "acme/widgets", "--issue", "12", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "task t-1 running")

	out, err = execute(t, "task", "status", "t-1", "--server", srv.URL, "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	_, err = execute(t, "task", "status", "nope", "--server", srv.URL)
	assert.ErrorContains(t, err, "not found")

	out, err = execute(t, "stats", "--server", srv.URL, "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "analyses performed")
}
