// Package testutil provides shared test infrastructure: a PostgreSQL
// container for integration tests, a migrated SQLite store in a temp
// directory, and a quiet logger.
//
// Usage in a Postgres-backed test:
//
//	tc := testutil.StartPostgres(t)
//	store := tc.NewTestStore(t)
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/konard/MILANA808-Milana-backend/internal/storage"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres starts a PostgreSQL container for the duration of t. The
// test is skipped in -short mode or when no container runtime is available.
func StartPostgres(t testing.TB) *TestContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	tc, err := startPostgres(context.Background())
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(tc.Terminate)
	return tc
}

func startPostgres(ctx context.Context) (tc *TestContainer, err error) {
	// testcontainers panics when no Docker host can be found.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("testutil: start container: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "aksi",
			"POSTGRES_PASSWORD": "aksi",
			"POSTGRES_DB":       "aksi",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: get container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://aksi:aksi@%s:%s/aksi?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}, nil
}

// NewTestStore connects to this container and runs all migrations.
func (tc *TestContainer) NewTestStore(t testing.TB) *storage.Postgres {
	t.Helper()
	ctx := context.Background()
	db, err := storage.NewPostgres(ctx, tc.DSN, TestLogger())
	if err != nil {
		t.Fatalf("testutil: create store: %v", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close(ctx)
		t.Fatalf("testutil: run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close(context.Background()) })
	return db
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// NewSQLiteStore opens a migrated SQLite store in a temp directory.
func NewSQLiteStore(t testing.TB) *storage.SQLite {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "aksi.db")
	db, err := storage.NewSQLite(ctx, "file:"+path, TestLogger())
	if err != nil {
		t.Fatalf("testutil: open sqlite: %v", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close(ctx)
		t.Fatalf("testutil: run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close(context.Background()) })
	return db
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
