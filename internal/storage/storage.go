// Package storage persists AKSI state: event log entries, stable proofs,
// orchestrator task records and autonomy decisions.
//
// Two backends implement Store. SQLite (modernc.org/sqlite, pure Go) is the
// default for single-node deployments; PostgreSQL (pgxpool) is selected by a
// postgres:// or postgresql:// DSN.
package storage

import (
	"context"
	"log/slog"
	"strings"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

// Store is the persistence contract shared by both backends.
type Store interface {
	// Backend names the implementation ("sqlite" or "postgres").
	Backend() string

	InsertLogEntries(ctx context.Context, entries []model.LogEntry) (int, error)
	// RecentLogEntries returns up to limit entries, newest first.
	RecentLogEntries(ctx context.Context, limit int) ([]model.LogEntry, error)

	CreateProof(ctx context.Context, p model.Proof) error
	// ListProofs returns proofs in insertion order. A positive limit keeps
	// only the latest limit proofs.
	ListProofs(ctx context.Context, limit int) ([]model.Proof, error)
	LatestProof(ctx context.Context) (model.Proof, error)
	CountProofs(ctx context.Context) (int, error)

	// SaveTask inserts or replaces a task record.
	SaveTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (model.Task, error)

	SaveDecision(ctx context.Context, d model.Decision) error
	// RecentDecisions returns up to limit decisions, newest first.
	RecentDecisions(ctx context.Context, limit int) ([]model.Decision, error)

	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context) error
	Close(ctx context.Context)
}

// Open connects to the backend named by dsn. Migrations are not run.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (Store, error) {
	if IsPostgresDSN(dsn) {
		return NewPostgres(ctx, dsn, logger)
	}
	return NewSQLite(ctx, dsn, logger)
}

// IsPostgresDSN reports whether dsn selects the PostgreSQL backend.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

const defaultListLimit = 1000

func clampLimit(limit int) int {
	if limit <= 0 || limit > defaultListLimit {
		return defaultListLimit
	}
	return limit
}
