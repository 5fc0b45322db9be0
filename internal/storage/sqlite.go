package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/migrations"
)

// sqliteTime is fixed width so stored timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLite is the single-file Store. One connection serializes writers.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens the database at dsn with WAL, busy timeout and foreign keys
// enabled. A "file:" prefix is optional; the parent directory is created.
func NewSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*SQLite, error) {
	if dir := sqliteDir(dsn); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db, logger: logger}
	if err := s.applyPragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLite) applyPragmas(ctx context.Context) error {
	stmts := []string{
		"PRAGMA foreign_keys=ON;",
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if stmt == "PRAGMA journal_mode=WAL;" {
				s.logger.Warn("storage: sqlite WAL mode not enabled", "error", err)
				continue
			}
			return fmt.Errorf("storage: apply pragma %q: %w", stmt, err)
		}
	}
	return nil
}

// sqliteDir returns the directory holding the database file, or "" for
// in-memory databases and bare file names.
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}

// Backend implements Store.
func (s *SQLite) Backend() string { return "sqlite" }

// DB returns the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Ping checks the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLite) Close(_ context.Context) {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("storage: close sqlite", "error", err)
	}
}

// RunMigrations applies the embedded SQLite migrations.
func (s *SQLite) RunMigrations(ctx context.Context) error {
	return runMigrations(ctx, s, migrations.SQLite(), s.logger)
}

func (s *SQLite) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (s *SQLite) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *SQLite) applyMigration(ctx context.Context, name, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		name, formatTime(time.Now()),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertLogEntries writes a batch in one transaction.
func (s *SQLite) InsertLogEntries(ctx context.Context, entries []model.LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: begin log batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO log_entries (id, ts, unix_ts, level, event, message, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("storage: prepare log insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	n := 0
	for _, e := range entries {
		payload, err := json.Marshal(orEmptyMap(e.Payload))
		if err != nil {
			return 0, fmt.Errorf("storage: marshal log payload: %w", err)
		}
		res, err := stmt.ExecContext(ctx, e.ID, formatTime(e.Timestamp), e.UnixTS, string(e.Level), e.Event, e.Message, string(payload))
		if err != nil {
			return 0, fmt.Errorf("storage: insert log entry: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			n += int(affected)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit log batch: %w", err)
	}
	return n, nil
}

// RecentLogEntries implements Store.
func (s *SQLite) RecentLogEntries(ctx context.Context, limit int) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, unix_ts, level, event, message, payload
		 FROM log_entries ORDER BY seq DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("storage: query log entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LogEntry
	for rows.Next() {
		var (
			e              model.LogEntry
			ts, level, raw string
		)
		if err := rows.Scan(&e.ID, &ts, &e.UnixTS, &level, &e.Event, &e.Message, &raw); err != nil {
			return nil, fmt.Errorf("storage: scan log entry: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Level = model.LogLevel(level)
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return nil, fmt.Errorf("storage: decode log payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateProof implements Store.
func (s *SQLite) CreateProof(ctx context.Context, p model.Proof) error {
	metrics, err := json.Marshal(orEmptyMap(p.Metrics))
	if err != nil {
		return fmt.Errorf("storage: marshal proof metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proofs (id, signature, ts, metrics, content_hash, previous_root, root_hash, stable, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Signature, formatTime(p.Timestamp), string(metrics), p.ContentHash,
		nullString(p.PreviousRoot), p.RootHash, p.Stable, formatTime(p.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert proof: %w", err)
	}
	return nil
}

const sqliteProofColumns = `id, signature, ts, metrics, content_hash, previous_root, root_hash, stable, recorded_at`

// ListProofs implements Store.
func (s *SQLite) ListProofs(ctx context.Context, limit int) ([]model.Proof, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteProofColumns+` FROM (
			   SELECT * FROM proofs ORDER BY seq DESC LIMIT ?
			 ) ORDER BY seq ASC`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+sqliteProofColumns+` FROM proofs ORDER BY seq ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: query proofs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Proof
	for rows.Next() {
		p, err := scanSQLiteProof(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestProof implements Store.
func (s *SQLite) LatestProof(ctx context.Context) (model.Proof, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteProofColumns+` FROM proofs ORDER BY seq DESC LIMIT 1`)
	p, err := scanSQLiteProof(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Proof{}, ErrNotFound
	}
	return p, err
}

// CountProofs implements Store.
func (s *SQLite) CountProofs(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM proofs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count proofs: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProof(row scanner) (model.Proof, error) {
	var (
		p                       model.Proof
		ts, recordedAt, metrics string
		previousRoot            sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Signature, &ts, &metrics, &p.ContentHash,
		&previousRoot, &p.RootHash, &p.Stable, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Proof{}, err
		}
		return model.Proof{}, fmt.Errorf("storage: scan proof: %w", err)
	}
	var err error
	if p.Timestamp, err = parseTime(ts); err != nil {
		return model.Proof{}, err
	}
	if p.RecordedAt, err = parseTime(recordedAt); err != nil {
		return model.Proof{}, err
	}
	if previousRoot.Valid {
		p.PreviousRoot = &previousRoot.String
	}
	if err := json.Unmarshal([]byte(metrics), &p.Metrics); err != nil {
		return model.Proof{}, fmt.Errorf("storage: decode proof metrics: %w", err)
	}
	return p, nil
}

// SaveTask implements Store.
func (s *SQLite) SaveTask(ctx context.Context, t model.Task) error {
	result, err := marshalNullable(t.Result)
	if err != nil {
		return fmt.Errorf("storage: marshal task result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, status, repository, action, issue_number, started_at, completed_at, result, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status,
		   repository = excluded.repository,
		   action = excluded.action,
		   issue_number = excluded.issue_number,
		   started_at = excluded.started_at,
		   completed_at = excluded.completed_at,
		   result = excluded.result,
		   error = excluded.error,
		   updated_at = excluded.updated_at`,
		t.ID, string(t.Status), t.Repository, string(t.Action), nullInt(t.IssueNumber),
		nullTime(t.StartedAt), nullTime(t.CompletedAt), nullString(result), t.Error, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("storage: save task: %w", err)
	}
	return nil
}

// GetTask implements Store.
func (s *SQLite) GetTask(ctx context.Context, id string) (model.Task, error) {
	var (
		t                  model.Task
		status, action     string
		issue              sql.NullInt64
		started, completed sql.NullString
		result             sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, repository, action, issue_number, started_at, completed_at, result, error
		 FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &status, &t.Repository, &action, &issue, &started, &completed, &result, &t.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: get task: %w", err)
	}
	t.Status = model.TaskStatus(status)
	t.Action = model.TaskAction(action)
	if issue.Valid {
		n := int(issue.Int64)
		t.IssueNumber = &n
	}
	if t.StartedAt, err = parseNullTime(started); err != nil {
		return model.Task{}, err
	}
	if t.CompletedAt, err = parseNullTime(completed); err != nil {
		return model.Task{}, err
	}
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	return t, nil
}

// SaveDecision implements Store.
func (s *SQLite) SaveDecision(ctx context.Context, d model.Decision) error {
	reasoning, err := json.Marshal(orEmptySlice(d.Reasoning))
	if err != nil {
		return fmt.Errorf("storage: marshal reasoning: %w", err)
	}
	actions, err := json.Marshal(orEmptySlice(d.Actions))
	if err != nil {
		return fmt.Errorf("storage: marshal actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO decisions (id, kind, confidence, reasoning, actions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Kind, d.Confidence, string(reasoning), string(actions), formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert decision: %w", err)
	}
	return nil
}

// RecentDecisions implements Store.
func (s *SQLite) RecentDecisions(ctx context.Context, limit int) ([]model.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, confidence, reasoning, actions, created_at
		 FROM decisions ORDER BY seq DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("storage: query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Decision
	for rows.Next() {
		var (
			d                           model.Decision
			reasoning, actions, created string
		)
		if err := rows.Scan(&d.ID, &d.Kind, &d.Confidence, &reasoning, &actions, &created); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		if d.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(reasoning), &d.Reasoning); err != nil {
			return nil, fmt.Errorf("storage: decode reasoning: %w", err)
		}
		if err := json.Unmarshal([]byte(actions), &d.Actions); err != nil {
			return nil, fmt.Errorf("storage: decode actions: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
