package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/migrations"
)

// Postgres is the PostgreSQL Store backed by a pgxpool.Pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a connection pool and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

// Backend implements Store.
func (db *Postgres) Backend() string { return "postgres" }

// Pool returns the underlying connection pool.
func (db *Postgres) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *Postgres) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *Postgres) Close(_ context.Context) {
	db.pool.Close()
}

// RunMigrations applies the embedded PostgreSQL migrations.
func (db *Postgres) RunMigrations(ctx context.Context) error {
	return runMigrations(ctx, db, migrations.Postgres(), db.logger)
}

func (db *Postgres) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (db *Postgres) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (db *Postgres) applyMigration(ctx context.Context, name, script string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, script); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InsertLogEntries writes a batch using COPY. Returns the number of rows copied.
func (db *Postgres) InsertLogEntries(ctx context.Context, entries []model.LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	columns := []string{"id", "ts", "unix_ts", "level", "event", "message", "payload"}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		payload, err := json.Marshal(orEmptyMap(e.Payload))
		if err != nil {
			return 0, fmt.Errorf("storage: marshal log payload: %w", err)
		}
		rows[i] = []any{e.ID, e.Timestamp, e.UnixTS, string(e.Level), e.Event, e.Message, string(payload)}
	}

	// A dedicated timeout so a stuck COPY can't hold up the flush loop forever.
	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := db.pool.CopyFrom(copyCtx, pgx.Identifier{"log_entries"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("storage: copy log entries: %w", err)
	}
	return int(n), nil
}

// RecentLogEntries implements Store.
func (db *Postgres) RecentLogEntries(ctx context.Context, limit int) ([]model.LogEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, ts, unix_ts, level, event, message, payload
		 FROM log_entries ORDER BY seq DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("storage: query log entries: %w", err)
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var (
			e       model.LogEntry
			level   string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UnixTS, &level, &e.Event, &e.Message, &payload); err != nil {
			return nil, fmt.Errorf("storage: scan log entry: %w", err)
		}
		e.Level = model.LogLevel(level)
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("storage: decode log payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateProof implements Store.
func (db *Postgres) CreateProof(ctx context.Context, p model.Proof) error {
	metrics, err := json.Marshal(orEmptyMap(p.Metrics))
	if err != nil {
		return fmt.Errorf("storage: marshal proof metrics: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO proofs (id, signature, ts, metrics, content_hash, previous_root, root_hash, stable, recorded_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)`,
		p.ID, p.Signature, p.Timestamp, string(metrics), p.ContentHash, p.PreviousRoot, p.RootHash, p.Stable, p.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert proof: %w", err)
	}
	return nil
}

const pgProofColumns = `id, signature, ts, metrics, content_hash, previous_root, root_hash, stable, recorded_at`

// ListProofs implements Store.
func (db *Postgres) ListProofs(ctx context.Context, limit int) ([]model.Proof, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.pool.Query(ctx,
			`SELECT `+pgProofColumns+` FROM (
			   SELECT * FROM proofs ORDER BY seq DESC LIMIT $1
			 ) latest ORDER BY seq ASC`, limit)
	} else {
		rows, err = db.pool.Query(ctx, `SELECT `+pgProofColumns+` FROM proofs ORDER BY seq ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: query proofs: %w", err)
	}
	defer rows.Close()

	var out []model.Proof
	for rows.Next() {
		p, err := scanPgProof(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestProof implements Store.
func (db *Postgres) LatestProof(ctx context.Context) (model.Proof, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+pgProofColumns+` FROM proofs ORDER BY seq DESC LIMIT 1`)
	p, err := scanPgProof(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Proof{}, ErrNotFound
	}
	return p, err
}

// CountProofs implements Store.
func (db *Postgres) CountProofs(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM proofs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count proofs: %w", err)
	}
	return n, nil
}

func scanPgProof(row pgx.Row) (model.Proof, error) {
	var (
		p       model.Proof
		metrics []byte
	)
	if err := row.Scan(&p.ID, &p.Signature, &p.Timestamp, &metrics, &p.ContentHash,
		&p.PreviousRoot, &p.RootHash, &p.Stable, &p.RecordedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Proof{}, err
		}
		return model.Proof{}, fmt.Errorf("storage: scan proof: %w", err)
	}
	if err := json.Unmarshal(metrics, &p.Metrics); err != nil {
		return model.Proof{}, fmt.Errorf("storage: decode proof metrics: %w", err)
	}
	return p, nil
}

// SaveTask implements Store.
func (db *Postgres) SaveTask(ctx context.Context, t model.Task) error {
	result, err := marshalNullable(t.Result)
	if err != nil {
		return fmt.Errorf("storage: marshal task result: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO tasks (id, status, repository, action, issue_number, started_at, completed_at, result, error, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, now())
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   repository = EXCLUDED.repository,
		   action = EXCLUDED.action,
		   issue_number = EXCLUDED.issue_number,
		   started_at = EXCLUDED.started_at,
		   completed_at = EXCLUDED.completed_at,
		   result = EXCLUDED.result,
		   error = EXCLUDED.error,
		   updated_at = now()`,
		t.ID, string(t.Status), t.Repository, string(t.Action), t.IssueNumber,
		t.StartedAt, t.CompletedAt, result, t.Error,
	)
	if err != nil {
		return fmt.Errorf("storage: save task: %w", err)
	}
	return nil
}

// GetTask implements Store.
func (db *Postgres) GetTask(ctx context.Context, id string) (model.Task, error) {
	var (
		t              model.Task
		status, action string
		result         []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, status, repository, action, issue_number, started_at, completed_at, result, error
		 FROM tasks WHERE id = $1`, id,
	).Scan(&t.ID, &status, &t.Repository, &action, &t.IssueNumber, &t.StartedAt, &t.CompletedAt, &result, &t.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: get task: %w", err)
	}
	t.Status = model.TaskStatus(status)
	t.Action = model.TaskAction(action)
	if len(result) > 0 {
		t.Result = json.RawMessage(result)
	}
	return t, nil
}

// SaveDecision implements Store.
func (db *Postgres) SaveDecision(ctx context.Context, d model.Decision) error {
	reasoning, err := json.Marshal(orEmptySlice(d.Reasoning))
	if err != nil {
		return fmt.Errorf("storage: marshal reasoning: %w", err)
	}
	actions, err := json.Marshal(orEmptySlice(d.Actions))
	if err != nil {
		return fmt.Errorf("storage: marshal actions: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO decisions (id, kind, confidence, reasoning, actions, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)
		 ON CONFLICT (id) DO NOTHING`,
		d.ID, d.Kind, d.Confidence, string(reasoning), string(actions), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert decision: %w", err)
	}
	return nil
}

// RecentDecisions implements Store.
func (db *Postgres) RecentDecisions(ctx context.Context, limit int) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, kind, confidence, reasoning, actions, created_at
		 FROM decisions ORDER BY seq DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("storage: query decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		var (
			d                  model.Decision
			reasoning, actions []byte
		)
		if err := rows.Scan(&d.ID, &d.Kind, &d.Confidence, &reasoning, &actions, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		if err := json.Unmarshal(reasoning, &d.Reasoning); err != nil {
			return nil, fmt.Errorf("storage: decode reasoning: %w", err)
		}
		if err := json.Unmarshal(actions, &d.Actions); err != nil {
			return nil, fmt.Errorf("storage: decode actions: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func marshalNullable(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
