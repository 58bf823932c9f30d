package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/kiln/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id             TEXT PRIMARY KEY,
    kind           TEXT NOT NULL,
    status         TEXT NOT NULL,
    progress       REAL NOT NULL DEFAULT 0,
    parameters     TEXT NOT NULL,
    result         TEXT,
    error          TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    started_at     INTEGER,
    finished_at    INTEGER
)`

const (
	createCreatedAtIndex  = `CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs (created_at DESC, id DESC)`
	createFinishedAtIndex = `CREATE INDEX IF NOT EXISTS jobs_finished_at ON jobs (finished_at) WHERE finished_at IS NOT NULL`
)

const jobColumns = `id, kind, status, progress, parameters, result, error, correlation_id,
	created_at, updated_at, started_at, finished_at`

// interruptedError is recorded on jobs found unfinished when a database is
// reopened; their executors died with the previous process.
const interruptedError = "interrupted: server restarted before the job finished"

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on SQLite. The pool is limited to one
// connection, which serializes every statement and makes each UpdateJob
// transaction a single critical section. It also keeps a ":memory:"
// database alive for the life of the store.
type SQLiteStore struct {
	db          *sql.DB
	newID       func() string
	now         func() time.Time
	interrupted int
}

// NewSQLiteStore opens the database at dsn (MemoryDSN for a volatile
// store) and creates the schema. Jobs a previous process left pending or
// running are marked failed.
func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		createJobsTable,
		createCreatedAtIndex,
		createFinishedAtIndex,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare database: %w", err)
		}
	}

	o := buildOptions(opts)
	s := &SQLiteStore{db: db, newID: o.newID, now: o.now}

	if err := s.failInterrupted(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Interrupted returns how many unfinished jobs were marked failed when the
// database was opened.
func (s *SQLiteStore) Interrupted() int {
	return s.interrupted
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) failInterrupted() error {
	now := s.now().UnixNano()
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, error = ?, result = NULL, updated_at = ?, finished_at = ?
		WHERE status IN (?, ?)`,
		model.StatusFailed, interruptedError, now, now,
		model.StatusPending, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("fail interrupted jobs: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.interrupted = int(n)
	}
	return nil
}

// CreateJob inserts a pending job with progress 0 under a fresh id.
func (s *SQLiteStore) CreateJob(ctx context.Context, spec JobSpec) (*model.Job, error) {
	params := model.Parameters{}
	for k, v := range spec.Parameters {
		params[k] = v
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := s.allocateID(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	j := &model.Job{
		ID:            id,
		Kind:          spec.Kind,
		Status:        model.StatusPending,
		Parameters:    params,
		CorrelationID: spec.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, status, progress, parameters, correlation_id, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.Status, string(paramsJSON), j.CorrelationID, now.UnixNano(), now.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job: %w", err)
	}
	return j.Clone(), nil
}

func (s *SQLiteStore) allocateID(ctx context.Context, tx *sql.Tx) (string, error) {
	for range maxIDAttempts {
		id := s.newID()
		if id == "" {
			continue
		}
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM jobs WHERE id = ?", id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("check job id: %w", err)
		}
	}
	return "", ErrIDExhausted
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJob reads, mutates and writes the job inside one transaction, with
// the same rules as MemoryStore.UpdateJob.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, fn Mutation) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanJob(tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	next, err := applyMutation(cur, fn, s.now())
	if err != nil {
		return nil, err
	}

	var result sql.NullString
	if next.Result != nil {
		result = sql.NullString{String: string(next.Result), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, result = ?, error = ?,
			updated_at = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		next.Status, next.Progress, result, next.Error,
		next.UpdatedAt.UnixNano(), nullTime(next.StartedAt), nullTime(next.FinishedAt),
		id,
	); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job: %w", err)
	}
	return next, nil
}

// ListJobs returns jobs newest first, with the total number matching opts
// before pagination.
func (s *SQLiteStore) ListJobs(ctx context.Context, opts ListOptions) ([]*model.Job, int, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, opts.Kind)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs"+clause+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, max(opts.Offset, 0))...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, total, nil
}

// DeleteJob removes a job regardless of its status.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EvictFinished removes terminal jobs that finished before the cutoff and
// returns their ids in ascending order.
func (s *SQLiteStore) EvictFinished(ctx context.Context, before time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const match = `status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`
	args := []any{model.StatusCompleted, model.StatusFailed, before.UnixNano()}

	rows, err := tx.QueryContext(ctx, "SELECT id FROM jobs WHERE "+match+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("find finished jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job ids: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE "+match, args...); err != nil {
		return nil, fmt.Errorf("evict finished jobs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit eviction: %w", err)
	}
	return ids, nil
}

// GetJobStats aggregates counts by status and kind plus the mean run time
// of finished jobs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	if err := s.countJobs(ctx, stats); err != nil {
		return nil, err
	}

	var avgNS sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(finished_at - started_at) FROM jobs
		WHERE started_at IS NOT NULL AND finished_at IS NOT NULL`,
	).Scan(&avgNS); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avgNS.Valid {
		stats.AvgDurationMS = avgNS.Float64 / float64(time.Millisecond)
	}
	return stats, nil
}

// countJobs fills the per-status and per-kind counts. The rows are closed
// before it returns so the single connection is free for the next query.
func (s *SQLiteStore) countJobs(ctx context.Context, stats *JobStats) error {
	rows, err := s.db.QueryContext(ctx, "SELECT status, kind, COUNT(*) FROM jobs GROUP BY status, kind")
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, kind string
		var n int
		if err := rows.Scan(&status, &kind, &n); err != nil {
			return fmt.Errorf("scan job counts: %w", err)
		}
		stats.Total += n
		stats.CountByStatus[status] += n
		stats.CountByKind[kind] += n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate job counts: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j                 model.Job
		params            string
		result            sql.NullString
		created, updated  int64
		started, finished sql.NullInt64
	)
	if err := row.Scan(
		&j.ID, &j.Kind, &j.Status, &j.Progress, &params, &result, &j.Error, &j.CorrelationID,
		&created, &updated, &started, &finished,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &j.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters of job %s: %w", j.ID, err)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	j.CreatedAt = fromUnixNano(created)
	j.UpdatedAt = fromUnixNano(updated)
	if started.Valid {
		t := fromUnixNano(started.Int64)
		j.StartedAt = &t
	}
	if finished.Valid {
		t := fromUnixNano(finished.Int64)
		j.FinishedAt = &t
	}
	return &j, nil
}

func fromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
