// SPDX-License-Identifier: Apache-2.0

// Package store implements the persistent, single-file relational store
// backing the job queue: schema creation, CRUD, and the atomic
// pending-job claim protocol.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	schederrors "github.com/markxbrooks/schedarray/pkg/errors"

	"github.com/markxbrooks/schedarray/internal/jobmodel"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_queue (
	job_id       TEXT PRIMARY KEY,
	job_name     TEXT NOT NULL,
	command      TEXT NOT NULL,
	working_dir  TEXT,
	priority     INTEGER NOT NULL DEFAULT 0,
	state        TEXT NOT NULL,
	submitted_at TEXT NOT NULL,
	started_at   TEXT,
	completed_at TEXT,
	cpu_limit    INTEGER NOT NULL DEFAULT 1,
	memory_limit TEXT,
	timeout_secs INTEGER,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	max_retries  INTEGER NOT NULL DEFAULT 3,
	output_file  TEXT,
	error_file   TEXT,
	return_code  INTEGER,
	worker_id    TEXT,
	metadata     TEXT NOT NULL DEFAULT '{}',
	user         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_job_queue_state ON job_queue(state);
CREATE INDEX IF NOT EXISTS idx_job_queue_priority_submitted ON job_queue(priority DESC, submitted_at ASC);
CREATE INDEX IF NOT EXISTS idx_job_queue_user ON job_queue(user);

CREATE TABLE IF NOT EXISTS worker_nodes (
	worker_id      TEXT PRIMARY KEY,
	hostname       TEXT NOT NULL,
	platform       TEXT NOT NULL,
	cpu_count      INTEGER NOT NULL,
	registered_at  TEXT NOT NULL,
	last_heartbeat TEXT
);

CREATE TABLE IF NOT EXISTS resource_usage (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL REFERENCES job_queue(job_id),
	worker_id   TEXT NOT NULL REFERENCES worker_nodes(worker_id),
	recorded_at TEXT NOT NULL,
	cpu_percent REAL,
	memory_mb   REAL
);
`

const timeLayout = time.RFC3339Nano

// Store wraps a SQLite-backed job_queue, worker_nodes, and resource_usage
// table set behind a single shared handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at path and initializes its
// schema. The connection is serialized to a single writer so SQLite's
// single-writer model is respected, with WAL mode enabled so status reads
// don't block on dispatcher writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, schederrors.NewStorageError("open", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, schederrors.NewStorageError("enable wal", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, schederrors.NewStorageError("enable foreign keys", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, schederrors.NewStorageError("init schema", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SubmitRequest carries the fields accepted when enqueuing a job.
type SubmitRequest struct {
	JobID       string
	JobName     string
	Command     string
	WorkingDir  string
	Priority    int
	CPULimit    int
	MemoryLimit string
	Timeout     *time.Duration
	MaxRetries  int
	OutputFile  string
	ErrorFile   string
	Metadata    jobmodel.Metadata
	User        string
	SubmittedAt time.Time
}

// Submit inserts one PENDING row.
func (s *Store) Submit(ctx context.Context, req SubmitRequest) error {
	metaJSON, err := json.Marshal(req.Metadata)
	if err != nil {
		return schederrors.NewStorageError("marshal metadata", err)
	}

	var timeoutSecs sql.NullInt64
	if req.Timeout != nil {
		timeoutSecs = sql.NullInt64{Int64: int64(req.Timeout.Seconds()), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_queue (
			job_id, job_name, command, working_dir, priority, state,
			submitted_at, cpu_limit, memory_limit, timeout_secs,
			retry_count, max_retries, output_file, error_file, metadata, user
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		req.JobID, req.JobName, req.Command, req.WorkingDir, req.Priority, string(jobmodel.StatePending),
		req.SubmittedAt.Format(timeLayout), req.CPULimit, req.MemoryLimit, timeoutSecs,
		req.MaxRetries, req.OutputFile, req.ErrorFile, string(metaJSON), req.User,
	)
	if err != nil {
		return schederrors.NewStorageError("submit", err)
	}
	return nil
}

// GetStatus reads a single job row, returning nil if absent.
func (s *Store) GetStatus(ctx context.Context, jobID string) (*jobmodel.Job, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, schederrors.NewStorageError("get status", err)
	}
	return job, nil
}

// Cancel sets state=CANCELLED on a job that hasn't already reached
// COMPLETED or CANCELLED. FAILED and TIMEOUT jobs may still be cancelled
// (a no-op state change aside), matching the original scheduler's
// cancel_job guard.
// Returns false if the job is absent or already COMPLETED/CANCELLED.
func (s *Store) Cancel(ctx context.Context, jobID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, schederrors.NewStorageError("cancel begin", err)
	}
	defer tx.Rollback()

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM job_queue WHERE job_id = ?`, jobID).Scan(&state)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, schederrors.NewStorageError("cancel lookup", err)
	}
	currentState := jobmodel.State(state)
	if currentState == jobmodel.StateCompleted || currentState == jobmodel.StateCancelled {
		return false, nil
	}

	now := time.Now().Format(timeLayout)
	res, err := tx.ExecContext(ctx, `
		UPDATE job_queue SET state = ?, completed_at = ? WHERE job_id = ? AND state = ?`,
		string(jobmodel.StateCancelled), now, jobID, state,
	)
	if err != nil {
		return false, schederrors.NewStorageError("cancel update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, schederrors.NewStorageError("cancel rows affected", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, schederrors.NewStorageError("cancel commit", err)
	}
	return true, nil
}

// ListOptions filters and bounds a List call.
type ListOptions struct {
	State *jobmodel.State
	User  string
	Limit int
}

// List returns jobs matching the filter, ordered (priority DESC,
// submitted_at ASC), capped by Limit (0 = unbounded).
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*jobmodel.Job, error) {
	query := selectColumns + ` WHERE 1=1`
	var args []any

	if opts.State != nil {
		query += ` AND state = ?`
		args = append(args, string(*opts.State))
	}
	if opts.User != "" {
		query += ` AND user = ?`
		args = append(args, opts.User)
	}
	query += ` ORDER BY priority DESC, submitted_at ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schederrors.NewStorageError("list", err)
	}
	defer rows.Close()

	var jobs []*jobmodel.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, schederrors.NewStorageError("list scan", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, schederrors.NewStorageError("list rows", err)
	}
	return jobs, nil
}

// Pending is List(state=PENDING, limit).
func (s *Store) Pending(ctx context.Context, limit int) ([]*jobmodel.Job, error) {
	state := jobmodel.StatePending
	return s.List(ctx, ListOptions{State: &state, Limit: limit})
}

// ClaimResult is the outcome of one atomic claim attempt.
type ClaimResult struct {
	Claimed bool
	Job     *jobmodel.Job
}

// ClaimPending attempts to move one PENDING job to RUNNING, attaching
// workerID, in a single transaction. Returns Claimed=false if another
// claimant won the race for this jobID (the caller should retry on a
// different candidate).
func (s *Store) ClaimPending(ctx context.Context, jobID, workerID string) (ClaimResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ClaimResult{}, schederrors.NewStorageError("claim begin", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE job_queue SET state = ?, started_at = ?, worker_id = ?
		WHERE job_id = ? AND state = ?`,
		string(jobmodel.StateRunning), now.Format(timeLayout), workerID, jobID, string(jobmodel.StatePending),
	)
	if err != nil {
		return ClaimResult{}, schederrors.NewStorageError("claim update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ClaimResult{}, schederrors.NewStorageError("claim rows affected", err)
	}
	if n == 0 {
		return ClaimResult{Claimed: false}, nil
	}

	row := tx.QueryRowContext(ctx, selectColumns+` WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return ClaimResult{}, schederrors.NewStorageError("claim reload", err)
	}

	if err := tx.Commit(); err != nil {
		return ClaimResult{}, schederrors.NewStorageError("claim commit", err)
	}
	return ClaimResult{Claimed: true, Job: job}, nil
}

// UpdateStateRequest carries the Executor's single mutation path.
type UpdateStateRequest struct {
	JobID      string
	NewState   jobmodel.State
	ReturnCode *int
	Stdout     *string
	Stderr     *string
}

// UpdateState applies a state transition plus any output/return-code side
// effects. Returns false if the job does not exist or if
// jobmodel.CanTransitionTo rejects the change (a terminal state is never
// left).
func (s *Store) UpdateState(ctx context.Context, req UpdateStateRequest) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, schederrors.NewStorageError("update state begin", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectColumns+` WHERE job_id = ?`, req.JobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, schederrors.NewStorageError("update state lookup", err)
	}
	if !jobmodel.CanTransitionTo(job.State, req.NewState) {
		return false, nil
	}

	now := time.Now()
	setClauses := []string{"state = ?"}
	args := []any{string(req.NewState)}

	if req.NewState == jobmodel.StateRunning {
		setClauses = append(setClauses, "started_at = ?")
		args = append(args, now.Format(timeLayout))
	}
	if req.NewState.IsTerminal() {
		setClauses = append(setClauses, "completed_at = ?")
		args = append(args, now.Format(timeLayout))
	}
	if req.ReturnCode != nil {
		setClauses = append(setClauses, "return_code = ?")
		args = append(args, *req.ReturnCode)
	}

	if req.Stdout != nil || req.Stderr != nil {
		meta := job.Metadata
		if meta == nil {
			meta = jobmodel.Metadata{}
		}
		if req.Stdout != nil {
			meta[jobmodel.MetadataKeyStdout] = *req.Stdout
			setClauses = append(setClauses, "output_file = ?")
			args = append(args, *req.Stdout)
		}
		if req.Stderr != nil {
			meta[jobmodel.MetadataKeyStderr] = *req.Stderr
			setClauses = append(setClauses, "error_file = ?")
			args = append(args, *req.Stderr)
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return false, schederrors.NewStorageError("marshal metadata", err)
		}
		setClauses = append(setClauses, "metadata = ?")
		args = append(args, string(metaJSON))
	}

	query := fmt.Sprintf(`UPDATE job_queue SET %s WHERE job_id = ?`, joinClauses(setClauses))
	args = append(args, req.JobID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, schederrors.NewStorageError("update state exec", err)
	}
	if err := tx.Commit(); err != nil {
		return false, schederrors.NewStorageError("update state commit", err)
	}
	return true, nil
}

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += ", " + c
	}
	return out
}

// CountByState returns the number of jobs in each state.
func (s *Store) CountByState(ctx context.Context) (map[jobmodel.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM job_queue GROUP BY state`)
	if err != nil {
		return nil, schederrors.NewStorageError("count by state", err)
	}
	defer rows.Close()

	counts := make(map[jobmodel.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, schederrors.NewStorageError("count by state scan", err)
		}
		counts[jobmodel.State(state)] = count
	}
	return counts, rows.Err()
}

// Delete removes a job row in any state except RUNNING (PENDING rows are
// removed too). Refuses (false) if the job is RUNNING or absent.
func (s *Store) Delete(ctx context.Context, jobID string) (bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM job_queue WHERE job_id = ?`, jobID).Scan(&state)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, schederrors.NewStorageError("delete lookup", err)
	}
	if jobmodel.State(state) == jobmodel.StateRunning {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM job_queue WHERE job_id = ? AND state != ?`, jobID, string(jobmodel.StateRunning))
	if err != nil {
		return false, schederrors.NewStorageError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, schederrors.NewStorageError("delete rows affected", err)
	}
	return n > 0, nil
}

// CleanupTerminal bulk-deletes terminal jobs, optionally filtered by state
// and age, returning the number removed.
func (s *Store) CleanupTerminal(ctx context.Context, olderThan *time.Duration, states ...jobmodel.State) (int, error) {
	if len(states) == 0 {
		states = []jobmodel.State{jobmodel.StateCompleted, jobmodel.StateFailed, jobmodel.StateCancelled, jobmodel.StateTimeout}
	}

	placeholders := ""
	args := make([]any, 0, len(states)+1)
	for i, st := range states {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`DELETE FROM job_queue WHERE state IN (%s)`, placeholders)
	if olderThan != nil {
		cutoff := time.Now().Add(-*olderThan)
		query += ` AND completed_at IS NOT NULL AND completed_at < ?`
		args = append(args, cutoff.Format(timeLayout))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, schederrors.NewStorageError("cleanup terminal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, schederrors.NewStorageError("cleanup rows affected", err)
	}
	return int(n), nil
}

// RunningOrphans returns RUNNING rows whose worker_id is not among the
// given set of currently-live local worker IDs.
func (s *Store) RunningOrphans(ctx context.Context, liveWorkerIDs map[string]bool) ([]*jobmodel.Job, error) {
	state := jobmodel.StateRunning
	running, err := s.List(ctx, ListOptions{State: &state})
	if err != nil {
		return nil, err
	}

	var orphans []*jobmodel.Job
	for _, job := range running {
		if !liveWorkerIDs[job.WorkerID] {
			orphans = append(orphans, job)
		}
	}
	return orphans, nil
}

// UpsertWorkerNode writes a single descriptive row for a worker node.
// Never read by the scheduling path.
func (s *Store) UpsertWorkerNode(ctx context.Context, workerID, hostname, platform string, cpuCount int) error {
	now := time.Now().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_nodes (worker_id, hostname, platform, cpu_count, registered_at, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET last_heartbeat = excluded.last_heartbeat`,
		workerID, hostname, platform, cpuCount, now, now,
	)
	if err != nil {
		return schederrors.NewStorageError("upsert worker node", err)
	}
	return nil
}

// WorkerNode is a read-only descriptive row; never load-bearing for
// scheduling.
type WorkerNode struct {
	WorkerID      string
	Hostname      string
	Platform      string
	CPUCount      int
	RegisteredAt  time.Time
	LastHeartbeat *time.Time
}

// ListWorkerNodes returns the reserved worker_nodes table, read-only.
func (s *Store) ListWorkerNodes(ctx context.Context) ([]*WorkerNode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT worker_id, hostname, platform, cpu_count, registered_at, last_heartbeat FROM worker_nodes`)
	if err != nil {
		return nil, schederrors.NewStorageError("list worker nodes", err)
	}
	defer rows.Close()

	var nodes []*WorkerNode
	for rows.Next() {
		var n WorkerNode
		var registeredAt string
		var lastHeartbeat sql.NullString
		if err := rows.Scan(&n.WorkerID, &n.Hostname, &n.Platform, &n.CPUCount, &registeredAt, &lastHeartbeat); err != nil {
			return nil, schederrors.NewStorageError("list worker nodes scan", err)
		}
		if t, err := time.Parse(timeLayout, registeredAt); err == nil {
			n.RegisteredAt = t
		}
		if lastHeartbeat.Valid {
			if t, err := time.Parse(timeLayout, lastHeartbeat.String); err == nil {
				n.LastHeartbeat = &t
			}
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// ResourceUsage is a reserved, read-only record; nothing in this release
// writes to it.
type ResourceUsage struct {
	JobID      string
	WorkerID   string
	RecordedAt time.Time
	CPUPercent float64
	MemoryMB   float64
}

// ListResourceUsage returns the reserved resource_usage table, read-only.
func (s *Store) ListResourceUsage(ctx context.Context) ([]*ResourceUsage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, worker_id, recorded_at, cpu_percent, memory_mb FROM resource_usage`)
	if err != nil {
		return nil, schederrors.NewStorageError("list resource usage", err)
	}
	defer rows.Close()

	var usages []*ResourceUsage
	for rows.Next() {
		var u ResourceUsage
		var recordedAt string
		if err := rows.Scan(&u.JobID, &u.WorkerID, &recordedAt, &u.CPUPercent, &u.MemoryMB); err != nil {
			return nil, schederrors.NewStorageError("list resource usage scan", err)
		}
		if t, err := time.Parse(timeLayout, recordedAt); err == nil {
			u.RecordedAt = t
		}
		usages = append(usages, &u)
	}
	return usages, rows.Err()
}

const selectColumns = `SELECT
	job_id, job_name, command, working_dir, priority, state,
	submitted_at, started_at, completed_at, cpu_limit, memory_limit,
	timeout_secs, retry_count, max_retries, output_file, error_file,
	return_code, worker_id, metadata, user
	FROM job_queue`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*jobmodel.Job, error) {
	var j jobmodel.Job
	var workingDir, memoryLimit, outputFile, errorFile, workerID, metaJSON, state, submittedAt sql.NullString
	var startedAt, completedAt sql.NullString
	var timeoutSecs, returnCode sql.NullInt64

	if err := row.Scan(
		&j.JobID, &j.JobName, &j.Command, &workingDir, &j.Priority, &state,
		&submittedAt, &startedAt, &completedAt, &j.CPULimit, &memoryLimit,
		&timeoutSecs, &j.RetryCount, &j.MaxRetries, &outputFile, &errorFile,
		&returnCode, &workerID, &metaJSON, &j.User,
	); err != nil {
		return nil, err
	}

	j.State = jobmodel.State(state.String)
	j.WorkingDir = workingDir.String
	j.MemoryLimit = memoryLimit.String
	j.OutputFile = outputFile.String
	j.ErrorFile = errorFile.String
	j.WorkerID = workerID.String

	if submittedAt.Valid {
		if t, err := time.Parse(timeLayout, submittedAt.String); err == nil {
			j.SubmittedAt = t
		}
	}
	if startedAt.Valid {
		if t, err := time.Parse(timeLayout, startedAt.String); err == nil {
			j.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(timeLayout, completedAt.String); err == nil {
			j.CompletedAt = &t
		}
	}
	if timeoutSecs.Valid {
		d := time.Duration(timeoutSecs.Int64) * time.Second
		j.Timeout = &d
	}
	if returnCode.Valid {
		rc := int(returnCode.Int64)
		j.ReturnCode = &rc
	}
	if metaJSON.Valid && metaJSON.String != "" {
		var meta jobmodel.Metadata
		if err := json.Unmarshal([]byte(metaJSON.String), &meta); err == nil {
			j.Metadata = meta
		}
	}
	if j.Metadata == nil {
		j.Metadata = jobmodel.Metadata{}
	}

	return &j, nil
}
