// SPDX-License-Identifier: Apache-2.0

// Package scheduler implements the Scheduler API: the submit/query/cancel/
// delete surface the CLI and Dispatcher use to mutate and observe the job
// queue.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/markxbrooks/schedarray/pkg/logging"
	"github.com/markxbrooks/schedarray/pkg/metrics"

	"github.com/markxbrooks/schedarray/internal/jobmodel"
	"github.com/markxbrooks/schedarray/internal/store"
)

// SubmitRequest is the set of fields a caller may supply when enqueuing a
// job. JobName, CPULimit, and MaxRetries fall back to defaults when zero.
type SubmitRequest struct {
	Command     string
	WorkingDir  string
	JobName     string
	CPULimit    int
	MemoryLimit string
	Timeout     *time.Duration
	Priority    int
	MaxRetries  int
	OutputFile  string
	ErrorFile   string
	Metadata    jobmodel.Metadata
}

// Scheduler is the CRUD surface over the persistent store.
type Scheduler struct {
	store     *store.Store
	logger    logging.Logger
	collector metrics.Collector
}

// New wraps a store with the Scheduler API. A nil logger or collector falls
// back to no-op implementations.
func New(s *store.Store, logger logging.Logger, collector metrics.Collector) *Scheduler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Scheduler{store: s, logger: logger, collector: collector}
}

// Submit inserts one PENDING row and returns its freshly generated job_id.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	now := time.Now()

	jobID := uuid.New().String()
	jobName := req.JobName
	if jobName == "" {
		jobName = fmt.Sprintf("job_%d", now.Unix())
	}
	cpuLimit := req.CPULimit
	if cpuLimit == 0 {
		cpuLimit = 1
	}
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = jobmodel.Metadata{}
	}

	err := s.store.Submit(ctx, store.SubmitRequest{
		JobID:       jobID,
		JobName:     jobName,
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		Priority:    req.Priority,
		CPULimit:    cpuLimit,
		MemoryLimit: req.MemoryLimit,
		Timeout:     req.Timeout,
		MaxRetries:  maxRetries,
		OutputFile:  req.OutputFile,
		ErrorFile:   req.ErrorFile,
		Metadata:    metadata,
		User:        submitterUser(),
		SubmittedAt: now,
	})
	if err != nil {
		return "", err
	}

	s.collector.RecordSubmit()
	s.logger.Info("job submitted", "job_id", jobID, "priority", req.Priority)
	return jobID, nil
}

// GetStatus reads a single job, or nil if absent.
func (s *Scheduler) GetStatus(ctx context.Context, jobID string) (*jobmodel.Job, error) {
	return s.store.GetStatus(ctx, jobID)
}

// Cancel flips PENDING/RUNNING jobs to CANCELLED. For a RUNNING job, the
// Dispatcher's reconciliation pass is responsible for killing the child.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.store.Cancel(ctx, jobID)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("job cancelled", "job_id", jobID)
	}
	return ok, nil
}

// ListOptions filters and bounds a List call.
type ListOptions struct {
	State *jobmodel.State
	User  string
	Limit int
}

// List returns jobs matching the filter, ordered (priority DESC,
// submitted_at ASC).
func (s *Scheduler) List(ctx context.Context, opts ListOptions) ([]*jobmodel.Job, error) {
	return s.store.List(ctx, store.ListOptions{State: opts.State, User: opts.User, Limit: opts.Limit})
}

// Pending is List(state=PENDING, limit).
func (s *Scheduler) Pending(ctx context.Context, limit int) ([]*jobmodel.Job, error) {
	return s.store.Pending(ctx, limit)
}

func (s *Scheduler) listByState(ctx context.Context, state jobmodel.State, limit int) ([]*jobmodel.Job, error) {
	return s.List(ctx, ListOptions{State: &state, Limit: limit})
}

// GetRunningJobs is a convenience query over List(state=RUNNING).
func (s *Scheduler) GetRunningJobs(ctx context.Context, limit int) ([]*jobmodel.Job, error) {
	return s.listByState(ctx, jobmodel.StateRunning, limit)
}

// GetCompletedJobs is a convenience query over List(state=COMPLETED).
func (s *Scheduler) GetCompletedJobs(ctx context.Context, limit int) ([]*jobmodel.Job, error) {
	return s.listByState(ctx, jobmodel.StateCompleted, limit)
}

// GetFailedJobs is a convenience query over List(state=FAILED).
func (s *Scheduler) GetFailedJobs(ctx context.Context, limit int) ([]*jobmodel.Job, error) {
	return s.listByState(ctx, jobmodel.StateFailed, limit)
}

// UpdateStateRequest is the Executor's sole mutation path.
type UpdateStateRequest struct {
	JobID      string
	NewState   jobmodel.State
	ReturnCode *int
	Stdout     *string
	Stderr     *string
}

// UpdateState applies a state transition plus return-code/output side
// effects.
func (s *Scheduler) UpdateState(ctx context.Context, req UpdateStateRequest) (bool, error) {
	ok, err := s.store.UpdateState(ctx, store.UpdateStateRequest{
		JobID:      req.JobID,
		NewState:   req.NewState,
		ReturnCode: req.ReturnCode,
		Stdout:     req.Stdout,
		Stderr:     req.Stderr,
	})
	if err != nil {
		return false, err
	}
	if ok && req.NewState.IsTerminal() {
		s.logger.Info("job reached terminal state", "job_id", req.JobID, "state", string(req.NewState))
	}
	return ok, nil
}

// CountByState returns the number of jobs in each state.
func (s *Scheduler) CountByState(ctx context.Context) (map[jobmodel.State]int, error) {
	return s.store.CountByState(ctx)
}

// Delete removes a job row in any state except RUNNING. Refuses (false) if
// RUNNING or absent.
func (s *Scheduler) Delete(ctx context.Context, jobID string) (bool, error) {
	return s.store.Delete(ctx, jobID)
}

// CleanupTerminal bulk-deletes terminal jobs matching the given age/state
// filters, returning the count removed.
func (s *Scheduler) CleanupTerminal(ctx context.Context, olderThan *time.Duration, states ...jobmodel.State) (int, error) {
	n, err := s.store.CleanupTerminal(ctx, olderThan, states...)
	if err != nil {
		return 0, err
	}
	s.logger.Info("cleaned up terminal jobs", "count", n)
	return n, nil
}

// ClaimPending attempts the atomic PENDING->RUNNING transition the
// Dispatcher uses to claim one job for a worker slot.
func (s *Scheduler) ClaimPending(ctx context.Context, jobID, workerID string) (store.ClaimResult, error) {
	return s.store.ClaimPending(ctx, jobID, workerID)
}

// RunningOrphans returns RUNNING rows whose worker_id is not among the
// given live local worker IDs.
func (s *Scheduler) RunningOrphans(ctx context.Context, liveWorkerIDs map[string]bool) ([]*jobmodel.Job, error) {
	return s.store.RunningOrphans(ctx, liveWorkerIDs)
}

// submitterUser reads the submitter identity from the process environment:
// Unix USER, Windows USERNAME, else "unknown".
func submitterUser() string {
	if runtime.GOOS == "windows" {
		if u := os.Getenv("USERNAME"); u != "" {
			return u
		}
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "unknown"
}
