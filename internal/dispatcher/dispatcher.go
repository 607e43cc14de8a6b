// SPDX-License-Identifier: Apache-2.0

// Package dispatcher implements the single long-running activity that
// advances the job queue: claiming pending jobs, launching executors, and
// reconciling process lifecycle with stored job state.
//
// The ticker-driven background-goroutine shape (time.NewTicker + select
// over ticker/done-channel + sync.WaitGroup for graceful join) generalizes
// the connection pool's idle-cleanup routine to pending-job dispatch.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/markxbrooks/schedarray/pkg/logging"
	"github.com/markxbrooks/schedarray/pkg/metrics"

	"github.com/markxbrooks/schedarray/internal/executor"
	"github.com/markxbrooks/schedarray/internal/jobmodel"
	"github.com/markxbrooks/schedarray/internal/scheduler"
	"github.com/markxbrooks/schedarray/internal/workerslot"
)

// Dispatcher owns the slot map and the dispatch loop.
type Dispatcher struct {
	sched        *scheduler.Scheduler
	logger       logging.Logger
	collector    metrics.Collector
	maxWorkers   int
	pollInterval time.Duration

	mu    sync.Mutex
	slots map[string]*workerslot.Slot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	firstIteration bool
}

// New constructs a Dispatcher with maxWorkers idle slots. A nil logger or
// collector falls back to no-op implementations.
func New(sched *scheduler.Scheduler, logger logging.Logger, collector metrics.Collector, maxWorkers int, pollInterval time.Duration) *Dispatcher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	slots := make(map[string]*workerslot.Slot, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		workerID := workerIDFor(i)
		slots[workerID] = workerslot.New(workerID)
	}

	return &Dispatcher{
		sched:          sched,
		logger:         logger,
		collector:      collector,
		maxWorkers:     maxWorkers,
		pollInterval:   pollInterval,
		slots:          slots,
		firstIteration: true,
	}
}

func workerIDFor(i int) string {
	return "worker-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// Start runs the dispatch loop in a background goroutine until Stop is
// called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop()
}

// Stop signals the loop to exit and waits for it, and every in-flight
// executor, to join.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	if d.maxWorkers == 0 {
		// No dispatch ever occurs; still honor cancellation so Stop returns.
		<-d.ctx.Done()
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.runIteration()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runIteration()
		}
	}
}

// runIteration performs one pass: orphan recovery (first iteration only),
// dispatch, and reconciliation. Errors are logged and never abort the loop.
func (d *Dispatcher) runIteration() {
	ctx := d.ctx

	if d.firstIteration {
		d.recoverOrphans(ctx)
		d.firstIteration = false
	}

	d.dispatch(ctx)
	d.reconcile(ctx)
}

// liveWorkerIDs reports the worker IDs of slots currently holding a job.
// Idle slots must not count as "live" here: New names slots deterministically
// ("worker-0", "worker-1", ...), so a restart with an equal-or-larger
// maxWorkers recreates the same namespace, now idle — reporting every
// configured slot as live would make a crashed job's stale worker_id look
// live again and it would never be orphaned.
func (d *Dispatcher) liveWorkerIDs() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	live := make(map[string]bool, len(d.slots))
	for id, slot := range d.slots {
		if slot.State() == workerslot.StateBusy {
			live[id] = true
		}
	}
	return live
}

// recoverOrphans transitions every RUNNING row whose worker_id is not a
// live local slot to FAILED; this repairs state after a crash.
func (d *Dispatcher) recoverOrphans(ctx context.Context) {
	orphans, err := d.sched.RunningOrphans(ctx, d.liveWorkerIDs())
	if err != nil {
		d.logger.Error("failed to list running orphans", "error", err.Error())
		return
	}

	for _, job := range orphans {
		d.failOrphan(ctx, job.JobID)
	}
}

func (d *Dispatcher) failOrphan(ctx context.Context, jobID string) {
	rc := -1
	ok, err := d.sched.UpdateState(ctx, scheduler.UpdateStateRequest{
		JobID:      jobID,
		NewState:   jobmodel.StateFailed,
		ReturnCode: &rc,
	})
	if err != nil {
		d.logger.Error("failed to reconcile orphan", "job_id", jobID, "error", err.Error())
		return
	}
	if ok {
		d.collector.RecordReconciled()
		d.collector.RecordCompletion(string(jobmodel.StateFailed), 0)
		logging.LogStateTransition(d.logger, jobID, string(jobmodel.StateRunning), string(jobmodel.StateFailed)).
			Warn("reconciled orphaned job (crash recovery)")
	}
}

func (d *Dispatcher) findIdleSlot() *workerslot.Slot {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, slot := range d.slots {
		if slot.State() == workerslot.StateIdle {
			return slot
		}
	}
	return nil
}

// dispatch fetches up to maxWorkers PENDING jobs and assigns each to an
// idle slot via the atomic claim protocol.
func (d *Dispatcher) dispatch(ctx context.Context) {
	pending, err := d.sched.Pending(ctx, d.maxWorkers)
	if err != nil {
		d.logger.Error("failed to list pending jobs", "error", err.Error())
		return
	}

	for _, job := range pending {
		slot := d.findIdleSlot()
		if slot == nil {
			break
		}

		result, err := d.sched.ClaimPending(ctx, job.JobID, slot.WorkerID())
		if err != nil {
			d.logger.Error("claim failed", "job_id", job.JobID, "error", err.Error())
			continue
		}
		if !result.Claimed {
			// Lost the race to another claimant; try the next candidate.
			continue
		}

		if err := slot.Assign(job.JobID, nil); err != nil {
			d.logger.Error("failed to assign claimed job to slot", "job_id", job.JobID, "error", err.Error())
			continue
		}

		d.collector.RecordDispatch(time.Since(job.SubmittedAt))
		d.spawnExecutor(ctx, slot, result.Job)
	}
}

func (d *Dispatcher) spawnExecutor(ctx context.Context, slot *workerslot.Slot, job *jobmodel.Job) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer slot.Release()

		jobCtx := logging.ContextWithWorkerID(logging.ContextWithJobID(ctx, job.JobID), slot.WorkerID())
		log := d.logger.WithContext(jobCtx)

		start := time.Now()
		state, err := executor.Run(ctx, executor.Params{
			Job:  job,
			Slot: slot,
			UpdateState: func(req scheduler.UpdateStateRequest) (bool, error) {
				return d.sched.UpdateState(context.Background(), req)
			},
		})
		if err != nil {
			log.Error("executor failed", "error", err.Error())
			return
		}
		d.collector.RecordCompletion(string(state), time.Since(start))
		logging.LogStateTransition(log, job.JobID, string(jobmodel.StateRunning), string(state)).
			Info("job reached terminal state")
	}()
}

// reconcile sweeps RUNNING rows, aligning stored state with observed
// process state: orphans (no local slot), dead children whose terminal
// state was never posted, and externally-cancelled jobs still held by a
// slot.
func (d *Dispatcher) reconcile(ctx context.Context) {
	orphaned, err := d.sched.RunningOrphans(ctx, d.liveWorkerIDs())
	if err != nil {
		d.logger.Error("failed to list running jobs for reconciliation", "error", err.Error())
		return
	}
	for _, job := range orphaned {
		d.failOrphan(ctx, job.JobID)
	}

	d.reconcileSlots(ctx)
}

// reconcileSlots folds in the worker-health check: a slot whose process has
// died while the slot itself still reports busy is reconciled here,
// independent of whether a RUNNING row still references it. It also kills
// the child of any slot whose job has been externally cancelled.
func (d *Dispatcher) reconcileSlots(ctx context.Context) {
	d.mu.Lock()
	busy := make([]*workerslot.Slot, 0, len(d.slots))
	for _, slot := range d.slots {
		if slot.State() == workerslot.StateBusy {
			busy = append(busy, slot)
		}
	}
	d.mu.Unlock()

	for _, slot := range busy {
		jobID := slot.CurrentJobID()
		if jobID == "" {
			continue
		}

		if !slot.IsAlive() {
			logging.LogStateTransition(d.logger, jobID, string(jobmodel.StateRunning), string(jobmodel.StateFailed)).
				Warn("slot process died before posting terminal state", "worker_id", slot.WorkerID())
			rc := -1
			if ok, err := d.sched.UpdateState(ctx, scheduler.UpdateStateRequest{
				JobID:      jobID,
				NewState:   jobmodel.StateFailed,
				ReturnCode: &rc,
			}); err != nil {
				d.logger.Error("failed to reconcile dead slot process", "job_id", jobID, "error", err.Error())
			} else if ok {
				d.collector.RecordReconciled()
			}
			slot.Release()
			continue
		}

		current, err := d.jobState(ctx, jobID)
		if err != nil {
			continue
		}
		if current == jobmodel.StateCancelled {
			if cmd := slot.Process(); cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			slot.Release()
		}
	}
}

func (d *Dispatcher) jobState(ctx context.Context, jobID string) (jobmodel.State, error) {
	job, err := d.sched.GetStatus(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", nil
	}
	return job.State, nil
}

// Slots returns a point-in-time snapshot of every worker slot, for status
// reporting.
func (d *Dispatcher) Slots() []workerslot.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snaps := make([]workerslot.Snapshot, 0, len(d.slots))
	for _, slot := range d.slots {
		snaps = append(snaps, slot.Snapshot())
	}
	return snaps
}
