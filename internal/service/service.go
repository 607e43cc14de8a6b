// SPDX-License-Identifier: Apache-2.0

// Package service wraps the Scheduler and Dispatcher into the single
// long-running process the CLI's "service" subcommands control: it owns
// startup/shutdown, signal handling, and status aggregation.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/markxbrooks/schedarray/pkg/config"
	"github.com/markxbrooks/schedarray/pkg/logging"
	"github.com/markxbrooks/schedarray/pkg/metrics"

	"github.com/markxbrooks/schedarray/internal/dispatcher"
	"github.com/markxbrooks/schedarray/internal/jobmodel"
	"github.com/markxbrooks/schedarray/internal/scheduler"
	"github.com/markxbrooks/schedarray/internal/store"
	"github.com/markxbrooks/schedarray/internal/watch"
	"github.com/markxbrooks/schedarray/internal/workerslot"
)

// stopGracePeriod bounds how long Stop waits for the Dispatcher to join.
const stopGracePeriod = 5 * time.Second

// Service owns the Scheduler and Dispatcher for the lifetime of one process.
type Service struct {
	cfg       *config.Config
	store     *store.Store
	sched     *scheduler.Scheduler
	dispatch  *dispatcher.Dispatcher
	logger    logging.Logger
	collector metrics.Collector

	mu          sync.Mutex
	running     bool
	interrupted bool
	cancel      context.CancelFunc
	sigCh       chan os.Signal
	doneCh      chan struct{}
	httpServer  *http.Server
}

// New opens the store and wires a Scheduler and Dispatcher over it. A nil
// logger or collector falls back to no-op implementations.
func New(cfg *config.Config, logger logging.Logger, collector metrics.Collector) (*Service, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(s, logger, collector)
	d := dispatcher.New(sched, logger, collector, cfg.MaxWorkers, cfg.PollInterval)

	return &Service{
		cfg:       cfg,
		store:     s,
		sched:     sched,
		dispatch:  d,
		logger:    logger,
		collector: collector,
	}, nil
}

// Scheduler exposes the Scheduler API for callers (e.g. the CLI) that share
// the Service's store rather than opening their own.
func (svc *Service) Scheduler() *scheduler.Scheduler {
	return svc.sched
}

// Start registers signal handlers, starts the Dispatcher, and optionally
// mounts the HTTP status/event endpoint. It returns once startup has been
// initiated; it does not block.
func (svc *Service) Start(ctx context.Context) error {
	svc.mu.Lock()
	if svc.running {
		svc.mu.Unlock()
		return nil
	}
	svc.running = true
	svc.doneCh = make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	svc.cancel = cancel
	svc.mu.Unlock()

	if err := svc.registerWorkerNode(runCtx); err != nil {
		svc.logger.Warn("failed to register worker node", "error", err.Error())
	}

	svc.dispatch.Start(runCtx)

	if svc.cfg.HTTPAddr != "" {
		svc.startHTTP()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	svc.mu.Lock()
	svc.sigCh = sigCh
	svc.mu.Unlock()

	go func() {
		select {
		case <-sigCh:
			svc.mu.Lock()
			svc.interrupted = true
			svc.mu.Unlock()
			svc.logger.Info("received shutdown signal")
			_ = svc.Stop()
		case <-runCtx.Done():
		}
	}()

	svc.logger.Info("service started", "max_workers", svc.cfg.MaxWorkers, "poll_interval", svc.cfg.PollInterval.String())
	return nil
}

// Stop is idempotent: it stops signal handling, joins the Dispatcher
// (bounded by stopGracePeriod), cancels every job still held by a slot, and
// shuts down the HTTP endpoint if one was started.
func (svc *Service) Stop() error {
	svc.mu.Lock()
	if !svc.running {
		svc.mu.Unlock()
		return nil
	}
	svc.running = false
	sigCh := svc.sigCh
	svc.sigCh = nil
	doneCh := svc.doneCh
	svc.mu.Unlock()

	if sigCh != nil {
		signal.Stop(sigCh)
	}

	// Record the jobs held by busy slots before the join: joining the
	// Dispatcher also waits for its executors, which release their slots.
	var inFlight []string
	for _, snap := range svc.dispatch.Slots() {
		if snap.State == workerslot.StateBusy && snap.CurrentJobID != "" {
			inFlight = append(inFlight, snap.CurrentJobID)
		}
	}

	done := make(chan struct{})
	go func() {
		svc.dispatch.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		svc.logger.Warn("dispatcher did not join within grace period")
	}

	if svc.cancel != nil {
		svc.cancel()
	}

	for _, jobID := range inFlight {
		if _, err := svc.sched.Cancel(context.Background(), jobID); err != nil {
			svc.logger.Warn("failed to cancel in-flight job on stop", "job_id", jobID, "error", err.Error())
		}
	}

	if svc.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
		defer cancel()
		_ = svc.httpServer.Shutdown(shutdownCtx)
	}

	svc.logger.Info("service stopped")
	if doneCh != nil {
		close(doneCh)
	}
	return nil
}

// Wait blocks until the service has stopped, whether via Stop or a received
// signal.
func (svc *Service) Wait() {
	svc.mu.Lock()
	doneCh := svc.doneCh
	svc.mu.Unlock()
	if doneCh != nil {
		<-doneCh
	}
}

// Interrupted reports whether the most recent stop was triggered by a
// SIGINT/SIGTERM rather than an explicit Stop call.
func (svc *Service) Interrupted() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.interrupted
}

// Close releases the underlying store handle. Call after Stop.
func (svc *Service) Close() error {
	return svc.store.Close()
}

// WorkersStatus summarizes the worker slot pool.
type WorkersStatus struct {
	Total int                   `json:"total"`
	List  []workerslot.Snapshot `json:"list"`
}

// Status is the Service's point-in-time aggregate view.
type Status struct {
	Running bool                   `json:"running"`
	Workers WorkersStatus          `json:"workers"`
	Jobs    map[jobmodel.State]int `json:"jobs"`
}

// Status aggregates running state, worker slots, and per-state job counts.
// Running detection is best-effort: the in-process flag is authoritative.
func (svc *Service) Status(ctx context.Context) (*Status, error) {
	svc.mu.Lock()
	running := svc.running
	svc.mu.Unlock()

	counts, err := svc.sched.CountByState(ctx)
	if err != nil {
		return nil, err
	}

	slots := svc.dispatch.Slots()
	return &Status{
		Running: running,
		Workers: WorkersStatus{Total: len(slots), List: slots},
		Jobs:    counts,
	}, nil
}

// registerWorkerNode writes a single best-effort descriptive row for this
// process; nothing in the scheduling path reads it back.
func (svc *Service) registerWorkerNode(ctx context.Context) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return svc.store.UpsertWorkerNode(ctx, "service-"+hostname, hostname, runtime.GOOS, runtime.NumCPU())
}

// startHTTP mounts the optional read-only status/event surface.
func (svc *Service) startHTTP() {
	router := mux.NewRouter()
	router.HandleFunc("/status", svc.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}", svc.handleJob).Methods(http.MethodGet)
	router.HandleFunc("/events", svc.handleEvents).Methods(http.MethodGet)

	svc.httpServer = &http.Server{
		Addr:    svc.cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := svc.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			svc.logger.Error("http status server error", "error", err.Error())
		}
	}()
}

func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := svc.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (svc *Service) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := svc.sched.GetStatus(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

func (svc *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	poller := watch.NewJobPoller(func(ctx context.Context) ([]*jobmodel.Job, error) {
		return svc.sched.List(ctx, scheduler.ListOptions{})
	}).WithPollInterval(svc.cfg.PollInterval)

	events, err := poller.Watch(ctx, nil)
	if err != nil {
		writeSSEEvent(w, flusher, sseEvent{Event: "error", Data: map[string]string{"error": err.Error()}})
		return
	}

	writeSSEEvent(w, flusher, sseEvent{Event: "connected", Data: map[string]string{"status": "connected"}})

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				writeSSEEvent(w, flusher, sseEvent{Event: "stream_closed", Data: map[string]string{"status": "closed"}})
				return
			}
			writeSSEEvent(w, flusher, sseEvent{
				ID:    fmt.Sprintf("%d", evt.EventTime.UnixNano()),
				Event: string(evt.EventType),
				Data:  evt,
			})
		}
	}
}

// sseEvent mirrors a single Server-Sent Event frame.
type sseEvent struct {
	ID    string
	Event string
	Data  any
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, evt sseEvent) {
	if evt.ID != "" {
		fmt.Fprintf(w, "id: %s\n", evt.ID)
	}
	if evt.Event != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Event)
	}

	data, err := json.Marshal(evt.Data)
	if err != nil {
		fmt.Fprintf(w, "data: {\"error\": \"failed to marshal data\"}\n\n")
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
