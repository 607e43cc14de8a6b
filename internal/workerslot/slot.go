// SPDX-License-Identifier: Apache-2.0

// Package workerslot models a single in-memory execution slot: an idle or
// busy record tracking the job and child process currently attached to it.
// Worker slots are not persisted across service restarts.
package workerslot

import (
	"os/exec"
	"sync"
	"time"

	schederrors "github.com/markxbrooks/schedarray/pkg/errors"
)

// State is the occupancy of a Slot.
type State string

const (
	StateIdle State = "idle"
	StateBusy State = "busy"
)

// Slot is one bounded execution unit. max_cpus is fixed at 1 in this
// release: a slot runs at most one job at a time.
type Slot struct {
	mu sync.Mutex

	workerID      string
	maxCPUs       int
	availableCPUs int
	currentJobID  string
	state         State
	cmd           *exec.Cmd
	lastHeartbeat time.Time
}

// New creates an idle slot with the given identifier.
func New(workerID string) *Slot {
	return &Slot{
		workerID:      workerID,
		maxCPUs:       1,
		availableCPUs: 1,
		state:         StateIdle,
		lastHeartbeat: time.Now(),
	}
}

// WorkerID returns the slot's identifier.
func (s *Slot) WorkerID() string {
	return s.workerID
}

// State returns the slot's current occupancy.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentJobID returns the job id currently bound to the slot, or "" if idle.
func (s *Slot) CurrentJobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentJobID
}

// Assign binds jobID and cmd to this slot. Fails if the slot is not idle.
func (s *Slot) Assign(jobID string, cmd *exec.Cmd) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		err := schederrors.NewSchedError(schederrors.ErrorCodeIllegalTransition, "slot is not idle")
		err.JobID = jobID
		return err
	}

	s.state = StateBusy
	s.currentJobID = jobID
	s.cmd = cmd
	s.lastHeartbeat = time.Now()
	return nil
}

// AttachProcess records the child process spawned for the slot's current
// job. Called once the Executor has started the command, since Assign runs
// before the command exists.
func (s *Slot) AttachProcess(cmd *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = cmd
	s.lastHeartbeat = time.Now()
}

// Release resets the slot to idle and refreshes its heartbeat. Idempotent.
func (s *Slot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateIdle
	s.currentJobID = ""
	s.cmd = nil
	s.lastHeartbeat = time.Now()
}

// IsAlive reports true if no child is attached, or the attached child has
// not exited.
func (s *Slot) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return true
	}
	return s.cmd.ProcessState == nil
}

// Process returns the child process currently attached to the slot, or nil.
func (s *Slot) Process() *exec.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd
}

// LastHeartbeat returns the time the slot was last assigned, attached to a
// process, or released.
func (s *Slot) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Snapshot is a point-in-time, read-only view of a Slot for status reporting.
type Snapshot struct {
	WorkerID      string
	MaxCPUs       int
	AvailableCPUs int
	CurrentJobID  string
	State         State
	LastHeartbeat time.Time
}

// Snapshot captures the slot's current fields.
func (s *Slot) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	availableCPUs := s.availableCPUs
	if s.state == StateBusy {
		availableCPUs = 0
	}

	return Snapshot{
		WorkerID:      s.workerID,
		MaxCPUs:       s.maxCPUs,
		AvailableCPUs: availableCPUs,
		CurrentJobID:  s.currentJobID,
		State:         s.state,
		LastHeartbeat: s.lastHeartbeat,
	}
}
