// SPDX-License-Identifier: Apache-2.0

// Package watch implements a polling-based job-state watcher: it diffs
// successive Scheduler.List snapshots and emits one event per job that
// appeared, changed state, or left the list.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/markxbrooks/schedarray/internal/jobmodel"
)

// DefaultPollInterval is used when WithPollInterval is not called.
const DefaultPollInterval = 2 * time.Second

// EventType classifies a JobEvent.
type EventType string

const (
	EventNew         EventType = "job_new"
	EventStateChange EventType = "job_state_change"
	EventCompleted   EventType = "job_completed"
)

// JobEvent is emitted whenever a poll observes a job's state differ from
// the previous poll.
type JobEvent struct {
	EventType     EventType
	JobID         string
	PreviousState jobmodel.State
	NewState      jobmodel.State
	EventTime     time.Time
	Job           *jobmodel.Job
}

// ListFunc fetches the current job snapshot the poller diffs against.
type ListFunc func(ctx context.Context) ([]*jobmodel.Job, error)

// Options filters what the poller reports.
type Options struct {
	// ExcludeNew suppresses job_new events.
	ExcludeNew bool
	// ExcludeCompleted suppresses job_completed events for jobs that leave
	// the observed snapshot entirely (deleted or cleaned up).
	ExcludeCompleted bool
}

// JobPoller implements job-state watching by repeatedly calling a ListFunc
// and diffing against the previously observed state.
type JobPoller struct {
	listFunc     ListFunc
	pollInterval time.Duration
	bufferSize   int

	mu        sync.Mutex
	jobStates map[string]jobmodel.State
}

// NewJobPoller creates a poller backed by listFunc.
func NewJobPoller(listFunc ListFunc) *JobPoller {
	return &JobPoller{
		listFunc:     listFunc,
		pollInterval: DefaultPollInterval,
		bufferSize:   100,
		jobStates:    make(map[string]jobmodel.State),
	}
}

// WithPollInterval sets a custom poll interval.
func (p *JobPoller) WithPollInterval(interval time.Duration) *JobPoller {
	p.pollInterval = interval
	return p
}

// WithBufferSize sets the event channel's buffer size.
func (p *JobPoller) WithBufferSize(size int) *JobPoller {
	p.bufferSize = size
	return p
}

// Watch starts polling and returns the event channel, closed when ctx is
// canceled.
func (p *JobPoller) Watch(ctx context.Context, opts *Options) (<-chan JobEvent, error) {
	if opts == nil {
		opts = &Options{}
	}
	eventChan := make(chan JobEvent, p.bufferSize)
	go p.pollLoop(ctx, opts, eventChan)
	return eventChan, nil
}

func (p *JobPoller) pollLoop(ctx context.Context, opts *Options, eventChan chan<- JobEvent) {
	defer close(eventChan)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.performPoll(ctx, opts, eventChan, true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.performPoll(ctx, opts, eventChan, false)
		}
	}
}

func (p *JobPoller) performPoll(ctx context.Context, opts *Options, eventChan chan<- JobEvent, isInitial bool) {
	jobs, err := p.listFunc(ctx)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(jobs))

	for _, job := range jobs {
		seen[job.JobID] = true

		previous, exists := p.jobStates[job.JobID]
		if !exists {
			p.jobStates[job.JobID] = job.State
			if !isInitial && !opts.ExcludeNew {
				sendEvent(ctx, eventChan, JobEvent{
					EventType: EventNew,
					JobID:     job.JobID,
					NewState:  job.State,
					EventTime: time.Now(),
					Job:       job,
				})
			}
			continue
		}

		if previous != job.State {
			p.jobStates[job.JobID] = job.State
			sendEvent(ctx, eventChan, JobEvent{
				EventType:     EventStateChange,
				JobID:         job.JobID,
				PreviousState: previous,
				NewState:      job.State,
				EventTime:     time.Now(),
				Job:           job,
			})
		}
	}

	if opts.ExcludeCompleted {
		return
	}
	for jobID, state := range p.jobStates {
		if seen[jobID] {
			continue
		}
		delete(p.jobStates, jobID)
		sendEvent(ctx, eventChan, JobEvent{
			EventType:     EventCompleted,
			JobID:         jobID,
			PreviousState: state,
			NewState:      state,
			EventTime:     time.Now(),
		})
	}
}

func sendEvent(ctx context.Context, eventChan chan<- JobEvent, evt JobEvent) {
	select {
	case eventChan <- evt:
	case <-ctx.Done():
	}
}
