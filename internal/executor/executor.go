// SPDX-License-Identifier: Apache-2.0

// Package executor runs one claimed job to completion: it spawns the
// configured shell command, waits for it bounded by the job's timeout,
// captures output, and posts the resulting terminal state back through the
// Scheduler API.
//
// exec.CommandContext ties the job's timeout and the caller's context to a
// single cancellation mechanism, so a service shutdown and a per-job
// deadline are handled identically by Cmd.Cancel/WaitDelay.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/markxbrooks/schedarray/internal/jobmodel"
	"github.com/markxbrooks/schedarray/internal/scheduler"
	"github.com/markxbrooks/schedarray/internal/workerslot"
)

// waitDelay bounds how long Cmd waits for I/O to drain after Cancel fires,
// before it force-closes the pipes.
const waitDelay = 5 * time.Second

// Params bundles what one Executor invocation needs: the claimed job, the
// slot it was dispatched to, and the callback used to post state changes.
type Params struct {
	Job         *jobmodel.Job
	Slot        *workerslot.Slot
	UpdateState func(scheduler.UpdateStateRequest) (bool, error)
}

// Run executes one job to a terminal state and posts it via UpdateState. The
// returned state is the one posted, for the caller's metrics/logging use; the
// store refuses the post if the job has already reached a terminal state
// (e.g. an external cancel). Run attaches the started process to the slot
// and leaves it attached; the caller releases the slot, which clears it.
func Run(ctx context.Context, p Params) (jobmodel.State, error) {
	job := p.Job

	if job.WorkingDir != "" {
		if _, err := os.Stat(job.WorkingDir); err != nil {
			msg := fmt.Sprintf("working_dir %q does not exist", job.WorkingDir)
			return postTerminal(p, jobmodel.StateFailed, intPtr(-1), nil, &msg)
		}
	}

	sinks, err := newOutputSinks(job)
	if err != nil {
		msg := err.Error()
		return postTerminal(p, jobmodel.StateFailed, intPtr(-1), nil, &msg)
	}
	defer sinks.close()

	runCtx := ctx
	if job.Timeout != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, *job.Timeout)
		defer cancel()
	}

	cmd := shellCommand(runCtx, job.Command)
	cmd.Dir = job.WorkingDir
	cmd.Stdout = sinks.stdout
	cmd.Stderr = sinks.stderr
	cmd.WaitDelay = waitDelay
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		msg := err.Error()
		return postTerminal(p, jobmodel.StateFailed, intPtr(-1), nil, &msg)
	}
	p.Slot.AttachProcess(cmd)

	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		_ = killProcessGroup(cmd)
		stdout, stderr := sinks.captured()
		return postTerminal(p, jobmodel.StateTimeout, nil, stdout, stderr)
	}

	returnCode := 0
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		returnCode = exitErr.ExitCode()
	} else if waitErr != nil {
		returnCode = -1
	}

	stdout, stderr := sinks.captured()

	state := jobmodel.StateCompleted
	if returnCode != 0 {
		state = jobmodel.StateFailed
	}
	return postTerminal(p, state, &returnCode, stdout, stderr)
}

func postTerminal(p Params, state jobmodel.State, returnCode *int, stdout, stderr *string) (jobmodel.State, error) {
	_, err := p.UpdateState(scheduler.UpdateStateRequest{
		JobID:      p.Job.JobID,
		NewState:   state,
		ReturnCode: returnCode,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	return state, err
}

func intPtr(v int) *int {
	return &v
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}

// outputSinks resolves output_file/error_file into writers, or falls back
// to in-memory buffers so captured output can be merged into metadata.
type outputSinks struct {
	stdout io.Writer
	stderr io.Writer

	stdoutFile *os.File
	stderrFile *os.File

	stdoutBuf *bytes.Buffer
	stderrBuf *bytes.Buffer
}

func newOutputSinks(job *jobmodel.Job) (*outputSinks, error) {
	s := &outputSinks{}

	if job.OutputFile != "" {
		f, err := openTruncated(job.OutputFile)
		if err != nil {
			return nil, fmt.Errorf("open output_file: %w", err)
		}
		s.stdoutFile = f
		s.stdout = f
	} else {
		s.stdoutBuf = &bytes.Buffer{}
		s.stdout = s.stdoutBuf
	}

	if job.ErrorFile != "" {
		f, err := openTruncated(job.ErrorFile)
		if err != nil {
			return nil, fmt.Errorf("open error_file: %w", err)
		}
		s.stderrFile = f
		s.stderr = f
	} else {
		s.stderrBuf = &bytes.Buffer{}
		s.stderr = s.stderrBuf
	}

	return s, nil
}

func openTruncated(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// captured returns the in-memory stdout/stderr content, or nil for whichever
// stream was redirected to a file instead.
func (s *outputSinks) captured() (stdout, stderr *string) {
	if s.stdoutBuf != nil {
		v := s.stdoutBuf.String()
		stdout = &v
	}
	if s.stderrBuf != nil {
		v := s.stderrBuf.String()
		stderr = &v
	}
	return stdout, stderr
}

func (s *outputSinks) close() {
	if s.stdoutFile != nil {
		_ = s.stdoutFile.Close()
	}
	if s.stderrFile != nil {
		_ = s.stderrFile.Close()
	}
}
