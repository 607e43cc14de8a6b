// SPDX-License-Identifier: Apache-2.0

//go:build windows

package executor

import "os/exec"

// configureSysProcAttr has nothing platform-specific to add on Windows; the
// fallback below relies on Cmd.Cancel/WaitDelay instead of a process-group
// signal.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
}

// killProcessGroup terminates the child process directly; Windows has no
// POSIX process-group signal to fan out to descendants.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
