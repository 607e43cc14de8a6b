// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so that a
// hard kill reaches every descendant the shell spawned, not just the shell.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
}

// killProcessGroup sends SIGKILL to the child's entire process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
