// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package engine

import (
	"os"
	"os/exec"
	"syscall"
)

// isolate places the subprocess in its own process group and arranges for
// cancellation to SIGKILL the whole group, so interpreter children (shells,
// forked workers) die with it. Wait abandons the pipes after the grace
// period in case something in the group inherited them.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGracePeriod
}
