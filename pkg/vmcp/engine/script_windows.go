// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package engine

import (
	"os/exec"
)

// isolate arranges kill-on-cancel. Windows has no POSIX process groups;
// cancellation kills the direct child only and Wait abandons the pipes
// after the grace period.
func isolate(cmd *exec.Cmd) {
	cmd.WaitDelay = killGracePeriod
}
