//go:build !windows

package decoder

import (
	"os/exec"
	"syscall"
)

// killProcessTree forcibly kills cmd. On Unix this is a plain SIGKILL to the
// process; the original engine does not place these subprocesses in their
// own process group, so there is no tree to kill here — only the PID.
func killProcessTree(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGKILL)
}
