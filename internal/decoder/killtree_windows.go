//go:build windows

package decoder

import (
	"os/exec"
	"strconv"
)

// killProcessTree uses taskkill /F /T so the process's children (the
// original engine's Windows fallback) die along with it.
func killProcessTree(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	kill := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(cmd.Process.Pid))
	_ = kill.Run()
}
