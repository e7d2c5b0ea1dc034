//go:build unix

package main

import (
	"os/signal"
	"syscall"
)

// ignoreSIGPIPE stops the process from dying when the controller closes its
// end of our stdout pipe mid-write, matching the original engine's
// libc::signal(SIGPIPE, SIG_IGN) call. Windows has no SIGPIPE, so this file
// is Unix-only.
func ignoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}
