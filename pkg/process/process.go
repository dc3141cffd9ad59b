package process

import (
	"os"
	"syscall"
)

// IsProcessAlive checks if a process with the given PID is still running.
// It uses a signal-sending method that is cross-platform for Unix-like systems (macOS, Linux).
func IsProcessAlive(pid int) bool {
	// PID 0 or less is invalid.
	if pid <= 0 {
		return false
	}

	// Find the process. This doesn't fail on Unix if the process doesn't exist.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false // Should not happen on Unix-like systems.
	}

	// On Unix, sending signal 0 to a process checks for its existence without actually sending a signal.
	// If the process exists but we don't have permission, err will be EPERM, but it's still alive.
	err = process.Signal(syscall.Signal(0))

	return err == nil || os.IsPermission(err)
}

// ExitInfo describes how a child process ended. Code is nil when the process
// was terminated by a signal, in which case Signal names it.
type ExitInfo struct {
	Code   *int
	Signal string
}

// Clean reports whether the exit counts as an orderly shutdown: no exit code
// and no signal, or a zero exit code.
func (e ExitInfo) Clean() bool {
	if e.Code == nil {
		return e.Signal == ""
	}
	return *e.Code == 0
}

// ExitInfoFromState extracts the exit code or terminating signal.
func ExitInfoFromState(state *os.ProcessState) ExitInfo {
	if state == nil {
		return ExitInfo{}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitInfo{Signal: ws.Signal().String()}
	}
	code := state.ExitCode()
	if code < 0 {
		return ExitInfo{Signal: "unknown"}
	}
	return ExitInfo{Code: &code}
}
