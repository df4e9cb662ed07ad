//go:build windows

package stdioproc

import (
	"os"

	"golang.org/x/sys/windows"
)

// sendTerminate asks the process to shut down. Windows has no SIGTERM
// equivalent delivered to arbitrary processes, so this is best-effort: it
// behaves the same as sendKill. The gateway's terminate sequence still waits
// its grace period before escalating, which is harmless here.
func sendTerminate(proc *os.Process) error {
	return proc.Kill()
}

// sendKill forcibly terminates the process.
func sendKill(proc *os.Process) error {
	return proc.Kill()
}

// isAlive reports whether proc is still running.
func isAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == 259 // STILL_ACTIVE
}
