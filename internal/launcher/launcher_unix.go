//go:build !windows

package launcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so signals
// reach the whole tree it spawns.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Terminate delivers the graceful stop signal (SIGTERM) to the child's
// process group, falling back to the process itself.
func Terminate(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// Kill delivers SIGKILL to the child's process group, falling back to the
// process itself.
func Kill(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// ExitedViaStopSignal reports whether the process died from the graceful stop
// signal, meaning the exit should not be treated as a crash.
func ExitedViaStopSignal(state *os.ProcessState) bool {
	if state == nil {
		return false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return ws.Signaled() && ws.Signal() == syscall.SIGTERM
}

// venvPython returns the pre-provisioned interpreter inside dir, if present.
func venvPython(dir string) string {
	py := filepath.Join(dir, "venv", "bin", "python")
	if st, err := os.Stat(py); err == nil && !st.IsDir() {
		return py
	}
	return ""
}

func shellPath() string { return "/bin/sh" }
