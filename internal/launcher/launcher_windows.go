//go:build windows

package launcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

// configureSysProcAttr puts the child in a new process group.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Terminate has no graceful equivalent on Windows; both stages terminate.
func Terminate(pid int) error {
	return terminateProcess(pid)
}

func Kill(pid int) error {
	return terminateProcess(pid)
}

func terminateProcess(pid int) error {
	if pid <= 0 {
		return nil
	}
	handle, err := openProcess(processTerminate, uint32(pid))
	if err != nil {
		// already gone; rapid teardown is common on Windows
		return nil
	}
	defer func() { _ = closeHandle(handle) }()
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func openProcess(access uint32, pid uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(pid))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(handle))
	if ret == 0 {
		return err
	}
	return nil
}

// ExitedViaStopSignal is always false on Windows; there is no signal exit.
func ExitedViaStopSignal(_ *os.ProcessState) bool { return false }

func venvPython(dir string) string {
	py := filepath.Join(dir, "venv", "Scripts", "python.exe")
	if st, err := os.Stat(py); err == nil && !st.IsDir() {
		return py
	}
	return ""
}

func shellPath() string { return "sh" }
