package launcher

import "github.com/shirou/gopsutil/v4/process"

// Alive reports whether a process with pid currently exists. Used by the
// health monitor to purge handles whose OS process vanished without the exit
// path running.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
