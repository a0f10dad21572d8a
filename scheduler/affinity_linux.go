//go:build linux

package scheduler

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinToCore best-effort pins the calling OS thread to core (id % hwCores).
// It must run on a goroutine already locked to its OS thread via
// runtime.LockOSThread, which the worker loop does when affinity is
// enabled.
func pinToCore(id int) {
	hwCores := runtime.NumCPU()
	if hwCores == 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(id % hwCores)
	_ = unix.SchedSetaffinity(0, &set)
}
