//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// dataHeadroomMB is added to the task's memory cap for RLIMIT_DATA. The Go
// runtime maps heap arenas 64 MiB at a time and wasmer maps its own code
// space, so the exact cap is enforced by the parent's RSS sampling instead.
const dataHeadroomMB = 256

func applyLimits(l Limits) error {
	if l.MemoryMB > 0 {
		data := uint64(l.MemoryMB+dataHeadroomMB) * mib
		if err := setrlimit(unix.RLIMIT_DATA, data, data); err != nil {
			return fmt.Errorf("RLIMIT_DATA: %w", err)
		}
	}
	if l.CPUSeconds > 0 {
		// Soft limit raises SIGXCPU; the hard limit one second later is a
		// SIGKILL backstop.
		soft := uint64(l.CPUSeconds)
		if err := setrlimit(unix.RLIMIT_CPU, soft, soft+1); err != nil {
			return fmt.Errorf("RLIMIT_CPU: %w", err)
		}
	}
	if err := setrlimit(unix.RLIMIT_FSIZE, uint64(l.FileSizeBytes), uint64(l.FileSizeBytes)); err != nil {
		return fmt.Errorf("RLIMIT_FSIZE: %w", err)
	}
	if err := setrlimit(unix.RLIMIT_CORE, 0, 0); err != nil {
		return fmt.Errorf("RLIMIT_CORE: %w", err)
	}
	return nil
}

// setrlimit never raises an existing hard limit, which would fail for an
// unprivileged process.
func setrlimit(resource int, soft, hard uint64) error {
	var cur unix.Rlimit
	if err := unix.Getrlimit(resource, &cur); err != nil {
		return err
	}
	if hard > cur.Max {
		hard = cur.Max
	}
	if soft > hard {
		soft = hard
	}
	return unix.Setrlimit(resource, &unix.Rlimit{Cur: soft, Max: hard})
}

// watchCPULimit runs fn when the kernel reports the CPU-time soft limit.
func watchCPULimit(fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGXCPU)
	go func() {
		<-ch
		fn()
	}()
}
