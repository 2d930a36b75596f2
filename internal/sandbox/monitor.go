package sandbox

import (
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// memoryMonitor samples a worker's resident set size until stopped. When the
// RSS crosses the limit it calls onBreach once.
type memoryMonitor struct {
	pid      int32
	limit    uint64
	interval time.Duration
	onBreach func()

	peak     atomic.Uint64
	breached atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

func newMemoryMonitor(pid int, limit uint64, interval time.Duration, onBreach func()) *memoryMonitor {
	return &memoryMonitor{
		pid:      int32(pid),
		limit:    limit,
		interval: interval,
		onBreach: onBreach,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run samples until Stop is called or the process disappears.
func (m *memoryMonitor) Run() {
	defer close(m.done)

	proc, err := process.NewProcess(m.pid)
	if err != nil {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if !m.sample(proc) {
			return
		}
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
	}
}

func (m *memoryMonitor) sample(proc *process.Process) bool {
	info, err := proc.MemoryInfo()
	if err != nil {
		return false
	}
	for {
		cur := m.peak.Load()
		if info.RSS <= cur || m.peak.CompareAndSwap(cur, info.RSS) {
			break
		}
	}
	if m.limit > 0 && info.RSS > m.limit && m.breached.CompareAndSwap(false, true) {
		m.onBreach()
		return false
	}
	return true
}

// Stop ends sampling and waits for the sampler to exit.
func (m *memoryMonitor) Stop() {
	close(m.stop)
	<-m.done
}

// Peak returns the highest RSS observed, in bytes.
func (m *memoryMonitor) Peak() uint64 { return m.peak.Load() }

// Breached reports whether the limit was crossed.
func (m *memoryMonitor) Breached() bool { return m.breached.Load() }
