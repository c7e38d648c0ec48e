// Package procsupervisor monitors resource usage of a supervised child
// process by sampling /proc, adapted from the ffmpeg process monitor for
// the relay's per-channel transcoder subprocesses.
package procsupervisor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Stats is a resource-usage snapshot for one supervised process.
type Stats struct {
	PID         int           `json:"pid"`
	CPUUser     time.Duration `json:"cpu_user"`
	CPUSystem   time.Duration `json:"cpu_system"`
	CPUTotal    time.Duration `json:"cpu_total"`
	CPUPercent  float64       `json:"cpu_percent"`
	MemoryRSS   uint64        `json:"memory_rss_bytes"`
	MemoryVMS   uint64        `json:"memory_vms_bytes"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Monitor samples a single PID's CPU and memory usage on an interval
// until Stop is called. Once the process has left /proc, the last good
// sample is kept.
type Monitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats Stats

	lastCPUTime   time.Duration
	lastCheckTime time.Time

	clockTicksHz int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor constructs a Monitor for pid, sampling every interval.
func NewMonitor(pid int, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		pid:          pid,
		startedAt:    time.Now(),
		interval:     interval,
		clockTicksHz: clockTicks(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the sampling loop in a background goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop halts sampling and waits for the loop goroutine to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Stats returns the most recent snapshot.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.PID = m.pid
	m.stats.StartedAt = m.startedAt
	m.stats.Duration = now.Sub(m.startedAt)
	m.stats.LastUpdated = now

	if runtime.GOOS == "linux" {
		m.sampleLinux(now)
	}
}

// sampleLinux reads /proc/[pid]/stat and /proc/[pid]/statm. Errors mean
// the process has already exited; the last good sample is kept.
func (m *Monitor) sampleLinux(now time.Time) {
	statPath := fmt.Sprintf("/proc/%d/stat", m.pid)
	statData, err := os.ReadFile(statPath)
	if err != nil {
		return
	}

	statStr := string(statData)
	commEnd := strings.LastIndex(statStr, ")")
	if commEnd == -1 {
		return
	}

	afterComm := strings.Fields(statStr[commEnd+2:])
	if len(afterComm) < 13 {
		return
	}

	utime, _ := strconv.ParseInt(afterComm[11], 10, 64)
	stime, _ := strconv.ParseInt(afterComm[12], 10, 64)

	tick := time.Second / time.Duration(m.clockTicksHz)
	cpuUser := time.Duration(utime) * tick
	cpuSystem := time.Duration(stime) * tick
	cpuTotal := cpuUser + cpuSystem

	m.stats.CPUUser = cpuUser
	m.stats.CPUSystem = cpuSystem
	m.stats.CPUTotal = cpuTotal

	elapsed := now.Sub(m.lastCheckTime)
	if elapsed > 0 && m.lastCPUTime > 0 {
		delta := cpuTotal - m.lastCPUTime
		m.stats.CPUPercent = float64(delta) / float64(elapsed) * 100.0
	}
	m.lastCPUTime = cpuTotal
	m.lastCheckTime = now

	statmPath := fmt.Sprintf("/proc/%d/statm", m.pid)
	statmData, err := os.ReadFile(statmPath)
	if err != nil {
		return
	}
	statmFields := strings.Fields(string(statmData))
	if len(statmFields) < 2 {
		return
	}

	pageSize := uint64(os.Getpagesize())
	vms, _ := strconv.ParseUint(statmFields[0], 10, 64)
	rss, _ := strconv.ParseUint(statmFields[1], 10, 64)
	m.stats.MemoryVMS = vms * pageSize
	m.stats.MemoryRSS = rss * pageSize
}

// clockTicks returns the system clock ticks per second (100 on most Linux).
func clockTicks() int64 {
	return 100
}
