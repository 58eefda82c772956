package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

const defaultSampleInterval = 5 * time.Second

// ResourceCollector samples CPU and memory usage of live children on a
// ticker. The pid set is supplied by the caller on every tick, so the
// collector never holds stale handles.
type ResourceCollector struct {
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu   sync.Mutex
	seen map[string]struct{}

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewResourceCollector(interval time.Duration) *ResourceCollector {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &ResourceCollector{
		interval: interval,
		stopCh:   make(chan struct{}),
		seen:     make(map[string]struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "process",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of managed processes.",
			}, []string{"id"},
		),
		memoryRSS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "process",
				Name:      "memory_rss_bytes",
				Help:      "Resident memory of managed processes in bytes.",
			}, []string{"id"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "process",
				Name:      "num_threads",
				Help:      "Thread count of managed processes.",
			}, []string{"id"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "process",
				Name:      "num_fds",
				Help:      "Open file descriptors of managed processes (Unix only).",
			}, []string{"id"},
		),
	}
}

// Register registers the resource gauges with the provided registerer.
func (c *ResourceCollector) Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{c.cpuPercent, c.memoryRSS, c.numThreads}
	if runtime.GOOS != "windows" {
		cs = append(cs, c.numFDs)
	}
	for _, col := range cs {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. getProcesses returns the pids of currently
// live children keyed by process id; it is called once per tick.
func (c *ResourceCollector) Start(ctx context.Context, getProcesses func() map[string]int) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sample(getProcesses())
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler goroutine to exit.
func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *ResourceCollector) sample(procs map[string]int) {
	live := make(map[string]struct{}, len(procs))
	for id, pid := range procs {
		if pid <= 0 {
			continue
		}
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			slog.Debug("resource sample skipped", "id", id, "pid", pid, "error", err)
			continue
		}
		live[id] = struct{}{}
		if cpu, err := p.CPUPercent(); err == nil {
			c.cpuPercent.WithLabelValues(id).Set(cpu)
		}
		if mem, err := p.MemoryInfo(); err == nil {
			c.memoryRSS.WithLabelValues(id).Set(float64(mem.RSS))
		}
		if threads, err := p.NumThreads(); err == nil {
			c.numThreads.WithLabelValues(id).Set(float64(threads))
		}
		if runtime.GOOS != "windows" {
			if fds, err := p.NumFDs(); err == nil {
				c.numFDs.WithLabelValues(id).Set(float64(fds))
			}
		}
	}

	// Drop series for ids that vanished since the previous tick.
	c.mu.Lock()
	for id := range c.seen {
		if _, ok := live[id]; !ok {
			c.cpuPercent.DeleteLabelValues(id)
			c.memoryRSS.DeleteLabelValues(id)
			c.numThreads.DeleteLabelValues(id)
			c.numFDs.DeleteLabelValues(id)
		}
	}
	c.seen = live
	c.mu.Unlock()
}
