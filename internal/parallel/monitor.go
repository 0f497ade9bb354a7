package parallel

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/MrWong99/aide/internal/observe"
)

const (
	// DefaultSampleInterval is the resource sampling cadence.
	DefaultSampleInterval = 10 * time.Second

	// DefaultSoftRSSMegabytes triggers a forced garbage collection.
	DefaultSoftRSSMegabytes = 512

	// DefaultHardRSSMegabytes triggers the registered pressure callbacks.
	DefaultHardRSSMegabytes = 1024

	// DefaultHardCPUPercent triggers the registered pressure callbacks.
	DefaultHardCPUPercent = 90

	// historySize bounds the retained sample ring.
	historySize = 100
)

// Sample is one resource measurement.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	RSSMegabytes float64   `json:"rss_mb"`
	CPUPercent   float64   `json:"cpu_percent"`
}

// Thresholds configure the monitor's pressure responses. Zero-value fields
// get defaults.
type Thresholds struct {
	// SoftRSSMegabytes is the resident-set size above which a GC cycle is
	// forced. Default: 512.
	SoftRSSMegabytes float64

	// HardRSSMegabytes is the resident-set size above which pressure
	// callbacks fire. Default: 1024.
	HardRSSMegabytes float64

	// HardCPUPercent is the CPU utilisation above which pressure callbacks
	// fire. Default: 90.
	HardCPUPercent float64
}

// readStat returns the current resident-set size in bytes and cumulative CPU
// time in seconds. Injectable for tests.
type readStat func() (rssBytes float64, cpuSeconds float64, err error)

// Monitor samples the process's memory and CPU footprint on a fixed cadence,
// keeps a bounded history, and reacts to threshold crossings: a soft memory
// breach forces a GC cycle, a hard memory or CPU breach invokes the
// registered pressure callbacks.
type Monitor struct {
	log        *slog.Logger
	metrics    *observe.Metrics
	interval   time.Duration
	thresholds Thresholds
	read       readStat

	mu        sync.Mutex
	history   []Sample
	current   Sample
	lastCPU   float64
	lastAt    time.Time
	callbacks []func(Sample)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// MonitorOption is a functional option for Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the structured logger. Defaults to slog.Default.
func WithMonitorLogger(log *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.log = log }
}

// WithMonitorMetrics overrides the metrics sink.
func WithMonitorMetrics(met *observe.Metrics) MonitorOption {
	return func(m *Monitor) { m.metrics = met }
}

// WithSampleInterval overrides the sampling cadence.
func WithSampleInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithThresholds overrides the pressure thresholds.
func WithThresholds(t Thresholds) MonitorOption {
	return func(m *Monitor) {
		if t.SoftRSSMegabytes > 0 {
			m.thresholds.SoftRSSMegabytes = t.SoftRSSMegabytes
		}
		if t.HardRSSMegabytes > 0 {
			m.thresholds.HardRSSMegabytes = t.HardRSSMegabytes
		}
		if t.HardCPUPercent > 0 {
			m.thresholds.HardCPUPercent = t.HardCPUPercent
		}
	}
}

// withReadStat replaces the /proc reader in tests.
func withReadStat(r readStat) MonitorOption {
	return func(m *Monitor) { m.read = r }
}

// NewMonitor creates a Monitor over the current process's /proc entry. Call
// Start to begin sampling.
func NewMonitor(opts ...MonitorOption) (*Monitor, error) {
	m := &Monitor{
		interval: DefaultSampleInterval,
		thresholds: Thresholds{
			SoftRSSMegabytes: DefaultSoftRSSMegabytes,
			HardRSSMegabytes: DefaultHardRSSMegabytes,
			HardCPUPercent:   DefaultHardCPUPercent,
		},
		stop: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}

	if m.read == nil {
		proc, err := procfs.Self()
		if err != nil {
			return nil, err
		}
		m.read = func() (float64, float64, error) {
			stat, err := proc.Stat()
			if err != nil {
				return 0, 0, err
			}
			return float64(stat.ResidentMemory()), stat.CPUTime(), nil
		}
	}
	return m, nil
}

// OnPressure registers a callback invoked from the sampling goroutine when a
// hard threshold is crossed. Callbacks must be fast and must not block.
func (m *Monitor) OnPressure(fn func(Sample)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

// Start launches the sampling loop. Stop terminates it.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop terminates the sampling loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Current returns the most recent sample. The zero Sample is returned before
// the first tick.
func (m *Monitor) Current() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample(time.Now())
		case <-m.stop:
			return
		}
	}
}

// sample takes one measurement, updates history, and applies the threshold
// responses.
func (m *Monitor) sample(now time.Time) {
	rssBytes, cpuSeconds, err := m.read()
	if err != nil {
		m.log.Warn("resource sample failed", "err", err)
		return
	}

	s := Sample{
		Timestamp:    now,
		RSSMegabytes: rssBytes / (1 << 20),
	}

	m.mu.Lock()
	if !m.lastAt.IsZero() {
		if wall := now.Sub(m.lastAt).Seconds(); wall > 0 {
			s.CPUPercent = (cpuSeconds - m.lastCPU) / wall * 100
			if s.CPUPercent < 0 {
				s.CPUPercent = 0
			}
		}
	}
	m.lastCPU = cpuSeconds
	m.lastAt = now
	m.current = s
	m.history = append(m.history, s)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	callbacks := append([]func(Sample){}, m.callbacks...)
	thr := m.thresholds
	m.mu.Unlock()

	m.metrics.RecordResourceSample(context.Background(), s.RSSMegabytes, s.CPUPercent)

	if s.RSSMegabytes > thr.SoftRSSMegabytes {
		m.log.Info("soft memory threshold crossed, forcing GC", "rss_mb", s.RSSMegabytes)
		runtime.GC()
	}
	if s.RSSMegabytes > thr.HardRSSMegabytes || s.CPUPercent > thr.HardCPUPercent {
		m.log.Warn("hard resource threshold crossed",
			"rss_mb", s.RSSMegabytes, "cpu_percent", s.CPUPercent)
		for _, fn := range callbacks {
			fn(s)
		}
	}
}
