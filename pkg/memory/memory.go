// Package memory tracks per-worker RSS over a sliding window and classifies
// the result as Normal, Warning, or Critical.
package memory

import (
	"sync"
	"time"

	"github.com/jedarden/forge/pkg/types"
)

// Sample is a single (instant, rss_bytes) observation.
type Sample struct {
	At       time.Time
	RSSBytes uint64
}

// Config controls the monitor's window and thresholds.
type Config struct {
	// Window is how far back samples are retained for growth-rate computation.
	Window time.Duration
	// WarningLimitBytes triggers Warning when RSS meets or exceeds it.
	WarningLimitBytes uint64
	// KillLimitBytes triggers Critical (unconditional runaway kill) when RSS
	// meets or exceeds it.
	KillLimitBytes uint64
	// LeakThresholdMBPerMin triggers Warning on sustained growth even below
	// WarningLimitBytes.
	LeakThresholdMBPerMin float64
}

// DefaultConfig matches the commonly cited defaults (5 minute window, 50
// MB/min leak threshold); limit bytes are deployment-specific and have no
// stated default, so callers must supply them.
func DefaultConfig(warningLimitBytes, killLimitBytes uint64) Config {
	return Config{
		Window:                5 * time.Minute,
		WarningLimitBytes:     warningLimitBytes,
		KillLimitBytes:        killLimitBytes,
		LeakThresholdMBPerMin: 50,
	}
}

const bytesPerMB = 1024 * 1024

// Reading is the outcome of a single Check call.
type Reading struct {
	WorkerID       string
	RSSBytes       uint64
	GrowthMBPerMin float64
	Severity       types.MemorySeverity
}

// RSSReader abstracts the process probe so the monitor can be tested
// without a real process.
type RSSReader interface {
	RSS(pid int) (rssBytes uint64, ok bool)
}

// Monitor holds one ring of samples per worker and the most recent reading,
// so health checks can consult severity without re-sampling RSS themselves.
type Monitor struct {
	cfg    Config
	reader RSSReader
	now    func() time.Time

	mu      sync.Mutex
	samples map[string][]Sample
	last    map[string]Reading
}

// NewMonitor constructs a Monitor backed by reader.
func NewMonitor(cfg Config, reader RSSReader) *Monitor {
	return &Monitor{
		cfg:     cfg,
		reader:  reader,
		now:     time.Now,
		samples: make(map[string][]Sample),
		last:    make(map[string]Reading),
	}
}

// Check samples pid's current RSS for workerID, appends it to that worker's
// ring, drops samples older than the configured window, and returns the
// resulting reading. ok is false if the process has already exited.
func (m *Monitor) Check(pid int, workerID string) (Reading, bool) {
	rss, ok := m.reader.RSS(pid)
	if !ok {
		return Reading{}, false
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := append(m.samples[workerID], Sample{At: now, RSSBytes: rss})
	cutoff := now.Add(-m.cfg.Window)
	trimmed := ring[:0]
	for _, s := range ring {
		if s.At.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	m.samples[workerID] = trimmed

	growth := growthRateMBPerMin(trimmed)
	reading := Reading{
		WorkerID:       workerID,
		RSSBytes:       rss,
		GrowthMBPerMin: growth,
		Severity:       m.classify(rss, growth),
	}
	m.last[workerID] = reading
	return reading, true
}

// growthRateMBPerMin computes (last-first RSS in MB) / elapsed minutes, or 0
// if fewer than 2 samples or elapsed < 1s.
func growthRateMBPerMin(samples []Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	first, last := samples[0], samples[len(samples)-1]
	elapsed := last.At.Sub(first.At)
	if elapsed < time.Second {
		return 0
	}
	var deltaMB float64
	if last.RSSBytes >= first.RSSBytes {
		deltaMB = float64(last.RSSBytes-first.RSSBytes) / bytesPerMB
	} else {
		deltaMB = -float64(first.RSSBytes-last.RSSBytes) / bytesPerMB
	}
	return deltaMB / elapsed.Minutes()
}

func (m *Monitor) classify(rss uint64, growthMBPerMin float64) types.MemorySeverity {
	switch {
	case rss >= m.cfg.KillLimitBytes:
		return types.MemoryCritical
	case rss >= m.cfg.WarningLimitBytes:
		return types.MemoryWarning
	case growthMBPerMin >= m.cfg.LeakThresholdMBPerMin:
		return types.MemoryWarning
	default:
		return types.MemoryNormal
	}
}

// Severity returns the most recently computed severity for workerID,
// satisfying pkg/health's MemoryProber interface. ok is false if no
// reading has ever been recorded for that worker.
func (m *Monitor) Severity(workerID string) (types.MemorySeverity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.last[workerID]
	if !ok {
		return types.MemoryNormal, false
	}
	return r.Severity, true
}

// IsRunaway reports whether workerID's most recent RSS reading met or
// exceeded the kill limit, the unconditional-termination trigger the
// auto-recovery manager applies ahead of any policy check.
func (m *Monitor) IsRunaway(workerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.last[workerID]
	return ok && r.RSSBytes >= m.cfg.KillLimitBytes
}

// Last returns the most recent reading recorded for workerID, so callers
// reporting on an action (e.g. "terminated, was using N MB") don't need to
// re-sample RSS themselves.
func (m *Monitor) Last(workerID string) (Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.last[workerID]
	return r, ok
}

// Forget drops all retained samples for a worker, used once a worker is
// restarted or removed so stale growth history doesn't leak into the next
// incarnation's classification.
func (m *Monitor) Forget(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.samples, workerID)
	delete(m.last, workerID)
}
