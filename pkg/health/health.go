// Package health aggregates per-worker probes (process liveness, status
// freshness, memory pressure, task progress) into a single health verdict.
package health

import (
	"time"

	"github.com/jedarden/forge/pkg/types"
)

// PidProber reports whether a process id is still alive.
type PidProber interface {
	PidExists(pid int) bool
}

// MemoryProber reports the current memory severity classification for a
// worker, as computed by the memory monitor's rolling window.
type MemoryProber interface {
	Severity(workerID string) (types.MemorySeverity, bool)
}

// TaskProber answers whether a worker's current task is still in progress
// according to the external issue store.
type TaskProber interface {
	IsInProgress(workspace, beadID string) (bool, error)
}

// Config controls which checks run and their thresholds.
type Config struct {
	// FreshnessWindow is how recent LastActivity must be for StatusFresh to pass.
	FreshnessWindow time.Duration

	EnablePidExists          bool
	EnableStatusFresh        bool
	EnableMemoryUsage        bool
	EnableCurrentTaskProgress bool
}

// DefaultConfig matches the commonly deployed defaults.
func DefaultConfig() Config {
	return Config{
		FreshnessWindow:           5 * time.Minute,
		EnablePidExists:           true,
		EnableStatusFresh:         true,
		EnableMemoryUsage:         true,
		EnableCurrentTaskProgress: false,
	}
}

// Verdict is the combined outcome of all enabled checks for one worker.
type Verdict struct {
	WorkerID     string
	IsHealthy    bool
	FailedChecks map[types.CheckType]struct{}
	PrimaryError types.CheckType
	HasPrimary   bool
	Level        types.HealthLevel
}

// Monitor runs the enabled checks for each worker known to the status store
// and folds them into a Verdict. It holds no mutable state of its own; all
// state lives in the probes it is constructed with.
type Monitor struct {
	cfg     Config
	pid     PidProber
	memory  MemoryProber
	task    TaskProber
	now     func() time.Time
}

// NewMonitor builds a Monitor. task may be nil if CurrentTaskProgress is
// disabled in cfg.
func NewMonitor(cfg Config, pid PidProber, memory MemoryProber, task TaskProber) *Monitor {
	return &Monitor{cfg: cfg, pid: pid, memory: memory, task: task, now: time.Now}
}

// checkOrder fixes the precedence used to pick the PrimaryError: PidExists
// beats MemoryUsage beats everything else.
var checkOrder = []types.CheckType{
	types.CheckPidExists,
	types.CheckMemoryUsage,
	types.CheckStatusFresh,
	types.CheckCurrentTaskProgress,
}

// Check evaluates every enabled check for a single worker and returns the
// combined verdict. A nil worker record (unknown worker) is never passed in;
// callers iterate the status store's read_all() result.
func (m *Monitor) Check(w *types.WorkerStatusInfo) Verdict {
	v := Verdict{
		WorkerID:     w.WorkerID,
		FailedChecks: make(map[types.CheckType]struct{}),
	}

	if m.cfg.EnablePidExists && w.PID != 0 {
		if !m.pid.PidExists(w.PID) {
			v.FailedChecks[types.CheckPidExists] = struct{}{}
		}
	}

	if m.cfg.EnableStatusFresh {
		if w.IsStale(m.cfg.FreshnessWindow, m.now()) {
			v.FailedChecks[types.CheckStatusFresh] = struct{}{}
		}
	}

	if m.cfg.EnableMemoryUsage && m.memory != nil {
		if sev, ok := m.memory.Severity(w.WorkerID); ok && sev != types.MemoryNormal {
			v.FailedChecks[types.CheckMemoryUsage] = struct{}{}
		}
	}

	if m.cfg.EnableCurrentTaskProgress && m.task != nil && w.CurrentTask != nil && w.Workspace != "" {
		inProgress, err := m.task.IsInProgress(w.Workspace, *w.CurrentTask)
		if err == nil && !inProgress {
			v.FailedChecks[types.CheckCurrentTaskProgress] = struct{}{}
		}
	}

	v.IsHealthy = len(v.FailedChecks) == 0
	for _, ct := range checkOrder {
		if _, failed := v.FailedChecks[ct]; failed {
			v.PrimaryError = ct
			v.HasPrimary = true
			break
		}
	}

	v.Level = classify(v)
	return v
}

func classify(v Verdict) types.HealthLevel {
	if v.IsHealthy {
		return types.HealthHealthy
	}
	// PidExists or MemoryUsage failures mean the worker is dead or dangerously
	// large; anything else (staleness, task progress) is a softer signal.
	if _, pidFailed := v.FailedChecks[types.CheckPidExists]; pidFailed {
		return types.HealthUnhealthy
	}
	if _, memFailed := v.FailedChecks[types.CheckMemoryUsage]; memFailed {
		return types.HealthUnhealthy
	}
	return types.HealthDegraded
}

// CheckAll evaluates every worker in workers, preserving input order (the
// status store guarantees sorted-by-worker_id order on read_all()).
func (m *Monitor) CheckAll(workers []*types.WorkerStatusInfo) []Verdict {
	out := make([]Verdict, 0, len(workers))
	for _, w := range workers {
		out = append(out, m.Check(w))
	}
	return out
}
