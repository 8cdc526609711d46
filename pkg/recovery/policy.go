// Package recovery implements the auto-recovery manager: it consumes
// health, memory, and stuck-task verdicts and turns them into recovery
// actions gated by per-issue-type policies, with a runaway-memory kill that
// bypasses policy entirely.
package recovery

import "time"

// Policy controls whether and how aggressively an issue type is acted on.
// The zero value is Disabled.
type Policy struct {
	Kind        PolicyKind
	MaxAttempts uint8
	Cooldown    time.Duration
}

// PolicyKind names which of Policy's variants is active.
type PolicyKind int

const (
	// Disabled never attempts recovery; issues are only ever reported.
	Disabled PolicyKind = iota
	// NotifyOnly reports candidate actions but never executes them. This is
	// the default: auto-recovery is opt-in, visibility is not.
	NotifyOnly
	// AutoRecover executes the action, up to MaxAttempts times per entity,
	// with at least Cooldown between attempts.
	AutoRecover
)

// AutoRecoverPolicy builds an AutoRecover policy.
func AutoRecoverPolicy(maxAttempts uint8, cooldown time.Duration) Policy {
	return Policy{Kind: AutoRecover, MaxAttempts: maxAttempts, Cooldown: cooldown}
}

const (
	// DefaultMemoryKillThresholdMB is the RSS (in MB) past which a worker is
	// killed unconditionally, regardless of any configured policy.
	DefaultMemoryKillThresholdMB = 8192
	// DefaultMemoryWarnThresholdMB is the RSS (in MB) past which a worker is
	// flagged as a memory-leak candidate under memory_leak_policy.
	DefaultMemoryWarnThresholdMB = 4096
)

// Config is the manager's full configuration.
type Config struct {
	Enabled bool
	// CheckInterval bounds how often CheckAndRecover actually runs a cycle;
	// calls within the interval since the last cycle are no-ops.
	CheckInterval time.Duration

	DeadWorkerPolicy    Policy
	MemoryLeakPolicy    Policy
	StuckTaskPolicy     Policy
	StaleAssigneePolicy Policy

	MemoryThresholdMB     uint64
	MemoryKillThresholdMB uint64
	StuckTaskTimeout      time.Duration
	StaleAssigneeTimeout  time.Duration

	MonitoredWorkspaces []string
	MaxConcurrentRestarts int
	EmitAlerts            bool

	MaxRecentActions int
}

// DefaultConfig is NotifyOnly for dead workers, memory leaks and stuck
// tasks: those are detected and reported, and nothing is acted on until an
// operator opts in. Stale assignees are the exception: their policy
// defaults to AutoRecover with one attempt and no cooldown.
func DefaultConfig(workspaces []string) Config {
	return Config{
		Enabled:               true,
		CheckInterval:         30 * time.Second,
		DeadWorkerPolicy:      Policy{Kind: NotifyOnly},
		MemoryLeakPolicy:      Policy{Kind: NotifyOnly},
		StuckTaskPolicy:       Policy{Kind: NotifyOnly},
		StaleAssigneePolicy:   AutoRecoverPolicy(1, 0),
		MemoryThresholdMB:     DefaultMemoryWarnThresholdMB,
		MemoryKillThresholdMB: DefaultMemoryKillThresholdMB,
		StuckTaskTimeout:      30 * time.Minute,
		StaleAssigneeTimeout:  60 * time.Minute,
		MonitoredWorkspaces:   workspaces,
		MaxConcurrentRestarts: 2,
		EmitAlerts:            true,
		MaxRecentActions:      50,
	}
}

// AutoRecoverAllConfig is DefaultConfig with every policy set to
// AutoRecover, for deployments that want full self-healing.
func AutoRecoverAllConfig(workspaces []string) Config {
	cfg := DefaultConfig(workspaces)
	cfg.DeadWorkerPolicy = AutoRecoverPolicy(3, time.Minute)
	cfg.MemoryLeakPolicy = AutoRecoverPolicy(2, 2*time.Minute)
	cfg.StuckTaskPolicy = AutoRecoverPolicy(3, time.Minute)
	return cfg
}

// NotifyOnlyConfig is DefaultConfig with every policy forced to NotifyOnly,
// including the stale-assignee policy that otherwise defaults to
// AutoRecover.
func NotifyOnlyConfig(workspaces []string) Config {
	cfg := DefaultConfig(workspaces)
	cfg.DeadWorkerPolicy = Policy{Kind: NotifyOnly}
	cfg.MemoryLeakPolicy = Policy{Kind: NotifyOnly}
	cfg.StuckTaskPolicy = Policy{Kind: NotifyOnly}
	cfg.StaleAssigneePolicy = Policy{Kind: NotifyOnly}
	return cfg
}

// AttemptTracker counts recovery attempts for a single entity (a worker_id
// or bead_id) and gates further attempts by policy.
type AttemptTracker struct {
	Attempts   uint8
	LastAttempt time.Time
	hasAttempt  bool
}

// CanAttempt reports whether another attempt is permitted under policy.
func (t *AttemptTracker) CanAttempt(p Policy, now time.Time) bool {
	if p.Kind != AutoRecover {
		return false
	}
	if t.Attempts >= p.MaxAttempts {
		return false
	}
	if t.hasAttempt && now.Sub(t.LastAttempt) < p.Cooldown {
		return false
	}
	return true
}

// RecordAttempt increments the attempt count and timestamps it.
func (t *AttemptTracker) RecordAttempt(now time.Time) {
	t.Attempts++
	t.LastAttempt = now
	t.hasAttempt = true
}

// Reset clears the tracker, as if the entity had never been acted on.
func (t *AttemptTracker) Reset() {
	*t = AttemptTracker{}
}
