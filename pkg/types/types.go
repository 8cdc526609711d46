package types

import "time"

// WorkerStatus represents the lifecycle state of a supervised worker process.
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "Starting"
	WorkerActive   WorkerStatus = "Active"
	WorkerIdle     WorkerStatus = "Idle"
	WorkerPaused   WorkerStatus = "Paused"
	WorkerStopped  WorkerStatus = "Stopped"
	WorkerFailed   WorkerStatus = "Failed"
	WorkerError    WorkerStatus = "Error"
)

// WorkerStatusInfo is the on-disk record for a single worker, one file per
// worker_id under the status directory.
type WorkerStatusInfo struct {
	WorkerID       string       `json:"worker_id"`
	Status         WorkerStatus `json:"status"`
	Model          string       `json:"model,omitempty"`
	Workspace      string       `json:"workspace,omitempty"`
	PID            int          `json:"pid,omitempty"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	LastActivity   *time.Time   `json:"last_activity,omitempty"`
	CurrentTask    *string      `json:"current_task,omitempty"`
	TasksCompleted int          `json:"tasks_completed"`
}

// IsHealthy reports whether the recorded status is one a healthy worker can
// be in; Failed and Error are never healthy.
func (w *WorkerStatusInfo) IsHealthy() bool {
	switch w.Status {
	case WorkerFailed, WorkerError:
		return false
	default:
		return true
	}
}

// IsStale reports whether LastActivity is older than threshold, or the
// worker has never recorded activity at all.
func (w *WorkerStatusInfo) IsStale(threshold time.Duration, now time.Time) bool {
	if w.LastActivity == nil {
		return true
	}
	return now.Sub(*w.LastActivity) > threshold
}

// IssueStatus is the lifecycle state of an issue-store work item.
type IssueStatus string

const (
	IssueOpen       IssueStatus = "open"
	IssueInProgress IssueStatus = "in_progress"
	IssueClosed     IssueStatus = "closed"
	IssueBlocked    IssueStatus = "blocked"
	IssueDeferred   IssueStatus = "deferred"
)

// Issue is FORGE's projection of a row from the external issue store.
type Issue struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Status           IssueStatus `json:"status"`
	Priority         int         `json:"priority"`
	Labels           []string    `json:"labels"`
	Assignee         string      `json:"assignee,omitempty"`
	DependencyCount  int         `json:"dependency_count"`
	DependentCount   int         `json:"dependent_count"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// IsReady reports whether an issue has no outstanding dependencies and is
// not explicitly deferred.
func (i *Issue) IsReady() bool {
	return i.DependencyCount == 0 && i.Status != IssueDeferred
}

// HasLabel reports whether the issue carries the given label.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// SubscriptionType classifies how a subscription's cost accrues.
type SubscriptionType string

const (
	SubscriptionFixedQuota SubscriptionType = "FixedQuota"
	SubscriptionUnlimited  SubscriptionType = "Unlimited"
	SubscriptionPayPerUse  SubscriptionType = "PayPerUse"
)

// Subscription is a billing-period quota record for a model provider plan.
type Subscription struct {
	Name         string
	Model        string
	Type         SubscriptionType
	MonthlyCost  float64
	QuotaLimit   *float64
	QuotaUsed    float64
	BillingStart time.Time
	BillingEnd   time.Time
	Active       bool
}

// PaceStatus describes subscription usage relative to elapsed billing time.
type PaceStatus string

const (
	PaceOnPace    PaceStatus = "OnPace"
	PaceAccelerate PaceStatus = "Accelerate"
	PaceMaxOut    PaceStatus = "MaxOut"
	PaceDepleted  PaceStatus = "Depleted"
)

// Tier groups models for routing decisions, from most to least capable.
type Tier string

const (
	TierPremium  Tier = "Premium"
	TierStandard Tier = "Standard"
	TierBudget   Tier = "Budget"
)

// Priority is an issue priority level, 0 is highest.
type Priority int

const (
	PriorityP0 Priority = 0
	PriorityP1 Priority = 1
	PriorityP2 Priority = 2
	PriorityP3 Priority = 3
	PriorityP4 Priority = 4
)

// RecommendedTier returns the base tier recommendation for a bare priority,
// before any complexity/label overrides are applied.
func (p Priority) RecommendedTier() Tier {
	switch p {
	case PriorityP0, PriorityP1:
		return TierPremium
	case PriorityP4:
		return TierBudget
	default:
		return TierStandard
	}
}

// MemorySeverity classifies a worker's memory profile.
type MemorySeverity string

const (
	MemoryNormal   MemorySeverity = "Normal"
	MemoryWarning  MemorySeverity = "Warning"
	MemoryCritical MemorySeverity = "Critical"
)

// HealthLevel is the aggregate health verdict for a worker.
type HealthLevel string

const (
	HealthHealthy   HealthLevel = "Healthy"
	HealthDegraded  HealthLevel = "Degraded"
	HealthUnhealthy HealthLevel = "Unhealthy"
)

// CheckType names a single health probe kind.
type CheckType string

const (
	CheckPidExists          CheckType = "PidExists"
	CheckStatusFresh        CheckType = "StatusFresh"
	CheckMemoryUsage        CheckType = "MemoryUsage"
	CheckCurrentTaskProgress CheckType = "CurrentTaskProgress"
)
