package cost

import "time"

// APICall is a single immutable ledger row: one row per model invocation a
// worker makes. SessionID and BeadID are optional; (WorkerID, Timestamp,
// SessionID) is the dedup key.
type APICall struct {
	Timestamp           time.Time
	WorkerID            string
	SessionID           string
	Model               string
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	CostUSD             float64
	BeadID              string
	EventType           string
}

// DailyCost is the materialized per-day rollup across all models.
type DailyCost struct {
	Date          string
	TotalCostUSD  float64
	TotalInputTok int64
	TotalOutTok   int64
	Completed     int64
	Failed        int64
	LastUpdated   time.Time
}

// ModelCost is the materialized per-day, per-model rollup.
type ModelCost struct {
	Date         string
	Model        string
	TotalCostUSD float64
	Calls        int64
	LastUpdated  time.Time
}

// Subscription mirrors types.Subscription with the quota fields the cost
// store itself persists and mutates.
type Subscription struct {
	Name         string
	Model        string
	Type         string
	MonthlyCost  float64
	QuotaLimit   *float64
	QuotaUsed    float64
	BillingStart time.Time
	BillingEnd   time.Time
	Active       bool
}

// SubscriptionUsageEvent is one unit-of-quota-consumed record.
type SubscriptionUsageEvent struct {
	SubscriptionName string
	Units            float64
	WorkerID         string
	BeadID           string
	APICallID        int64
	RecordedAt       time.Time
}

// HourlyStat is a performance aggregate bucketed by truncated-to-hour UTC.
type HourlyStat struct {
	Hour               string
	TotalCostUSD       float64
	TotalTokens        int64
	Completed          int64
	Failed             int64
	AvgTokensPerMinute float64
	LastUpdated        time.Time
}

// DailyStat is a fuller performance aggregate than DailyCost, carrying the
// derived success/efficiency metrics.
type DailyStat struct {
	Date               string
	TotalCostUSD       float64
	TotalTokens        int64
	Completed          int64
	Failed             int64
	SuccessRate        float64
	AvgCostPerTask     float64
	CacheHitRate       float64
	AvgTokensPerMinute float64
	LastUpdated        time.Time
}

// WorkerEfficiency is a per-worker, per-day cost efficiency aggregate.
type WorkerEfficiency struct {
	WorkerID       string
	Date           string
	TasksCompleted int64
	TotalCostUSD   float64
	AvgCostPerTask float64
	LastUpdated    time.Time
}

// ModelPerformance is a per-model, per-day performance aggregate, the basis
// for the cost optimizer's ModelDowngrade and EnableCaching recommendations.
type ModelPerformance struct {
	Model          string
	Date           string
	Calls          int64
	Completed      int64
	Failed         int64
	SuccessRate    float64
	TotalCostUSD   float64
	CostPerSuccess float64
	CacheHitRate   float64
	LastUpdated    time.Time
}

// TaskEvent is a lightweight record of a task lifecycle transition, used by
// dashboards rather than by any accounting computation.
type TaskEvent struct {
	BeadID    string
	WorkerID  string
	EventType string
	Timestamp time.Time
}

const rfc3339 = time.RFC3339Nano

// dailyBucket derives the local calendar-date bucket (YYYY-MM-DD) for a
// call timestamp.
func dailyBucket(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

// hourlyBucket derives the truncated-to-hour UTC ISO bucket.
func hourlyBucket(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(time.RFC3339)
}
