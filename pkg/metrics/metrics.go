package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	WorkerHealthLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_worker_health_level",
			Help: "Worker health classification (1 = reported, labeled by level)",
		},
		[]string{"worker_id", "level"},
	)

	// Issue store metrics
	IssuesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_issues_total",
			Help: "Total number of issues by workspace and status",
		},
		[]string{"workspace", "status"},
	)

	StuckTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_stuck_tasks_total",
			Help: "Total number of tasks flagged stuck, by workspace",
		},
		[]string{"workspace"},
	)

	// Cost metrics
	APICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_api_calls_total",
			Help: "Total number of API calls by model and event type",
		},
		[]string{"model", "event_type"},
	)

	APICostUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_api_cost_usd_total",
			Help: "Total API cost in USD by model",
		},
		[]string{"model"},
	)

	SubscriptionUsagePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_subscription_usage_percent",
			Help: "Subscription quota usage percentage by subscription name",
		},
		[]string{"subscription"},
	)

	// Router metrics
	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_routing_decisions_total",
			Help: "Total number of task routing decisions by chosen tier",
		},
		[]string{"tier"},
	)

	// Recovery metrics
	RecoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_recovery_actions_total",
			Help: "Total number of auto-recovery actions taken by type",
		},
		[]string{"action_type"},
	)

	RecoveryCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_recovery_cycle_duration_seconds",
			Help:    "Time taken for an auto-recovery check cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Optimizer metrics
	OptimizerRecommendationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_optimizer_recommendations_total",
			Help: "Number of active cost optimizer recommendations by type",
		},
		[]string{"type"},
	)

	OptimizerSavingsUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_optimizer_achieved_savings_usd",
			Help: "Estimated achieved savings in USD from subscription and budget-tier routing",
		},
	)

	// Driver cadence metrics
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_cycle_duration_seconds",
			Help:    "Time taken for a periodic cadence cycle in seconds, by job name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	CycleSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_cycle_skipped_total",
			Help: "Total number of cadence ticks skipped because the previous cycle was still running",
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerHealthLevel)
	prometheus.MustRegister(IssuesTotal)
	prometheus.MustRegister(StuckTasksTotal)
	prometheus.MustRegister(APICallsTotal)
	prometheus.MustRegister(APICostUSDTotal)
	prometheus.MustRegister(SubscriptionUsagePercent)
	prometheus.MustRegister(RoutingDecisionsTotal)
	prometheus.MustRegister(RecoveryActionsTotal)
	prometheus.MustRegister(RecoveryCycleDuration)
	prometheus.MustRegister(OptimizerRecommendationsTotal)
	prometheus.MustRegister(OptimizerSavingsUSD)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(CycleSkippedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
