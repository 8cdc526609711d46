package optimizer

import (
	"testing"
	"time"

	"github.com/jedarden/forge/pkg/cost"
	"github.com/jedarden/forge/pkg/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limit(v float64) *float64 { return &v }

func TestSubscriptionRecommendations_OneRecommendationPerPaceState(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	statuses := []subscription.Status{
		// 70% elapsed, 20% used: time_pct > 50 and usage_diff = 20-70 = -50 < -30
		// => Accelerate.
		subscription.Evaluate(cost.Subscription{Name: "accel", QuotaLimit: limit(100), QuotaUsed: 20, BillingStart: start, BillingEnd: end}, start.Add(time.Duration(float64(end.Sub(start))*0.70))),
		// 90% elapsed, 65% used: usage_diff = -25 is not < -30, so not
		// Accelerate; time_pct>80 and usage_pct<70 => MaxOut.
		subscription.Evaluate(cost.Subscription{Name: "maxout", QuotaLimit: limit(100), QuotaUsed: 65, BillingStart: start, BillingEnd: end}, start.Add(time.Duration(float64(end.Sub(start))*0.90))),
		subscription.Evaluate(cost.Subscription{Name: "depleted", QuotaLimit: limit(100), QuotaUsed: 100, BillingStart: start, BillingEnd: end}, start.AddDate(0, 0, 10)),
	}

	recs, achieved := subscriptionRecommendations(statuses)
	require.Len(t, recs, 3)

	byType := map[RecommendationType]Recommendation{}
	for _, r := range recs {
		byType[r.Type] = r
	}
	require.Contains(t, byType, AccelerateSubscription)
	assert.Equal(t, "accel", byType[AccelerateSubscription].Subject)
	require.Contains(t, byType, MaxOutSubscription)
	assert.Equal(t, "maxout", byType[MaxOutSubscription].Subject)
	require.Contains(t, byType, SubscriptionDepleted)
	assert.Equal(t, "depleted", byType[SubscriptionDepleted].Subject)

	assert.Equal(t, float64(20+65+100), achieved.SubscriptionVsAPIUSD)
}

func TestModelRecommendations_DowngradeRequiresThresholdAndVolume(t *testing.T) {
	perf := []cost.ModelPerformance{
		{Model: "premium", Completed: 20, TotalCostUSD: 2.0, CostPerSuccess: 0.10},
		{Model: "premium-low-volume", Completed: 5, TotalCostUSD: 1.0, CostPerSuccess: 0.20},
		{Model: "budget", Completed: 20, TotalCostUSD: 0.2, CostPerSuccess: 0.01},
	}

	recs := modelRecommendations(perf)
	require.Len(t, recs, 1)
	assert.Equal(t, ModelDowngrade, recs[0].Type)
	assert.Equal(t, "premium", recs[0].Subject)
}

func TestModelRecommendations_CachingRequiresLowHitRateAndVolume(t *testing.T) {
	perf := []cost.ModelPerformance{
		{Model: "cold", Calls: 50, TotalCostUSD: 10.0, CacheHitRate: 0.02},
		{Model: "cold-low-volume", Calls: 5, TotalCostUSD: 10.0, CacheHitRate: 0.0},
		{Model: "warm", Calls: 50, TotalCostUSD: 10.0, CacheHitRate: 0.5},
	}

	recs := modelRecommendations(perf)
	require.Len(t, recs, 1)
	assert.Equal(t, EnableCaching, recs[0].Type)
	assert.Equal(t, "cold", recs[0].Subject)
	assert.InDelta(t, 2.0, recs[0].EstimatedSavings, 0.0001)
}

func TestAnalyze_SortsByPriorityDescending(t *testing.T) {
	db, err := cost.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, db.UpsertSubscription(cost.Subscription{
		Name: "maxout-sub", Model: "standard", QuotaLimit: limit(100), QuotaUsed: 50,
		BillingStart: start, BillingEnd: end, Active: true,
	}))

	day := time.Now()
	date := day.Local().Format("2006-01-02")
	var calls []cost.APICall
	for i := 0; i < 12; i++ {
		calls = append(calls, cost.APICall{
			Timestamp: day.Add(time.Duration(i) * time.Minute), WorkerID: "w1", SessionID: "premium-" + sessID(i),
			Model: "premium", CostUSD: 1.0, EventType: "completed",
		})
	}
	for i := 0; i < 12; i++ {
		calls = append(calls, cost.APICall{
			Timestamp: day.Add(time.Duration(i) * time.Minute), WorkerID: "w1", SessionID: "cold-" + sessID(i),
			Model: "cold-cache", CostUSD: 0.5, EventType: "completed",
			CacheReadTokens: 1, CacheCreationTokens: 99,
		})
	}
	_, err = db.InsertAPICalls(calls)
	require.NoError(t, err)
	require.NoError(t, db.Reaggregate(date))

	opt := New(db, subscription.NewTracker(db))

	report, err := opt.Analyze([]string{date})
	require.NoError(t, err)
	require.NotEmpty(t, report.Recommendations)

	for i := 1; i < len(report.Recommendations); i++ {
		assert.GreaterOrEqual(t, report.Recommendations[i-1].Priority, report.Recommendations[i].Priority)
	}

	byType := map[RecommendationType]bool{}
	for _, r := range report.Recommendations {
		byType[r.Type] = true
	}
	assert.True(t, byType[ModelDowngrade], "12 premium completions at $1/success should trip ModelDowngrade")
	assert.True(t, byType[EnableCaching], "cold-cache's near-zero hit rate should trip EnableCaching")

	// ModelDowngrade (priority 50) must sort ahead of EnableCaching (40).
	var downgradeIdx, cachingIdx int
	for i, r := range report.Recommendations {
		if r.Type == ModelDowngrade {
			downgradeIdx = i
		}
		if r.Type == EnableCaching {
			cachingIdx = i
		}
	}
	assert.Less(t, downgradeIdx, cachingIdx)
}

func sessID(i int) string {
	return string(rune('a' + i))
}
