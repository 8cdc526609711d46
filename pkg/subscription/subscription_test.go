package subscription

import (
	"testing"
	"time"

	"github.com/jedarden/forge/pkg/cost"
	"github.com/jedarden/forge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limit(v float64) *float64 { return &v }

func TestEvaluate_DepletedWhenUsedReachesLimit(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	s := cost.Subscription{Name: "sub", QuotaLimit: limit(100), QuotaUsed: 100, BillingStart: start, BillingEnd: end}

	st := Evaluate(s, start.AddDate(0, 0, 10))
	assert.Equal(t, types.PaceDepleted, st.Pace)
	assert.Equal(t, float64(0), st.Remaining)
}

func TestEvaluate_AheadOfScheduleIsOnPace(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	// 10% of the period elapsed, but 50% of quota used: usage_diff huge positive.
	s := cost.Subscription{Name: "sub", QuotaLimit: limit(100), QuotaUsed: 50, BillingStart: start, BillingEnd: end}

	now := start.Add(time.Duration(float64(end.Sub(start)) * 0.10))
	st := Evaluate(s, now)
	assert.Equal(t, types.PaceOnPace, st.Pace)
}

func TestEvaluate_BehindScheduleAfterHalfwayIsAccelerate(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	// 60% of period elapsed, only 10% of quota used: usage_diff = 10-60 = -50 < -30.
	s := cost.Subscription{Name: "sub", QuotaLimit: limit(100), QuotaUsed: 10, BillingStart: start, BillingEnd: end}

	now := start.Add(time.Duration(float64(end.Sub(start)) * 0.60))
	st := Evaluate(s, now)
	assert.Equal(t, types.PaceAccelerate, st.Pace)
}

func TestEvaluate_LateAndUnderusedIsMaxOut(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	// 85% of period elapsed, 60% of quota used: usage_diff = 60-85 = -25, not < -30,
	// so falls through to the MaxOut branch (time_pct>80, usage_pct<70).
	s := cost.Subscription{Name: "sub", QuotaLimit: limit(100), QuotaUsed: 60, BillingStart: start, BillingEnd: end}

	now := start.Add(time.Duration(float64(end.Sub(start)) * 0.85))
	st := Evaluate(s, now)
	assert.Equal(t, types.PaceMaxOut, st.Pace)
}

func TestEvaluate_UrgentRequiresBothSoonResetAndRemainingQuota(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	s := cost.Subscription{Name: "sub", QuotaLimit: limit(100), QuotaUsed: 50, BillingStart: start, BillingEnd: end}

	st := Evaluate(s, end.Add(-12*time.Hour))
	assert.True(t, st.Urgent)

	depleted := cost.Subscription{Name: "sub2", QuotaLimit: limit(100), QuotaUsed: 100, BillingStart: start, BillingEnd: end}
	st2 := Evaluate(depleted, end.Add(-12*time.Hour))
	assert.False(t, st2.Urgent)
}

func TestEvaluate_ZeroBillingPeriodClampsTimePctTo100(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	// BillingEnd == BillingStart: zero-length period, time_pct must clamp to
	// 100 rather than stay at its zero-value. With 10% used, usage_diff =
	// 10-100 = -90 < -30 and time_pct > 50, so pace is accelerate; a zero
	// time_pct would have read as on-pace.
	s := cost.Subscription{Name: "sub", QuotaLimit: limit(100), QuotaUsed: 10, BillingStart: start, BillingEnd: start}

	st := Evaluate(s, start)
	assert.Equal(t, types.PaceAccelerate, st.Pace)
}

func TestEvaluate_NoQuotaLimitIsZeroPercent(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s := cost.Subscription{Name: "unlimited", QuotaLimit: nil, BillingStart: start, BillingEnd: start.AddDate(0, 1, 0)}
	st := Evaluate(s, start.AddDate(0, 0, 5))
	assert.Equal(t, float64(0), st.UsagePercentage)
}

func TestTracker_UpsertRecordAndReset(t *testing.T) {
	db, err := cost.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	tr := NewTracker(db)
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	require.NoError(t, tr.Upsert(cost.Subscription{
		Name: "pro", Model: "premium", Type: "fixed_quota", MonthlyCost: 20,
		QuotaLimit: limit(1000), BillingStart: start, BillingEnd: end,
	}))

	require.NoError(t, tr.RecordUsage("pro", 100, "w1", "fg-1", 0))

	statuses, err := tr.Statuses()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, 10.0, statuses[0].UsagePercentage)

	newTotal, err := tr.IncrementUsage("pro", 50)
	require.NoError(t, err)
	assert.Equal(t, 150.0, newTotal)

	require.NoError(t, tr.ResetBilling("pro", end, end.AddDate(0, 1, 0)))
	sub, err := db.Subscription("pro")
	require.NoError(t, err)
	assert.Equal(t, float64(0), sub.QuotaUsed)

	require.NoError(t, tr.Deactivate("pro"))
	statuses, err = tr.Statuses()
	require.NoError(t, err)
	assert.Empty(t, statuses)
}
