// Package optimizer joins the cost store and subscription tracker into a
// prioritized list of cost-saving recommendations, plus a summary of
// savings already achieved by routing onto subscriptions and budget models.
package optimizer

import (
	"fmt"
	"sort"

	"github.com/jedarden/forge/pkg/cost"
	"github.com/jedarden/forge/pkg/subscription"
	"github.com/jedarden/forge/pkg/types"
)

// RecommendationType names the kind of cost-saving action recommended.
type RecommendationType string

const (
	AccelerateSubscription RecommendationType = "AccelerateSubscription"
	MaxOutSubscription     RecommendationType = "MaxOutSubscription"
	SubscriptionDepleted   RecommendationType = "SubscriptionDepleted"
	ModelDowngrade         RecommendationType = "ModelDowngrade"
	EnableCaching          RecommendationType = "EnableCaching"
)

// Fixed priority bands: higher sorts first. Carried as-is from the
// reference implementation; nothing here maps to an externally
// configurable value.
const (
	priorityMaxOutSubscription     = 90
	priorityAccelerateSubscription = 80
	prioritySubscriptionDepleted   = 70
	priorityModelDowngrade         = 50
	priorityEnableCaching          = 40
)

// Thresholds governing when a ModelDowngrade/EnableCaching candidate fires.
const (
	modelDowngradeCostPerSuccess = 0.05
	modelDowngradeMinCompleted   = 10
	cachingMaxHitRate            = 0.10
	cachingMinCalls              = 10
)

// Recommendation is one actionable, already-prioritized suggestion.
type Recommendation struct {
	Type             RecommendationType
	Subject          string // subscription name or model id
	Priority         int
	Description      string
	EstimatedSavings float64 // USD
}

// Report is the full output of a single optimization pass.
type Report struct {
	Recommendations []Recommendation
	AchievedSavings AchievedSavings
}

// AchievedSavings summarizes money already saved, not money still on the
// table. SubscriptionVsAPIUSD is the sum of quota_used over the evaluated
// subscriptions, taken as-is in each subscription's quota units; it is not
// converted through any API price. BudgetVsPremiumUSD is the estimated
// saving from completions on models cheaper than the window's most
// expensive one.
type AchievedSavings struct {
	SubscriptionVsAPIUSD   float64
	BudgetVsPremiumUSD     float64
	TotalUSD               float64
}

// Optimizer produces Reports from a cost store and subscription tracker.
type Optimizer struct {
	db   *cost.DB
	subs *subscription.Tracker
}

// New constructs an Optimizer.
func New(db *cost.DB, subs *subscription.Tracker) *Optimizer {
	return &Optimizer{db: db, subs: subs}
}

// Analyze runs one optimization pass. performanceDates names the
// model_performance date buckets (YYYY-MM-DD) to pool over when evaluating
// ModelDowngrade/EnableCaching candidates; callers typically pass a trailing
// window (e.g. the last 7 daily buckets).
func (o *Optimizer) Analyze(performanceDates []string) (Report, error) {
	var recs []Recommendation

	statuses, err := o.subs.Statuses()
	if err != nil {
		return Report{}, fmt.Errorf("list subscription statuses: %w", err)
	}
	subRecs, achieved := subscriptionRecommendations(statuses)
	recs = append(recs, subRecs...)

	perf, err := o.db.ModelPerformanceSince(performanceDates)
	if err != nil {
		return Report{}, fmt.Errorf("query model performance: %w", err)
	}
	recs = append(recs, modelRecommendations(perf)...)

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority > recs[j].Priority })

	budgetSavings, err := o.budgetVsPremiumSavings(perf)
	if err != nil {
		return Report{}, err
	}
	achieved.BudgetVsPremiumUSD = budgetSavings
	achieved.TotalUSD = achieved.SubscriptionVsAPIUSD + achieved.BudgetVsPremiumUSD

	return Report{Recommendations: recs, AchievedSavings: achieved}, nil
}

// subscriptionRecommendations derives AccelerateSubscription,
// MaxOutSubscription, and SubscriptionDepleted from each subscription's
// pace classification, and accumulates SubscriptionVsAPIUSD as the plain
// sum of every subscription's quota_used (no price conversion is applied).
func subscriptionRecommendations(statuses []subscription.Status) ([]Recommendation, AchievedSavings) {
	var recs []Recommendation
	var achieved AchievedSavings

	for _, s := range statuses {
		switch s.Pace {
		case types.PaceAccelerate:
			unusedShare := s.Remaining
			savings := unusedShare * 0.5
			recs = append(recs, Recommendation{
				Type:             AccelerateSubscription,
				Subject:          s.Name,
				Priority:         priorityAccelerateSubscription,
				Description:      fmt.Sprintf("%s is well behind its billing-period pace; route more eligible tasks onto it before it resets", s.Name),
				EstimatedSavings: savings,
			})
		case types.PaceMaxOut:
			recs = append(recs, Recommendation{
				Type:             MaxOutSubscription,
				Subject:          s.Name,
				Priority:         priorityMaxOutSubscription,
				Description:      fmt.Sprintf("%s has headroom with its billing period nearly over; use remaining quota before it resets unused", s.Name),
				EstimatedSavings: s.Remaining,
			})
		case types.PaceDepleted:
			recs = append(recs, Recommendation{
				Type:             SubscriptionDepleted,
				Subject:          s.Name,
				Priority:         prioritySubscriptionDepleted,
				Description:      fmt.Sprintf("%s has exhausted its quota for this billing period; consider a higher tier", s.Name),
				EstimatedSavings: 0,
			})
		}
		achieved.SubscriptionVsAPIUSD += s.QuotaUsed
	}

	return recs, achieved
}

// modelRecommendations derives ModelDowngrade and EnableCaching candidates
// from pooled model_performance rows.
func modelRecommendations(perf []cost.ModelPerformance) []Recommendation {
	var recs []Recommendation
	for _, m := range perf {
		if m.CostPerSuccess >= modelDowngradeCostPerSuccess && m.Completed >= modelDowngradeMinCompleted {
			recs = append(recs, Recommendation{
				Type:        ModelDowngrade,
				Subject:     m.Model,
				Priority:    priorityModelDowngrade,
				Description: fmt.Sprintf("%s costs $%.4f per successful task across %d completions; route simple tasks to a cheaper tier", m.Model, m.CostPerSuccess, m.Completed),
			})
		}
		if m.CacheHitRate < cachingMaxHitRate && m.Calls >= cachingMinCalls {
			recs = append(recs, Recommendation{
				Type:             EnableCaching,
				Subject:          m.Model,
				Priority:         priorityEnableCaching,
				Description:      fmt.Sprintf("%s has a %.1f%% cache hit rate across %d calls; enabling prompt caching should cut its cost meaningfully", m.Model, m.CacheHitRate*100, m.Calls),
				EstimatedSavings: m.TotalCostUSD * 0.2,
			})
		}
	}
	return recs
}

// budgetVsPremiumSavings estimates what was saved by routing tasks to
// cheaper models instead of the most expensive model (by cost_per_success)
// seen in the same window: every completion on a model below that maximum
// counts the difference. Models are not grouped by router tier.
func (o *Optimizer) budgetVsPremiumSavings(perf []cost.ModelPerformance) (float64, error) {
	if len(perf) == 0 {
		return 0, nil
	}

	var maxCostPerSuccess float64
	for _, m := range perf {
		if m.CostPerSuccess > maxCostPerSuccess {
			maxCostPerSuccess = m.CostPerSuccess
		}
	}
	if maxCostPerSuccess == 0 {
		return 0, nil
	}

	var savings float64
	for _, m := range perf {
		if m.CostPerSuccess >= maxCostPerSuccess || m.Completed == 0 {
			continue
		}
		savings += float64(m.Completed) * (maxCostPerSuccess - m.CostPerSuccess)
	}
	return savings, nil
}
