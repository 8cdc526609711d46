// Package subscription tracks quota-bounded model subscriptions: usage
// percentage, remaining quota, time until billing reset, and the pace
// classification that drives the cost optimizer and router's
// subscription-aware scoring.
package subscription

import (
	"fmt"
	"time"

	"github.com/jedarden/forge/pkg/cost"
	"github.com/jedarden/forge/pkg/types"
)

// Status is the computed, point-in-time view of one subscription.
type Status struct {
	Name            string
	Model           string
	Type            types.SubscriptionType
	QuotaLimit      *float64
	QuotaUsed       float64
	UsagePercentage float64
	Remaining       float64
	TimeUntilReset  time.Duration
	Pace            types.PaceStatus
	Urgent          bool
	Active          bool
}

// Tracker computes subscription pace and mutates usage via the cost store.
type Tracker struct {
	db  *cost.DB
	now func() time.Time
}

// NewTracker constructs a Tracker backed by db.
func NewTracker(db *cost.DB) *Tracker {
	return &Tracker{db: db, now: time.Now}
}

// Evaluate computes the current Status for a stored subscription.
func Evaluate(s cost.Subscription, now time.Time) Status {
	st := Status{
		Name:       s.Name,
		Model:      s.Model,
		Type:       types.SubscriptionType(s.Type),
		QuotaLimit: s.QuotaLimit,
		QuotaUsed:  s.QuotaUsed,
		Active:     s.Active,
	}

	if s.QuotaLimit == nil || *s.QuotaLimit == 0 {
		st.UsagePercentage = 0
		st.Remaining = 0
	} else {
		limit := *s.QuotaLimit
		st.UsagePercentage = 100 * s.QuotaUsed / limit
		if r := limit - s.QuotaUsed; r > 0 {
			st.Remaining = r
		}
	}

	st.TimeUntilReset = s.BillingEnd.Sub(now)
	st.Pace = computePace(s, now, st.UsagePercentage)
	st.Urgent = st.TimeUntilReset < 24*time.Hour && st.Remaining > 0

	return st
}

func computePace(s cost.Subscription, now time.Time, usagePct float64) types.PaceStatus {
	if s.QuotaLimit != nil && s.QuotaUsed >= *s.QuotaLimit {
		return types.PaceDepleted
	}

	total := s.BillingEnd.Sub(s.BillingStart)
	var timePct float64
	if total > 0 {
		timePct = 100 * now.Sub(s.BillingStart).Seconds() / total.Seconds()
	} else {
		timePct = 100
	}
	usageDiff := usagePct - timePct

	switch {
	case usageDiff > 20:
		return types.PaceOnPace
	case timePct > 50 && usageDiff < -30:
		return types.PaceAccelerate
	case timePct > 80 && usagePct < 70:
		return types.PaceMaxOut
	default:
		return types.PaceOnPace
	}
}

// Upsert creates or replaces a subscription's static configuration,
// leaving quota_used untouched if the row already exists.
func (t *Tracker) Upsert(s cost.Subscription) error {
	return t.db.UpsertSubscription(s)
}

// RecordUsage logs a usage event and increments the subscription's
// quota_used by units in a single transaction.
func (t *Tracker) RecordUsage(name string, units float64, workerID, beadID string, apiCallID int64) error {
	return t.db.RecordSubscriptionUsage(cost.SubscriptionUsageEvent{
		SubscriptionName: name,
		Units:            units,
		WorkerID:         workerID,
		BeadID:           beadID,
		APICallID:        apiCallID,
		RecordedAt:       t.now(),
	})
}

// IncrementUsage adds units to name's quota_used and returns the new total.
func (t *Tracker) IncrementUsage(name string, units float64) (float64, error) {
	return t.db.IncrementSubscriptionQuota(name, units)
}

// ResetBilling starts a new billing period, zeroing quota_used.
func (t *Tracker) ResetBilling(name string, start, end time.Time) error {
	return t.db.ResetSubscriptionBilling(name, start, end)
}

// Deactivate soft-deletes a subscription so it stops being scored by the
// router or optimizer.
func (t *Tracker) Deactivate(name string) error {
	return t.db.DeactivateSubscription(name)
}

// Statuses evaluates every active subscription.
func (t *Tracker) Statuses() ([]Status, error) {
	subs, err := t.db.ActiveSubscriptions()
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	now := t.now()
	out := make([]Status, 0, len(subs))
	for _, s := range subs {
		out = append(out, Evaluate(s, now))
	}
	return out, nil
}
