package cost

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertSubscription creates a subscription or replaces its static
// configuration fields, leaving quota_used untouched on an existing row so
// a config reload never clobbers accumulated usage.
func (d *DB) UpsertSubscription(s Subscription) error {
	return d.withRetry("upsert_subscription", func() error {
		_, err := d.conn.Exec(`
			INSERT INTO subscriptions (name, model, type, monthly_cost, quota_limit, quota_used, billing_start, billing_end, active)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, 1)
			ON CONFLICT(name) DO UPDATE SET
				model = excluded.model,
				type = excluded.type,
				monthly_cost = excluded.monthly_cost,
				quota_limit = excluded.quota_limit,
				billing_start = excluded.billing_start,
				billing_end = excluded.billing_end,
				active = 1`,
			s.Name, s.Model, s.Type, s.MonthlyCost, s.QuotaLimit,
			s.BillingStart.UTC().Format(rfc3339), s.BillingEnd.UTC().Format(rfc3339),
		)
		return err
	})
}

// RecordSubscriptionUsage logs a usage event and additively increments the
// subscription's quota_used in one transaction.
func (d *DB) RecordSubscriptionUsage(e SubscriptionUsageEvent) error {
	return d.withRetry("record_subscription_usage", func() error {
		tx, err := d.conn.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var apiCallID any
		if e.APICallID != 0 {
			apiCallID = e.APICallID
		}
		if _, err := tx.Exec(`
			INSERT INTO subscription_usage (subscription_name, units, worker_id, bead_id, api_call_id, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.SubscriptionName, e.Units, e.WorkerID, e.BeadID, apiCallID, e.RecordedAt.UTC().Format(rfc3339),
		); err != nil {
			return fmt.Errorf("insert subscription_usage: %w", err)
		}
		if _, err := tx.Exec(
			`UPDATE subscriptions SET quota_used = quota_used + ? WHERE name = ?`,
			e.Units, e.SubscriptionName,
		); err != nil {
			return fmt.Errorf("increment quota_used: %w", err)
		}
		return tx.Commit()
	})
}

// IncrementSubscriptionQuota adds units to name's quota_used and returns
// the resulting total.
func (d *DB) IncrementSubscriptionQuota(name string, units float64) (float64, error) {
	var newValue float64
	err := d.withRetry("increment_usage", func() error {
		res, err := d.conn.Exec(`UPDATE subscriptions SET quota_used = quota_used + ? WHERE name = ?`, units, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return d.conn.QueryRow(`SELECT quota_used FROM subscriptions WHERE name = ?`, name).Scan(&newValue)
	})
	if err != nil {
		return 0, err
	}
	return newValue, nil
}

// ResetSubscriptionBilling starts a new billing period, zeroing quota_used.
func (d *DB) ResetSubscriptionBilling(name string, start, end time.Time) error {
	return d.withRetry("reset_billing", func() error {
		res, err := d.conn.Exec(
			`UPDATE subscriptions SET quota_used = 0, billing_start = ?, billing_end = ? WHERE name = ?`,
			start.UTC().Format(rfc3339), end.UTC().Format(rfc3339), name,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeactivateSubscription soft-deletes a subscription: it stays in the
// table for historical usage queries but is excluded from ActiveSubscriptions.
func (d *DB) DeactivateSubscription(name string) error {
	return d.withRetry("deactivate_subscription", func() error {
		res, err := d.conn.Exec(`UPDATE subscriptions SET active = 0 WHERE name = ?`, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ActiveSubscriptions returns all subscriptions with active = 1.
func (d *DB) ActiveSubscriptions() ([]Subscription, error) {
	rows, err := d.conn.Query(`
		SELECT name, model, type, monthly_cost, quota_limit, quota_used, billing_start, billing_end, active
		FROM subscriptions WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Subscription looks up a single subscription by name, active or not.
func (d *DB) Subscription(name string) (*Subscription, error) {
	row := d.conn.QueryRow(`
		SELECT name, model, type, monthly_cost, quota_limit, quota_used, billing_start, billing_end, active
		FROM subscriptions WHERE name = ?`, name)
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscription(row scannable) (Subscription, error) {
	var s Subscription
	var billingStart, billingEnd string
	var active int
	err := row.Scan(&s.Name, &s.Model, &s.Type, &s.MonthlyCost, &s.QuotaLimit, &s.QuotaUsed, &billingStart, &billingEnd, &active)
	if err != nil {
		return Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	s.BillingStart, _ = time.Parse(rfc3339, billingStart)
	s.BillingEnd, _ = time.Parse(rfc3339, billingEnd)
	s.Active = active != 0
	return s, nil
}
