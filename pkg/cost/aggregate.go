package cost

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reaggregate recomputes hourly_stats, daily_stats, and model_performance
// from the api_calls ledger for the given UTC day, replacing whatever rows
// were there before. Unlike the additive ledger-write path, this path fully
// replaces each bucket's row so it self-heals from any drift accumulated by
// the additive path.
func (d *DB) Reaggregate(date string) error {
	return d.withRetry("reaggregate", func() error {
		if err := d.reaggregateHourly(date); err != nil {
			return fmt.Errorf("reaggregate hourly_stats: %w", err)
		}
		if err := d.reaggregateDaily(date); err != nil {
			return fmt.Errorf("reaggregate daily_stats: %w", err)
		}
		if err := d.reaggregateModelPerformance(date); err != nil {
			return fmt.Errorf("reaggregate model_performance: %w", err)
		}
		return nil
	})
}

func (d *DB) reaggregateHourly(date string) error {
	rows, err := d.conn.Query(`
		SELECT
			strftime('%Y-%m-%dT%H:00:00Z', timestamp) AS hour,
			SUM(cost_usd),
			SUM(input_tokens + output_tokens),
			SUM(CASE WHEN event_type NOT IN ('failed', 'error') THEN 1 ELSE 0 END),
			SUM(CASE WHEN event_type IN ('failed', 'error') THEN 1 ELSE 0 END)
		FROM api_calls
		WHERE date(timestamp) = ?
		GROUP BY hour`, date)
	if err != nil {
		return err
	}
	defer rows.Close()

	now := time.Now().UTC().Format(rfc3339)
	for rows.Next() {
		var hour string
		var costUSD float64
		var tokens, completed, failed int64
		if err := rows.Scan(&hour, &costUSD, &tokens, &completed, &failed); err != nil {
			return err
		}
		avgTokensPerMin := tokensPerMinute(tokens, hour)

		if _, err := d.conn.Exec(`
			INSERT INTO hourly_stats (hour, total_cost_usd, total_tokens, completed, failed, avg_tokens_per_minute, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(hour) DO UPDATE SET
				total_cost_usd = excluded.total_cost_usd,
				total_tokens = excluded.total_tokens,
				completed = excluded.completed,
				failed = excluded.failed,
				avg_tokens_per_minute = excluded.avg_tokens_per_minute,
				last_updated = excluded.last_updated`,
			hour, costUSD, tokens, completed, failed, avgTokensPerMin, now,
		); err != nil {
			return err
		}
	}
	return rows.Err()
}

// tokensPerMinute assumes a full 60-minute bucket once it is complete; the
// current (incomplete) hour will under-report until re-aggregated again.
func tokensPerMinute(tokens int64, hour string) float64 {
	if tokens == 0 {
		return 0
	}
	return float64(tokens) / 60.0
}

func (d *DB) reaggregateDaily(date string) error {
	var costUSD float64
	var tokens, completed, failed, inputTokens, cacheRead int64
	err := d.conn.QueryRow(`
		SELECT
			COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(input_tokens + output_tokens), 0),
			COALESCE(SUM(CASE WHEN event_type NOT IN ('failed', 'error') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type IN ('failed', 'error') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0)
		FROM api_calls WHERE date(timestamp) = ?`, date,
	).Scan(&costUSD, &tokens, &completed, &failed, &inputTokens, &cacheRead)
	if err != nil {
		return err
	}

	total := completed + failed
	successRate := 1.0
	if total > 0 {
		successRate = float64(completed) / float64(total)
	}
	avgCostPerTask := 0.0
	if completed > 0 {
		avgCostPerTask = costUSD / float64(completed)
	}
	cacheHitRate := 0.0
	if inputTokens+cacheRead > 0 {
		cacheHitRate = float64(cacheRead) / float64(inputTokens+cacheRead)
	}

	now := time.Now().UTC().Format(rfc3339)
	_, err = d.conn.Exec(`
		INSERT INTO daily_stats
			(date, total_cost_usd, total_tokens, completed, failed, success_rate, avg_cost_per_task, cache_hit_rate, avg_tokens_per_minute, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_cost_usd = excluded.total_cost_usd,
			total_tokens = excluded.total_tokens,
			completed = excluded.completed,
			failed = excluded.failed,
			success_rate = excluded.success_rate,
			avg_cost_per_task = excluded.avg_cost_per_task,
			cache_hit_rate = excluded.cache_hit_rate,
			avg_tokens_per_minute = excluded.avg_tokens_per_minute,
			last_updated = excluded.last_updated`,
		date, costUSD, tokens, completed, failed, successRate, avgCostPerTask, cacheHitRate, float64(tokens)/1440.0, now,
	)
	return err
}

func (d *DB) reaggregateModelPerformance(date string) error {
	rows, err := d.conn.Query(`
		SELECT
			model,
			COUNT(1),
			SUM(CASE WHEN event_type NOT IN ('failed', 'error') THEN 1 ELSE 0 END),
			SUM(CASE WHEN event_type IN ('failed', 'error') THEN 1 ELSE 0 END),
			SUM(cost_usd),
			SUM(input_tokens),
			SUM(cache_read_tokens)
		FROM api_calls WHERE date(timestamp) = ?
		GROUP BY model`, date)
	if err != nil {
		return err
	}
	defer rows.Close()

	now := time.Now().UTC().Format(rfc3339)
	type row struct {
		model                    string
		calls, completed, failed int64
		costUSD                  float64
		inputTokens, cacheRead   int64
	}
	var toWrite []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.model, &r.calls, &r.completed, &r.failed, &r.costUSD, &r.inputTokens, &r.cacheRead); err != nil {
			return err
		}
		toWrite = append(toWrite, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range toWrite {
		successRate := 1.0
		if r.completed+r.failed > 0 {
			successRate = float64(r.completed) / float64(r.completed+r.failed)
		}
		costPerSuccess := 0.0
		if r.completed > 0 {
			costPerSuccess = r.costUSD / float64(r.completed)
		}
		cacheHitRate := 0.0
		if r.inputTokens+r.cacheRead > 0 {
			cacheHitRate = float64(r.cacheRead) / float64(r.inputTokens+r.cacheRead)
		}

		if _, err := d.conn.Exec(`
			INSERT INTO model_performance
				(model, date, calls, completed, failed, success_rate, total_cost_usd, cost_per_success, cache_hit_rate, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(model, date) DO UPDATE SET
				calls = excluded.calls,
				completed = excluded.completed,
				failed = excluded.failed,
				success_rate = excluded.success_rate,
				total_cost_usd = excluded.total_cost_usd,
				cost_per_success = excluded.cost_per_success,
				cache_hit_rate = excluded.cache_hit_rate,
				last_updated = excluded.last_updated`,
			r.model, date, r.calls, r.completed, r.failed, successRate, r.costUSD, costPerSuccess, cacheHitRate, now,
		); err != nil {
			return err
		}
	}
	return nil
}

// ModelPerformanceSince sums the materialized model_performance rows across
// dates (inclusive, given as the same YYYY-MM-DD keys Reaggregate writes),
// one merged ModelPerformance per model, for the optimizer's
// ModelDowngrade/EnableCaching recommendations. Unknown dates simply
// contribute nothing.
func (d *DB) ModelPerformanceSince(dates []string) ([]ModelPerformance, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(dates))
	args := make([]any, len(dates))
	for i, dt := range dates {
		placeholders[i] = "?"
		args[i] = dt
	}
	query := fmt.Sprintf(`
		SELECT
			model,
			SUM(calls),
			SUM(completed),
			SUM(failed),
			SUM(total_cost_usd),
			SUM(cache_hit_rate * calls)
		FROM model_performance
		WHERE date IN (%s)
		GROUP BY model`, strings.Join(placeholders, ","))

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query model_performance range: %w", err)
	}
	defer rows.Close()

	var out []ModelPerformance
	for rows.Next() {
		var m ModelPerformance
		var cacheWeighted float64
		if err := rows.Scan(&m.Model, &m.Calls, &m.Completed, &m.Failed, &m.TotalCostUSD, &cacheWeighted); err != nil {
			return nil, err
		}
		if m.Completed+m.Failed > 0 {
			m.SuccessRate = float64(m.Completed) / float64(m.Completed+m.Failed)
		}
		if m.Completed > 0 {
			m.CostPerSuccess = m.TotalCostUSD / float64(m.Completed)
		}
		if m.Calls > 0 {
			m.CacheHitRate = cacheWeighted / float64(m.Calls)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DailyStat looks up the materialized daily performance aggregate.
func (d *DB) DailyStat(date string) (*DailyStat, error) {
	var s DailyStat
	var lastUpdated string
	err := d.conn.QueryRow(`
		SELECT date, total_cost_usd, total_tokens, completed, failed, success_rate, avg_cost_per_task, cache_hit_rate, avg_tokens_per_minute, last_updated
		FROM daily_stats WHERE date = ?`, date,
	).Scan(&s.Date, &s.TotalCostUSD, &s.TotalTokens, &s.Completed, &s.Failed, &s.SuccessRate, &s.AvgCostPerTask, &s.CacheHitRate, &s.AvgTokensPerMinute, &lastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query daily_stats: %w", err)
	}
	s.LastUpdated, _ = time.Parse(rfc3339, lastUpdated)
	return &s, nil
}
