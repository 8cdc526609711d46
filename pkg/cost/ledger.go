package cost

import (
	"database/sql"
	"fmt"
	"time"
)

// Exists reports whether an api_calls row already exists for the given
// dedup key (worker_id, timestamp, session_id).
func (d *DB) Exists(workerID string, timestamp time.Time, sessionID string) (bool, error) {
	var n int
	err := d.conn.QueryRow(
		`SELECT COUNT(1) FROM api_calls WHERE worker_id = ? AND timestamp = ? AND session_id = ?`,
		workerID, timestamp.UTC().Format(rfc3339), sessionID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check api_calls dedup key: %w", err)
	}
	return n > 0, nil
}

// InsertAPICalls appends calls to the ledger and additively rolls each one
// into daily_costs and model_costs, skipping rows whose dedup key already
// exists. The whole batch runs in a single transaction, retried on
// "database locked" per withRetry's contract.
func (d *DB) InsertAPICalls(calls []APICall) (inserted int, err error) {
	if len(calls) == 0 {
		return 0, nil
	}
	err = d.withRetry("insert_api_calls", func() error {
		tx, txErr := d.conn.Begin()
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		inserted = 0
		for _, c := range calls {
			ok, insErr := insertOne(tx, c)
			if insErr != nil {
				return insErr
			}
			if ok {
				inserted++
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func insertOne(tx *sql.Tx, c APICall) (bool, error) {
	ts := c.Timestamp.UTC().Format(rfc3339)

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO api_calls
			(timestamp, worker_id, session_id, model, input_tokens, output_tokens,
			 cache_creation_tokens, cache_read_tokens, cost_usd, bead_id, event_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts, c.WorkerID, c.SessionID, c.Model, c.InputTokens, c.OutputTokens,
		c.CacheCreationTokens, c.CacheReadTokens, c.CostUSD, c.BeadID, c.EventType,
	)
	if err != nil {
		return false, fmt.Errorf("insert api_call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Already present under the dedup key; no rollup double-count.
		return false, nil
	}

	completed, failed := 0, 0
	switch c.EventType {
	case "failed", "error":
		failed = 1
	default:
		completed = 1
	}

	date := dailyBucket(c.Timestamp)
	now := time.Now().UTC().Format(rfc3339)
	if _, err := tx.Exec(`
		INSERT INTO daily_costs (date, total_cost_usd, total_input_tokens, total_output_tokens, completed, failed, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_cost_usd = total_cost_usd + excluded.total_cost_usd,
			total_input_tokens = total_input_tokens + excluded.total_input_tokens,
			total_output_tokens = total_output_tokens + excluded.total_output_tokens,
			completed = completed + excluded.completed,
			failed = failed + excluded.failed,
			last_updated = excluded.last_updated`,
		date, c.CostUSD, c.InputTokens, c.OutputTokens, completed, failed, now,
	); err != nil {
		return false, fmt.Errorf("rollup daily_costs: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO model_costs (date, model, total_cost_usd, calls, last_updated)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(date, model) DO UPDATE SET
			total_cost_usd = total_cost_usd + excluded.total_cost_usd,
			calls = calls + 1,
			last_updated = excluded.last_updated`,
		date, c.Model, c.CostUSD, now,
	); err != nil {
		return false, fmt.Errorf("rollup model_costs: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO worker_efficiency (worker_id, date, tasks_completed, total_cost_usd, avg_cost_per_task, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id, date) DO UPDATE SET
			tasks_completed = tasks_completed + excluded.tasks_completed,
			total_cost_usd = total_cost_usd + excluded.total_cost_usd,
			avg_cost_per_task = (total_cost_usd + excluded.total_cost_usd) / (tasks_completed + excluded.tasks_completed),
			last_updated = excluded.last_updated`,
		c.WorkerID, date, completed, c.CostUSD, c.CostUSD, now,
	); err != nil {
		return false, fmt.Errorf("rollup worker_efficiency: %w", err)
	}

	return true, nil
}

// DailyCost looks up the materialized daily rollup for date (YYYY-MM-DD).
func (d *DB) DailyCost(date string) (*DailyCost, error) {
	var dc DailyCost
	var lastUpdated string
	err := d.conn.QueryRow(`
		SELECT date, total_cost_usd, total_input_tokens, total_output_tokens, completed, failed, last_updated
		FROM daily_costs WHERE date = ?`, date,
	).Scan(&dc.Date, &dc.TotalCostUSD, &dc.TotalInputTok, &dc.TotalOutTok, &dc.Completed, &dc.Failed, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query daily_costs: %w", err)
	}
	dc.LastUpdated, _ = time.Parse(rfc3339, lastUpdated)
	return &dc, nil
}

// ModelCosts returns all per-model rollups for date.
func (d *DB) ModelCosts(date string) ([]ModelCost, error) {
	rows, err := d.conn.Query(`
		SELECT date, model, total_cost_usd, calls, last_updated
		FROM model_costs WHERE date = ? ORDER BY model`, date)
	if err != nil {
		return nil, fmt.Errorf("query model_costs: %w", err)
	}
	defer rows.Close()

	var out []ModelCost
	for rows.Next() {
		var mc ModelCost
		var lastUpdated string
		if err := rows.Scan(&mc.Date, &mc.Model, &mc.TotalCostUSD, &mc.Calls, &lastUpdated); err != nil {
			return nil, err
		}
		mc.LastUpdated, _ = time.Parse(rfc3339, lastUpdated)
		out = append(out, mc)
	}
	return out, rows.Err()
}

// RecordTaskEvent appends a lightweight lifecycle event row.
func (d *DB) RecordTaskEvent(e TaskEvent) error {
	return d.withRetry("record_task_event", func() error {
		_, err := d.conn.Exec(
			`INSERT INTO task_events (bead_id, worker_id, event_type, timestamp) VALUES (?, ?, ?, ?)`,
			e.BeadID, e.WorkerID, e.EventType, e.Timestamp.UTC().Format(rfc3339),
		)
		return err
	})
}
