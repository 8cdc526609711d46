// Package cost implements the durable cost and subscription ledger: an
// embedded SQLite database holding an append-only api_calls ledger plus
// rolling daily/hourly/per-model/per-worker aggregates.
package cost

import (
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jedarden/forge/pkg/log"
)

// SchemaVersion is the current schema version this build knows how to
// migrate to. Migrations are additive and never re-run once applied.
const SchemaVersion = 3

// Retry-with-backoff parameters for "database locked" errors: initial
// 50ms, doubling, capped at 5s, at most 5 attempts.
const (
	lockMaxRetries   = 5
	lockInitialDelay = 50 * time.Millisecond
	lockMaxDelay     = 5 * time.Second
)

// DB is the cost store's single shared handle. All mutation goes through
// withRetry so "database locked" errors are absorbed transparently; reads
// go directly through database/sql.
type DB struct {
	mu   sync.Mutex
	conn *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cost database %s: %w", path, err)
	}

	// SQLite serializes writes; a single connection avoids spurious
	// SQLITE_BUSY from this process racing itself, leaving genuine lock
	// contention (another process, or a long reader) to withRetry.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate cost database: %w", err)
	}
	return db, nil
}

// OpenInMemory opens a non-persisted in-memory database, primarily for
// tests. It uses SQLite's shared cache, so every handle OpenInMemory returns
// within one process sees the same database while any of them is open.
func OpenInMemory() (*DB, error) {
	return Open("file::memory:?cache=shared")
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) currentVersion() (int, error) {
	var version int
	err := d.conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	version, err := d.currentVersion()
	if err != nil {
		return err
	}

	migrations := []func() error{d.migrationV1, d.migrationV2, d.migrationV3}
	for i, migrate := range migrations {
		target := i + 1
		if version >= target {
			continue
		}
		if err := migrate(); err != nil {
			return fmt.Errorf("migration v%d: %w", target, err)
		}
		if _, err := d.conn.Exec(`INSERT INTO schema_version (version) VALUES (?)`, target); err != nil {
			return fmt.Errorf("record migration v%d: %w", target, err)
		}
	}
	return nil
}

func (d *DB) migrationV1() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS api_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			worker_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			bead_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL DEFAULT '',
			UNIQUE(worker_id, timestamp, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_timestamp ON api_calls(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_worker ON api_calls(worker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_model ON api_calls(model)`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_bead ON api_calls(bead_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_date ON api_calls(date(timestamp))`,

		`CREATE TABLE IF NOT EXISTS daily_costs (
			date TEXT PRIMARY KEY,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			total_input_tokens INTEGER NOT NULL DEFAULT 0,
			total_output_tokens INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS model_costs (
			date TEXT NOT NULL,
			model TEXT NOT NULL,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			calls INTEGER NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL,
			PRIMARY KEY (date, model)
		)`,
	}
	return d.execAll(stmts)
}

func (d *DB) migrationV2() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			name TEXT PRIMARY KEY,
			model TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			monthly_cost REAL NOT NULL DEFAULT 0,
			quota_limit REAL,
			quota_used REAL NOT NULL DEFAULT 0,
			billing_start TEXT NOT NULL,
			billing_end TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS subscription_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subscription_name TEXT NOT NULL REFERENCES subscriptions(name),
			units REAL NOT NULL,
			worker_id TEXT NOT NULL DEFAULT '',
			bead_id TEXT NOT NULL DEFAULT '',
			api_call_id INTEGER,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_usage_name_time ON subscription_usage(subscription_name, recorded_at)`,
	}
	return d.execAll(stmts)
}

func (d *DB) migrationV3() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hourly_stats (
			hour TEXT PRIMARY KEY,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			avg_tokens_per_minute REAL NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS daily_stats (
			date TEXT PRIMARY KEY,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			success_rate REAL NOT NULL DEFAULT 1,
			avg_cost_per_task REAL NOT NULL DEFAULT 0,
			cache_hit_rate REAL NOT NULL DEFAULT 0,
			avg_tokens_per_minute REAL NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS worker_efficiency (
			worker_id TEXT NOT NULL,
			date TEXT NOT NULL,
			tasks_completed INTEGER NOT NULL DEFAULT 0,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			avg_cost_per_task REAL NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL,
			PRIMARY KEY (worker_id, date)
		)`,

		`CREATE TABLE IF NOT EXISTS model_performance (
			model TEXT NOT NULL,
			date TEXT NOT NULL,
			calls INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			success_rate REAL NOT NULL DEFAULT 1,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			cost_per_success REAL NOT NULL DEFAULT 0,
			cache_hit_rate REAL NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL,
			PRIMARY KEY (model, date)
		)`,

		`CREATE TABLE IF NOT EXISTS task_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bead_id TEXT NOT NULL,
			worker_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
	}
	return d.execAll(stmts)
}

func (d *DB) execAll(stmts []string) error {
	for _, stmt := range stmts {
		if _, err := d.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func isLockedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// withRetry wraps a mutating operation in exponential backoff against
// "database locked" errors: initial 50ms, doubling, capped at 5s, at most 5
// attempts. A retry that ultimately succeeds is logged; a final failure
// propagates to the caller.
func (d *DB) withRetry(operation string, f func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delay := lockInitialDelay
	var lastErr error
	for attempt := 1; attempt <= lockMaxRetries; attempt++ {
		err := f()
		if err == nil {
			if attempt > 1 {
				log.WithComponent("cost").Info().Str("operation", operation).Int("attempt", attempt).Msg("database operation succeeded after retry")
			}
			return nil
		}
		if !isLockedErr(err) {
			return err
		}
		lastErr = err
		if attempt == lockMaxRetries {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(delay) / 4 + 1))
		time.Sleep(delay + jitter)
		delay *= 2
		if delay > lockMaxDelay {
			delay = lockMaxDelay
		}
	}
	return fmt.Errorf("%s: database locked after %d attempts: %w", operation, lockMaxRetries, lastErr)
}

// ErrNotFound indicates a lookup by key (subscription name, etc.) found no row.
var ErrNotFound = errors.New("cost: not found")
