package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add run listing indices",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
			CREATE INDEX IF NOT EXISTS idx_runs_pattern ON runs(pattern);
			CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_runs_started_at;
			DROP INDEX IF EXISTS idx_runs_pattern;
			DROP INDEX IF EXISTS idx_runs_target;
		`,
	},
	{
		Version: 2,
		Name:    "Add child table lookup indices",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_run_phases_run ON run_phases(run_id, seq);
			CREATE INDEX IF NOT EXISTS idx_run_endpoints_run ON run_endpoints(run_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_run_phases_run;
			DROP INDEX IF EXISTS idx_run_endpoints_run;
		`,
	},
}

// InitSchema creates the run history tables
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT,
		pattern TEXT NOT NULL,
		target TEXT NOT NULL,
		workload TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		measured_ms INTEGER NOT NULL DEFAULT 0,
		concurrency INTEGER NOT NULL DEFAULT 0,
		requested INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		bytes_sent INTEGER NOT NULL DEFAULT 0,
		bytes_received INTEGER NOT NULL DEFAULT 0,
		connection_errors INTEGER NOT NULL DEFAULT 0,
		throughput REAL NOT NULL DEFAULT 0,
		bandwidth REAL NOT NULL DEFAULT 0,
		success_rate REAL NOT NULL DEFAULT 0,
		min_us INTEGER NOT NULL DEFAULT 0,
		mean_us INTEGER NOT NULL DEFAULT 0,
		p50_us INTEGER NOT NULL DEFAULT 0,
		p90_us INTEGER NOT NULL DEFAULT 0,
		p95_us INTEGER NOT NULL DEFAULT 0,
		p99_us INTEGER NOT NULL DEFAULT 0,
		max_us INTEGER NOT NULL DEFAULT 0,
		sample_capacity INTEGER NOT NULL DEFAULT 0,
		sampled_out INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Staircase levels and spike windows
	CREATE TABLE IF NOT EXISTS run_phases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		concurrency INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		throughput REAL NOT NULL DEFAULT 0,
		p50_us INTEGER NOT NULL DEFAULT 0,
		p95_us INTEGER NOT NULL DEFAULT 0,
		p99_us INTEGER NOT NULL DEFAULT 0,
		max_us INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS run_endpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		if _, err := db.Exec(migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
