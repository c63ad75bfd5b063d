package stresstest

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/surge/internal/migrations"
	"github.com/studiowebux/surge/internal/stats"
)

// ErrRunNotFound is returned when a run ID is not in the history
var ErrRunNotFound = errors.New("run not found")

// Manager persists finished runs. Nothing it stores is read back by a run.
type Manager struct {
	db *sql.DB
}

// RunSummary is one line of the run history listing
type RunSummary struct {
	ID         string
	Name       string
	Pattern    Pattern
	Target     string
	Workload   string
	Status     string
	StartedAt  time.Time
	Duration   time.Duration
	Completed  int64
	Failed     int64
	Throughput float64
	P99        time.Duration
}

// NewManager opens (or creates) the history database at dbPath
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	m := &Manager{db: db}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// SaveRun stores a report with its phases and endpoints in one transaction
func (m *Manager) SaveRun(rep *Report) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lat := rep.Latency
	_, err = tx.Exec(`
		INSERT INTO runs
		(id, name, pattern, target, workload, status, started_at, duration_ms, measured_ms, concurrency, requested,
		 completed, failed, bytes_sent, bytes_received, connection_errors, throughput, bandwidth, success_rate,
		 min_us, mean_us, p50_us, p90_us, p95_us, p99_us, max_us, sample_capacity, sampled_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rep.ID, rep.Name, string(rep.Pattern), rep.Target, rep.Workload, rep.Status, rep.StartedAt,
		rep.Duration.Milliseconds(), rep.Measured.Milliseconds(), rep.Concurrency, rep.Requested,
		rep.Completed, rep.Failed, rep.BytesSent, rep.BytesReceived, rep.ConnectionErrors,
		rep.Throughput, rep.Bandwidth, rep.SuccessRate,
		lat.Min.Microseconds(), lat.Mean.Microseconds(), lat.P50.Microseconds(), lat.P90.Microseconds(),
		lat.P95.Microseconds(), lat.P99.Microseconds(), lat.Max.Microseconds(),
		rep.SampleCapacity, rep.SampledOut)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	phaseStmt, err := tx.Prepare(`
		INSERT INTO run_phases
		(run_id, seq, kind, name, concurrency, started_at, duration_ms, completed, failed, throughput,
		 p50_us, p95_us, p99_us, max_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer phaseStmt.Close()

	seq := 0
	for _, l := range rep.Levels {
		_, err := phaseStmt.Exec(rep.ID, seq, "level", fmt.Sprintf("concurrency %d", l.Concurrency), l.Concurrency,
			nil, l.Duration.Milliseconds(), l.Completed, l.Failed, l.Throughput,
			l.Latency.P50.Microseconds(), l.Latency.P95.Microseconds(), l.Latency.P99.Microseconds(), l.Latency.Max.Microseconds())
		if err != nil {
			return fmt.Errorf("failed to insert level: %w", err)
		}
		seq++
	}
	for _, w := range rep.Phases {
		_, err := phaseStmt.Exec(rep.ID, seq, "window", w.Name, 0,
			w.From, w.To.Sub(w.From).Milliseconds(), w.Successes, w.Failures, w.Throughput,
			w.Latency.P50.Microseconds(), w.Latency.P95.Microseconds(), w.Latency.P99.Microseconds(), w.Latency.Max.Microseconds())
		if err != nil {
			return fmt.Errorf("failed to insert phase: %w", err)
		}
		seq++
	}

	epStmt, err := tx.Prepare(`INSERT INTO run_endpoints (run_id, path, count, bytes, errors) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer epStmt.Close()

	for _, ep := range rep.Endpoints {
		if _, err := epStmt.Exec(rep.ID, ep.Path, ep.Count, ep.Bytes, ep.Errors); err != nil {
			return fmt.Errorf("failed to insert endpoint: %w", err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs first
func (m *Manager) ListRuns(limit int) ([]*RunSummary, error) {
	query := `
		SELECT id, COALESCE(name, ''), pattern, target, workload, status, started_at, duration_ms,
		       completed, failed, throughput, p99_us
		FROM runs
		ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunSummary
	for rows.Next() {
		run := &RunSummary{}
		var pattern string
		var durationMs, p99 int64
		err := rows.Scan(&run.ID, &run.Name, &pattern, &run.Target, &run.Workload, &run.Status,
			&run.StartedAt, &durationMs, &run.Completed, &run.Failed, &run.Throughput, &p99)
		if err != nil {
			return nil, err
		}
		run.Pattern = Pattern(pattern)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.P99 = time.Duration(p99) * time.Microsecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun rebuilds a stored report. Interval progress and status codes are
// not stored.
func (m *Manager) GetRun(id string) (*Report, error) {
	rep := &Report{}
	var pattern string
	var durationMs, measuredMs int64
	var lat [7]int64

	err := m.db.QueryRow(`
		SELECT id, COALESCE(name, ''), pattern, target, workload, status, started_at, duration_ms, measured_ms,
		       concurrency, requested, completed, failed, bytes_sent, bytes_received, connection_errors,
		       throughput, bandwidth, success_rate, min_us, mean_us, p50_us, p90_us, p95_us, p99_us, max_us,
		       sample_capacity, sampled_out
		FROM runs WHERE id = ?
	`, id).Scan(&rep.ID, &rep.Name, &pattern, &rep.Target, &rep.Workload, &rep.Status, &rep.StartedAt,
		&durationMs, &measuredMs, &rep.Concurrency, &rep.Requested, &rep.Completed, &rep.Failed,
		&rep.BytesSent, &rep.BytesReceived, &rep.ConnectionErrors, &rep.Throughput, &rep.Bandwidth,
		&rep.SuccessRate, &lat[0], &lat[1], &lat[2], &lat[3], &lat[4], &lat[5], &lat[6],
		&rep.SampleCapacity, &rep.SampledOut)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rep.Pattern = Pattern(pattern)
	rep.Duration = time.Duration(durationMs) * time.Millisecond
	rep.Measured = time.Duration(measuredMs) * time.Millisecond
	rep.Latency = stats.LatencySummary{
		Count: rep.Completed - rep.SampledOut,
		Min:   micros(lat[0]),
		Mean:  micros(lat[1]),
		P50:   micros(lat[2]),
		P90:   micros(lat[3]),
		P95:   micros(lat[4]),
		P99:   micros(lat[5]),
		Max:   micros(lat[6]),
	}

	if err := m.loadPhases(rep); err != nil {
		return nil, err
	}
	if err := m.loadEndpoints(rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (m *Manager) loadPhases(rep *Report) error {
	rows, err := m.db.Query(`
		SELECT kind, name, concurrency, started_at, duration_ms, completed, failed, throughput,
		       p50_us, p95_us, p99_us, max_us
		FROM run_phases WHERE run_id = ? ORDER BY seq
	`, rep.ID)
	if err != nil {
		return fmt.Errorf("failed to load phases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, name string
		var concurrency int
		var startedAt sql.NullTime
		var durationMs, completed, failed, p50, p95, p99, maxUs int64
		var throughput float64
		if err := rows.Scan(&kind, &name, &concurrency, &startedAt, &durationMs, &completed, &failed,
			&throughput, &p50, &p95, &p99, &maxUs); err != nil {
			return err
		}

		latency := stats.LatencySummary{P50: micros(p50), P95: micros(p95), P99: micros(p99), Max: micros(maxUs)}
		duration := time.Duration(durationMs) * time.Millisecond

		switch kind {
		case "level":
			rep.Levels = append(rep.Levels, LevelResult{
				Concurrency: concurrency,
				Completed:   completed,
				Failed:      failed,
				Duration:    duration,
				Throughput:  throughput,
				SuccessRate: stats.SuccessRate(stats.Counters{Completed: completed, Failed: failed}),
				Latency:     latency,
			})
		case "window":
			w := stats.WindowStats{
				Name:       name,
				Successes:  completed,
				Failures:   failed,
				Throughput: throughput,
				Latency:    latency,
			}
			if startedAt.Valid {
				w.From = startedAt.Time
				w.To = startedAt.Time.Add(duration)
			}
			rep.Phases = append(rep.Phases, w)
		}
	}
	rep.Peak = peakLevel(rep.Levels)
	return rows.Err()
}

func (m *Manager) loadEndpoints(rep *Report) error {
	rows, err := m.db.Query(`SELECT path, count, bytes, errors FROM run_endpoints WHERE run_id = ?`, rep.ID)
	if err != nil {
		return fmt.Errorf("failed to load endpoints: %w", err)
	}
	defer rows.Close()

	eps := make(map[string]stats.EndpointStats)
	for rows.Next() {
		var path string
		var ep stats.EndpointStats
		if err := rows.Scan(&path, &ep.Count, &ep.Bytes, &ep.Errors); err != nil {
			return err
		}
		eps[path] = ep
	}
	rep.Endpoints = SortEndpoints(eps)
	return rows.Err()
}

// DeleteRun deletes a run and its phases and endpoints
func (m *Manager) DeleteRun(id string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	// Foreign keys are off by default in SQLite, so children go explicitly
	for _, table := range []string{"run_phases", "run_endpoints"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func micros(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
