package stresstest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/surge/internal/stats"
)

// createTestManager creates a new Manager with in-memory SQLite database for testing
func createTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func sampleReport(id string, startedAt time.Time) *Report {
	return &Report{
		ID:          id,
		Name:        "nightly",
		Pattern:     PatternStaircase,
		Target:      "127.0.0.1:8080",
		Workload:    "mix",
		Status:      StatusCompleted,
		StartedAt:   startedAt,
		Duration:    12 * time.Second,
		Measured:    10 * time.Second,
		Concurrency: 20,
		Requested:   2000,
		Counters: stats.Counters{
			Completed:        1990,
			Failed:           10,
			BytesSent:        200000,
			BytesReceived:    4000000,
			ConnectionErrors: 3,
		},
		Throughput:  199,
		Bandwidth:   0.38,
		SuccessRate: 0.995,
		Latency: stats.LatencySummary{
			Count: 1990,
			Min:   time.Millisecond,
			Mean:  4 * time.Millisecond,
			P50:   3 * time.Millisecond,
			P90:   7 * time.Millisecond,
			P95:   9 * time.Millisecond,
			P99:   15 * time.Millisecond,
			Max:   40 * time.Millisecond,
		},
		SampleCapacity: stats.DefaultCapacity,
		Endpoints: []EndpointReport{
			{Path: "/", EndpointStats: stats.EndpointStats{Count: 1500, Bytes: 3000, Errors: 4}},
			{Path: "/large", EndpointStats: stats.EndpointStats{Count: 490, Bytes: 3997000, Errors: 6}},
		},
		Levels: []LevelResult{
			{Concurrency: 10, Completed: 995, Failed: 5, Duration: 6 * time.Second, Throughput: 165.8},
			{Concurrency: 20, Completed: 995, Failed: 5, Duration: 4 * time.Second, Throughput: 248.7},
		},
		Phases: []stats.WindowStats{
			{Name: "baseline", From: startedAt, To: startedAt.Add(time.Second), Successes: 100, Throughput: 100},
		},
	}
}

// TestManager_SaveAndGetRun tests that a stored report reads back intact
func TestManager_SaveAndGetRun(t *testing.T) {
	manager := createTestManager(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rep := sampleReport("run-1", started)

	require.NoError(t, manager.SaveRun(rep))

	got, err := manager.GetRun("run-1")
	require.NoError(t, err)

	assert.Equal(t, rep.Name, got.Name)
	assert.Equal(t, rep.Pattern, got.Pattern)
	assert.Equal(t, rep.Target, got.Target)
	assert.Equal(t, rep.Status, got.Status)
	assert.True(t, rep.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, rep.Duration, got.Duration)
	assert.Equal(t, rep.Counters, got.Counters)
	assert.Equal(t, rep.Latency.P99, got.Latency.P99)
	assert.Equal(t, rep.Latency.Mean, got.Latency.Mean)
	assert.InDelta(t, rep.Throughput, got.Throughput, 0.001)

	require.Len(t, got.Endpoints, 2)
	assert.Equal(t, "/", got.Endpoints[0].Path)
	assert.Equal(t, int64(6), got.Endpoints[1].Errors)

	require.Len(t, got.Levels, 2)
	assert.Equal(t, 20, got.Levels[1].Concurrency)
	require.NotNil(t, got.Peak)
	assert.Equal(t, 20, got.Peak.Concurrency)

	require.Len(t, got.Phases, 1)
	assert.Equal(t, "baseline", got.Phases[0].Name)
	assert.Equal(t, time.Second, got.Phases[0].To.Sub(got.Phases[0].From))
}

// TestManager_ListRuns tests newest-first listing with a limit
func TestManager_ListRuns(t *testing.T) {
	manager := createTestManager(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, manager.SaveRun(sampleReport(id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := manager.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)
	assert.Equal(t, PatternStaircase, runs[0].Pattern)
	assert.Equal(t, 15*time.Millisecond, runs[0].P99)

	runs, err = manager.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// TestManager_DeleteRun tests that deleting removes the run and its rows
func TestManager_DeleteRun(t *testing.T) {
	manager := createTestManager(t)
	require.NoError(t, manager.SaveRun(sampleReport("gone", time.Now())))

	require.NoError(t, manager.DeleteRun("gone"))

	_, err := manager.GetRun("gone")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	var children int
	require.NoError(t, manager.db.QueryRow(
		"SELECT (SELECT COUNT(*) FROM run_phases) + (SELECT COUNT(*) FROM run_endpoints)").Scan(&children))
	assert.Equal(t, 0, children)

	err = manager.DeleteRun("gone")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

// TestManager_DuplicateID tests that a run ID cannot be saved twice
func TestManager_DuplicateID(t *testing.T) {
	manager := createTestManager(t)
	rep := sampleReport("dup", time.Now())

	require.NoError(t, manager.SaveRun(rep))
	assert.Error(t, manager.SaveRun(rep))

	runs, err := manager.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
