package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/surge/internal/stats"
	"github.com/studiowebux/surge/internal/stresstest"
)

func staircaseReport() *stresstest.Report {
	peak := stresstest.LevelResult{Concurrency: 20, Completed: 500, Throughput: 910.5, SuccessRate: 1}
	return &stresstest.Report{
		ID:          "5f1d",
		Name:        "ramp",
		Pattern:     stresstest.PatternStaircase,
		Target:      "127.0.0.1:8080",
		Workload:    "mix",
		Status:      stresstest.StatusCompleted,
		StartedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:    3 * time.Second,
		Concurrency: 20,
		Requested:   1000,
		Counters:    stats.Counters{Completed: 990, Failed: 10, BytesReceived: 3 * 1024 * 1024},
		Throughput:  330,
		SuccessRate: 0.99,
		Latency:     stats.LatencySummary{Count: 990, P50: 2500 * time.Microsecond, P99: 18 * time.Millisecond},
		StatusCodes: map[int]int64{200: 980, 503: 10},
		Endpoints: []stresstest.EndpointReport{
			{Path: "/", EndpointStats: stats.EndpointStats{Count: 600, Bytes: 1200}},
			{Path: "/large", EndpointStats: stats.EndpointStats{Count: 390, Bytes: 3 * 1024 * 1024, Errors: 10}},
		},
		Levels: []stresstest.LevelResult{
			{Concurrency: 10, Completed: 490, Failed: 10, Throughput: 500.2, SuccessRate: 0.98},
			peak,
		},
		Peak: &peak,
	}
}

func TestRender_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, staircaseReport(), FormatText))
	out := buf.String()

	for _, want := range []string{
		"Run 5f1d (ramp)",
		"Summary", "staircase", "127.0.0.1:8080",
		"Latency", "2.50ms", "18.00ms",
		"Status codes", "503",
		"Endpoints", "/large", "60.6%", "3.00MB",
		"Levels", "910.5", "peak",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Phases")
}

func TestRender_TextSpikePhases(t *testing.T) {
	t0 := time.Now()
	rep := &stresstest.Report{
		ID:      "spk",
		Pattern: stresstest.PatternSpike,
		Status:  stresstest.StatusCancelled,
		Phases: []stats.WindowStats{
			{Name: "baseline", From: t0, To: t0.Add(10 * time.Second), Successes: 1000, Throughput: 100},
			{Name: "spike", From: t0.Add(10 * time.Second), To: t0.Add(15 * time.Second), Successes: 2500, Throughput: 500},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, rep, ""))
	out := buf.String()

	assert.Contains(t, out, "Phases")
	assert.Contains(t, out, "baseline")
	assert.Contains(t, out, "500.0")
	assert.Contains(t, out, "cancelled")
	assert.NotContains(t, out, "Levels")
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, staircaseReport(), FormatJSON))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "5f1d", decoded["id"])
	assert.Equal(t, float64(990), decoded["completed"])
	assert.Equal(t, "staircase", decoded["pattern"])
	assert.Len(t, decoded["levels"], 2)
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, staircaseReport(), FormatYAML))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "5f1d", decoded["id"])
	// counters are inlined at the top level
	assert.Equal(t, 990, decoded["completed"])
	assert.Equal(t, "mix", decoded["workload"])
}

func TestRender_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Render(&buf, staircaseReport(), "xml"))
	assert.False(t, ValidFormat("xml"))
	assert.True(t, ValidFormat(FormatYAML))
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHistory(&buf, nil, FormatText))
	assert.Contains(t, buf.String(), "No saved runs")

	runs := []*stresstest.RunSummary{{
		ID:         "abc",
		Pattern:    stresstest.PatternCount,
		Target:     "localhost:80",
		Workload:   "root",
		Status:     stresstest.StatusCompleted,
		StartedAt:  time.Now(),
		Completed:  1000,
		Throughput: 1234.5,
		P99:        3 * time.Millisecond,
	}}

	buf.Reset()
	require.NoError(t, RenderHistory(&buf, runs, FormatText))
	out := buf.String()
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "1234.5")
	assert.Contains(t, out, "3.00ms")

	buf.Reset()
	require.NoError(t, RenderHistory(&buf, runs, FormatJSON))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "["))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "512B", FormatSize(512))
	assert.Equal(t, "1.50KB", FormatSize(1536))
	assert.Equal(t, "2.00MB", FormatSize(2*1024*1024))
	assert.Equal(t, "1.00GB", FormatSize(1024*1024*1024))

	assert.Equal(t, "0.25ms", FormatLatency(250*time.Microsecond))
	assert.Equal(t, "1500.00ms", FormatLatency(1500*time.Millisecond))
	assert.Equal(t, "12.00s", FormatLatency(12*time.Second))
}
