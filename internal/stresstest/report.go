package stresstest

import (
	"sort"
	"time"

	"github.com/studiowebux/surge/internal/stats"
)

// Run statuses
const (
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusIncomplete = "incomplete" // every worker exited before all tasks were accounted for
)

// Report is the final result of one run
type Report struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name,omitempty" yaml:"name,omitempty"`
	Pattern     Pattern       `json:"pattern" yaml:"pattern"`
	Target      string        `json:"target" yaml:"target"`
	Workload    string        `json:"workload" yaml:"workload"`
	Status      string        `json:"status" yaml:"status"`
	StartedAt   time.Time     `json:"startedAt" yaml:"startedAt"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Measured    time.Duration `json:"measured" yaml:"measured"` // time the throughput is computed over
	Concurrency int           `json:"concurrency" yaml:"concurrency"`
	Requested   int64         `json:"requested,omitempty" yaml:"requested,omitempty"`

	stats.Counters `yaml:",inline"`

	Throughput     float64              `json:"throughput" yaml:"throughput"` // successful req/s
	Bandwidth      float64              `json:"bandwidth" yaml:"bandwidth"`   // received MB/s
	SuccessRate    float64              `json:"successRate" yaml:"successRate"`
	Latency        stats.LatencySummary `json:"latency" yaml:"latency"`
	Tail           stats.LatencySummary `json:"tail" yaml:"tail"`
	SampleCapacity int                  `json:"sampleCapacity" yaml:"sampleCapacity"`
	SampledOut     int64                `json:"sampledOut" yaml:"sampledOut"`
	StatusCodes    map[int]int64        `json:"statusCodes" yaml:"statusCodes"`
	Endpoints      []EndpointReport     `json:"endpoints" yaml:"endpoints"`

	Intervals []stats.Interval    `json:"intervals,omitempty" yaml:"intervals,omitempty"`
	Levels    []LevelResult       `json:"levels,omitempty" yaml:"levels,omitempty"`
	Peak      *LevelResult        `json:"peak,omitempty" yaml:"peak,omitempty"`
	Phases    []stats.WindowStats `json:"phases,omitempty" yaml:"phases,omitempty"`
}

// EndpointReport is one row of the per-endpoint breakdown
type EndpointReport struct {
	Path                string `json:"path" yaml:"path"`
	stats.EndpointStats `yaml:",inline"`
}

// LevelResult is the outcome of one staircase level
type LevelResult struct {
	Concurrency int                  `json:"concurrency" yaml:"concurrency"`
	Requests    int                  `json:"requests" yaml:"requests"`
	Completed   int64                `json:"completed" yaml:"completed"`
	Failed      int64                `json:"failed" yaml:"failed"`
	Duration    time.Duration        `json:"duration" yaml:"duration"`
	Throughput  float64              `json:"throughput" yaml:"throughput"`
	SuccessRate float64              `json:"successRate" yaml:"successRate"`
	Latency     stats.LatencySummary `json:"latency" yaml:"latency"`
}

func (e *Executor) newReport() *Report {
	return &Report{
		ID:             e.id,
		Name:           e.cfg.Name,
		Pattern:        e.cfg.GetPattern(),
		Target:         e.cfg.Addr(),
		Workload:       e.plan.Name(),
		StartedAt:      time.Now(),
		Concurrency:    e.cfg.PeakConcurrency(),
		SampleCapacity: e.cfg.SampleCapacity,
	}
}

// fill copies a snapshot into the report. Throughput is measured over elapsed.
func (r *Report) fill(snap stats.Snapshot, elapsed time.Duration) {
	r.Counters = snap.Counters
	r.Measured = elapsed
	r.SuccessRate = stats.SuccessRate(snap.Counters)
	r.Latency = stats.Summarize(snap.Samples)
	r.Tail = snap.Tail
	r.SampledOut = snap.SampledOut
	r.StatusCodes = snap.StatusCodes
	r.Endpoints = SortEndpoints(snap.Endpoints)
	if r.SampleCapacity == 0 {
		r.SampleCapacity = stats.DefaultCapacity
	}

	if secs := elapsed.Seconds(); secs > 0 {
		r.Throughput = float64(snap.Completed) / secs
		r.Bandwidth = float64(snap.BytesReceived) / secs / (1024 * 1024)
	}
}

// SortEndpoints orders endpoints by request count, then bytes, both
// descending, then by path
func SortEndpoints(m map[string]stats.EndpointStats) []EndpointReport {
	out := make([]EndpointReport, 0, len(m))
	for path, s := range m {
		out = append(out, EndpointReport{Path: path, EndpointStats: s})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Bytes != b.Bytes {
			return a.Bytes > b.Bytes
		}
		return a.Path < b.Path
	})
	return out
}

func newLevelResult(concurrency, requests int, snap stats.Snapshot, elapsed time.Duration) LevelResult {
	lr := LevelResult{
		Concurrency: concurrency,
		Requests:    requests,
		Completed:   snap.Completed,
		Failed:      snap.Failed,
		Duration:    elapsed,
		SuccessRate: stats.SuccessRate(snap.Counters),
		Latency:     stats.Summarize(snap.Samples),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		lr.Throughput = float64(snap.Completed) / secs
	}
	return lr
}

// mergeSnapshots combines per-level snapshots. Tail summaries cannot be
// combined and are left empty.
func mergeSnapshots(snaps []stats.Snapshot) stats.Snapshot {
	merged := stats.Snapshot{
		Endpoints:   make(map[string]stats.EndpointStats),
		StatusCodes: make(map[int]int64),
	}
	for _, s := range snaps {
		merged.Completed += s.Completed
		merged.Failed += s.Failed
		merged.BytesSent += s.BytesSent
		merged.BytesReceived += s.BytesReceived
		merged.ConnectionErrors += s.ConnectionErrors
		merged.SampledOut += s.SampledOut
		merged.Samples = append(merged.Samples, s.Samples...)
		merged.Failures = append(merged.Failures, s.Failures...)
		for path, ep := range s.Endpoints {
			cur := merged.Endpoints[path]
			cur.Count += ep.Count
			cur.Bytes += ep.Bytes
			cur.Errors += ep.Errors
			merged.Endpoints[path] = cur
		}
		for code, n := range s.StatusCodes {
			merged.StatusCodes[code] += n
		}
	}
	return merged
}
