package stats

import (
	"sort"
	"time"
)

// LatencySummary is the percentile table printed in reports
type LatencySummary struct {
	Count int64         `json:"count" yaml:"count"`
	Min   time.Duration `json:"min" yaml:"min"`
	Mean  time.Duration `json:"mean" yaml:"mean"`
	P50   time.Duration `json:"p50" yaml:"p50"`
	P90   time.Duration `json:"p90" yaml:"p90"`
	P95   time.Duration `json:"p95" yaml:"p95"`
	P99   time.Duration `json:"p99" yaml:"p99"`
	Max   time.Duration `json:"max" yaml:"max"`
}

// Percentile returns the nearest-rank percentile of an ascending slice.
// The index is floor(p*n) clamped to [0, n-1]; there is no interpolation.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(p * float64(n))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Summarize computes the percentile table of a sample set
func Summarize(samples []Sample) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}

	lat := make([]time.Duration, len(samples))
	var total time.Duration
	for i, s := range samples {
		lat[i] = s.Latency
		total += s.Latency
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	return LatencySummary{
		Count: int64(len(lat)),
		Min:   lat[0],
		Mean:  total / time.Duration(len(lat)),
		P50:   Percentile(lat, 0.50),
		P90:   Percentile(lat, 0.90),
		P95:   Percentile(lat, 0.95),
		P99:   Percentile(lat, 0.99),
		Max:   lat[len(lat)-1],
	}
}

// WindowStats describes the samples and failures inside one time range
type WindowStats struct {
	Name       string         `json:"name" yaml:"name"`
	From       time.Time      `json:"from" yaml:"from"`
	To         time.Time      `json:"to" yaml:"to"`
	Successes  int64          `json:"successes" yaml:"successes"`
	Failures   int64          `json:"failures" yaml:"failures"`
	Throughput float64        `json:"throughput" yaml:"throughput"` // successful req/s
	Latency    LatencySummary `json:"latency" yaml:"latency"`
}

// Window partitions a snapshot by completion time, half-open [from, to).
// Only stored samples are counted, so a capped store undercounts late windows;
// use WithCounters when counter readings at the bounds are available.
func Window(snap Snapshot, from, to time.Time) WindowStats {
	w := WindowStats{From: from, To: to}

	var in []Sample
	for _, s := range snap.Samples {
		if !s.At.Before(from) && s.At.Before(to) {
			in = append(in, s)
		}
	}
	for _, at := range snap.Failures {
		if !at.Before(from) && at.Before(to) {
			w.Failures++
		}
	}

	w.Successes = int64(len(in))
	w.Latency = Summarize(in)
	if secs := to.Sub(from).Seconds(); secs > 0 {
		w.Throughput = float64(w.Successes) / secs
	}
	return w
}

// WithCounters replaces the sample-based counts and throughput with the
// difference between two counter readings taken at the window bounds.
// Latency stays sample based.
func (w WindowStats) WithCounters(start, end Counters) WindowStats {
	w.Successes = end.Completed - start.Completed
	w.Failures = end.Failed - start.Failed
	w.Throughput = 0
	if secs := w.To.Sub(w.From).Seconds(); secs > 0 {
		w.Throughput = float64(w.Successes) / secs
	}
	return w
}

// SuccessRate returns successes over all outcomes, 0 when there were none
func SuccessRate(c Counters) float64 {
	total := c.Completed + c.Failed
	if total == 0 {
		return 0
	}
	return float64(c.Completed) / float64(total)
}
