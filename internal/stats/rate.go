package stats

import "time"

// FailureWarnRatio is the interval failure rate above which progress
// reports raise a warning
const FailureWarnRatio = 0.10

// Interval holds the rates observed since the previous observation
type Interval struct {
	Offset      time.Duration `json:"offset" yaml:"offset"` // since run start, set by the caller
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`
	Completed   int64         `json:"completed" yaml:"completed"`
	Failed      int64         `json:"failed" yaml:"failed"`
	RPS         float64       `json:"rps" yaml:"rps"`
	MBps        float64       `json:"mbps" yaml:"mbps"` // received megabytes per second
	FailureRate float64       `json:"failureRate" yaml:"failureRate"`
}

// Warn reports whether the interval failure rate crosses FailureWarnRatio
func (i Interval) Warn() bool {
	return i.FailureRate > FailureWarnRatio
}

// RateTracker turns successive counter readings into windowed rates.
// It is not safe for concurrent use; the reporter owns it.
type RateTracker struct {
	last   Counters
	lastAt time.Time
}

// NewRateTracker starts tracking from start with zero counters
func NewRateTracker(start time.Time) *RateTracker {
	return &RateTracker{lastAt: start}
}

// Observe returns (now - last) / elapsed for each rate and moves the
// markers to now.
func (r *RateTracker) Observe(c Counters, now time.Time) Interval {
	iv := Interval{
		Elapsed:   now.Sub(r.lastAt),
		Completed: c.Completed - r.last.Completed,
		Failed:    c.Failed - r.last.Failed,
	}
	if secs := iv.Elapsed.Seconds(); secs > 0 {
		iv.RPS = float64(iv.Completed) / secs
		iv.MBps = float64(c.BytesReceived-r.last.BytesReceived) / secs / (1024 * 1024)
	}
	if total := iv.Completed + iv.Failed; total > 0 {
		iv.FailureRate = float64(iv.Failed) / float64(total)
	}

	r.last = c
	r.lastAt = now
	return iv
}
