// Package stats aggregates request outcomes reported by many workers.
//
// All mutation goes through one mutex per Aggregator. Callers only see
// copies (Snapshot, Counters), never the live fields.
package stats

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"

	"github.com/studiowebux/surge/internal/types"
)

const (
	// DefaultCapacity is the default size of the latency sample store
	DefaultCapacity = 100000

	// histogramMax is the largest latency the tail histogram tracks, in µs
	histogramMax = int64(time.Hour / time.Microsecond)
)

// Sampling selects how the bounded sample store behaves once full
type Sampling int

const (
	// SampleFill keeps the first Capacity samples and ignores the rest
	SampleFill Sampling = iota
	// SampleReservoir keeps a uniform random subset of all samples
	SampleReservoir
)

// String returns the flag spelling of the sampling mode
func (s Sampling) String() string {
	if s == SampleReservoir {
		return "reservoir"
	}
	return "fill"
}

// ParseSampling parses "fill" or "reservoir"
func ParseSampling(s string) (Sampling, bool) {
	switch s {
	case "", "fill":
		return SampleFill, true
	case "reservoir":
		return SampleReservoir, true
	}
	return SampleFill, false
}

// Options configures an Aggregator
type Options struct {
	Capacity int
	Sampling Sampling
}

// Sample is one successful response latency with its completion time
type Sample struct {
	At      time.Time     `json:"at" yaml:"at"`
	Latency time.Duration `json:"latency" yaml:"latency"`
}

// EndpointStats is the per-endpoint breakdown
type EndpointStats struct {
	Count  int64 `json:"count" yaml:"count"`
	Bytes  int64 `json:"bytes" yaml:"bytes"`
	Errors int64 `json:"errors" yaml:"errors"`
}

// Counters is the cheap counter-only part of a snapshot
type Counters struct {
	Completed        int64 `json:"completed" yaml:"completed"`
	Failed           int64 `json:"failed" yaml:"failed"`
	BytesSent        int64 `json:"bytesSent" yaml:"bytesSent"`
	BytesReceived    int64 `json:"bytesReceived" yaml:"bytesReceived"`
	ConnectionErrors int64 `json:"connectionErrors" yaml:"connectionErrors"`
}

// Snapshot is a consistent copy of everything an Aggregator holds
type Snapshot struct {
	Counters
	Samples     []Sample
	Failures    []time.Time
	Endpoints   map[string]EndpointStats
	StatusCodes map[int]int64
	Tail        LatencySummary
	SampledOut  int64 // successes not kept in Samples
}

// Aggregator collects outcomes from concurrent workers
type Aggregator struct {
	mu       sync.Mutex
	capacity int
	sampling Sampling
	rng      *rand.Rand

	counters    Counters
	samples     []Sample
	seen        int64 // successes offered to the sample store
	failures    []time.Time
	endpoints   map[string]*EndpointStats
	statusCodes map[int]int64
	hist        *hdrhistogram.Histogram
}

// New creates an Aggregator
func New(opts Options) *Aggregator {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Aggregator{
		capacity:    opts.Capacity,
		sampling:    opts.Sampling,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		samples:     make([]Sample, 0, min(opts.Capacity, 1024)),
		endpoints:   make(map[string]*EndpointStats),
		statusCodes: make(map[int]int64),
		hist:        hdrhistogram.New(1, histogramMax, 3),
	}
}

// Capacity returns the sample store size
func (a *Aggregator) Capacity() int {
	return a.capacity
}

// Record adds one outcome
func (a *Aggregator) Record(o types.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ep := a.endpoints[o.Endpoint]
	if ep == nil {
		ep = &EndpointStats{}
		a.endpoints[o.Endpoint] = ep
	}

	if !o.Success {
		a.counters.Failed++
		ep.Errors++
		if len(a.failures) < a.capacity {
			a.failures = append(a.failures, o.At)
		}
		return
	}

	a.counters.Completed++
	a.counters.BytesReceived += o.BodyLength
	ep.Count++
	ep.Bytes += o.BodyLength
	a.statusCodes[o.StatusCode]++

	us := max(o.Latency.Microseconds(), 1)
	if us > histogramMax {
		us = histogramMax
	}
	_ = a.hist.RecordValue(us)

	a.storeSample(Sample{At: o.At, Latency: o.Latency})
}

// storeSample must be called with mu held
func (a *Aggregator) storeSample(s Sample) {
	a.seen++
	if len(a.samples) < a.capacity {
		a.samples = append(a.samples, s)
		return
	}
	if a.sampling != SampleReservoir {
		return
	}
	// Algorithm R: keep the new sample with probability capacity/seen
	if j := a.rng.Int64N(a.seen); j < int64(a.capacity) {
		a.samples[j] = s
	}
}

// AddBytesSent adds to the bytes-sent counter
func (a *Aggregator) AddBytesSent(n int64) {
	a.mu.Lock()
	a.counters.BytesSent += n
	a.mu.Unlock()
}

// RecordConnectError counts one failed connection attempt
func (a *Aggregator) RecordConnectError() {
	a.mu.Lock()
	a.counters.ConnectionErrors++
	a.mu.Unlock()
}

// Counters returns the current counters
func (a *Aggregator) Counters() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

// Snapshot returns a deep copy of the aggregator state
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Counters:    a.counters,
		Samples:     make([]Sample, len(a.samples)),
		Failures:    make([]time.Time, len(a.failures)),
		Endpoints:   make(map[string]EndpointStats, len(a.endpoints)),
		StatusCodes: make(map[int]int64, len(a.statusCodes)),
		SampledOut:  a.seen - int64(len(a.samples)),
	}
	copy(snap.Samples, a.samples)
	copy(snap.Failures, a.failures)
	for k, v := range a.endpoints {
		snap.Endpoints[k] = *v
	}
	for k, v := range a.statusCodes {
		snap.StatusCodes[k] = v
	}
	if a.hist.TotalCount() > 0 {
		snap.Tail = LatencySummary{
			Count: a.hist.TotalCount(),
			Min:   time.Duration(a.hist.Min()) * time.Microsecond,
			Mean:  time.Duration(a.hist.Mean() * float64(time.Microsecond)),
			P50:   time.Duration(a.hist.ValueAtQuantile(50)) * time.Microsecond,
			P90:   time.Duration(a.hist.ValueAtQuantile(90)) * time.Microsecond,
			P95:   time.Duration(a.hist.ValueAtQuantile(95)) * time.Microsecond,
			P99:   time.Duration(a.hist.ValueAtQuantile(99)) * time.Microsecond,
			Max:   time.Duration(a.hist.Max()) * time.Microsecond,
		}
	}
	return snap
}

// Percentile returns the nearest-rank percentile of the stored samples,
// p in [0, 1]. The sort happens outside the lock.
func (a *Aggregator) Percentile(p float64) time.Duration {
	return Percentile(a.sortedLatencies(), p)
}

func (a *Aggregator) sortedLatencies() []time.Duration {
	a.mu.Lock()
	lat := make([]time.Duration, len(a.samples))
	for i, s := range a.samples {
		lat[i] = s.Latency
	}
	a.mu.Unlock()

	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	return lat
}
