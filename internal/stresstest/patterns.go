package stresstest

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/studiowebux/surge/internal/stats"
)

// producerIdle is how long the continuous producer sleeps once the queue
// is at its high-water mark
const producerIdle = 5 * time.Millisecond

// runCount sends a fixed number of requests
func (e *Executor) runCount(ctx context.Context, rep *Report) error {
	agg := e.agg
	status, elapsed := e.runFixed(ctx, agg, e.cfg.Concurrency, e.cfg.TotalRequests, e.cfg.RampUp, e.cfg.Duration)

	rep.Status = status
	rep.Requested = int64(e.cfg.TotalRequests)
	rep.fill(agg.Snapshot(), elapsed)
	return nil
}

// runFixed pre-populates the queue with total tasks and one termination
// signal per worker, then waits until every task is accounted for, the
// workers have all exited, limit elapses or ctx ends.
func (e *Executor) runFixed(ctx context.Context, agg *stats.Aggregator, concurrency, total int, ramp, limit time.Duration) (string, time.Duration) {
	e.drain()
	e.plan.Fill(e.queue, total, e.rng)
	e.queue.PushTerminationSignal(concurrency)

	p := newPool(ctx)
	start := time.Now()
	e.spawn(p, agg, concurrency, ramp)
	status := e.awaitCount(ctx, p, agg, int64(total), limit)
	elapsed := time.Since(start)

	e.stop(p)
	e.drain()
	return status, elapsed
}

func (e *Executor) awaitCount(ctx context.Context, p *pool, agg *stats.Aggregator, total int64, limit time.Duration) string {
	ticker := time.NewTicker(e.cfg.GetPollInterval())
	defer ticker.Stop()

	var deadline <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return StatusCancelled
		case <-deadline:
			c := agg.Counters()
			e.logger.Info("duration cap reached",
				zap.Duration("limit", limit),
				zap.Int64("accounted", c.Completed+c.Failed),
				zap.Int64("requested", total))
			if c.Completed+c.Failed >= total {
				return StatusCompleted
			}
			return StatusIncomplete
		case <-ticker.C:
			c := agg.Counters()
			if c.Completed+c.Failed >= total {
				return StatusCompleted
			}
			if p.live.Load() == 0 {
				// Connect failures requeue tasks behind the termination signals
				e.logger.Warn("all workers exited before the run completed",
					zap.Int64("accounted", c.Completed+c.Failed),
					zap.Int64("requested", total))
				return StatusIncomplete
			}
		}
	}
}

// runSustained holds a fixed concurrency for the configured duration
func (e *Executor) runSustained(ctx context.Context, rep *Report) error {
	agg := e.agg
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Duration)
	defer cancel()

	var limiter *rate.Limiter
	if e.cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.Rate), burstFor(e.cfg.Rate))
	}

	e.drain()
	high := 2 * e.cfg.Concurrency
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		e.produce(runCtx, limiter, func() int { return high })
	}()

	p := newPool(ctx)
	start := time.Now()
	e.spawn(p, agg, e.cfg.Concurrency, e.cfg.RampUp)

	<-runCtx.Done()
	<-producerDone
	elapsed := time.Since(start)
	e.stop(p)
	e.drain()

	rep.Status = StatusCompleted
	rep.fill(agg.Snapshot(), elapsed)
	return nil
}

// runStaircase runs a fixed request count at each concurrency level on a
// fresh aggregator and picks the level with the highest throughput
func (e *Executor) runStaircase(ctx context.Context, rep *Report) error {
	if e.cfg.WarmupRequests > 0 {
		e.logger.Info("warm-up",
			zap.Int("requests", e.cfg.WarmupRequests),
			zap.Int("concurrency", e.cfg.WarmupConcurrency))
		fmt.Fprintf(e.progress, "Warm-up: %d requests at concurrency %d\n", e.cfg.WarmupRequests, e.cfg.WarmupConcurrency)
		e.runFixed(ctx, e.agg, e.cfg.WarmupConcurrency, e.cfg.WarmupRequests, 0, 0)
		e.rotate()
	}

	var snaps []stats.Snapshot
	var measured time.Duration
	rep.Status = StatusCompleted

	for i, level := range e.cfg.Levels {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			e.rotate()
		}
		agg := e.agg

		e.logger.Info("level starting", zap.Int("level", i+1), zap.Int("concurrency", level))
		status, elapsed := e.runFixed(ctx, agg, level, e.cfg.RequestsPerLevel, e.cfg.RampUp, 0)
		snap := agg.Snapshot()

		result := newLevelResult(level, e.cfg.RequestsPerLevel, snap, elapsed)
		rep.Levels = append(rep.Levels, result)
		snaps = append(snaps, snap)
		measured += elapsed

		e.logger.Info("level finished",
			zap.Int("concurrency", level),
			zap.Float64("throughput", result.Throughput),
			zap.Duration("p50", result.Latency.P50),
			zap.Duration("p99", result.Latency.P99),
			zap.Float64("success_rate", result.SuccessRate))
		fmt.Fprintf(e.progress, "Level %d/%d: concurrency %d, %.1f req/s, p50 %s, p99 %s, success %.1f%%\n",
			i+1, len(e.cfg.Levels), level, result.Throughput,
			result.Latency.P50, result.Latency.P99, result.SuccessRate*100)

		if status != StatusCompleted {
			rep.Status = status
			break
		}
	}

	rep.Peak = peakLevel(rep.Levels)
	rep.Requested = int64(len(e.cfg.Levels) * e.cfg.RequestsPerLevel)
	rep.fill(mergeSnapshots(snaps), measured)
	return nil
}

// runSpike runs baseline workers, adds spike workers on top, holds through
// a recovery window, then reports each phase
func (e *Executor) runSpike(ctx context.Context, rep *Report) error {
	agg := e.agg
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workers atomic.Int64
	workers.Store(int64(e.cfg.Baseline))

	e.drain()
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		e.produce(runCtx, nil, func() int { return 2 * int(workers.Load()) })
	}()

	p := newPool(ctx)
	t0, c0 := time.Now(), agg.Counters()
	e.phase("baseline", e.cfg.Baseline, e.cfg.BaselineDuration)
	e.spawn(p, agg, e.cfg.Baseline, e.cfg.RampUp)
	ok := sleepCtx(ctx, e.cfg.BaselineDuration)

	t1, c1 := time.Now(), agg.Counters()
	if ok {
		e.phase("spike", e.cfg.Baseline+e.cfg.Spike, e.cfg.SpikeDuration)
		workers.Add(int64(e.cfg.Spike))
		e.spawn(p, agg, e.cfg.Spike, 0)
		ok = sleepCtx(ctx, e.cfg.SpikeDuration)
	}

	t2, c2 := time.Now(), agg.Counters()
	if ok {
		e.phase("recovery", e.cfg.Baseline+e.cfg.Spike, e.cfg.RecoveryDuration)
		sleepCtx(ctx, e.cfg.RecoveryDuration)
	}
	t3, c3 := time.Now(), agg.Counters()

	cancel()
	<-producerDone
	e.stop(p)
	e.drain()

	snap := agg.Snapshot()
	rep.Phases = []stats.WindowStats{
		namedWindow(snap, "baseline", t0, t1, c0, c1),
		namedWindow(snap, "spike", t1, t2, c1, c2),
		namedWindow(snap, "recovery", t2, t3, c2, c3),
	}
	rep.Status = StatusCompleted
	rep.fill(snap, t3.Sub(t0))
	return nil
}

func (e *Executor) phase(name string, workers int, d time.Duration) {
	e.logger.Info("phase starting",
		zap.String("phase", name),
		zap.Int("workers", workers),
		zap.Duration("duration", d))
	fmt.Fprintf(e.progress, "Phase %s: %d workers for %s\n", name, workers, d)
}

// produce keeps the queue topped up to high() entries until ctx ends,
// optionally paced by limiter
func (e *Executor) produce(ctx context.Context, limiter *rate.Limiter, high func() int) {
	for ctx.Err() == nil {
		if e.queue.Len() >= high() {
			sleepCtx(ctx, producerIdle)
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		e.queue.Push(e.plan.Next(e.rng))
	}
}

// burstFor allows roughly 10ms worth of tokens at once
func burstFor(perSecond float64) int {
	return max(1, int(math.Ceil(perSecond/100)))
}

// namedWindow takes counts from the counter readings at the phase bounds,
// since the sample store may have filled before the phase began
func namedWindow(snap stats.Snapshot, name string, from, to time.Time, start, end stats.Counters) stats.WindowStats {
	w := stats.Window(snap, from, to).WithCounters(start, end)
	w.Name = name
	return w
}

func peakLevel(levels []LevelResult) *LevelResult {
	if len(levels) == 0 {
		return nil
	}
	best := levels[0]
	for _, l := range levels[1:] {
		if l.Throughput > best.Throughput {
			best = l
		}
	}
	return &best
}
