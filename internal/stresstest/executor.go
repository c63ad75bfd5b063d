package stresstest

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/surge/internal/stats"
	"github.com/studiowebux/surge/internal/workload"
	"github.com/studiowebux/surge/internal/workqueue"
)

// Executor runs one load test against one target
type Executor struct {
	id       string
	cfg      *Config
	plan     *workload.Plan
	logger   *zap.Logger
	progress io.Writer
	queue    *workqueue.Queue
	rng      *rand.Rand // producer side only

	mu      sync.Mutex
	agg     *stats.Aggregator // current phase aggregator
	base    stats.Counters    // totals of finished aggregators
	workers []*Worker
	nextID  atomic.Int64
}

// Option customizes an Executor
type Option func(*Executor)

// WithLogger sets the structured logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithProgress sets where human-readable progress lines are written
func WithProgress(w io.Writer) Option {
	return func(e *Executor) { e.progress = w }
}

// NewExecutor creates a new executor for cfg and plan
func NewExecutor(cfg *Config, plan *workload.Plan, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if plan == nil {
		return nil, fmt.Errorf("workload plan is required")
	}
	if plan.LargePayload() {
		cfg.LargePayload = true
	}

	e := &Executor{
		id:       uuid.NewString(),
		cfg:      cfg,
		plan:     plan,
		logger:   zap.NewNop(),
		progress: io.Discard,
		queue:    workqueue.New(),
		rng:      workload.NewRand(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.agg = e.newAggregator()
	return e, nil
}

// ID returns the run identifier
func (e *Executor) ID() string {
	return e.id
}

// Run drives the configured pattern to completion or until ctx ends and
// returns the final report. Cancellation is not an error.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	rep := e.newReport()
	e.logger.Info("run starting",
		zap.String("run_id", e.id),
		zap.String("pattern", string(e.cfg.GetPattern())),
		zap.String("target", e.cfg.Addr()),
		zap.String("workload", e.plan.Name()),
		zap.Int("peak_concurrency", e.cfg.PeakConcurrency()))

	g, gctx := errgroup.WithContext(ctx)
	driverDone := make(chan struct{})
	var intervals []stats.Interval

	g.Go(func() error {
		defer close(driverDone)
		return e.drive(gctx, rep)
	})
	g.Go(func() error {
		intervals = e.report(gctx, driverDone)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep.Intervals = intervals
	if ctx.Err() != nil && rep.Status == StatusCompleted {
		rep.Status = StatusCancelled
	}
	rep.Duration = time.Since(rep.StartedAt)
	e.logger.Info("run finished",
		zap.String("run_id", e.id),
		zap.String("status", rep.Status),
		zap.Int64("completed", rep.Completed),
		zap.Int64("failed", rep.Failed),
		zap.Int64("connection_errors", rep.ConnectionErrors),
		zap.Duration("elapsed", rep.Duration))
	return rep, nil
}

func (e *Executor) drive(ctx context.Context, rep *Report) error {
	switch e.cfg.GetPattern() {
	case PatternCount:
		return e.runCount(ctx, rep)
	case PatternSustained:
		return e.runSustained(ctx, rep)
	case PatternStaircase:
		return e.runStaircase(ctx, rep)
	case PatternSpike:
		return e.runSpike(ctx, rep)
	}
	return fmt.Errorf("unknown pattern %q", e.cfg.Pattern)
}

// Counters returns totals across every phase of the run so far
func (e *Executor) Counters() stats.Counters {
	e.mu.Lock()
	agg, base := e.agg, e.base
	e.mu.Unlock()

	c := agg.Counters()
	return addCounters(base, c)
}

// WorkerStates counts workers per state
func (e *Executor) WorkerStates() map[WorkerState]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	states := make(map[WorkerState]int, len(AllStates))
	for _, w := range e.workers {
		states[w.State()]++
	}
	return states
}

// QueueDepth returns the number of queued tasks
func (e *Executor) QueueDepth() int {
	return e.queue.Len()
}

// Attempts returns how many requests were sent on a live connection
func (e *Executor) Attempts() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int64
	for _, w := range e.workers {
		n += w.Attempts()
	}
	return n
}

func (e *Executor) newAggregator() *stats.Aggregator {
	return stats.New(stats.Options{
		Capacity: e.cfg.SampleCapacity,
		Sampling: e.cfg.Sampling,
	})
}

// rotate retires the current aggregator into the running totals and
// installs a fresh one
func (e *Executor) rotate() *stats.Aggregator {
	fresh := e.newAggregator()

	e.mu.Lock()
	e.base = addCounters(e.base, e.agg.Counters())
	e.agg = fresh
	e.mu.Unlock()
	return fresh
}

// pool is a group of workers sharing one stop context
type pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	live   atomic.Int32
}

func newPool(parent context.Context) *pool {
	ctx, cancel := context.WithCancel(parent)
	return &pool{ctx: ctx, cancel: cancel}
}

// spawn starts n workers, spreading their starts evenly over ramp. It
// returns immediately; the ramp runs in the background.
func (e *Executor) spawn(p *pool, agg *stats.Aggregator, n int, ramp time.Duration) {
	if n <= 0 {
		return
	}
	p.wg.Add(n)
	p.live.Add(int32(n))

	var delay time.Duration
	if ramp > 0 {
		delay = ramp / time.Duration(n)
	}

	go func() {
		for i := 0; i < n; i++ {
			if i > 0 && !sleepCtx(p.ctx, delay) {
				// Stopped mid ramp: release the workers never started
				for ; i < n; i++ {
					p.live.Add(-1)
					p.wg.Done()
				}
				return
			}

			w := NewWorker(int(e.nextID.Add(1)), e.cfg, e.queue, agg, e.logger)
			e.mu.Lock()
			e.workers = append(e.workers, w)
			e.mu.Unlock()

			go func() {
				defer p.wg.Done()
				defer p.live.Add(-1)
				w.Run(p.ctx)
			}()
		}
	}()
}

// stop cancels the pool and waits up to the shutdown grace for its workers
func (e *Executor) stop(p *pool) {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	grace := e.cfg.GetShutdownGrace()
	select {
	case <-done:
	case <-time.After(grace):
		// Leftover workers are blocked in socket I/O bounded by deadlines
		e.logger.Warn("workers did not stop within grace period",
			zap.Int32("remaining", p.live.Load()),
			zap.Duration("grace", grace))
	}
}

// drain drops leftovers so the next phase starts from an empty queue
func (e *Executor) drain() {
	if n := e.queue.Clear(); n > 0 {
		e.logger.Debug("dropped queued tasks", zap.Int("count", n))
	}
}

func addCounters(a, b stats.Counters) stats.Counters {
	return stats.Counters{
		Completed:        a.Completed + b.Completed,
		Failed:           a.Failed + b.Failed,
		BytesSent:        a.BytesSent + b.BytesSent,
		BytesReceived:    a.BytesReceived + b.BytesReceived,
		ConnectionErrors: a.ConnectionErrors + b.ConnectionErrors,
	}
}
