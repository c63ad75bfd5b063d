package stresstest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/surge/internal/stats"
)

// report prints windowed progress every report interval until done closes
// or ctx ends, and returns the intervals it observed
func (e *Executor) report(ctx context.Context, done <-chan struct{}) []stats.Interval {
	ticker := time.NewTicker(e.cfg.GetReportInterval())
	defer ticker.Stop()

	start := time.Now()
	tracker := stats.NewRateTracker(start)
	var intervals []stats.Interval

	for {
		select {
		case <-ctx.Done():
			return intervals
		case <-done:
			return intervals
		case now := <-ticker.C:
			c := e.Counters()
			iv := tracker.Observe(c, now)
			iv.Offset = now.Sub(start)
			intervals = append(intervals, iv)

			active := e.activeWorkers()
			e.logger.Info("progress",
				zap.Duration("offset", iv.Offset.Round(time.Second)),
				zap.Int64("completed", c.Completed),
				zap.Int64("failed", c.Failed),
				zap.Int64("connection_errors", c.ConnectionErrors),
				zap.Float64("rps", iv.RPS),
				zap.Float64("mbps", iv.MBps),
				zap.Int("workers", active))
			fmt.Fprintf(e.progress, "[%7.1fs] completed %d | failed %d | conn errors %d | %.1f req/s | %.2f MB/s | workers %d\n",
				iv.Offset.Seconds(), c.Completed, c.Failed, c.ConnectionErrors, iv.RPS, iv.MBps, active)

			if iv.Warn() {
				e.logger.Warn("high failure rate",
					zap.Float64("failure_rate", iv.FailureRate),
					zap.Int64("failed", iv.Failed),
					zap.Int64("completed", iv.Completed))
				fmt.Fprintf(e.progress, "WARNING: %.1f%% of requests failed in the last %s\n",
					iv.FailureRate*100, iv.Elapsed.Round(time.Millisecond))
			}
		}
	}
}

func (e *Executor) activeWorkers() int {
	n := 0
	for state, count := range e.WorkerStates() {
		if state != StateStopped {
			n += count
		}
	}
	return n
}
