package stresstest

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/surge/internal/httpframe"
	"github.com/studiowebux/surge/internal/stats"
	"github.com/studiowebux/surge/internal/types"
	"github.com/studiowebux/surge/internal/workqueue"
)

// WorkerState is the position of a worker in its request cycle
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateConnecting
	StateSending
	StateReceiving
	StateBroken
	StateStopped
)

// AllStates lists every worker state, in declaration order
var AllStates = []WorkerState{StateIdle, StateConnecting, StateSending, StateReceiving, StateBroken, StateStopped}

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSending:
		return "sending"
	case StateReceiving:
		return "receiving"
	case StateBroken:
		return "broken"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Worker pulls tasks from the queue and runs them over one persistent
// connection at a time. Only its own goroutine touches the connection.
type Worker struct {
	id     int
	cfg    *Config
	queue  *workqueue.Queue
	agg    *stats.Aggregator
	logger *zap.Logger

	conn     *Connection
	state    atomic.Int32
	attempts atomic.Int64
	dials    atomic.Int64
}

// NewWorker creates a worker reporting into agg
func NewWorker(id int, cfg *Config, queue *workqueue.Queue, agg *stats.Aggregator, logger *zap.Logger) *Worker {
	return &Worker{
		id:     id,
		cfg:    cfg,
		queue:  queue,
		agg:    agg,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// State returns the current state
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Attempts returns how many requests were sent on a live connection
func (w *Worker) Attempts() int64 {
	return w.attempts.Load()
}

// Dials returns how many connections were successfully opened
func (w *Worker) Dials() int64 {
	return w.dials.Load()
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// Run processes tasks until a termination signal is dequeued or ctx ends
func (w *Worker) Run(ctx context.Context) {
	defer w.setState(StateStopped)
	defer w.closeConn()

	for ctx.Err() == nil {
		w.setState(StateIdle)

		task, err := w.queue.Pop(ctx, w.cfg.GetPopTimeout())
		if errors.Is(err, workqueue.ErrEmpty) {
			continue
		}
		if err != nil {
			return
		}

		if !w.ensureConn(ctx, task) {
			continue
		}
		w.roundTrip(ctx, task)
	}
}

// ensureConn makes sure a usable connection exists. On dial failure the
// task goes back to the queue and false is returned.
func (w *Worker) ensureConn(ctx context.Context, task types.Task) bool {
	limit := w.cfg.MaxRequestsPerConn
	if w.conn != nil && (limit == 0 || w.conn.served < limit) {
		return true
	}
	w.closeConn()

	w.setState(StateConnecting)
	conn, err := dialConnection(ctx, w.cfg)
	if err != nil {
		w.queue.Push(task)
		if ctx.Err() != nil {
			return false
		}
		w.agg.RecordConnectError()
		w.logger.Debug("connect failed", zap.Error(err))
		w.setState(StateBroken)
		sleepCtx(ctx, w.cfg.GetConnectBackoff())
		return false
	}

	w.conn = conn
	w.dials.Add(1)
	return true
}

func (w *Worker) roundTrip(ctx context.Context, task types.Task) {
	w.setState(StateSending)
	w.attempts.Add(1)

	n, err := w.conn.Send(task, w.cfg.HostHeader(), w.cfg.KeepAlive, w.cfg.GetWriteTimeout())
	if n > 0 {
		w.agg.AddBytesSent(n)
	}
	if err != nil {
		w.fail(ctx, task, err)
		return
	}

	start := time.Now()
	w.setState(StateReceiving)
	resp, err := w.conn.Receive(w.cfg.GetReadTimeout())
	latency := time.Since(start)
	if err != nil {
		w.fail(ctx, task, err)
		return
	}

	w.agg.Record(types.Outcome{
		Endpoint:   task.Endpoint,
		StatusCode: resp.StatusCode,
		BodyLength: resp.BodyLength,
		Latency:    latency,
		Success:    true,
		At:         time.Now(),
	})
	w.conn.served++

	if !w.cfg.KeepAlive {
		w.closeConn()
	}
}

// fail records a failed attempt and discards the connection. The task is
// not retried.
func (w *Worker) fail(ctx context.Context, task types.Task, err error) {
	w.agg.Record(types.Outcome{
		Endpoint: task.Endpoint,
		At:       time.Now(),
		Err:      err,
	})
	w.logger.Debug("request failed",
		zap.String("endpoint", task.Endpoint),
		zap.String("reason", FailureReason(err)),
		zap.Error(err))

	w.closeConn()
	w.setState(StateBroken)
	sleepCtx(ctx, DefaultFailureBackoff)
}

func (w *Worker) closeConn() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// FailureReason classifies a request error into a short label
func FailureReason(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, httpframe.ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, httpframe.ErrMalformedStatus), errors.Is(err, httpframe.ErrHeaderTooLarge):
		return "malformed"
	case errors.Is(err, httpframe.ErrTruncatedBody):
		return "truncated"
	default:
		return "io"
	}
}

// sleepCtx waits for d or until ctx ends, reporting whether d elapsed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
