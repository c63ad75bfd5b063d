package stresstest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/studiowebux/surge/internal/workload"
)

// newTarget starts an HTTP server answering every request with a short body
// and counts the TCP connections it accepts
func newTarget(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var conns atomic.Int64
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	server.Config.ConnState = func(c net.Conn, state http.ConnState) {
		if state == http.StateNew {
			conns.Add(1)
		}
	}
	server.Start()
	t.Cleanup(server.Close)
	return server, &conns
}

// testConfig returns a count config pointed at addr with fast loop timings
func testConfig(t *testing.T, addr string) *Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &Config{
		Name:               t.Name(),
		Host:               host,
		Port:               port,
		Concurrency:        10,
		TotalRequests:      100,
		MaxRequestsPerConn: DefaultMaxRequestsPerConn,
		KeepAlive:          true,
		ConnectTimeout:     time.Second,
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		PopTimeout:         50 * time.Millisecond,
		ConnectBackoff:     5 * time.Millisecond,
		PollInterval:       10 * time.Millisecond,
		ShutdownGrace:      2 * time.Second,
	}
}

// closedAddr returns an address with nothing listening on it
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func rootPlan(t *testing.T) *workload.Plan {
	t.Helper()
	plan, err := workload.Preset(workload.DefaultPreset)
	require.NoError(t, err)
	return plan
}

func runExecutor(t *testing.T, cfg *Config, plan *workload.Plan, opts ...Option) (*Executor, *Report) {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	exec, err := NewExecutor(cfg, plan, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rep, err := exec.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, rep)
	return exec, rep
}

// TestExecutor_CountRun tests that every request of a count run completes
func TestExecutor_CountRun(t *testing.T) {
	server, _ := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.TotalRequests = 1000
	cfg.Concurrency = 10

	exec, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, int64(1000), rep.Completed)
	assert.Equal(t, int64(0), rep.Failed)
	assert.Equal(t, int64(0), rep.ConnectionErrors)
	assert.Equal(t, int64(1000), rep.Requested)
	assert.Equal(t, int64(2000), rep.BytesReceived)
	assert.Greater(t, rep.BytesSent, int64(0))
	assert.Equal(t, int64(1000), rep.StatusCodes[200])
	assert.Equal(t, int64(1000), rep.Latency.Count)
	assert.Greater(t, rep.Throughput, 0.0)
	assert.Equal(t, 1.0, rep.SuccessRate)
	assert.Equal(t, exec.ID(), rep.ID)

	require.Len(t, rep.Endpoints, 1)
	assert.Equal(t, "/", rep.Endpoints[0].Path)
	assert.Equal(t, int64(1000), rep.Endpoints[0].Count)

	// every worker left through its termination signal
	assert.Equal(t, 0, exec.QueueDepth())
	assert.Equal(t, 10, exec.WorkerStates()[StateStopped])
	assert.Equal(t, int64(1000), exec.Attempts())
}

// TestExecutor_MixedWorkload tests a count run with POST bodies
func TestExecutor_MixedWorkload(t *testing.T) {
	server, _ := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.TotalRequests = 300
	cfg.Concurrency = 5

	plan, err := workload.Preset("extreme")
	require.NoError(t, err)

	_, rep := runExecutor(t, cfg, plan)

	assert.Equal(t, int64(300), rep.Completed)
	assert.Equal(t, int64(0), rep.Failed)

	var total int64
	for _, ep := range rep.Endpoints {
		total += ep.Count
	}
	assert.Equal(t, int64(300), total)
}

// TestExecutor_ConnectionRecycling tests that connections are replaced
// after the configured number of responses
func TestExecutor_ConnectionRecycling(t *testing.T) {
	server, conns := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Concurrency = 1
	cfg.TotalRequests = 100
	cfg.MaxRequestsPerConn = 10

	_, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Equal(t, int64(100), rep.Completed)
	assert.Equal(t, int64(10), conns.Load())
}

// TestExecutor_NoKeepAlive tests that each request gets its own connection
// when keep-alive is off
func TestExecutor_NoKeepAlive(t *testing.T) {
	server, conns := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Concurrency = 2
	cfg.TotalRequests = 20
	cfg.KeepAlive = false

	_, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Equal(t, int64(20), rep.Completed)
	assert.Equal(t, int64(20), conns.Load())
}

// TestExecutor_UnreachableTarget tests that refused connections are counted
// as connection errors, never as completed or failed requests
func TestExecutor_UnreachableTarget(t *testing.T) {
	addr := closedAddr(t)

	err := Preflight(context.Background(), addr, 2, 10*time.Millisecond, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreflight))

	cfg := testConfig(t, addr)
	cfg.Concurrency = 2
	cfg.TotalRequests = 10
	cfg.Duration = 500 * time.Millisecond

	_, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Equal(t, int64(0), rep.Completed)
	assert.Equal(t, int64(0), rep.Failed)
	assert.Greater(t, rep.ConnectionErrors, int64(0))
	assert.Contains(t, []string{StatusCompleted, StatusIncomplete}, rep.Status)
}

// TestExecutor_ReadTimeout tests that a silent server produces failed
// requests which are not retried
func TestExecutor_ReadTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(io.Discard, conn)
		}
	}()

	cfg := testConfig(t, ln.Addr().String())
	cfg.Concurrency = 1
	cfg.TotalRequests = 3
	cfg.ReadTimeout = 50 * time.Millisecond

	exec, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, int64(0), rep.Completed)
	assert.Equal(t, int64(3), rep.Failed)
	assert.Equal(t, int64(3), rep.Endpoints[0].Errors)
	assert.Equal(t, int64(3), exec.Attempts())
}

// TestExecutor_SustainedRun tests a duration-bound run with progress output
func TestExecutor_SustainedRun(t *testing.T) {
	server, _ := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Pattern = PatternSustained
	cfg.Concurrency = 4
	cfg.Duration = 400 * time.Millisecond
	cfg.ReportInterval = 100 * time.Millisecond

	var progress bytes.Buffer
	_, rep := runExecutor(t, cfg, rootPlan(t), WithProgress(&progress))

	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Greater(t, rep.Completed, int64(0))
	assert.Equal(t, int64(0), rep.Failed)
	assert.NotEmpty(t, rep.Intervals)
	assert.Contains(t, progress.String(), "completed")
}

// TestExecutor_SustainedRateLimit tests that pacing bounds the request count
func TestExecutor_SustainedRateLimit(t *testing.T) {
	server, _ := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Pattern = PatternSustained
	cfg.Concurrency = 4
	cfg.Duration = 500 * time.Millisecond
	cfg.Rate = 100

	_, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Greater(t, rep.Completed, int64(0))
	assert.LessOrEqual(t, rep.Completed, int64(60))
}

// TestExecutor_Cancellation tests that cancelling the context ends a run
// promptly with a cancelled status
func TestExecutor_Cancellation(t *testing.T) {
	server, _ := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Pattern = PatternSustained
	cfg.Duration = time.Minute

	exec, err := NewExecutor(cfg, rootPlan(t), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	rep, err := exec.Run(ctx)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, StatusCancelled, rep.Status)
}

// TestExecutor_StaircaseRun tests that each level is measured separately
func TestExecutor_StaircaseRun(t *testing.T) {
	server, _ := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Pattern = PatternStaircase
	cfg.Levels = []int{1, 2, 4}
	cfg.RequestsPerLevel = 50
	cfg.WarmupRequests = 10
	cfg.WarmupConcurrency = 2

	exec, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Equal(t, StatusCompleted, rep.Status)
	require.Len(t, rep.Levels, 3)
	for i, level := range rep.Levels {
		assert.Equal(t, cfg.Levels[i], level.Concurrency)
		assert.Equal(t, int64(50), level.Completed)
		assert.Equal(t, 1.0, level.SuccessRate)
	}
	require.NotNil(t, rep.Peak)
	assert.Equal(t, int64(150), rep.Completed)
	assert.Equal(t, int64(150), rep.Requested)
	assert.Equal(t, 4, rep.Concurrency)

	// run totals include the warm-up
	assert.Equal(t, int64(160), exec.Counters().Completed)
}

// TestExecutor_SpikeRun tests the three spike phases
func TestExecutor_SpikeRun(t *testing.T) {
	server, _ := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Pattern = PatternSpike
	cfg.Baseline = 2
	cfg.Spike = 4
	cfg.BaselineDuration = 200 * time.Millisecond
	cfg.SpikeDuration = 200 * time.Millisecond
	cfg.RecoveryDuration = 200 * time.Millisecond

	_, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, 6, rep.Concurrency)
	require.Len(t, rep.Phases, 3)
	assert.Equal(t, "baseline", rep.Phases[0].Name)
	assert.Equal(t, "spike", rep.Phases[1].Name)
	assert.Equal(t, "recovery", rep.Phases[2].Name)

	var inPhases int64
	for _, p := range rep.Phases {
		assert.Greater(t, p.Successes, int64(0), p.Name)
		inPhases += p.Successes
	}
	assert.LessOrEqual(t, inPhases, rep.Completed)
}

// TestNewExecutor_Validation tests that invalid configs are rejected
func TestNewExecutor_Validation(t *testing.T) {
	_, err := NewExecutor(&Config{Host: "localhost", Port: 80}, rootPlan(t))
	assert.Error(t, err)

	cfg := testConfig(t, "127.0.0.1:8080")
	_, err = NewExecutor(cfg, nil)
	assert.Error(t, err)

	plan, err := workload.Preset("heavy")
	require.NoError(t, err)
	_, err = NewExecutor(cfg, plan)
	require.NoError(t, err)
	assert.True(t, cfg.LargePayload)
}

// TestExecutor_SpikeRaisesThroughput tests that against a latency-bound
// server the spike window serves more requests per second than the baseline
func TestExecutor_SpikeRaisesThroughput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Length", "2")
		w.Write([]byte("OK"))
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Pattern = PatternSpike
	cfg.Baseline = 2
	cfg.Spike = 8
	cfg.BaselineDuration = 500 * time.Millisecond
	cfg.SpikeDuration = 500 * time.Millisecond
	cfg.RecoveryDuration = 200 * time.Millisecond

	_, rep := runExecutor(t, cfg, rootPlan(t))

	require.Len(t, rep.Phases, 3)
	baseline, spike := rep.Phases[0], rep.Phases[1]
	assert.Greater(t, spike.Throughput, baseline.Throughput*1.5)
	assert.Greater(t, spike.Latency.P50, time.Duration(0))
}

// TestExecutor_SpikePhasesBeyondSampleCapacity tests that phase counts come
// from the counters once the sample store has filled during the baseline
func TestExecutor_SpikePhasesBeyondSampleCapacity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.Header().Set("Content-Length", "2")
		w.Write([]byte("OK"))
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Pattern = PatternSpike
	cfg.Baseline = 4
	cfg.Spike = 16
	cfg.BaselineDuration = 500 * time.Millisecond
	cfg.SpikeDuration = 500 * time.Millisecond
	cfg.RecoveryDuration = 300 * time.Millisecond
	cfg.SampleCapacity = 50

	_, rep := runExecutor(t, cfg, rootPlan(t))

	require.Len(t, rep.Phases, 3)
	baseline, spike, recovery := rep.Phases[0], rep.Phases[1], rep.Phases[2]

	// Four workers at ~5ms each fill 50 slots well inside the baseline
	assert.Greater(t, baseline.Successes, int64(cfg.SampleCapacity))
	assert.Greater(t, spike.Successes, int64(cfg.SampleCapacity))
	assert.Greater(t, recovery.Successes, int64(0))
	assert.Greater(t, spike.Throughput, baseline.Throughput)
	assert.Greater(t, recovery.Throughput, 0.0)

	// Only the latency summary is limited to stored samples
	assert.Zero(t, spike.Latency.Count)
	assert.LessOrEqual(t, baseline.Successes+spike.Successes+recovery.Successes, rep.Completed)
}

// TestExecutor_DurationCapIncomplete tests that a count run cut off by its
// duration cap is not reported as completed
func TestExecutor_DurationCapIncomplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Length", "2")
		w.Write([]byte("OK"))
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Concurrency = 2
	cfg.TotalRequests = 10000
	cfg.Duration = 200 * time.Millisecond

	_, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Equal(t, StatusIncomplete, rep.Status)
	assert.Equal(t, int64(10000), rep.Requested)
	assert.Less(t, rep.Completed+rep.Failed, rep.Requested)
}

// TestExecutor_DurationCapNotReached tests that a run finishing inside its
// cap stays completed
func TestExecutor_DurationCapNotReached(t *testing.T) {
	server, _ := newTarget(t)
	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.TotalRequests = 200
	cfg.Duration = 20 * time.Second

	_, rep := runExecutor(t, cfg, rootPlan(t))

	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, int64(200), rep.Completed)
}

// TestExecutor_FailureRateWarning tests that an interval with more than 10%
// failures prints a warning line
func TestExecutor_FailureRateWarning(t *testing.T) {
	var n atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1)%2 == 0 {
			// Drop the connection without answering
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Header().Set("Content-Length", "2")
		w.Write([]byte("OK"))
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(t, server.Listener.Addr().String())
	cfg.Pattern = PatternSustained
	cfg.Concurrency = 4
	cfg.Duration = 400 * time.Millisecond
	cfg.ReportInterval = 100 * time.Millisecond

	var progress bytes.Buffer
	_, rep := runExecutor(t, cfg, rootPlan(t), WithProgress(&progress))

	assert.Greater(t, rep.Failed, int64(0))
	assert.Greater(t, rep.Completed, int64(0))
	assert.Contains(t, progress.String(), "WARNING:")
	assert.Contains(t, progress.String(), "of requests failed")
}
