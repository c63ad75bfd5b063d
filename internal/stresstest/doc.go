/*
Package stresstest drives HTTP load against a single target.

# Overview

An Executor owns one run. It fills a shared work queue from a workload
plan, starts a pool of workers and waits until the run is over according
to its pattern:

  - count: a fixed number of requests, optionally capped by a duration
  - sustained: a fixed concurrency for a duration, optionally rate paced
  - staircase: a fixed number of requests at each of several concurrency levels
  - spike: baseline workers, extra workers for a while, then a recovery window

# Workers

Each Worker holds at most one persistent TCP connection and speaks
HTTP/1.1 on it directly. Responses are framed by Content-Length. A
connection is recycled after MaxRequestsPerConn responses and dropped on
any error. A failed dial puts the task back on the queue and counts a
connection error. A failed request is recorded and not retried.

A count run pushes one termination signal per worker after its tasks;
a worker that dequeues one exits. Continuous patterns keep the queue
topped up from a producer goroutine and stop workers by cancellation.

# Statistics

Workers report into a stats.Aggregator. Staircase levels rotate to a
fresh aggregator so each level is measured on its own; Counters keeps
the run totals monotonic across rotations.

# History

Manager stores finished reports in SQLite (runs, run_phases and
run_endpoints tables) for the history commands.

# Example Usage

	plan, err := workload.Preset("mix")
	if err != nil {
		return err
	}

	cfg := &Config{
		Host:               "127.0.0.1",
		Port:               8080,
		Concurrency:        50,
		TotalRequests:      100000,
		MaxRequestsPerConn: DefaultMaxRequestsPerConn,
		KeepAlive:          true,
	}

	exec, err := NewExecutor(cfg, plan, WithLogger(logger), WithProgress(os.Stdout))
	if err != nil {
		return err
	}

	rep, err := exec.Run(ctx)
*/
package stresstest
