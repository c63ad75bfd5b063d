// Package types holds the value types passed between the work queue, the
// workers and the statistics aggregator.
//
// A Task describes one request to send and an Outcome what happened to it.
// Both are plain values; a Task body may be shared by many tasks and is
// never written after the workload is built.
package types
