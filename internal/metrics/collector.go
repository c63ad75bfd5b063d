// Package metrics exposes live run counters in the Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/studiowebux/surge/internal/stats"
	"github.com/studiowebux/surge/internal/stresstest"
)

const namespace = "surge"

// Source is read at scrape time. *stresstest.Executor implements it.
type Source interface {
	Counters() stats.Counters
	WorkerStates() map[stresstest.WorkerState]int
	QueueDepth() int
}

// Collector turns a Source into Prometheus metrics without keeping any
// counters of its own
type Collector struct {
	source Source

	completed        *prometheus.Desc
	failed           *prometheus.Desc
	bytesSent        *prometheus.Desc
	bytesReceived    *prometheus.Desc
	connectionErrors *prometheus.Desc
	workers          *prometheus.Desc
	queueDepth       *prometheus.Desc
}

// NewCollector creates a collector for source. Labels are attached to every
// metric.
func NewCollector(source Source, labels prometheus.Labels) *Collector {
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variable, labels)
	}
	return &Collector{
		source:           source,
		completed:        desc("requests_completed_total", "Requests that received a complete response."),
		failed:           desc("requests_failed_total", "Requests that failed after being sent."),
		bytesSent:        desc("bytes_sent_total", "Request bytes written to the target."),
		bytesReceived:    desc("bytes_received_total", "Response body bytes read from the target."),
		connectionErrors: desc("connection_errors_total", "Failed connection attempts."),
		workers:          desc("workers", "Workers by state.", "state"),
		queueDepth:       desc("queue_depth", "Tasks waiting in the work queue."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.completed
	ch <- c.failed
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.connectionErrors
	ch <- c.workers
	ch <- c.queueDepth
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counters := c.source.Counters()
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(counters.Completed))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(counters.Failed))
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(counters.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(counters.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.connectionErrors, prometheus.CounterValue, float64(counters.ConnectionErrors))

	states := c.source.WorkerStates()
	for _, state := range stresstest.AllStates {
		ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(states[state]), state.String())
	}
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(c.source.QueueDepth()))
}
