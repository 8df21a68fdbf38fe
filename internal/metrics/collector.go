package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "backup_orchestrator"

// Collector is a prometheus.Collector for the run lifecycle, the watchdog and the HTTP surface.
// A nil *Collector is valid and records nothing.
type Collector struct {
	runsStarted     *prometheus.CounterVec
	runsFinished    *prometheus.CounterVec
	runDuration     prometheus.Histogram
	watchdogReclaim *prometheus.CounterVec
	activeRuns      prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_started_total",
				Help:      "The number of runs created.",
			}, []string{"trigger"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_finished_total",
				Help:      "The number of runs that reached a terminal state.",
			}, []string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time between run creation and its terminal state.",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		),
		watchdogReclaim: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_reclaimed_total",
				Help:      "The number of runs force-failed outside the executor.",
			}, []string{"reason"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "executor_active_runs",
				Help:      "The number of runs currently held by this process's executor.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "The number of HTTP requests served.",
			}, []string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "route"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.runsStarted.Describe(ch)
	c.runsFinished.Describe(ch)
	c.runDuration.Describe(ch)
	c.watchdogReclaim.Describe(ch)
	c.activeRuns.Describe(ch)
	c.httpRequests.Describe(ch)
	c.httpLatency.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.runsStarted.Collect(ch)
	c.runsFinished.Collect(ch)
	c.runDuration.Collect(ch)
	c.watchdogReclaim.Collect(ch)
	c.activeRuns.Collect(ch)
	c.httpRequests.Collect(ch)
	c.httpLatency.Collect(ch)
}

func (c *Collector) RunStarted(trigger string) {
	if c == nil {
		return
	}
	c.runsStarted.WithLabelValues(trigger).Inc()
}

func (c *Collector) RunFinished(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.runsFinished.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

func (c *Collector) RunReclaimed(reason string) {
	if c == nil {
		return
	}
	c.watchdogReclaim.WithLabelValues(reason).Inc()
}

// ExecutorBusy adjusts the in-flight gauge by delta.
func (c *Collector) ExecutorBusy(delta int) {
	if c == nil {
		return
	}
	c.activeRuns.Add(float64(delta))
}

func (c *Collector) HTTPRequest(method, route string, status int, latency time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}
