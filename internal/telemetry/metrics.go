// Package telemetry records export run metrics with Prometheus and
// optionally pushes them to a Pushgateway when a run ends.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "grantcsv"

// Metrics holds the collectors for one process. Each Metrics owns its
// registry so tests and repeated runs never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    prometheus.Counter
	pagesFetched    prometheus.Gauge
	rowsWritten     prometheus.Gauge
	columnsWritten  prometheus.Gauge
	columnsDropped  prometheus.Gauge
	runDuration     prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

// NewMetrics creates and registers the run collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP page requests by outcome",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP page requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_retries_total",
			Help:      "HTTP request retries",
		}),
		pagesFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pages_fetched",
			Help:      "Submission pages fetched in the last run",
		}),
		rowsWritten: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_written",
			Help:      "CSV rows written in the last run",
		}),
		columnsWritten: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "columns_written",
			Help:      "CSV columns written in the last run",
		}),
		columnsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "columns_dropped",
			Help:      "Constant columns removed in the last run",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.retriesTotal,
		m.pagesFetched,
		m.rowsWritten,
		m.columnsWritten,
		m.columnsDropped,
		m.runDuration,
		m.lastSuccess,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest counts one HTTP attempt or cache hit.
func (m *Metrics) ObserveRequest(outcome string, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveRetry counts one retry.
func (m *Metrics) ObserveRetry() { m.retriesTotal.Inc() }

// RunResult summarises a finished run.
type RunResult struct {
	Pages          int
	Rows           int
	Columns        int
	DroppedColumns int
	Duration       time.Duration
	Succeeded      bool
	FinishedAt     time.Time
}

// RecordRun sets the per-run gauges.
func (m *Metrics) RecordRun(r RunResult) {
	m.pagesFetched.Set(float64(r.Pages))
	m.rowsWritten.Set(float64(r.Rows))
	m.columnsWritten.Set(float64(r.Columns))
	m.columnsDropped.Set(float64(r.DroppedColumns))
	m.runDuration.Set(r.Duration.Seconds())
	if r.Succeeded {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}

// Push sends every collected metric to the Pushgateway at url, replacing the
// job's previous group. reference becomes a grouping label when non-empty.
func (m *Metrics) Push(ctx context.Context, url, job, reference string) error {
	if job == "" {
		job = namespace
	}
	p := push.New(url, job).Gatherer(m.registry)
	if reference != "" {
		p = p.Grouping("reference", reference)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
