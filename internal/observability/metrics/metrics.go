// Package metrics records per-run job metrics and flushes them to a node
// exporter textfile or a Pushgateway when the process ends.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const metricPrefix = "es_schedule_"

// Result labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metrics bundles batch job metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	JobRuns          *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	JobLastSuccess   *prometheus.GaugeVec
	TimesheetEntries prometheus.Counter
	WorkOrders       *prometheus.CounterVec
	ExportsTotal     *prometheus.CounterVec
	StencilsOverdue  *prometheus.GaugeVec
	AlertFlags       *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
}

// New constructs and registers metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "job_runs_total",
				Help: "Total job runs by job and exit code",
			},
			[]string{"job", "exit_code"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "job_duration_seconds",
				Help:    "Job duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"job"},
		),
		JobLastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "job_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run",
			},
			[]string{"job"},
		),
		TimesheetEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "timesheet_entries_total",
			Help: "Timesheet entries read for aggregation",
		}),
		WorkOrders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "work_orders_total",
				Help: "Aggregated work orders by result",
			},
			[]string{"result"},
		),
		ExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "exports_total",
				Help: "Export files written by result",
			},
			[]string{"result"},
		),
		StencilsOverdue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stencils_overdue",
				Help: "Overdue stencils by tier in the last run",
			},
			[]string{"tier"},
		),
		AlertFlags: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_flags_total",
				Help: "Alert flag updates by result",
			},
			[]string{"result"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Digest notifications by result",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.JobRuns,
		m.JobDuration,
		m.JobLastSuccess,
		m.TimesheetEntries,
		m.WorkOrders,
		m.ExportsTotal,
		m.StencilsOverdue,
		m.AlertFlags,
		m.Notifications,
	)
	return m
}

// Registry exposes the gatherer.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveJob records one finished run.
func (m *Metrics) ObserveJob(job string, exitCode int, duration time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, strconv.Itoa(exitCode)).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if exitCode == 0 {
		m.JobLastSuccess.WithLabelValues(job).Set(float64(finishedAt.Unix()))
	}
}

// ObserveAggregation records the outcome of an aggregation run.
func (m *Metrics) ObserveAggregation(entries, created, existing, failed int) {
	if m == nil {
		return
	}
	m.TimesheetEntries.Add(float64(entries))
	m.WorkOrders.WithLabelValues("created").Add(float64(created))
	m.WorkOrders.WithLabelValues("existing").Add(float64(existing))
	m.WorkOrders.WithLabelValues("failed").Add(float64(failed))
}

// ObserveExport records one export attempt.
func (m *Metrics) ObserveExport(result string) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(result).Inc()
}

// SetOverdue records the digest size per tier.
func (m *Metrics) SetOverdue(tier string, count int) {
	if m == nil {
		return
	}
	m.StencilsOverdue.WithLabelValues(tier).Set(float64(count))
}

// ObserveAlertFlag records one flag update outcome.
func (m *Metrics) ObserveAlertFlag(result string) {
	if m == nil {
		return
	}
	m.AlertFlags.WithLabelValues(result).Inc()
}

// ObserveNotification records one digest delivery outcome.
func (m *Metrics) ObserveNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// Sink configures where metrics go when the run ends.
type Sink struct {
	Textfile       string
	PushgatewayURL string
}

// Flush writes the registry to the configured sinks.
func (m *Metrics) Flush(ctx context.Context, sink Sink, job string) error {
	if m == nil {
		return nil
	}
	var errs []error
	if sink.Textfile != "" {
		if err := os.MkdirAll(filepath.Dir(sink.Textfile), 0o755); err != nil {
			errs = append(errs, fmt.Errorf("metrics: textfile dir: %w", err))
		} else if err := prometheus.WriteToTextfile(sink.Textfile, m.registry); err != nil {
			errs = append(errs, fmt.Errorf("metrics: textfile: %w", err))
		}
	}
	if sink.PushgatewayURL != "" {
		pusher := push.New(sink.PushgatewayURL, "es_schedule").
			Gatherer(m.registry).
			Grouping("job_name", job)
		if host, err := os.Hostname(); err == nil {
			pusher = pusher.Grouping("instance", host)
		}
		if err := pusher.PushContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: push: %w", err))
		}
	}
	return errors.Join(errs...)
}
