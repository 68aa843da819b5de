// Package metrics provides Prometheus metrics for fast-flux runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a run.
type Metrics struct {
	reg *prometheus.Registry

	// Interval metrics
	IntervalsCommitted prometheus.Counter
	IntervalsSkipped   prometheus.Counter
	IntervalsFailed    prometheus.Counter
	LastInterval       prometheus.Gauge

	// Per-site input metrics
	FilesConsumed        *prometheus.CounterVec
	PlaceholderIntervals *prometheus.CounterVec
	MaintenanceIntervals *prometheus.CounterVec
	RowsMatched          *prometheus.CounterVec
	RowsDuplicate        *prometheus.CounterVec
	RowsOffAxis          *prometheus.CounterVec

	// Timing metrics
	IntervalBuildDuration  prometheus.Histogram
	IntervalEncodeDuration prometheus.Histogram
	IntervalCommitDuration prometheus.Histogram

	// Size metrics
	IntervalBytes prometheus.Histogram

	// Pipeline metrics
	WorkerQueueDepth  prometheus.Gauge
	SequencerPending  prometheus.Gauge
	InFlightIntervals prometheus.Gauge

	// Error metrics
	SourceErrors   *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	MetadataErrors *prometheus.CounterVec
	RetryAttempts  *prometheus.CounterVec

	// Summary
	SummaryCellsMasked prometheus.Counter

	// Throughput
	IntervalsPerSecond prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Textfile  string `yaml:"textfile"` // node_exporter textfile collector path
}

// New registers every metric on reg. A nil reg gets a fresh registry.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "fast_flux"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	siteCounter := func(name, help string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, []string{"site"})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	return &Metrics{
		reg: reg,

		IntervalsCommitted: counter("intervals_committed_total", "Total number of intervals committed"),
		IntervalsSkipped:   counter("intervals_skipped_total", "Total number of intervals skipped (already exist)"),
		IntervalsFailed:    counter("intervals_failed_total", "Total number of intervals that failed processing"),
		LastInterval:       gauge("last_interval_timestamp_seconds", "Start of the last committed interval"),

		FilesConsumed:        siteCounter("files_consumed_total", "Raw files consumed"),
		PlaceholderIntervals: siteCounter("placeholder_intervals_total", "Intervals filled by a placeholder frame"),
		MaintenanceIntervals: siteCounter("maintenance_intervals_total", "Intervals under a maintenance rule"),
		RowsMatched:          siteCounter("rows_matched_total", "Rows placed on the interval axis"),
		RowsDuplicate:        siteCounter("rows_duplicate_total", "Rows dropped for a repeated timestamp"),
		RowsOffAxis:          siteCounter("rows_off_axis_total", "Rows dropped for falling off the interval axis"),

		IntervalBuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interval_build_duration_seconds",
			Help:      "Time to assemble, merge and aggregate an interval",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		IntervalEncodeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interval_encode_duration_seconds",
			Help:      "Time to encode an interval as parquet",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		IntervalCommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interval_commit_duration_seconds",
			Help:      "Time to publish an interval and its manifest",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		IntervalBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interval_bytes",
			Help:      "Size of interval files in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 15), // 1KB to ~32MB
		}),

		WorkerQueueDepth:  gauge("worker_queue_depth", "Intervals waiting for an encode worker"),
		SequencerPending:  gauge("sequencer_pending", "Encoded intervals waiting to be committed in order"),
		InFlightIntervals: gauge("in_flight_intervals", "Intervals between submit and commit"),

		SourceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "source_errors_total", Help: "Raw file read errors",
		}, []string{"site"}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "storage_errors_total", Help: "Storage write errors",
		}, []string{"backend"}),
		MetadataErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "metadata_errors_total", Help: "Metadata catalog errors",
		}, []string{"backend"}),
		RetryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retry_attempts_total", Help: "Retried operations",
		}, []string{"operation"}),

		SummaryCellsMasked: counter("summary_cells_masked_total", "Summary cells masked by flag windows"),
		IntervalsPerSecond: gauge("intervals_per_second", "Current processing rate"),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WriteTextfile writes every metric in the text exposition format, for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}

// SiteStats is one site's contribution to an interval.
type SiteStats struct {
	Site        string
	Files       int
	Placeholder bool
	Maintenance bool
	Matched     int
	Duplicates  int
	OffAxis     int
}

// ObserveSite records one site's inputs for an interval.
func (m *Metrics) ObserveSite(s SiteStats) {
	m.FilesConsumed.WithLabelValues(s.Site).Add(float64(s.Files))
	if s.Placeholder {
		m.PlaceholderIntervals.WithLabelValues(s.Site).Inc()
	}
	if s.Maintenance {
		m.MaintenanceIntervals.WithLabelValues(s.Site).Inc()
	}
	m.RowsMatched.WithLabelValues(s.Site).Add(float64(s.Matched))
	m.RowsDuplicate.WithLabelValues(s.Site).Add(float64(s.Duplicates))
	m.RowsOffAxis.WithLabelValues(s.Site).Add(float64(s.OffAxis))
}

// IncSourceErrors increments the source errors counter.
func (m *Metrics) IncSourceErrors(site string) {
	m.SourceErrors.WithLabelValues(site).Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(backend string) {
	m.StorageErrors.WithLabelValues(backend).Inc()
}

// IncMetadataErrors increments the metadata errors counter.
func (m *Metrics) IncMetadataErrors(backend string) {
	m.MetadataErrors.WithLabelValues(backend).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}
