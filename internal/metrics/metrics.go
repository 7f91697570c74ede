// Package metrics exposes reconciliation counters and latencies in Prometheus format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle/internal/model"
)

const (
	metricPrefix = "settle_"

	// ResultSuccess and ResultError label finished operations.
	ResultSuccess = "success"
	ResultError   = "error"
)

// Collector owns a private registry so tests and the CLI never share global state.
type Collector struct {
	registry *prometheus.Registry

	commitTotal       *prometheus.CounterVec
	commitLatency     *prometheus.HistogramVec
	toleranceWarnings prometheus.Counter
	toleranceGap      prometheus.Histogram

	importTotal        *prometheus.CounterVec
	importLatency      *prometheus.HistogramVec
	importTransactions prometheus.Counter
	proposalsApplied   *prometheus.CounterVec

	rollbackTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	records *prometheus.GaugeVec
}

// New registers every metric on a fresh registry.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.commitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "commit_total",
			Help: "Total settlement commits by outcome",
		},
		[]string{"outcome"},
	)
	c.commitLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "commit_latency_seconds",
			Help:    "Settlement commit latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	c.toleranceWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "tolerance_warnings_total",
			Help: "Total commits whose linked documents did not add up to the transaction amount",
		},
	)
	c.toleranceGap = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "tolerance_gap_amount",
			Help:    "Absolute difference between transaction and linked documents when outside tolerance",
			Buckets: []float64{0.1, 1, 10, 100, 1000, 10000},
		},
	)

	c.importTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "statement_import_total",
			Help: "Total statement imports by result",
		},
		[]string{"result"},
	)
	c.importLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "statement_import_latency_seconds",
			Help:    "Statement import latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	c.importTransactions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "statement_transactions_total",
			Help: "Total bank lines imported",
		},
	)
	c.proposalsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "proposals_total",
			Help: "Total proposer suggestions by result",
		},
		[]string{"result"},
	)

	c.rollbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "statement_rollback_total",
			Help: "Total statement rollbacks by result",
		},
		[]string{"result"},
	)

	c.exportTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "report_export_total",
			Help: "Total report exports by format and result",
		},
		[]string{"format", "result"},
	)
	c.exportLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "report_export_latency_seconds",
			Help:    "Report export latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format", "result"},
	)

	c.records = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: metricPrefix + "records",
			Help: "Reconciliation records by status",
		},
		[]string{"status"},
	)

	c.registry.MustRegister(
		c.commitTotal,
		c.commitLatency,
		c.toleranceWarnings,
		c.toleranceGap,
		c.importTotal,
		c.importLatency,
		c.importTransactions,
		c.proposalsApplied,
		c.rollbackTotal,
		c.exportTotal,
		c.exportLatency,
		c.records,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveCommit records one settlement commit.
func (c *Collector) ObserveCommit(outcome string, duration time.Duration) {
	c.commitTotal.WithLabelValues(outcome).Inc()
	c.commitLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveToleranceWarning records a settlement group outside tolerance.
func (c *Collector) ObserveToleranceWarning(difference decimal.Decimal) {
	c.toleranceWarnings.Inc()
	c.toleranceGap.Observe(difference.InexactFloat64())
}

// ObserveImport records one statement import.
func (c *Collector) ObserveImport(err error, duration time.Duration, transactions int) {
	result := resultOf(err)
	c.importTotal.WithLabelValues(result).Inc()
	c.importLatency.WithLabelValues(result).Observe(duration.Seconds())
	if err == nil {
		c.importTransactions.Add(float64(transactions))
	}
}

// ObserveProposal records whether a proposer suggestion could be applied.
// result is applied, conflict or skipped.
func (c *Collector) ObserveProposal(result string) {
	c.proposalsApplied.WithLabelValues(result).Inc()
}

// ObserveRollback records one statement rollback.
func (c *Collector) ObserveRollback(err error) {
	c.rollbackTotal.WithLabelValues(resultOf(err)).Inc()
}

// ObserveExport records one report export.
func (c *Collector) ObserveExport(format string, err error, duration time.Duration) {
	result := resultOf(err)
	c.exportTotal.WithLabelValues(format, result).Inc()
	c.exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
}

// SetRecordCounts publishes the current number of records per status.
func (c *Collector) SetRecordCounts(counts map[model.ReconciliationStatus]int) {
	for _, status := range []model.ReconciliationStatus{model.StatusMatched, model.StatusUncertain, model.StatusUnmatched} {
		c.records.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// WriteTextfile writes every metric in the node-exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
