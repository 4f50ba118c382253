// Package metrics exposes the bridge's Prometheus collectors. It implements
// dispatch.Hooks and the Pebble store's MetricsHook.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kvbridge"

// Skip reasons.
const (
	ReasonMalformed = "malformed"
	ReasonFiltered  = "filtered"
	ReasonNamespace = "namespace"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	RecordsRead    prometheus.Counter
	RecordsSkipped *prometheus.CounterVec
	FilterErrors   prometheus.Counter
	Commands       prometheus.Counter
	Transactions   prometheus.Counter
	Retries        prometheus.Counter
	Failures       prometheus.Counter
	Deduped        prometheus.Counter
	Batches        prometheus.Counter
	TxDuration     prometheus.Histogram
	ReaderPosition prometheus.Gauge
	CheckpointPos  prometheus.Gauge
	Lag            prometheus.Gauge
	StorageReads   prometheus.Histogram
	StorageCommits prometheus.Histogram
	StorageBytes   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		RecordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_read_total", Help: "Upstream log records read.",
		}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_skipped_total", Help: "Records not replicated, by reason.",
		}, []string{"reason"}),
		FilterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "filter_errors_total", Help: "Filter evaluations that failed; the record was replicated.",
		}),
		Commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_applied_total", Help: "Downstream commands confirmed.",
		}),
		Transactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transactions_total", Help: "MULTI/EXEC transactions confirmed.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_retries_total", Help: "Transient downstream failures that were retried.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_failures_total", Help: "Transactions that failed for good.",
		}),
		Deduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deduplicated_total", Help: "Replayed entries dropped by position markers.",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_confirmed_total", Help: "Batches confirmed and checkpointed.",
		}),
		TxDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tx_duration_seconds", Help: "Time to confirm a transaction including retries.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		ReaderPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reader_position", Help: "Last upstream position read.",
		}),
		CheckpointPos: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "checkpoint_position", Help: "Last checkpointed upstream position.",
		}),
		Lag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "lag_records", Help: "Upstream last position minus checkpoint position.",
		}),
		StorageReads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "read_seconds", Help: "Pebble point read latency.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		StorageCommits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "commit_seconds", Help: "Pebble batch commit latency.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		StorageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "bytes_total", Help: "Bytes read and committed through Pebble.",
		}, []string{"op"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RecordsRead, m.RecordsSkipped, m.FilterErrors, m.Commands, m.Transactions,
		m.Retries, m.Failures, m.Deduped, m.Batches, m.TxDuration,
		m.ReaderPosition, m.CheckpointPos, m.Lag,
		m.StorageReads, m.StorageCommits, m.StorageBytes,
	)
	return m
}

// Registry returns the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Skipped counts a record that was not replicated.
func (m *Metrics) Skipped(reason string) { m.RecordsSkipped.WithLabelValues(reason).Inc() }

// dispatch.Hooks

func (m *Metrics) TxConfirmed(_ int, commands int, _ uint32, elapsed time.Duration) {
	m.Transactions.Inc()
	m.Commands.Add(float64(commands))
	m.TxDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) TxRetried(int, error) { m.Retries.Inc() }

func (m *Metrics) TxFailed(int, error) { m.Failures.Inc() }

func (m *Metrics) Deduplicated(n int) { m.Deduped.Add(float64(n)) }

// pebble MetricsHook

func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.StorageReads.Observe(elapsed.Seconds())
	m.StorageBytes.WithLabelValues("read").Add(float64(bytes))
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	m.StorageCommits.Observe(elapsed.Seconds())
	m.StorageBytes.WithLabelValues("commit").Add(float64(bytes))
}
