// Package metrics exposes the engine's Prometheus instrumentation: fill
// throughput, reject rate, and per-shard mailbox depth.
//
// Grounded on SPEC_FULL.md §2's domain-stack table entry for
// github.com/prometheus/client_golang (the retrieval pack's
// 0xtitan6-polymarket-mm and VictorVVedtion-perp-dex both instrument their
// matching loops with it); the teacher carries no metrics of its own to
// generalize from.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric the engine emits, constructed once per
// process by cmd/engine, which updates it from each shard's OnOutputs hook,
// its mailbox-depth poller and its snapshot coordinator.
type Registry struct {
	FillsTotal       *prometheus.CounterVec
	RejectsTotal     *prometheus.CounterVec
	InputsTotal      *prometheus.CounterVec
	MailboxDepth     *prometheus.GaugeVec
	SnapshotsTotal   prometheus.Counter
	WALAppendSeconds prometheus.Histogram
}

// NewRegistry registers every metric against reg (pass
// prometheus.NewRegistry() in production, prometheus.NewPedanticRegistry()
// in tests that want isolated collectors).
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		FillsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clobcore",
			Name:      "fills_total",
			Help:      "Total fills produced, by market_id.",
		}, []string{"market_id"}),
		RejectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clobcore",
			Name:      "rejects_total",
			Help:      "Total order/cancel rejects, by shard and reason.",
		}, []string{"shard", "reason"}),
		InputsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clobcore",
			Name:      "inputs_total",
			Help:      "Total input events processed, by kind.",
		}, []string{"kind"}),
		MailboxDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clobcore",
			Name:      "shard_mailbox_depth",
			Help:      "Current queue depth of a shard's inbound mailbox.",
		}, []string{"shard"}),
		SnapshotsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clobcore",
			Name:      "snapshots_total",
			Help:      "Total snapshots written.",
		}),
		WALAppendSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clobcore",
			Name:      "wal_append_seconds",
			Help:      "Latency of a single WAL record append, including fsync per the configured sync policy.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
