package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fund ledger.
type Metrics struct {
	// --- Ledger lifecycle ---
	BatchesDrafted    *prometheus.CounterVec
	BatchesPosted     *prometheus.CounterVec
	BatchesDeleted    *prometheus.CounterVec
	BatchesRejected   *prometheus.CounterVec
	BatchEntries      prometheus.Histogram
	PostedAmountTotal *prometheus.CounterVec

	// --- Idempotency ---
	IdempotentReplays *prometheus.CounterVec
	DedupLRUSize      prometheus.Gauge
	DedupLRUEvictions prometheus.Counter

	// --- Engines ---
	EngineRuns     *prometheus.CounterVec
	EngineErrors   *prometheus.CounterVec
	EngineDuration *prometheus.HistogramVec
	StaleProposals prometheus.Counter

	// --- Persistence ---
	PersistErrors   *prometheus.CounterVec
	PersistDuration *prometheus.HistogramVec

	// --- Outbound events ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishedEvents    *prometheus.CounterVec
	PublishDrops       prometheus.Counter
	PublishErrors      *prometheus.CounterVec

	// --- Inbound commands ---
	IngestCommands *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec

	// --- Audit ---
	AuditRuns     prometheus.Counter
	AuditFindings prometheus.Gauge
	AuditDuration prometheus.Histogram
	AuditLastRun  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg. Tests pass a fresh prometheus.NewRegistry()
// so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	engineBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01,
	}

	return &Metrics{
		// Ledger lifecycle
		BatchesDrafted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_ledger_batches_drafted_total",
			Help: "Draft batches created",
		}, []string{"category"}),

		BatchesPosted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_ledger_batches_posted_total",
			Help: "Batches transitioned DRAFT -> POSTED",
		}, []string{"category"}),

		BatchesDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_ledger_batches_deleted_total",
			Help: "Draft batches deleted",
		}, []string{"category"}),

		BatchesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_ledger_batches_rejected_total",
			Help: "Batch operations rejected (not found, invalid transition, invalid batch)",
		}, []string{"operation", "reason"}),

		BatchEntries: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fund_ledger_batch_entries",
			Help:    "Entries per drafted batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		PostedAmountTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_ledger_posted_amount_total",
			Help: "Sum of posted batch totals in the fund currency",
		}, []string{"category"}),

		// Idempotency
		IdempotentReplays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_ledger_idempotent_replays_total",
			Help: "Draft requests answered from an existing batch",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_ledger_dedup_lru_size",
			Help: "Idempotency keys held in memory",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_ledger_dedup_lru_evictions_total",
			Help: "Idempotency keys evicted from memory",
		}),

		// Engines
		EngineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_engine_runs_total",
			Help: "Allocation and waterfall computations",
		}, []string{"engine"}),

		EngineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_engine_errors_total",
			Help: "Computations rejected for invalid input",
		}, []string{"engine", "reason"}),

		EngineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_engine_duration_seconds",
			Help:    "Computation latency",
			Buckets: engineBuckets,
		}, []string{"engine"}),

		StaleProposals: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_engine_stale_proposals_total",
			Help: "Draft requests whose previewed proposal no longer matched",
		}),

		// Persistence
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_persist_errors_total",
			Help: "Store errors",
		}, []string{"operation"}),

		PersistDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_persist_duration_seconds",
			Help:    "Store write latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}, []string{"operation"}),

		// Outbound
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fund_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fund_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fund_channel_utilization_ratio",
			Help: "size / capacity",
		}, []string{"channel"}),

		PublishedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_outbound_published_total",
			Help: "Events delivered to the outbound sink",
		}, []string{"event_type"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_outbound_publish_drops_total",
			Help: "Events dropped because the outbound queue was full",
		}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_outbound_publish_errors_total",
			Help: "Sink publish failures",
		}, []string{"sink"}),

		// Inbound commands
		IngestCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_ingest_commands_total",
			Help: "Inbound NATS commands by kind and outcome (ok, replayed, rejected, retry)",
		}, []string{"kind", "result"}),

		IngestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_ingest_duration_seconds",
			Help:    "Time to apply one inbound command",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"kind"}),

		// Audit
		AuditRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_audit_runs_total",
			Help: "Integrity audits executed",
		}),

		AuditFindings: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_audit_findings",
			Help: "Findings reported by the last integrity audit",
		}),

		AuditDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fund_audit_duration_seconds",
			Help:    "Integrity audit duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		AuditLastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_audit_last_run_timestamp_seconds",
			Help: "Unix time of the last completed audit",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_query_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_query_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_query_errors_total",
			Help: "API errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
