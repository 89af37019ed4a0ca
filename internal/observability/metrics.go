package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the burrow ledger.
type Metrics struct {
	// Core processing
	CallsApplied       *prometheus.CounterVec
	CallsRejected      *prometheus.CounterVec
	CallDuration       *prometheus.HistogramVec
	CallCommitDuration prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// Interest and farming
	InterestAccruals   prometheus.Counter
	FarmRewardsClaimed *prometheus.CounterVec
	BoosterUpdates     prometheus.Counter

	// Risk and liquidation
	LiquidationsExecuted prometheus.Counter
	ForceCloses          prometheus.Counter
	RiskCheckFailures    *prometheus.CounterVec

	// Token transfers
	TransferIntentsOpened   prometheus.Counter
	TransferIntentsResolved *prometheus.CounterVec
	TransferCompensations   prometheus.Counter

	// Channels and backpressure
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PersistBackpressure prometheus.Counter

	// Ingestion
	IngestMessages    *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec
	IngestDuplicates  *prometheus.CounterVec
	IngestPullLatency *prometheus.HistogramVec

	// Persistence
	PersistRecordsWritten prometheus.Counter
	PersistBatchDuration  prometheus.Histogram
	PersistBatchSize      prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistLastSequence   prometheus.Gauge

	// Recovery
	ReplayRecordsTotal prometheus.Counter
	ReplayDuration     prometheus.Gauge

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CallsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_core_calls_applied_total",
			Help: "Calls successfully applied by the core",
		}, []string{"call_type"}),

		CallsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_core_calls_rejected_total",
			Help: "Calls rejected by validation or risk checks",
		}, []string{"call_type", "reason"}),

		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "burrow_core_call_duration_seconds",
			Help:    "Time to apply a single call in the core",
			Buckets: latencyBuckets,
		}, []string{"call_type"}),

		CallCommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "burrow_core_commit_duration_seconds",
			Help:    "Time to commit a call's state back into the core",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "burrow_core_sequence",
			Help: "Current global output sequence number",
		}),

		InterestAccruals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "burrow_interest_accruals_total",
			Help: "Asset interest compounding updates",
		}),

		FarmRewardsClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_farm_rewards_claimed_total",
			Help: "Farm reward claim applications",
		}, []string{"reward_token"}),

		BoosterUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "burrow_booster_updates_total",
			Help: "Booster stake, extend and unstake operations",
		}),

		LiquidationsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "burrow_liquidations_total",
			Help: "Successful partial liquidations",
		}),

		ForceCloses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "burrow_force_closes_total",
			Help: "Bad-debt force closes",
		}),

		RiskCheckFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_risk_check_failures_total",
			Help: "Post-batch risk check failures",
		}, []string{"reason"}),

		TransferIntentsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "burrow_transfer_intents_opened_total",
			Help: "Outgoing token transfer intents opened",
		}),

		TransferIntentsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_transfer_intents_resolved_total",
			Help: "Transfer intents resolved by outcome",
		}, []string{"outcome"}),

		TransferCompensations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "burrow_transfer_compensations_total",
			Help: "Failed transfers compensated back into accounts",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "burrow_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "burrow_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "burrow_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "burrow_persist_backpressure_total",
			Help: "Times the core blocked on the persist channel",
		}),

		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_ingest_messages_total",
			Help: "Messages consumed per subject",
		}, []string{"subject"}),

		IngestParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_ingest_parse_errors_total",
			Help: "Messages dropped due to parse failures",
		}, []string{"subject"}),

		IngestDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_ingest_duplicates_total",
			Help: "Redelivered messages dropped by deduplication, per tier",
		}, []string{"subject", "tier"}),

		IngestPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "burrow_ingest_pull_latency_seconds",
			Help:    "JetStream pull request latency",
			Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01},
		}, []string{"subject"}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "burrow_persist_records_written_total",
			Help: "Records written to Postgres",
		}),

		PersistBatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "burrow_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "burrow_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "burrow_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ReplayRecordsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "burrow_replay_records_total",
			Help: "Records replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "burrow_replay_duration_seconds",
			Help: "Total recovery time",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "burrow_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "burrow_query_errors_total",
			Help: "Query errors",
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
