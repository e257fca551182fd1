package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for VaultLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Latency ---
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PublishFailures     prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates   *prometheus.CounterVec
	IdempotencyLookupErrors prometheus.Counter
	DedupLRUSize            prometheus.Gauge
	EventSequenceGap        *prometheus.CounterVec
	EventOutOfOrder         *prometheus.CounterVec

	// --- Vault ---
	VaultTotalAssets   prometheus.Gauge
	VaultTotalDebt     prometheus.Gauge
	VaultTotalIdle     prometheus.Gauge
	VaultTotalSupply   prometheus.Gauge
	VaultPricePerShare prometheus.Gauge
	VaultLockedProfit  prometheus.Gauge
	VaultDebtRatio     prometheus.Gauge
	VaultShutdown      prometheus.Gauge

	// --- Strategies ---
	StrategyDebt      *prometheus.GaugeVec
	StrategyDebtRatio *prometheus.GaugeVec
	StrategyTotalGain *prometheus.GaugeVec
	StrategyTotalLoss *prometheus.GaugeVec
	HarvestsTotal     *prometheus.CounterVec
	HarvestGain       *prometheus.CounterVec
	HarvestLoss       *prometheus.CounterVec
	FeeSharesMinted   prometheus.Counter
	WithdrawalLossBps prometheus.Histogram

	// --- Keeper ---
	KeeperTriggers  *prometheus.CounterVec
	KeeperSubmitted *prometheus.CounterVec
	KeeperErrors    *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers every metric on reg. Tests pass a fresh
// prometheus.NewRegistry() so several instances can coexist.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_core_commands_rejected_total",
			Help: "Commands rejected (dedup, gap, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultledger_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultledger_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_core_sequence",
			Help: "Current global sequence number",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultledger_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultledger_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultledger_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultledger_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultledger_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_projection_drops_total",
			Help: "Commands dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_publish_drops_total",
			Help: "Commands dropped due to full publish channel",
		}),

		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_publish_failures_total",
			Help: "Applied commands not published after retries",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		IdempotencyLookupErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_idempotency_lookup_errors_total",
			Help: "Event log dedup lookups that failed and were treated as unseen",
		}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_command_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_command_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Vault
		VaultTotalAssets: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_vault_total_assets",
			Help: "Idle plus lent want, smallest unit",
		}),

		VaultTotalDebt: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_vault_total_debt",
			Help: "Want lent to strategies",
		}),

		VaultTotalIdle: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_vault_total_idle",
			Help: "Want held by the vault",
		}),

		VaultTotalSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_vault_total_supply",
			Help: "Shares outstanding",
		}),

		VaultPricePerShare: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_vault_price_per_share",
			Help: "Want per whole share, smallest unit",
		}),

		VaultLockedProfit: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_vault_locked_profit",
			Help: "Reported profit still vesting",
		}),

		VaultDebtRatio: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_vault_debt_ratio_bps",
			Help: "Sum of strategy debt ratios",
		}),

		VaultShutdown: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_vault_emergency_shutdown",
			Help: "1 while the vault is in emergency shutdown",
		}),

		// Strategies
		StrategyDebt: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultledger_strategy_total_debt",
			Help: "Want lent to the strategy",
		}, []string{"strategy_id"}),

		StrategyDebtRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultledger_strategy_debt_ratio_bps",
			Help: "Strategy debt ratio",
		}, []string{"strategy_id"}),

		StrategyTotalGain: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultledger_strategy_total_gain",
			Help: "Lifetime reported gain",
		}, []string{"strategy_id"}),

		StrategyTotalLoss: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultledger_strategy_total_loss",
			Help: "Lifetime reported loss",
		}, []string{"strategy_id"}),

		HarvestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_harvests_total",
			Help: "Harvests applied",
		}, []string{"strategy_id", "outcome"}),

		HarvestGain: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_harvest_gain_total",
			Help: "Gain reported at harvest",
		}, []string{"strategy_id"}),

		HarvestLoss: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_harvest_loss_total",
			Help: "Loss reported at harvest",
		}, []string{"strategy_id"}),

		FeeSharesMinted: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_fee_shares_minted_total",
			Help: "Shares minted as management, performance and strategist fees",
		}),

		WithdrawalLossBps: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultledger_withdrawal_loss_bps",
			Help:    "Realized loss per withdrawal relative to its value",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
		}),

		// Keeper
		KeeperTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_keeper_triggers_total",
			Help: "Trigger evaluations that fired",
		}, []string{"kind", "strategy_id"}),

		KeeperSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_keeper_submitted_total",
			Help: "Commands the keeper submitted",
		}, []string{"kind"}),

		KeeperErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_keeper_errors_total",
			Help: "Keeper submission failures",
		}, []string{"kind"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_persist_commands_written_total",
			Help: "Commands written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultledger_persist_batch_size",
			Help:    "Commands per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultledger_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_replay_commands_total",
			Help: "Commands replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultledger_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_query_errors_total",
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

// VaultSample is a point-in-time reading of the vault for the gauges.
type VaultSample struct {
	TotalAssets   int64
	TotalDebt     int64
	TotalIdle     int64
	TotalSupply   int64
	PricePerShare int64
	LockedProfit  int64
	DebtRatio     int64
	Shutdown      bool
}

// ObserveVault sets the vault gauges.
func (m *Metrics) ObserveVault(s VaultSample) {
	m.VaultTotalAssets.Set(float64(s.TotalAssets))
	m.VaultTotalDebt.Set(float64(s.TotalDebt))
	m.VaultTotalIdle.Set(float64(s.TotalIdle))
	m.VaultTotalSupply.Set(float64(s.TotalSupply))
	m.VaultPricePerShare.Set(float64(s.PricePerShare))
	m.VaultLockedProfit.Set(float64(s.LockedProfit))
	m.VaultDebtRatio.Set(float64(s.DebtRatio))
	shutdown := 0.0
	if s.Shutdown {
		shutdown = 1
	}
	m.VaultShutdown.Set(shutdown)
}

// StrategySample is a point-in-time reading of one strategy.
type StrategySample struct {
	ID        string
	TotalDebt int64
	DebtRatio int64
	TotalGain int64
	TotalLoss int64
}

// ObserveStrategy sets one strategy's gauges.
func (m *Metrics) ObserveStrategy(s StrategySample) {
	m.StrategyDebt.WithLabelValues(s.ID).Set(float64(s.TotalDebt))
	m.StrategyDebtRatio.WithLabelValues(s.ID).Set(float64(s.DebtRatio))
	m.StrategyTotalGain.WithLabelValues(s.ID).Set(float64(s.TotalGain))
	m.StrategyTotalLoss.WithLabelValues(s.ID).Set(float64(s.TotalLoss))
}
