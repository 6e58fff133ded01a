package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solana_m_earn_build_info",
			Help: "Build information of the earn node",
		},
		[]string{"version", "commit", "date"},
	)

	IndexPropagationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solana_m_earn_index_propagations_total",
			Help: "Total number of index propagations by outcome",
		},
		[]string{"outcome"},
	)

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solana_m_earn_claims_total",
			Help: "Total number of claims by outcome",
		},
		[]string{"outcome"},
	)

	RewardsMintedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solana_m_earn_rewards_minted_total",
			Help: "Total rewards minted to earners, in base units",
		},
	)

	FeesMintedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solana_m_earn_fees_minted_total",
			Help: "Total manager fees minted, in base units",
		},
	)

	ClaimBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solana_m_earn_claim_batch_duration_seconds",
			Help:    "Duration of claim batches",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s
		},
	)

	CurrentIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solana_m_earn_index",
			Help: "Current earn index, unscaled to 1.0",
		},
	)

	CycleYield = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solana_m_earn_cycle_yield",
			Help: "Yield ceiling and distributed amount of the current cycle",
		},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solana_m_earn_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "status"},
	)
)
