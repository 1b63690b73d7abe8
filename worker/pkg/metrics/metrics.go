package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "potwheel_worker_build_info",
			Help: "Build information of the potwheel lottery worker",
		},
		[]string{"version", "commit", "date"},
	)

	TickTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "potwheel_worker_tick_total",
			Help: "Total number of scheduler ticks",
		},
		[]string{"result"},
	)

	RoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "potwheel_worker_round_total",
			Help: "Total number of lottery rounds",
		},
		[]string{"status"},
	)

	RoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "potwheel_worker_round_duration_seconds",
			Help:    "Duration of a full lottery round",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~512s
		},
	)

	PotSizeLamports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "potwheel_worker_pot_size_lamports",
			Help: "Current accumulated pot size in lamports",
		},
	)

	ClaimTxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "potwheel_worker_claim_tx_total",
			Help: "Total number of fee claim transactions",
		},
		[]string{"status"},
	)

	VRFAttemptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "potwheel_worker_vrf_attempt_total",
			Help: "Total number of VRF workflow attempts",
		},
		[]string{"status"},
	)

	OraclePollTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "potwheel_worker_oracle_poll_total",
			Help: "Total number of oracle fulfillment polls",
		},
	)

	BurnedRawTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "potwheel_worker_burned_raw_total",
			Help: "Total raw amount of target token burned",
		},
	)
)
