package blockchain

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusChainBlocksAccepted prometheus.Counter
	prometheusChainBlocksRejected *prometheus.CounterVec
	prometheusChainHeight         prometheus.Gauge
	prometheusChainAddBlock       prometheus.Histogram
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusChainBlocksAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "utxo_chain",
			Subsystem: "chain",
			Name:      "blocks_accepted",
			Help:      "Number of blocks accepted",
		},
	)

	prometheusChainBlocksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "utxo_chain",
			Subsystem: "chain",
			Name:      "blocks_rejected",
			Help:      "Number of blocks rejected, by reason",
		},
		[]string{"reason"},
	)

	prometheusChainHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "utxo_chain",
			Subsystem: "chain",
			Name:      "height",
			Help:      "Height of the chain tail",
		},
	)

	prometheusChainAddBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "utxo_chain",
			Subsystem: "chain",
			Name:      "add_block",
			Help:      "Histogram of block validation and commit",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)
}
