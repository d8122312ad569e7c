package miner

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusMinerBlockMined     prometheus.Histogram
	prometheusMinerBlocksRejected prometheus.Counter
	prometheusMinerHashes         prometheus.Counter
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusMinerBlockMined = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "utxo_chain",
			Subsystem: "miner",
			Name:      "block_mined",
			Help:      "Histogram of time spent finding a valid nonce",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)

	prometheusMinerBlocksRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "utxo_chain",
			Subsystem: "miner",
			Name:      "blocks_rejected",
			Help:      "Number of mined blocks the chain refused",
		},
	)

	prometheusMinerHashes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "utxo_chain",
			Subsystem: "miner",
			Name:      "hashes",
			Help:      "Number of nonces tried",
		},
	)
}
