package ledger

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusLedgerCommits     prometheus.Counter
	prometheusLedgerMempoolAdds prometheus.Counter
	prometheusLedgerUTXOs       *prometheus.GaugeVec
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusLedgerCommits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "utxo_chain",
			Subsystem: "ledger",
			Name:      "commits",
			Help:      "Number of blocks committed to the ledger",
		},
	)

	prometheusLedgerMempoolAdds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "utxo_chain",
			Subsystem: "ledger",
			Name:      "mempool_adds",
			Help:      "Number of transactions added to the mempool",
		},
	)

	prometheusLedgerUTXOs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "utxo_chain",
			Subsystem: "ledger",
			Name:      "utxos",
			Help:      "Number of unspent outputs held, by store type",
		},
		[]string{"store"},
	)
}
