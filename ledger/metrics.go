package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockops_ledger_transactions_submitted_total",
		Help: "Total transactions submitted to the ledger, by validation outcome.",
	}, []string{"status"})
	blocksCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blockops_ledger_blocks_committed_total",
		Help: "Total blocks committed to the chain.",
	})
	pendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blockops_ledger_pending_transactions",
		Help: "Transactions currently waiting in the pending pool.",
	})
	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blockops_ledger_commit_duration_seconds",
		Help:    "Wall time of a commit, consensus delay and mining included.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
	ledgerResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blockops_ledger_resets_total",
		Help: "Times the chain was wiped and re-created from genesis.",
	})
)
