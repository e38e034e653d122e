package coordination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockops_coordination_sessions_total",
		Help: "Finished coordination sessions, by terminal state.",
	}, []string{"state"})
	negotiationRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blockops_coordination_rounds",
		Help:    "Negotiation rounds needed per session.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})
	agentCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockops_coordination_agent_calls_total",
		Help: "Agent capability calls issued by the engine, by method and outcome.",
	}, []string{"method", "outcome"})
)
