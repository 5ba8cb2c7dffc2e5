package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satsplit_publish_total",
			Help: "Publish attempts by overall verdict.",
		},
		[]string{"verdict"},
	)

	relayResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satsplit_relay_results_total",
			Help: "Per-relay publish results by outcome.",
		},
		[]string{"outcome"},
	)
)
