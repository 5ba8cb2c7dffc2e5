package rates

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sourceRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "satsplit_rate_source_requests_total",
		Help: "Price source fetch attempts by source and outcome.",
	},
	[]string{"source", "outcome"},
)
