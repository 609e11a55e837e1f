package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeRelayed = "relayed"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_fetch_duration_seconds",
		Help:    "Time from receiving a request envelope to having its response envelope ready.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"code"})

	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Request envelopes processed, by outcome.",
	}, []string{"outcome"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Ports currently connected to the relay.",
	})
)
