package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry metrics
	Participants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linechat_participants",
			Help: "Currently registered participants",
		},
	)

	Joins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linechat_joins_total",
			Help: "Total participants registered",
		},
	)

	Parts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linechat_parts_total",
			Help: "Total participants removed",
		},
		[]string{"reason"}, // left, timed out, failed, removed, shutdown
	)

	Rejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linechat_rejected_total",
			Help: "Total connections rejected before registration",
		},
	)

	// Traffic metrics
	MessagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linechat_messages_relayed_total",
			Help: "Total lines relayed from participants",
		},
	)

	RelayFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linechat_relay_recipients",
			Help:    "Recipients per relayed line",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linechat_errors_total",
			Help: "Total chat errors",
		},
		[]string{"kind"}, // protocol, transport, bind
	)
)
