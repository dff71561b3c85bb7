package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "maestro_worker_"

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricsPrefix + "messages_total",
			Help: "Messages sent or received by load workers",
		},
		[]string{"role"},
	)
	samplesMissed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: metricsPrefix + "samples_missed_total",
			Help: "Telemetry samples dropped because a worker channel was full",
		},
	)
	telemetryWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: metricsPrefix + "telemetry_write_errors_total",
			Help: "Failed writes to rate and latency logs",
		},
	)
	activeWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: metricsPrefix + "active",
			Help: "Load workers currently running",
		},
		[]string{"role"},
	)
)
