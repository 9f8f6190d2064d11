// Package metrics defines the Prometheus instrumentation for the ingestion
// and decision path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Serial transport metrics
var (
	// SerialLinesReceived tracks every line read off the serial port,
	// whether or not it parsed as a sample
	SerialLinesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_serial_lines_received_total",
			Help: "Total number of lines read from the serial transport",
		},
	)

	// SerialReconnects tracks reconnection attempts after a transport failure
	SerialReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_serial_reconnects_total",
			Help: "Total number of serial reconnection attempts",
		},
	)

	// SerialWriteFailures tracks failed actuation command writes
	SerialWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_serial_write_failures_total",
			Help: "Total number of failed actuation command writes",
		},
	)
)

// Decision pipeline metrics
var (
	// SamplesProcessed tracks pipeline passes by result
	SamplesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floodsentry_samples_processed_total",
			Help: "Total number of samples run through the decision pipeline",
		},
		[]string{"result"},
	)

	// InferenceFailures tracks classifier calls that returned an error
	InferenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_inference_failures_total",
			Help: "Total number of failed classifier invocations",
		},
	)

	// ExplanationFailures tracks explanation calls that returned an error
	ExplanationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_explanation_failures_total",
			Help: "Total number of failed explanation invocations",
		},
	)

	// AlertsRaised tracks ALERT_ON actuation commands
	AlertsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_alerts_raised_total",
			Help: "Total number of high-risk alert activations",
		},
	)

	// StoreFailures tracks outcomes dropped because persistence failed
	StoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "floodsentry_store_failures_total",
			Help: "Total number of outcomes dropped due to storage errors",
		},
	)
)
