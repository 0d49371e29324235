package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus collectors for the pipeline.
type PrometheusMetrics struct {
	samplesReceived  prometheus.Counter
	samplesDelivered *prometheus.CounterVec // per consumer outlet
	deliveryFailures *prometheus.CounterVec // per consumer outlet
	samplesRecorded  prometheus.Counter
	recordingErrors  prometheus.Counter
	recordingActive  prometheus.Gauge
	batchesEmitted   prometheus.Counter
	spectraComputed  prometheus.Counter
	framesPublished  prometheus.Counter
	viewersConnected prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all pipeline metrics.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		samplesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_samples_received_total",
			Help: "Samples pulled from the connected stream",
		}),
		samplesDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_samples_delivered_total",
			Help: "Samples delivered to each consumer outlet",
		}, []string{"consumer"}),
		deliveryFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_delivery_failures_total",
			Help: "Samples dropped at each consumer outlet",
		}, []string{"consumer"}),
		samplesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_samples_recorded_total",
			Help: "Samples written into the active recording session",
		}),
		recordingErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_recording_errors_total",
			Help: "Recoverable recording write errors",
		}),
		recordingActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_recording_active",
			Help: "Whether a recording session is open (1) or not (0)",
		}),
		batchesEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_batches_emitted_total",
			Help: "Time-domain batches emitted by the batcher",
		}),
		spectraComputed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_spectra_computed_total",
			Help: "Spectral frame groups computed by the analyzer",
		}),
		framesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_frames_published_total",
			Help: "Display frames published to the sink",
		}),
		viewersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_viewers_connected",
			Help: "Currently connected display websocket clients",
		}),
	}
}
