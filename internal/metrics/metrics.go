// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardrec_stream_duration_seconds",
			Help:    "Total time a recommendation stream stayed open in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100, 150, 200, 350, 400, 500, 600},
		},
		[]string{"endpoint", "outcome"},
	)

	TimeToFirstChunk = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardrec_time_to_first_chunk_seconds",
			Help:    "Time to first chunk in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100, 150, 200, 350, 400, 500, 600},
		},
		[]string{"endpoint"},
	)

	TimeToRanking = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardrec_time_to_ranking_seconds",
			Help:    "Time from session open until the ranking was extracted",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100},
		},
		[]string{"endpoint"},
	)

	ChunksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrec_chunks_received_total",
			Help: "Total number of chunk frames received",
		},
		[]string{"endpoint"},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardrec_frames_dropped_total",
			Help: "data: lines whose payload could not be decoded",
		},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrec_request_count_total",
			Help: "Total number of backend requests sent",
		},
		[]string{"endpoint", "status_code"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrec_token_refreshes_total",
			Help: "Token refresh attempts",
		},
		[]string{"result"},
	)

	InflightStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardrec_inflight_streams",
			Help: "Current open streams",
		},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrec_error_count",
			Help: "Error count",
		},
		[]string{"endpoint", "code"},
	)
)
