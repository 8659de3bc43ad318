// Package metrics holds the Prometheus collectors shared by the sync
// pipeline, the Conso API client and the gRPC interceptors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "linky"

type Metrics struct {
	SyncRuns      *prometheus.CounterVec
	SyncDuration  *prometheus.HistogramVec
	PointsWritten *prometheus.CounterVec
	APIRequests   *prometheus.CounterVec
	GRPCRequests  *prometheus.CounterVec
	GRPCLatency   *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by series and result.",
		}, []string{"series", "result"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"series"}),
		PointsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statistic_points_written_total",
			Help:      "Hourly statistic points written to the store.",
		}, []string{"series"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Requests to the metering API by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		GRPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		GRPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "Latency of gRPC requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SyncRuns,
			m.SyncDuration,
			m.PointsWritten,
			m.APIRequests,
			m.GRPCRequests,
			m.GRPCLatency,
		)
	}
	return m
}
