package middleware

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/alexzouz/ha-linky/internal/metrics"
)

// NewMetricsInterceptor counts requests per method and status code and
// records their latency.
func NewMetricsInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		method := path.Base(info.FullMethod)
		m.GRPCRequests.WithLabelValues(method, status.Code(err).String()).Inc()
		m.GRPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}
