// Package server exposes the meters over gRPC: the MeterService for listing,
// triggering and querying, and the standard health protocol reporting each
// series' last sync outcome.
package server

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	middleware "github.com/alexzouz/ha-linky/internal/grpc/middlewares"
	"github.com/alexzouz/ha-linky/internal/metrics"
)

// ServerConfig holds configuration options for the gRPC server
type ServerConfig struct {
	RateLimit      float64 // Requests per second
	RateLimitBurst int     // Maximum burst size for rate limiting
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RateLimit:      5.0,
		RateLimitBurst: 10,
	}
}

// ConfigureGRPCServer registers the services without the middleware (for
// development and debug only)
func ConfigureGRPCServer(meters Meters, health *HealthChecker, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	RegisterMeterServiceServer(srv, NewMeterService(meters))
	grpc_health_v1.RegisterHealthServer(srv, health)
	return srv
}

// SetupServer initializes and configures the gRPC server with all middleware
func SetupServer(meters Meters, health *HealthChecker, config ServerConfig, m *metrics.Metrics, logger *logrus.Logger) (*grpc.Server, error) {
	if config.RateLimit <= 0 || config.RateLimitBurst <= 0 {
		return nil, errors.New("rate limit and burst must be positive")
	}

	return ConfigureGRPCServer(meters, health,
		grpc.UnaryInterceptor(
			chainUnaryInterceptors(
				middleware.ContextMiddleware, // Add request ID first
				middleware.NewRateLimitingInterceptor(rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimitBurst)),
				middleware.NewLoggingInterceptor(logger),
				middleware.NewMetricsInterceptor(m),
			),
		),
	), nil
}

// chainUnaryInterceptors creates a single interceptor from multiple interceptors
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			chainedInterceptor := chain
			chain = func(currentCtx context.Context, currentReq interface{}) (interface{}, error) {
				return interceptor(currentCtx, currentReq, info, chainedInterceptor)
			}
		}
		return chain(ctx, req)
	}
}
