package server

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/alexzouz/ha-linky/internal/coordinator"
)

// HealthChecker implements the gRPC health checking protocol. Each series id
// is a service whose status follows the outcome of its last sync; the empty
// service name reports the process itself.
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer
	mu     sync.RWMutex
	status map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		status: map[string]grpc_health_v1.HealthCheckResponse_ServingStatus{
			"": grpc_health_v1.HealthCheckResponse_SERVING,
		},
	}
}

func (h *HealthChecker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if status, ok := h.status[req.Service]; ok {
		return &grpc_health_v1.HealthCheckResponse{
			Status: status,
		}, nil
	}

	return nil, status.Error(codes.NotFound, "unknown service")
}

func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watching is not supported")
}

// SetServingStatus sets the serving status of a service
func (h *HealthChecker) SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[service] = status
}

// Remove forgets a service, e.g. once its meter is torn down.
func (h *HealthChecker) Remove(service string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.status, service)
}

// Observe records a coordinator snapshot. It has the signature of a
// coordinator.StatusListener.
func (h *HealthChecker) Observe(snap coordinator.Snapshot) {
	h.SetServingStatus(snap.ID, servingStatus(snap.Status))
}

func servingStatus(s coordinator.Status) grpc_health_v1.HealthCheckResponse_ServingStatus {
	switch s {
	case coordinator.StatusOK:
		return grpc_health_v1.HealthCheckResponse_SERVING
	case coordinator.StatusError:
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	default:
		return grpc_health_v1.HealthCheckResponse_UNKNOWN
	}
}
