package server

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alexzouz/ha-linky/internal/coordinator"
	"github.com/alexzouz/ha-linky/internal/models"
)

const serviceName = "linky.v1.MeterService"

// Meters is the part of the coordinator manager exposed over gRPC.
type Meters interface {
	List() []coordinator.Snapshot
	Trigger(prm string, production bool) error
	Query(ctx context.Context, prm string, production, cost bool, start, end time.Time) ([]models.StatisticPoint, error)
}

var _ Meters = (*coordinator.Manager)(nil)

// MeterServiceServer is the server API of linky.v1.MeterService. Messages
// are protobuf well-known types, so the service needs no generated code.
type MeterServiceServer interface {
	ListMeters(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	TriggerSync(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	QueryStatistics(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// MeterService encapsulates the meter operations
type MeterService struct {
	meters    Meters
	validator *RequestValidator
}

func NewMeterService(meters Meters) *MeterService {
	return &MeterService{
		meters:    meters,
		validator: NewRequestValidator(),
	}
}

// ListMeters returns {"meters": [snapshot...]}.
func (s *MeterService) ListMeters(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snaps := s.meters.List()
	meters := make([]interface{}, 0, len(snaps))
	for _, snap := range snaps {
		m := map[string]interface{}{
			"id":         snap.ID,
			"prm":        snap.PRM,
			"name":       snap.Name,
			"production": snap.Production,
			"state":      string(snap.State),
			"status":     string(snap.Status),
		}
		if !snap.LastSync.IsZero() {
			m["last_sync"] = snap.LastSync.UTC().Format(time.RFC3339)
		}
		if snap.LastError != "" {
			m["last_error"] = snap.LastError
		}
		meters = append(meters, m)
	}

	resp, err := structpb.NewStruct(map[string]interface{}{"meters": meters})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode meters: %v", err)
	}
	return resp, nil
}

// TriggerSync starts a sync of {"prm", "production"} in the background.
func (s *MeterService) TriggerSync(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	prm := req.GetFields()["prm"].GetStringValue()
	if err := s.validator.ValidatePRM(prm); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.meters.Trigger(prm, req.GetFields()["production"].GetBoolValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// QueryStatistics reads a series over [start, end). The request carries
// prm, production, cost and RFC 3339 start and end.
func (s *MeterService) QueryStatistics(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q, err := decodeQuery(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.validator.Validate(q); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	points, err := s.meters.Query(ctx, q.PRM, q.Production, q.Cost, q.Start, q.End)
	if err != nil {
		return nil, toStatus(err)
	}

	out := make([]interface{}, 0, len(points))
	for _, p := range points {
		out = append(out, map[string]interface{}{
			"start": p.Start.UTC().Format(time.RFC3339),
			"state": p.State,
			"sum":   p.Sum,
		})
	}
	resp, err := structpb.NewStruct(map[string]interface{}{"points": out})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode points: %v", err)
	}
	return resp, nil
}

func decodeQuery(req *structpb.Struct) (QueryRequest, error) {
	f := req.GetFields()
	q := QueryRequest{
		PRM:        f["prm"].GetStringValue(),
		Production: f["production"].GetBoolValue(),
		Cost:       f["cost"].GetBoolValue(),
	}
	for _, ts := range []struct {
		key string
		dst *time.Time
	}{{"start", &q.Start}, {"end", &q.End}} {
		raw := f[ts.key].GetStringValue()
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return QueryRequest{}, errors.New("invalid " + ts.key + ": " + raw)
		}
		*ts.dst = t
	}
	return q, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, coordinator.ErrUnknownMeter):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, coordinator.ErrSyncInProgress):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}

// RegisterMeterServiceServer registers srv on s.
func RegisterMeterServiceServer(s grpc.ServiceRegistrar, srv MeterServiceServer) {
	s.RegisterService(&meterServiceDesc, srv)
}

var meterServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MeterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListMeters", Handler: listMetersHandler},
		{MethodName: "TriggerSync", Handler: triggerSyncHandler},
		{MethodName: "QueryStatistics", Handler: queryStatisticsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func listMetersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeterServiceServer).ListMeters(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListMeters"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeterServiceServer).ListMeters(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func triggerSyncHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeterServiceServer).TriggerSync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/TriggerSync"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeterServiceServer).TriggerSync(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func queryStatisticsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeterServiceServer).QueryStatistics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/QueryStatistics"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeterServiceServer).QueryStatistics(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
