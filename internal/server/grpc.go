package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/alfredjeanlab/lambdaq/internal/runtimepb"
)

var _ runtimepb.RuntimeServiceServer = (*RuntimeServer)(nil)

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the RuntimeService, health checking and reflection.
func NewGRPCServer(rs *RuntimeServer) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(rs.logger),
			LoggingInterceptor(rs.logger),
		),
	)

	runtimepb.RegisterRuntimeServiceServer(srv, rs)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(runtimepb.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv
}

// Enqueue adds the payload to the pending queue.
func (s *RuntimeServer) Enqueue(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	ev := s.enqueue(ctx, req.GetValue())
	st, err := runtimepb.EventToStruct(ev)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode event: %v", err)
	}
	return st, nil
}

// Next activates the oldest pending event. It does not wait.
func (s *RuntimeServer) Next(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ev, ok := s.tryNext(ctx)
	if !ok {
		return nil, status.Error(codes.NotFound, "no pending events")
	}
	st, err := runtimepb.EventToStruct(ev)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode event: %v", err)
	}
	return st, nil
}

// ReportSuccess records a response for an event.
func (s *RuntimeServer) ReportSuccess(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id := runtimepb.StringField(req, runtimepb.FieldRequestID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "aws_request_id is required")
	}
	if _, ok := s.reportSuccess(ctx, id, runtimepb.StringField(req, runtimepb.FieldResponse)); !ok {
		return nil, status.Errorf(codes.NotFound, "unknown or finished request id %s", id)
	}
	return &emptypb.Empty{}, nil
}

// ReportError records a failure for an event. A missing error type becomes
// "Unhandled".
func (s *RuntimeServer) ReportError(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id := runtimepb.StringField(req, runtimepb.FieldRequestID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "aws_request_id is required")
	}
	errorType := runtimepb.StringField(req, runtimepb.FieldErrorType)
	if errorType == "" {
		errorType = defaultErrorType
	}
	if _, ok := s.reportError(ctx, id, errorType, runtimepb.StringField(req, runtimepb.FieldErrorBody)); !ok {
		return nil, status.Errorf(codes.NotFound, "unknown or finished request id %s", id)
	}
	return &emptypb.Empty{}, nil
}

// ListPending returns the pending queue, oldest first.
func (s *RuntimeServer) ListPending(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	lv, err := runtimepb.EventsToList(s.store.Pending())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode events: %v", err)
	}
	return lv, nil
}

// ListCompleted returns the completed list.
func (s *RuntimeServer) ListCompleted(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	lv, err := runtimepb.EventsToList(s.store.Completed())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode events: %v", err)
	}
	return lv, nil
}

// Delete removes a pending or completed event. Unknown ids are not an error.
func (s *RuntimeServer) Delete(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	s.deleteEvent(ctx, req.GetValue())
	return &emptypb.Empty{}, nil
}

// ClearPending drops the pending queue.
func (s *RuntimeServer) ClearPending(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.clearPending(ctx)
	return &emptypb.Empty{}, nil
}

// ClearCompleted drops the completed list.
func (s *RuntimeServer) ClearCompleted(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.clearCompleted(ctx)
	return &emptypb.Empty{}, nil
}
