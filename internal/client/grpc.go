package client

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/alfredjeanlab/lambdaq/internal/model"
	"github.com/alfredjeanlab/lambdaq/internal/runtimepb"
)

// GRPCClient implements QueueClient over lambdaq.v1.RuntimeService.
type GRPCClient struct {
	conn grpc.ClientConnInterface
	// closer is nil when the connection belongs to the caller.
	closer func() error
}

var _ QueueClient = (*GRPCClient)(nil)

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, closer: conn.Close}, nil
}

// NewGRPCClientConn wraps an existing connection. Close leaves it open.
func NewGRPCClientConn(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *GRPCClient) Enqueue(ctx context.Context, payload string) (*model.Event, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, runtimepb.MethodEnqueue, wrapperspb.String(payload), out); err != nil {
		return nil, err
	}
	return decodeEvent(out)
}

func (c *GRPCClient) Next(ctx context.Context) (*model.Event, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, runtimepb.MethodNext, &emptypb.Empty{}, out); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNoEvent
		}
		return nil, err
	}
	return decodeEvent(out)
}

func (c *GRPCClient) ReportSuccess(ctx context.Context, id, response string) error {
	return c.conn.Invoke(ctx, runtimepb.MethodReportSuccess, runtimepb.SuccessReport(id, response), &emptypb.Empty{})
}

func (c *GRPCClient) ReportError(ctx context.Context, id, errorType, errorBody string) error {
	return c.conn.Invoke(ctx, runtimepb.MethodReportError, runtimepb.ErrorReport(id, errorType, errorBody), &emptypb.Empty{})
}

func (c *GRPCClient) ListPending(ctx context.Context) ([]model.Event, error) {
	return c.list(ctx, runtimepb.MethodListPending)
}

func (c *GRPCClient) ListCompleted(ctx context.Context) ([]model.Event, error) {
	return c.list(ctx, runtimepb.MethodListCompleted)
}

func (c *GRPCClient) list(ctx context.Context, method string) ([]model.Event, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, method, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return runtimepb.EventsFromList(out)
}

func (c *GRPCClient) Delete(ctx context.Context, id string) error {
	return c.conn.Invoke(ctx, runtimepb.MethodDelete, wrapperspb.String(id), &emptypb.Empty{})
}

func (c *GRPCClient) ClearPending(ctx context.Context) error {
	return c.conn.Invoke(ctx, runtimepb.MethodClearPending, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *GRPCClient) ClearCompleted(ctx context.Context) error {
	return c.conn.Invoke(ctx, runtimepb.MethodClearCompleted, &emptypb.Empty{}, &emptypb.Empty{})
}

// Health queries the standard gRPC health service for RuntimeService.
func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: runtimepb.ServiceName})
	if err != nil {
		return "", err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return "", errors.New("service not serving: " + resp.GetStatus().String())
	}
	return "ok", nil
}

func decodeEvent(st *structpb.Struct) (*model.Event, error) {
	ev, err := runtimepb.EventFromStruct(st)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
