// Package runtimepb describes the lambdaq.v1.RuntimeService gRPC service.
// Messages are protobuf well-known types, so no generated code is needed:
// events travel as google.protobuf.Struct using their JSON field names. The
// service's file descriptor is built at init and registered globally so
// that server reflection can describe it.
package runtimepb

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/alfredjeanlab/lambdaq/internal/model"
)

const ServiceName = "lambdaq.v1.RuntimeService"

// Full method names.
const (
	MethodEnqueue        = "/" + ServiceName + "/Enqueue"
	MethodNext           = "/" + ServiceName + "/Next"
	MethodReportSuccess  = "/" + ServiceName + "/ReportSuccess"
	MethodReportError    = "/" + ServiceName + "/ReportError"
	MethodListPending    = "/" + ServiceName + "/ListPending"
	MethodListCompleted  = "/" + ServiceName + "/ListCompleted"
	MethodDelete         = "/" + ServiceName + "/Delete"
	MethodClearPending   = "/" + ServiceName + "/ClearPending"
	MethodClearCompleted = "/" + ServiceName + "/ClearCompleted"
)

// Report field names carried in the ReportSuccess and ReportError structs.
const (
	FieldRequestID = "aws_request_id"
	FieldResponse  = "response"
	FieldErrorType = "error_type"
	FieldErrorBody = "error_response"
)

// RuntimeServiceServer is the server API for lambdaq.v1.RuntimeService.
type RuntimeServiceServer interface {
	Enqueue(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Next(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ReportSuccess(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ReportError(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListPending(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	ListCompleted(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	ClearPending(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	ClearCompleted(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// RegisterRuntimeServiceServer registers srv on s.
func RegisterRuntimeServiceServer(s grpc.ServiceRegistrar, srv RuntimeServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a method handler for a request type Req.
func unary[Req any, PReq interface {
	*Req
}, Resp any](fullMethod string, call func(RuntimeServiceServer, context.Context, PReq) (Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RuntimeServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RuntimeServiceServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the grpc.ServiceDesc for lambdaq.v1.RuntimeService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuntimeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enqueue", Handler: unary(MethodEnqueue, RuntimeServiceServer.Enqueue)},
		{MethodName: "Next", Handler: unary(MethodNext, RuntimeServiceServer.Next)},
		{MethodName: "ReportSuccess", Handler: unary(MethodReportSuccess, RuntimeServiceServer.ReportSuccess)},
		{MethodName: "ReportError", Handler: unary(MethodReportError, RuntimeServiceServer.ReportError)},
		{MethodName: "ListPending", Handler: unary(MethodListPending, RuntimeServiceServer.ListPending)},
		{MethodName: "ListCompleted", Handler: unary(MethodListCompleted, RuntimeServiceServer.ListCompleted)},
		{MethodName: "Delete", Handler: unary(MethodDelete, RuntimeServiceServer.Delete)},
		{MethodName: "ClearPending", Handler: unary(MethodClearPending, RuntimeServiceServer.ClearPending)},
		{MethodName: "ClearCompleted", Handler: unary(MethodClearCompleted, RuntimeServiceServer.ClearCompleted)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: FileName,
}

// EventToStruct encodes an event using its JSON field names.
func EventToStruct(ev model.Event) (*structpb.Struct, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal event %s: %w", ev.ID, err)
	}
	return structpb.NewStruct(m)
}

// EventFromStruct is the inverse of EventToStruct.
func EventFromStruct(st *structpb.Struct) (model.Event, error) {
	var ev model.Event
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return ev, fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// EventsToList encodes events as a list of structs.
func EventsToList(evs []model.Event) (*structpb.ListValue, error) {
	values := make([]*structpb.Value, 0, len(evs))
	for _, ev := range evs {
		st, err := EventToStruct(ev)
		if err != nil {
			return nil, err
		}
		values = append(values, structpb.NewStructValue(st))
	}
	return &structpb.ListValue{Values: values}, nil
}

// EventsFromList is the inverse of EventsToList.
func EventsFromList(lv *structpb.ListValue) ([]model.Event, error) {
	out := make([]model.Event, 0, len(lv.GetValues()))
	for i, v := range lv.GetValues() {
		st := v.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("list element %d is not a struct", i)
		}
		ev, err := EventFromStruct(st)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// SuccessReport builds a ReportSuccess request.
func SuccessReport(id, response string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldRequestID: structpb.NewStringValue(id),
		FieldResponse:  structpb.NewStringValue(response),
	}}
}

// ErrorReport builds a ReportError request.
func ErrorReport(id, errorType, errorBody string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldRequestID: structpb.NewStringValue(id),
		FieldErrorType: structpb.NewStringValue(errorType),
		FieldErrorBody: structpb.NewStringValue(errorBody),
	}}
}

// StringField returns the string value of a field, or "" if it is missing
// or not a string.
func StringField(st *structpb.Struct, name string) string {
	return st.GetFields()[name].GetStringValue()
}
