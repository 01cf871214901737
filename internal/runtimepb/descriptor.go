package runtimepb

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// FileName is the proto file that declares the service.
const FileName = "lambdaq/v1/runtime.proto"

// methodTypes lists each method's request and response message, in
// ServiceDesc order.
var methodTypes = []struct {
	name, in, out string
}{
	{"Enqueue", "google.protobuf.StringValue", "google.protobuf.Struct"},
	{"Next", "google.protobuf.Empty", "google.protobuf.Struct"},
	{"ReportSuccess", "google.protobuf.Struct", "google.protobuf.Empty"},
	{"ReportError", "google.protobuf.Struct", "google.protobuf.Empty"},
	{"ListPending", "google.protobuf.Empty", "google.protobuf.ListValue"},
	{"ListCompleted", "google.protobuf.Empty", "google.protobuf.ListValue"},
	{"Delete", "google.protobuf.StringValue", "google.protobuf.Empty"},
	{"ClearPending", "google.protobuf.Empty", "google.protobuf.Empty"},
	{"ClearCompleted", "google.protobuf.Empty", "google.protobuf.Empty"},
}

// File describes FileName. It is registered in protoregistry.GlobalFiles,
// which is where gRPC reflection looks services up.
var File protoreflect.FileDescriptor

func init() {
	fd, err := buildFile(protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("runtimepb: building %s: %v", FileName, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("runtimepb: registering %s: %v", FileName, err))
	}
	File = fd
}

func buildFile(deps protodesc.Resolver) (protoreflect.FileDescriptor, error) {
	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(methodTypes))
	for _, m := range methodTypes {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  proto.String("." + m.in),
			OutputType: proto.String("." + m.out),
		})
	}
	return protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:    proto.String(FileName),
		Package: proto.String("lambdaq.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/empty.proto",
			"google/protobuf/struct.proto",
			"google/protobuf/wrappers.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("RuntimeService"),
			Method: methods,
		}},
	}, deps)
}
