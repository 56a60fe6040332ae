// Package grpcserver exposes the verification engine as the
// kycverif.v1.Verifier gRPC service. Messages are protobuf well-known types,
// so no generated code is needed: the request is a BytesValue holding the
// encoded image and the response is a Struct holding the result document.
package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "kycverif.v1.Verifier"
	// ProcessMethod is the full method name of Process.
	ProcessMethod = "/" + ServiceName + "/Process"
	// KindTrailer carries the engine error kind of a failed call.
	KindTrailer = "kyc-kind"
)

// VerifierServer is the server API of kycverif.v1.Verifier.
type VerifierServer interface {
	Process(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv VerifierServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VerifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Process", Handler: processHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kycverif/v1/verifier.proto",
}

func processHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VerifierServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProcessMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VerifierServer).Process(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
