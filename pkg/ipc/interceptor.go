package ipc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ReadOnlyInterceptor creates a gRPC unary interceptor that only lets read-only
// commands through. Used for the local Unix socket listener so that operators can
// inspect the master without being able to change execution state.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		in, ok := req.(*structpb.Struct)
		if !ok || info.FullMethod != AskMethod {
			return nil, status.Errorf(codes.PermissionDenied, "method %s not allowed on read-only socket", info.FullMethod)
		}

		cmd := requestFromStruct(in).Command
		if !cmd.ReadOnly() {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"command %s not allowed on read-only socket - use the TCP command channel",
				cmd,
			)
		}

		return handler(ctx, req)
	}
}
