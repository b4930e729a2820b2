// Package remote carries the hybrid protocol's decrypt round trip over gRPC.
//
// The index-hosting party holds a [Client], which serializes each encrypted
// distance and sends it across the trust boundary; the key-holding party runs
// a [Server], which decrypts and returns the plaintext scalar. Payloads are
// carried in protobuf well-known wrapper types, so no generated bindings are
// needed for the single-method service.
package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const decryptScalarMethod = "/veil.Decrypt/DecryptScalar"

// decryptService is the handler contract behind the veil.Decrypt service.
type decryptService interface {
	decryptScalar(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.DoubleValue, error)
}

func decryptScalarHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(decryptService).decryptScalar(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: decryptScalarMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(decryptService).decryptScalar(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var decryptServiceDesc = grpc.ServiceDesc{
	ServiceName: "veil.Decrypt",
	HandlerType: (*decryptService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DecryptScalar", Handler: decryptScalarHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "veil/decrypt",
}
