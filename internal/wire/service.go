package wire

import (
	"context"

	"google.golang.org/grpc"
)

// DispatchServer is implemented by *peer.Peer and hosted by
// internal/server: every message kind in
// this package's taxonomy arrives through the single Dispatch method,
// selected at runtime by Envelope.Kind (the datagram-flavored transport
// contract of spec §6.1, realized as one gRPC unary RPC instead of
// per-operation generated stubs).
type DispatchServer interface {
	Dispatch(ctx context.Context, in *Envelope) (*Envelope, error)
}

// DispatchClient is the client-side counterpart, used by internal/client's
// connection pool.
type DispatchClient interface {
	Dispatch(ctx context.Context, in *Envelope, opts ...grpc.CallOption) (*Envelope, error)
}

const dispatchFullMethod = "/overlay.wire.Dispatch/Dispatch"

type dispatchClient struct {
	cc grpc.ClientConnInterface
}

// NewDispatchClient wraps a *grpc.ClientConn (or any ClientConnInterface)
// with the Dispatch RPC, always selecting this package's gob codec.
func NewDispatchClient(cc grpc.ClientConnInterface) DispatchClient {
	return &dispatchClient{cc: cc}
}

func (c *dispatchClient) Dispatch(ctx context.Context, in *Envelope, opts ...grpc.CallOption) (*Envelope, error) {
	out := new(Envelope)
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	if err := c.cc.Invoke(ctx, dispatchFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: dispatchFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DispatchServer).Dispatch(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-authored equivalent of a protoc-generated
// grpc.ServiceDesc: one service, one unary method, multiplexing every
// message kind through Envelope.Kind.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "overlay.wire.Dispatch",
	HandlerType: (*DispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dispatch",
			Handler:    dispatchHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/wire/service.go",
}

// RegisterDispatchServer registers srv's Dispatch method on s.
func RegisterDispatchServer(s grpc.ServiceRegistrar, srv DispatchServer) {
	s.RegisterService(&ServiceDesc, srv)
}
