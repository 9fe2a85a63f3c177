package net

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName and method match what protoc-gen-go-grpc would emit for a
// one-RPC "Broadcast" service; written by hand since this module has no
// protobuf schema to generate from (Frame/Ack self-serialize via rawCodec).
const (
	serviceName = "llmq.dkg.Broadcast"
	sendMethod  = "/" + serviceName + "/Send"
)

// BroadcastServer is implemented by the inbound message handler.
type BroadcastServer interface {
	Send(ctx context.Context, in *Frame) (*Ack, error)
}

// BroadcastClient is the outbound peer-RPC stub.
type BroadcastClient interface {
	Send(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Ack, error)
}

type broadcastClient struct {
	cc grpc.ClientConnInterface
}

// NewBroadcastClient wraps an established connection as a BroadcastClient.
func NewBroadcastClient(cc grpc.ClientConnInterface) BroadcastClient {
	return &broadcastClient{cc}
}

func (c *broadcastClient) Send(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, sendMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterBroadcastServer registers srv to handle Send RPCs on s.
func RegisterBroadcastServer(s grpc.ServiceRegistrar, srv BroadcastServer) {
	s.RegisterService(&broadcastServiceDesc, srv)
}

func broadcastSendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BroadcastServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: sendMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BroadcastServer).Send(ctx, req.(*Frame))
	}
	return interceptor(ctx, in, info, handler)
}

var broadcastServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BroadcastServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Send",
			Handler:    broadcastSendHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "llmq/net/broadcast",
}
