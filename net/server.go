package net

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/dashpay/llmq/log"
	"github.com/dashpay/llmq/wire"
)

// Dispatcher routes an inbound frame to the lifecycle coordinator, which
// forwards it to the scheduler and pending buffer for its command tag.
type Dispatcher func(ctx context.Context, peerAddr string, tag wire.CommandTag, payload []byte) error

// Server runs the inbound BroadcastServer on a grpc.Server.
type Server struct {
	log        log.Logger
	dispatch   Dispatcher
	grpcServer *grpc.Server
}

// NewServer builds a Server that calls dispatch for every accepted frame.
func NewServer(l log.Logger, dispatch Dispatcher) *Server {
	s := &Server{log: l, dispatch: dispatch}
	s.grpcServer = grpc.NewServer()
	RegisterBroadcastServer(s.grpcServer, s)
	return s
}

// Send implements BroadcastServer.
func (s *Server) Send(ctx context.Context, in *Frame) (*Ack, error) {
	if err := s.dispatch(ctx, in.SenderAddr, wire.CommandTag(in.Tag), in.Payload); err != nil {
		s.log.Warnw("net: dispatch failed", "from", in.SenderAddr, "tag", in.Tag, "err", err)
		return &Ack{OK: false, Err: err.Error()}, nil
	}
	return &Ack{OK: true}, nil
}

// Serve starts accepting connections on addr and blocks until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			s.grpcServer.Stop()
		}
	}()
	return s.grpcServer.Serve(lis)
}
