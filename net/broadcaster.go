// Package net provides this module's default peer transport: a Broadcaster
// that fans DKG protocol messages out to quorum members over grpc, plus a
// read-only diagnostics HTTP surface. A host process that already has its
// own peer transport can implement Broadcaster/Dispatcher itself and skip
// this package entirely.
package net

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dashpay/llmq/log"
	"github.com/dashpay/llmq/wire"
)

// Broadcaster is the collaborator a scheduler sends outgoing phase messages
// through.
type Broadcaster interface {
	Send(ctx context.Context, addr string, tag wire.CommandTag, payload []byte) error
}

// GRPCBroadcaster dials peers lazily and reuses established connections.
type GRPCBroadcaster struct {
	log  log.Logger
	self string

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCBroadcaster builds a Broadcaster identifying outgoing frames as
// coming from selfAddr (used so a server can skip self-delivery loops).
func NewGRPCBroadcaster(l log.Logger, selfAddr string) *GRPCBroadcaster {
	return &GRPCBroadcaster{
		log:   l,
		self:  selfAddr,
		conns: make(map[string]*grpc.ClientConn),
	}
}

func (b *GRPCBroadcaster) clientFor(addr string) (BroadcastClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cc, ok := b.conns[addr]; ok {
		return NewBroadcastClient(cc), nil
	}
	cc, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("net: dial %s: %w", addr, err)
	}
	b.conns[addr] = cc
	return NewBroadcastClient(cc), nil
}

// Send delivers one frame to addr.
func (b *GRPCBroadcaster) Send(ctx context.Context, addr string, tag wire.CommandTag, payload []byte) error {
	if addr == b.self {
		return nil
	}
	client, err := b.clientFor(addr)
	if err != nil {
		return err
	}
	ack, err := client.Send(ctx, &Frame{SenderAddr: b.self, Tag: string(tag), Payload: payload})
	if err != nil {
		return fmt.Errorf("net: send to %s: %w", addr, err)
	}
	if !ack.OK {
		return fmt.Errorf("net: %s rejected frame: %s", addr, ack.Err)
	}
	return nil
}

// SendAll fans payload out to every address concurrently and returns the
// first error encountered.
func (b *GRPCBroadcaster) SendAll(ctx context.Context, addrs []string, tag wire.CommandTag, payload []byte) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(addrs))
	wg.Add(len(addrs))

	for _, addr := range addrs {
		addr := addr
		go func() {
			defer wg.Done()
			if err := b.Send(ctx, addr, tag, payload); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

// Close tears down every pooled outbound connection.
func (b *GRPCBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for addr, cc := range b.conns {
		if err := cc.Close(); err != nil {
			b.log.Warnw("net: close connection failed", "addr", addr, "err", err)
		}
	}
	b.conns = make(map[string]*grpc.ClientConn)
	return nil
}
