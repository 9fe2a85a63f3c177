// Package store provides in-memory fakes of this module's external
// collaborators (chain source, masternode registry, peer transport), used to
// drive end-to-end scheduler/coordinator tests and the cmd/llmqd demo
// without a real blockchain or network.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dashpay/llmq/chain"
	"github.com/dashpay/llmq/member"
	"github.com/dashpay/llmq/params"
	"github.com/dashpay/llmq/wire"
)

// Chain is an in-memory, append-only (with reorg support) chain.Source.
type Chain struct {
	mu     sync.Mutex
	blocks []chain.BaseBlock // index i has Height == i
}

// NewChain builds a Chain seeded with a genesis block at height 0.
func NewChain() *Chain {
	c := &Chain{}
	c.blocks = append(c.blocks, chain.BaseBlock{Height: 0, Hash: blockHash(0, 0)})
	return c
}

func blockHash(height uint32, fork byte) [32]byte {
	var h [32]byte
	h[31] = 0xA5 // never-zero marker: a zero hash collides with a scheduler's unset "last quorum seen" sentinel
	h[0] = fork
	h[1] = byte(height)
	h[2] = byte(height >> 8)
	h[3] = byte(height >> 16)
	h[4] = byte(height >> 24)
	return h
}

// Extend appends n new blocks atop the current tip and returns the new tip.
func (c *Chain) Extend(n int) chain.BaseBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		height := uint32(len(c.blocks))
		c.blocks = append(c.blocks, chain.BaseBlock{Height: height, Hash: blockHash(height, 0)})
	}
	return c.blocks[len(c.blocks)-1]
}

// Reorg replaces every block from height onward with a new fork.
func (c *Chain) Reorg(fromHeight uint32, newTipHeight uint32) chain.BaseBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = c.blocks[:fromHeight]
	for h := fromHeight; h <= newTipHeight; h++ {
		c.blocks = append(c.blocks, chain.BaseBlock{Height: h, Hash: blockHash(h, 1)})
	}
	return c.blocks[len(c.blocks)-1]
}

// Tip implements chain.Source.
func (c *Chain) Tip(_ context.Context) (chain.BaseBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1], nil
}

// Ancestor implements chain.Source: the block at height as seen from b's
// fork. Since this fake keeps only one fork at a time, it ignores b and
// returns the block at that height on the current chain.
func (c *Chain) Ancestor(_ context.Context, _ chain.BaseBlock, height uint32) (chain.BaseBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(height) >= len(c.blocks) {
		return chain.BaseBlock{}, fmt.Errorf("store: height %d beyond tip", height)
	}
	return c.blocks[height], nil
}

// IsOnActiveChain implements chain.Source.
func (c *Chain) IsOnActiveChain(_ context.Context, b chain.BaseBlock) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(b.Height) >= len(c.blocks) {
		return false, nil
	}
	return c.blocks[b.Height].Hash == b.Hash, nil
}

// Registry is a static member.Registry fake: every height sees the same
// candidate set.
type Registry struct {
	Candidates []member.Candidate
}

// MembersAt implements member.Registry.
func (r *Registry) MembersAt(_ context.Context, _ chain.BaseBlock) ([]member.Candidate, error) {
	out := make([]member.Candidate, len(r.Candidates))
	copy(out, r.Candidates)
	return out, nil
}

// Network is an in-process loopback transport: it wires one peer address to
// one Dispatcher function so multiple in-process coordinators can exchange
// frames without a real socket.
type Network struct {
	mu    sync.Mutex
	peers map[string]func(ctx context.Context, fromAddr string, tag wire.CommandTag, payload []byte) error
}

// NewNetwork builds an empty loopback transport.
func NewNetwork() *Network {
	return &Network{peers: make(map[string]func(context.Context, string, wire.CommandTag, []byte) error)}
}

// Register attaches addr's inbound dispatcher.
func (n *Network) Register(addr string, dispatch func(ctx context.Context, fromAddr string, tag wire.CommandTag, payload []byte) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[addr] = dispatch
}

func (n *Network) sendFrom(ctx context.Context, from, to string, tag wire.CommandTag, payload []byte) error {
	n.mu.Lock()
	dispatch, ok := n.peers[to]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("store: no peer registered at %s", to)
	}
	return dispatch(ctx, from, tag, payload)
}

// NodeBroadcaster binds a Network to one node's own address, implementing
// scheduler.Broadcaster, mirroring net.GRPCBroadcaster's self-address
// closure (the interface has no "from" parameter; the concrete broadcaster
// instance supplies it).
type NodeBroadcaster struct {
	net  *Network
	self string
}

// BroadcasterFor returns addr's bound outbound sender.
func (n *Network) BroadcasterFor(addr string) *NodeBroadcaster {
	return &NodeBroadcaster{net: n, self: addr}
}

// Send implements scheduler.Broadcaster.
func (b *NodeBroadcaster) Send(ctx context.Context, addr string, tag wire.CommandTag, payload []byte) error {
	return b.net.sendFrom(ctx, b.self, addr, tag, payload)
}

// Scorer is a PeerScorer fake that records every punishment it receives.
type Scorer struct {
	mu    sync.Mutex
	Score map[string]int
}

// NewScorer builds an empty Scorer.
func NewScorer() *Scorer {
	return &Scorer{Score: make(map[string]int)}
}

// Punish implements scheduler.PeerScorer.
func (s *Scorer) Punish(_ context.Context, peerID string, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Score[peerID] += score
}

// Total returns peerID's accumulated score.
func (s *Scorer) Total(peerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Score[peerID]
}

// Connections is a connect.Manager fake that records declared sets without
// dialing anything, sufficient to drive the scheduler's declare_* calls in
// tests.
type Connections struct {
	mu     sync.Mutex
	Quorum map[string][]member.ID
	Relay  map[string][]member.ID
	Probes []member.ID
}

// NewConnections builds an empty Connections recorder.
func NewConnections() *Connections {
	return &Connections{Quorum: make(map[string][]member.ID), Relay: make(map[string][]member.ID)}
}

func connKey(t params.QuorumType, hash [32]byte) string { return fmt.Sprintf("%d/%x", t, hash) }

// DeclareQuorumNodes implements connect.Manager.
func (c *Connections) DeclareQuorumNodes(_ context.Context, t params.QuorumType, base [32]byte, members []member.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Quorum[connKey(t, base)] = members
	return nil
}

// DeclareRelayMembers implements connect.Manager.
func (c *Connections) DeclareRelayMembers(_ context.Context, t params.QuorumType, base [32]byte, relays []member.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Relay[connKey(t, base)] = relays
	return nil
}

// AddPendingProbes implements connect.Manager.
func (c *Connections) AddPendingProbes(_ context.Context, probes []member.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Probes = append(c.Probes, probes...)
	return nil
}

// QuorumSets returns a copy of every declared quorum-node set, keyed by
// (type, base hash).
func (c *Connections) QuorumSets() map[string][]member.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]member.ID, len(c.Quorum))
	for k, v := range c.Quorum {
		out[k] = append([]member.ID(nil), v...)
	}
	return out
}

// RelaySets returns a copy of every declared relay-member set.
func (c *Connections) RelaySets() map[string][]member.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]member.ID, len(c.Relay))
	for k, v := range c.Relay {
		out[k] = append([]member.ID(nil), v...)
	}
	return out
}
