// Package queue implements the bounded, per-peer-capped pending-message
// buffer that sits between the network threads and the DKG session: message
// deserialization is too expensive for the ingress path, so raw bytes are
// parked here until the scheduler drains them.
package queue

import (
	"hash"
	"sync"

	"golang.org/x/crypto/blake2b"
)

var hashFunc = func() hash.Hash { h, _ := blake2b.New256(nil); return h }

// Digest identifies a message's raw bytes.
type Digest [32]byte

func digestOf(b []byte) Digest {
	h := hashFunc()
	_, _ = h.Write(b)
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// Item is one queued, still-opaque message.
type Item struct {
	PeerID string
	Bytes  []byte
	Digest Digest
}

// Buffer is a bounded per-type FIFO with per-peer admission caps and
// duplicate suppression. Safe for concurrent use by many network-handler
// goroutines and one scheduler goroutine.
type Buffer struct {
	maxPerPeer int

	mu       sync.Mutex
	items    []Item
	perPeer  map[string]int
	seenHash map[Digest]struct{}
}

// NewBuffer builds an empty buffer admitting at most maxPerPeer
// not-yet-popped messages from any one peer.
func NewBuffer(maxPerPeer int) *Buffer {
	return &Buffer{
		maxPerPeer: maxPerPeer,
		perPeer:    make(map[string]int),
		seenHash:   make(map[Digest]struct{}),
	}
}

// Push admits (peerID, bytes). It returns false if the message was silently
// discarded (peer over cap, or duplicate).
func (b *Buffer) Push(peerID string, bytes []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.perPeer[peerID] >= b.maxPerPeer {
		return false
	}
	h := digestOf(bytes)
	if _, dup := b.seenHash[h]; dup {
		return false
	}

	b.items = append(b.items, Item{PeerID: peerID, Bytes: bytes, Digest: h})
	b.perPeer[peerID]++
	b.seenHash[h] = struct{}{}
	return true
}

// Pop removes and returns up to n items in FIFO order, decrementing the
// per-peer counters but leaving seenHash untouched (duplicates stay
// suppressed for the buffer's lifetime).
func (b *Buffer) Pop(n int) []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.items) {
		n = len(b.items)
	}
	out := make([]Item, n)
	copy(out, b.items[:n])
	b.items = b.items[n:]

	for _, it := range out {
		b.perPeer[it.PeerID]--
		if b.perPeer[it.PeerID] <= 0 {
			delete(b.perPeer, it.PeerID)
		}
	}
	return out
}

// Clear empties the queue, counters, and seen set.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = nil
	b.perPeer = make(map[string]int)
	b.seenHash = make(map[Digest]struct{})
}

// HasSeen reports whether h has already been admitted (even if since
// popped), for external bookkeeping such as INV handling.
func (b *Buffer) HasSeen(h Digest) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.seenHash[h]
	return ok
}

// Len reports the number of items currently queued (not yet popped).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// DigestOf exposes the buffer's hash primitive so callers can compute
// has_seen lookups without first pushing.
func DigestOf(b []byte) Digest { return digestOf(b) }
