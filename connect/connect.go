// Package connect derives the deterministic connection sets a quorum member
// needs (ring-relay, all-connected, watch-mode, PoSe probes). It never dials
// a socket itself; the concrete Manager is an external collaborator this
// core declares sets to.
package connect

import (
	"context"
	"encoding/binary"
	"hash"
	"math/bits"

	"golang.org/x/crypto/blake2b"

	"github.com/dashpay/llmq/member"
	"github.com/dashpay/llmq/params"
)

var hashFunc = func() hash.Hash { h, _ := blake2b.New256(nil); return h }

func sum(parts ...[]byte) [32]byte {
	h := hashFunc()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// RingRelaySet returns the relay neighbor indices for member i within a
// quorum of size n: (i + 2^k) mod n for k = 0..max(1, floor(log2(n-1)) - 1),
// skipping self. This gives O(log n) neighbors and O(log n) gossip diameter.
func RingRelaySet(i, n int) []int {
	if n <= 1 {
		return nil
	}
	floorLog2 := bits.Len(uint(n-1)) - 1 // floor(log2(n-1))
	upperK := floorLog2 - 1
	if upperK < 1 {
		upperK = 1
	}

	seen := make(map[int]bool, upperK+1)
	out := make([]int, 0, upperK+1)
	for k := 0; k <= upperK; k++ {
		step := 1 << uint(k)
		idx := (i + step) % n
		if idx == i || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

// Initiator reports whether a (the local index) is the initiator of the
// all-connected link to b. Both peers evaluate the same hash tie-break, so
// exactly one of them dials.
func Initiator(a, b int) bool {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	hA := sum(encodeUint32(uint32(lo)), encodeUint32(uint32(hi)), encodeUint32(uint32(a)))
	hB := sum(encodeUint32(uint32(lo)), encodeUint32(uint32(hi)), encodeUint32(uint32(b)))
	return less32(hA, hB)
}

func less32(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// AllConnectedInitiatorSet returns every index j != i such that the local
// member i is the initiator of the link to j.
func AllConnectedInitiatorSet(i, n int) []int {
	out := make([]int, 0, n-1)
	for j := 0; j < n; j++ {
		if j == i {
			continue
		}
		if Initiator(i, j) {
			out = append(out, j)
		}
	}
	return out
}

// WatchState is the process-wide per-watcher state driving watch mode's
// deterministic random walk: r_{k+1} = H(r_k || type || base), starting from
// r_0 = seed.
type WatchState struct {
	seed [32]byte
}

// NewWatchState seeds the watch-mode walk. The seed is generated once per
// process and not persisted, so an observer's choices vary across restarts
// but are fixed for a given (type, base block, seed).
func NewWatchState(seed [32]byte) *WatchState {
	return &WatchState{seed: seed}
}

// Next takes the walk's first step from the seed for (type, base_block_hash)
// and returns the member index it selects within a quorum of size n. It does
// not modify w, so repeated calls with the same arguments agree.
func (w *WatchState) Next(t params.QuorumType, base [32]byte, n int) int {
	if n == 0 {
		return 0
	}
	typeByte := []byte{byte(t)}
	r := sum(w.seed[:], typeByte, base[:])
	var acc uint32
	for _, b := range r[:4] {
		acc = acc<<8 | uint32(b)
	}
	return int(acc % uint32(n))
}

// ProbeCandidate names a member eligible for a PoSe probe connection,
// reported by the embedding node's connection bookkeeping.
type ProbeCandidate struct {
	ProTxHash        member.ID
	SinceLastSuccess int64 // seconds
}

// ProbeThresholdSeconds is how stale a member's last successful outbound
// must be before it is probed.
const ProbeThresholdSeconds = 10 * 60

// ProbeSet filters candidates whose last successful outbound exceeds the
// probe threshold.
func ProbeSet(candidates []ProbeCandidate) []member.ID {
	out := make([]member.ID, 0, len(candidates))
	for _, c := range candidates {
		if c.SinceLastSuccess > ProbeThresholdSeconds {
			out = append(out, c.ProTxHash)
		}
	}
	return out
}

// Manager is the external connection-manager collaborator this core declares
// sets to. This module never implements it.
type Manager interface {
	DeclareQuorumNodes(ctx context.Context, t params.QuorumType, base [32]byte, members []member.ID) error
	DeclareRelayMembers(ctx context.Context, t params.QuorumType, base [32]byte, relays []member.ID) error
	AddPendingProbes(ctx context.Context, probes []member.ID) error
}

// Plan computes every declarative connection set this core owes the Manager
// for a local member at index i within list, and pushes it.
func Plan(ctx context.Context, mgr Manager, t params.QuorumType, base [32]byte, list member.List, i int, allConnected bool, probes []ProbeCandidate) error {
	n := len(list)

	ids := make([]member.ID, 0, n)
	for _, m := range list {
		ids = append(ids, m.ProTxHash)
	}
	if err := mgr.DeclareQuorumNodes(ctx, t, base, ids); err != nil {
		return err
	}

	var relayIdx []int
	if allConnected {
		relayIdx = AllConnectedInitiatorSet(i, n)
	} else {
		relayIdx = RingRelaySet(i, n)
	}
	relays := make([]member.ID, 0, len(relayIdx))
	for _, idx := range relayIdx {
		relays = append(relays, list[idx].ProTxHash)
	}
	if err := mgr.DeclareRelayMembers(ctx, t, base, relays); err != nil {
		return err
	}

	if len(probes) > 0 {
		if err := mgr.AddPendingProbes(ctx, ProbeSet(probes)); err != nil {
			return err
		}
	}

	return nil
}
