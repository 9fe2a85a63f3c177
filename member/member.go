// Package member implements the deterministic quorum membership calculator:
// the pure scoring function that turns a registry snapshot into an ordered
// member list, plus a bounded per-type cache of its results.
package member

import (
	"bytes"
	"context"
	"fmt"
	"hash"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/blake2b"

	"github.com/dashpay/llmq/chain"
	"github.com/dashpay/llmq/log"
	"github.com/dashpay/llmq/params"
)

// hashFunc is the one hash primitive used throughout this module for
// membership scoring, connection tie-breaks, and buffer digests.
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

// ID is a member's identity: its pro-tx-hash.
type ID [32]byte

// Candidate is the registry's view of an eligible masternode, before
// quorum scoring is applied.
type Candidate struct {
	ProTxHash              ID
	ConfirmedHashWithProTx [32]byte
	OperatorKey            []byte // opaque, registry-owned encoding
	Addr                   string
	Banned                 bool
}

// Member is a masternode included in a specific quorum. Only the identity is
// authoritative here; OperatorKey/Addr are snapshotted from the registry at
// lookup time for collaborators that need them (connection manager, BLS
// worker).
type Member struct {
	ProTxHash   ID
	OperatorKey []byte
	Addr        string
}

// List is an ordered, deterministic quorum member list: for the same
// (type, base block hash, registry snapshot) it is byte-identical on every
// node.
type List []Member

// IndexOf returns the position of id within the list, or -1.
func (l List) IndexOf(id ID) int {
	for i, m := range l {
		if m.ProTxHash == id {
			return i
		}
	}
	return -1
}

// Hash returns a digest identifying this exact ordered list. The scheduler's
// quorum_hash is the base block hash, not this digest.
func (l List) Hash() [32]byte {
	h := hashFunc()
	for _, m := range l {
		_, _ = h.Write(m.ProTxHash[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Registry is the deterministic masternode registry, implemented by the
// embedding node; it supplies the candidate snapshot at a given base block.
type Registry interface {
	MembersAt(ctx context.Context, b chain.BaseBlock) ([]Candidate, error)
}

type cacheKey struct {
	typeID params.QuorumType
	base   [32]byte
}

// Calculator derives and caches deterministic quorum membership.
type Calculator struct {
	registry Registry
	log      log.Logger

	mu     sync.Mutex
	caches map[params.QuorumType]*lru.Cache
	bound  int
}

// NewCalculator builds a membership calculator with a bounded per-type LRU
// cache of the given size; the oldest entry is evicted once a type's cache
// exceeds the bound.
func NewCalculator(registry Registry, cacheBoundPerType int, l log.Logger) *Calculator {
	return &Calculator{
		registry: registry,
		log:      l,
		caches:   make(map[params.QuorumType]*lru.Cache),
		bound:    cacheBoundPerType,
	}
}

func (c *Calculator) cacheFor(t params.QuorumType) *lru.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.caches[t]
	if !ok {
		ch, _ = lru.New(c.bound)
		c.caches[t] = ch
	}
	return ch
}

// MembersFor computes the deterministic ordered member list for
// (quorumType, base), or returns the cached result if already computed for
// this (type, base block hash). Each eligible candidate is scored as
// H(pro_tx_hash || confirmed_hash_with_pro_tx || H(type || base_hash)),
// sorted ascending, and the first Size entries are taken.
func (c *Calculator) MembersFor(ctx context.Context, p params.QuorumParams, base chain.BaseBlock) (List, error) {
	key := cacheKey{typeID: p.TypeID, base: base.Hash}
	cache := c.cacheFor(p.TypeID)
	if v, ok := cache.Get(key); ok {
		return v.(List), nil
	}

	candidates, err := c.registry.MembersAt(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("member: registry lookup for base %x: %w", base.Hash, err)
	}

	eligible := make([]Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if !cand.Banned {
			eligible = append(eligible, cand)
		}
	}

	if len(eligible) < p.MinSize {
		// Too few eligible candidates: return the short list unchanged and
		// let the caller decide whether the quorum is viable.
		list := toList(eligible)
		cache.Add(key, list)
		return list, nil
	}

	typeIDBytes := make([]byte, 1)
	typeIDBytes[0] = byte(p.TypeID)
	modifier := sum(typeIDBytes, base.Hash[:])

	type scored struct {
		cand  Candidate
		score [32]byte
	}
	scoredList := make([]scored, len(eligible))
	for i, cand := range eligible {
		scoredList[i] = scored{
			cand:  cand,
			score: sum(cand.ProTxHash[:], cand.ConfirmedHashWithProTx[:], modifier[:]),
		}
	}

	sort.Slice(scoredList, func(i, j int) bool {
		cmp := bytes.Compare(scoredList[i].score[:], scoredList[j].score[:])
		if cmp != 0 {
			return cmp < 0
		}
		return bytes.Compare(scoredList[i].cand.ProTxHash[:], scoredList[j].cand.ProTxHash[:]) < 0
	})

	n := p.Size
	if n > len(scoredList) {
		n = len(scoredList)
	}

	chosen := make([]Candidate, n)
	for i := 0; i < n; i++ {
		chosen[i] = scoredList[i].cand
	}

	list := toList(chosen)
	cache.Add(key, list)
	c.log.Debugw("computed quorum membership", "type", p.TypeID, "base", fmt.Sprintf("%x", base.Hash), "size", len(list))
	return list, nil
}

func toList(cands []Candidate) List {
	out := make(List, len(cands))
	for i, c := range cands {
		out[i] = Member{ProTxHash: c.ProTxHash, OperatorKey: c.OperatorKey, Addr: c.Addr}
	}
	return out
}
