// Package coordinator owns one phase scheduler per configured quorum type
// and fans chain and network events out to each of them.
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	clockwork "github.com/jonboulle/clockwork"

	"github.com/dashpay/llmq/bls"
	"github.com/dashpay/llmq/chain"
	"github.com/dashpay/llmq/config"
	"github.com/dashpay/llmq/connect"
	"github.com/dashpay/llmq/log"
	"github.com/dashpay/llmq/member"
	"github.com/dashpay/llmq/net"
	"github.com/dashpay/llmq/params"
	"github.com/dashpay/llmq/scheduler"
	"github.com/dashpay/llmq/wire"
)

// Deps are the process-wide collaborators every scheduler this coordinator
// owns is built from. Per-quorum-type parameters come from cfg.Quorums.
type Deps struct {
	Log         log.Logger
	Chain       chain.Source
	Registry    member.Registry
	Connections connect.Manager
	Broadcaster scheduler.Broadcaster
	Codec       wire.Codec
	Scheme      *bls.Scheme
	Scorer      scheduler.PeerScorer
	Identity    scheduler.Identity
	Sporks      params.Sporks

	ProbeCandidates func(ctx context.Context) []connect.ProbeCandidate
	OnFinalized     func(t params.QuorumType, base chain.BaseBlock, sig []byte)

	CacheBoundPerType int
	WorkerPoolSize    int
	BlockInterval     time.Duration
}

// Coordinator is the node-level lifecycle owner: the Start/Stop/
// UpdatedBlockTip/Dispatch/CurrentPhaseAndQuorum surface, multiplexed across
// every configured quorum type.
type Coordinator struct {
	deps    Deps
	members *member.Calculator

	mu         sync.RWMutex
	schedulers map[params.QuorumType]*scheduler.Scheduler
	typeOf     map[params.QuorumType]params.QuorumParams

	watchOnce sync.Once
	watch     *connect.WatchState
}

// New builds a Coordinator with one idle scheduler per entry in quorums; no
// goroutine is started until Start is called.
func New(cfg *config.Config, deps Deps, quorums []params.QuorumParams) *Coordinator {
	bound := deps.CacheBoundPerType
	if bound <= 0 {
		bound = 64
	}
	c := &Coordinator{
		deps:       deps,
		members:    member.NewCalculator(deps.Registry, bound, deps.Log),
		schedulers: make(map[params.QuorumType]*scheduler.Scheduler, len(quorums)),
		typeOf:     make(map[params.QuorumType]params.QuorumParams, len(quorums)),
	}

	knobs := params.DefaultKnobs()
	if cfg != nil {
		knobs = cfg.Knobs()
	}

	for _, p := range quorums {
		c.typeOf[p.TypeID] = p
		sd := scheduler.Deps{
			Log:               deps.Log.Named(fmt.Sprintf("scheduler.%s", p.Name)),
			Clock:             clockwork.NewRealClock(),
			Params:            p,
			Sporks:            deps.Sporks,
			Knobs:             knobs,
			Chain:             deps.Chain,
			Members:           c.members,
			Connections:       deps.Connections,
			Broadcaster:       deps.Broadcaster,
			Codec:             deps.Codec,
			Scheme:            deps.Scheme,
			Scorer:            deps.Scorer,
			Identity:          deps.Identity,
			Watch:             c.watchState(knobs, cfg),
			ProbeCandidates:   deps.ProbeCandidates,
			WorkerPoolSize:    deps.WorkerPoolSize,
			BlockInterval:     deps.BlockInterval,
			MetricsQuorumType: p.Name,
		}
		if deps.OnFinalized != nil {
			typeID := p.TypeID
			sd.OnFinalized = func(base chain.BaseBlock, sig []byte) {
				deps.OnFinalized(typeID, base, sig)
			}
		}
		c.schedulers[p.TypeID] = scheduler.New(sd)
	}

	return c
}

// watchState lazily builds the process-wide watch-mode seed exactly once: a
// fresh crypto/rand seed at startup, never persisted across restarts, unless
// the operator supplies an explicit override in configuration.
func (c *Coordinator) watchState(knobs params.Knobs, cfg *config.Config) *connect.WatchState {
	if !knobs.WatchQuorums {
		return nil
	}
	c.watchOnce.Do(func() {
		var seed [32]byte
		if cfg != nil && cfg.WatchSeed != "" {
			if b, err := hex.DecodeString(cfg.WatchSeed); err == nil && len(b) == 32 {
				copy(seed[:], b)
			}
		}
		if seed == ([32]byte{}) {
			_, _ = rand.Read(seed[:])
		}
		c.watch = connect.NewWatchState(seed)
	})
	return c.watch
}

// Start launches every owned scheduler's worker goroutine.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.schedulers {
		s.Start(ctx)
	}
}

// Stop signals every scheduler to exit and waits for all of them to do so.
func (c *Coordinator) Stop() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var wg sync.WaitGroup
	for _, s := range c.schedulers {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()
}

// UpdatedBlockTip fans the new chain tip out to every owned scheduler. It
// never blocks the chain notifier.
func (c *Coordinator) UpdatedBlockTip(base chain.BaseBlock) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.schedulers {
		s.UpdatedBlockTip(base)
	}
}

// Dispatch implements net.Dispatcher: it admits an inbound frame into every
// scheduler that recognizes the command tag, since the coordinator cannot
// know which quorum type the frame belongs to until the owning scheduler
// decodes it and checks the embedded quorum hash. A scheduler drops, without
// punishing, frames whose quorum hash is not its own.
func (c *Coordinator) Dispatch(_ context.Context, peerAddr string, tag wire.CommandTag, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.schedulers {
		s.ProcessMessage(peerAddr, tag, payload)
	}
	return nil
}

// CurrentPhaseAndQuorum implements net.StatusProvider, aggregating every
// owned scheduler's phase and latched quorum hash for diagnostics.
func (c *Coordinator) CurrentPhaseAndQuorum() []net.QuorumStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]net.QuorumStatus, 0, len(c.schedulers))
	for t, s := range c.schedulers {
		phase, quorumHash := s.CurrentPhaseAndQuorum()
		status := net.QuorumStatus{QuorumType: t, Phase: phase.String()}
		if phase != scheduler.PhaseIdle {
			status.QuorumHash = fmt.Sprintf("%x", quorumHash)
		}
		out = append(out, status)
	}
	return out
}
