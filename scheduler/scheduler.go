// Package scheduler implements the per-quorum-type phase scheduler: the
// long-running worker that advances a finite DKG state machine synchronized
// to chain tip. One clockwork.Clock-driven goroutine per quorum type, a
// mutex-guarded (phase, quorum hash) pair, context cancellation for
// shutdown.
package scheduler

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"math"
	"sync"
	"time"

	"github.com/drand/kyber"
	"github.com/drand/kyber/sign"
	clock "github.com/jonboulle/clockwork"
	"golang.org/x/crypto/blake2b"

	"github.com/dashpay/llmq/bls"
	"github.com/dashpay/llmq/chain"
	"github.com/dashpay/llmq/connect"
	"github.com/dashpay/llmq/dkgsession"
	"github.com/dashpay/llmq/log"
	"github.com/dashpay/llmq/member"
	"github.com/dashpay/llmq/metrics"
	"github.com/dashpay/llmq/params"
	"github.com/dashpay/llmq/queue"
	"github.com/dashpay/llmq/wire"
)

// PhaseState is the DKG state machine's current stage.
type PhaseState int

const (
	PhaseIdle PhaseState = iota
	PhaseInitialized
	PhaseContribute
	PhaseComplain
	PhaseJustify
	PhaseCommit
	PhaseFinalize
)

func (p PhaseState) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInitialized:
		return "initialized"
	case PhaseContribute:
		return "contribute"
	case PhaseComplain:
		return "complain"
	case PhaseJustify:
		return "justify"
	case PhaseCommit:
		return "commit"
	case PhaseFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// PeerScorer is the external PoSe-scoring collaborator this scheduler
// reports peer misbehavior to.
type PeerScorer interface {
	Punish(ctx context.Context, peerID string, score int)
}

// Broadcaster is the outgoing-message collaborator a scheduler drives phase
// output through. net.GRPCBroadcaster is the default concrete instance.
type Broadcaster interface {
	Send(ctx context.Context, addr string, tag wire.CommandTag, payload []byte) error
}

// Identity is the local node's own quorum identity, supplied by the
// embedding node.
type Identity struct {
	ProTxHash  member.ID
	PrivateKey kyber.Scalar
}

// Deps are the collaborators and configuration one Scheduler is built from.
type Deps struct {
	Log    log.Logger
	Clock  clock.Clock
	Params params.QuorumParams
	Sporks params.Sporks
	Knobs  params.Knobs

	Chain       chain.Source
	Members     *member.Calculator
	Connections connect.Manager
	Broadcaster Broadcaster
	Codec       wire.Codec
	Scheme      *bls.Scheme
	Scorer      PeerScorer
	Identity    Identity

	// Watch is the deterministic watch-mode walker, non-nil only if this
	// node is configured to watch quorums it is not a member of.
	Watch *connect.WatchState

	// ProbeCandidates supplies PoSe-probe candidates when the QUORUM_POSE
	// spork is active; optional.
	ProbeCandidates func(ctx context.Context) []connect.ProbeCandidate

	// OnFinalized is invoked with the recovered final commitment signature.
	// Carrying it into a transaction in the mining window is the embedding
	// node's job.
	OnFinalized func(base chain.BaseBlock, sig []byte)

	// WorkerPoolSize bounds the dkgsession crypto worker pool; 0 uses
	// dkgsession's own default.
	WorkerPoolSize int

	// BlockInterval estimates real time per block, used only to size the
	// sleep-before-phase jitter; the scheduler's actual phase gating is
	// height-based, never wall-clock.
	BlockInterval time.Duration

	// MetricsQuorumType labels this scheduler's metrics.
	MetricsQuorumType string
}

var hashFunc = func() hash.Hash { h, _ := blake2b.New256(nil); return h }

// roundCtx carries one quorum instantiation's live state between the phase
// steps of runRound; it is exclusively owned by the scheduler goroutine.
type roundCtx struct {
	base         chain.BaseBlock
	members      member.List
	operatorKeys []kyber.Point
	myIndex      int
	session      *dkgsession.Session
	auth         sign.Scheme

	invalidContributors []int
}

// Scheduler is the per-quorum-type phase scheduler. It owns a dedicated
// worker goroutine and the four pending-message buffers.
type Scheduler struct {
	deps Deps

	buffers map[wire.CommandTag]*queue.Buffer

	mu            sync.Mutex
	phase         PhaseState
	quorumHash    [32]byte
	currentHeight uint32
	lastBase      [32]byte

	tipMu    sync.Mutex
	tip      chain.BaseBlock
	tipValid bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an idle Scheduler with fresh, empty pending-message buffers.
func New(deps Deps) *Scheduler {
	if deps.BlockInterval <= 0 {
		deps.BlockInterval = 2500 * time.Millisecond
	}
	maxPerPeer := deps.Knobs.MaxMessagesPerPeer
	if maxPerPeer <= 0 {
		maxPerPeer = params.DefaultKnobs().MaxMessagesPerPeer
	}
	return &Scheduler{
		deps: deps,
		buffers: map[wire.CommandTag]*queue.Buffer{
			wire.CommandContribution:        queue.NewBuffer(maxPerPeer),
			wire.CommandComplaint:           queue.NewBuffer(maxPerPeer),
			wire.CommandJustification:       queue.NewBuffer(maxPerPeer),
			wire.CommandPrematureCommitment: queue.NewBuffer(maxPerPeer),
		},
	}
}

// Start launches the scheduler's worker goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
}

// Stop signals the worker to exit and waits for it to do so; the worker
// observes cancellation at its next suspension point, at most one poll
// interval away.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// UpdatedBlockTip is the non-blocking chain-notifier entry point. It never
// blocks the caller; the scheduler observes the update at its next
// suspension point.
func (s *Scheduler) UpdatedBlockTip(base chain.BaseBlock) {
	s.tipMu.Lock()
	s.tip = base
	s.tipValid = true
	s.tipMu.Unlock()
}

func (s *Scheduler) getTip() (chain.BaseBlock, bool) {
	s.tipMu.Lock()
	defer s.tipMu.Unlock()
	return s.tip, s.tipValid
}

// ProcessMessage routes an inbound DKG protocol frame to the pending buffer
// for its command tag. Since the buffer is keyed only by command (not by
// quorum hash, which is opaque until decode), a frame for a different round
// than this scheduler currently runs is admitted into the buffer and
// silently dropped at decode time once its embedded quorum hash is seen not
// to match.
func (s *Scheduler) ProcessMessage(peerID string, tag wire.CommandTag, raw []byte) {
	buf, ok := s.buffers[tag]
	if !ok {
		return
	}
	buf.Push(peerID, raw)
}

// CurrentPhaseAndQuorum reports this scheduler's phase and latched quorum
// hash under the single phase mutex.
func (s *Scheduler) CurrentPhaseAndQuorum() (PhaseState, [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.quorumHash
}

func (s *Scheduler) setPhase(p PhaseState, base chain.BaseBlock) {
	s.mu.Lock()
	s.phase = p
	s.quorumHash = base.Hash
	s.currentHeight = base.Height
	s.mu.Unlock()
	metrics.PhaseTransitions.WithLabelValues(s.deps.MetricsQuorumType, p.String()).Inc()
}

func (s *Scheduler) clearBuffers() {
	for _, b := range s.buffers {
		b.Clear()
	}
}

// run is the scheduler's dedicated worker goroutine. A panic inside it is a
// fatal failure of this scheduler only: it is logged and the goroutine
// exits, the rest of the node keeps running.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.deps.Log.Errorw("scheduler: fatal panic, scheduler thread aborting",
				"quorum_type", s.deps.MetricsQuorumType, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		base, ok := s.waitForNewQuorum(ctx)
		if !ok {
			return
		}
		s.runRound(ctx, base)
	}
}

// waitForNewQuorum blocks until the tip first reaches an interval boundary
// with a base-block hash different from the previous round's.
func (s *Scheduler) waitForNewQuorum(ctx context.Context) (chain.BaseBlock, bool) {
	for {
		select {
		case <-ctx.Done():
			return chain.BaseBlock{}, false
		default:
		}

		if tip, valid := s.getTip(); valid && s.deps.Params.IsQuorumBoundary(tip.Height) {
			base, err := s.deps.Chain.Ancestor(ctx, tip, tip.Height)
			if err != nil {
				s.deps.Log.Warnw("scheduler: ancestor lookup for new quorum failed", "err", err)
			} else if base.Hash != s.lastBase {
				return base, true
			}
		}

		select {
		case <-ctx.Done():
			return chain.BaseBlock{}, false
		case <-s.deps.Clock.After(params.DefaultTimeBetweenPolls):
		}
	}
}

// runRound drives one quorum instantiation from init through the four
// message phases to finalize (or abort).
func (s *Scheduler) runRound(ctx context.Context, base chain.BaseBlock) {
	s.lastBase = base.Hash

	rc := s.initNewQuorum(ctx, base)
	if rc == nil {
		s.setPhase(PhaseIdle, chain.BaseBlock{})
		return
	}

	metrics.ActiveSessions.WithLabelValues(s.deps.MetricsQuorumType).Set(1)
	defer metrics.ActiveSessions.WithLabelValues(s.deps.MetricsQuorumType).Set(0)

	phases := []struct {
		state PhaseState
		k     int
	}{
		{PhaseContribute, 1},
		{PhaseComplain, 2},
		{PhaseJustify, 3},
		{PhaseCommit, 4},
	}
	for _, ph := range phases {
		if s.runPhase(ctx, rc, ph.state, ph.k) {
			s.abortRound(ctx, rc)
			return
		}
	}

	s.finalizeRound(rc)
}

// initNewQuorum computes membership, decides whether the local node has any
// stake in the round, declares connections, and constructs the session.
// Returns nil if the round is not one this node participates in (too few
// members, not a member and not watching) or if the node is a pure watcher;
// watchers declare their single connection but never get a session.
func (s *Scheduler) initNewQuorum(ctx context.Context, base chain.BaseBlock) *roundCtx {
	members, err := s.deps.Members.MembersFor(ctx, s.deps.Params, base)
	if err != nil {
		s.deps.Log.Errorw("scheduler: membership lookup failed", "err", err)
		return nil
	}
	if len(members) < s.deps.Params.MinSize {
		rerr := newRoundError(KindInputReject, "too few eligible members: have %d, need %d", len(members), s.deps.Params.MinSize)
		s.deps.Log.Warnw("scheduler: "+rerr.Error())
		metrics.AbortedSessions.WithLabelValues(s.deps.MetricsQuorumType, "insufficient_members").Inc()
		return nil
	}

	myIndex := members.IndexOf(s.deps.Identity.ProTxHash)
	watching := myIndex < 0 && s.deps.Knobs.WatchQuorums && s.deps.Watch != nil

	if myIndex < 0 && !watching {
		return nil
	}

	s.setPhase(PhaseInitialized, base)

	if myIndex < 0 {
		idx := s.deps.Watch.Next(s.deps.Params.TypeID, base.Hash, len(members))
		if err := s.deps.Connections.DeclareQuorumNodes(ctx, s.deps.Params.TypeID, base.Hash, []member.ID{members[idx].ProTxHash}); err != nil {
			s.deps.Log.Warnw("scheduler: declare watch connection failed", "err", err)
		}
		return nil
	}

	if err := s.declareConnections(ctx, base, members, myIndex); err != nil {
		s.deps.Log.Warnw("scheduler: declare connections failed", "err", err)
	}

	operatorKeys, err := decodeOperatorKeys(s.deps.Scheme, members)
	if err != nil {
		s.deps.Log.Errorw("scheduler: decode operator keys failed", "err", err)
		return nil
	}

	session := dkgsession.New(dkgsession.Opts{
		Log:            s.deps.Log,
		QuorumHash:     base.Hash,
		Members:        members,
		OperatorKeys:   operatorKeys,
		MyIndex:        myIndex,
		MyPrivateKey:   s.deps.Identity.PrivateKey,
		Threshold:      s.deps.Params.Threshold,
		BadVoteLimit:   s.deps.Params.BadVotesThreshold,
		Scheme:         s.deps.Scheme,
		WorkerPoolSize: s.deps.WorkerPoolSize,
	})

	return &roundCtx{
		base:         base,
		members:      members,
		operatorKeys: operatorKeys,
		myIndex:      myIndex,
		session:      session,
		auth:         s.deps.Scheme.DKGAuthScheme(),
	}
}

func (s *Scheduler) declareConnections(ctx context.Context, base chain.BaseBlock, members member.List, myIndex int) error {
	allConnected := s.deps.Sporks != nil && s.deps.Sporks.AllConnected(s.deps.Params.TypeID)

	var probes []connect.ProbeCandidate
	if s.deps.Sporks != nil && s.deps.Sporks.QuorumPoSe(s.deps.Params.TypeID) && s.deps.ProbeCandidates != nil {
		probes = s.deps.ProbeCandidates(ctx)
	}

	return connect.Plan(ctx, s.deps.Connections, s.deps.Params.TypeID, base.Hash, members, myIndex, allConnected, probes)
}

func decodeOperatorKeys(scheme *bls.Scheme, members member.List) ([]kyber.Point, error) {
	out := make([]kyber.Point, len(members))
	for i, m := range members {
		p := scheme.SigGroup.Point()
		if err := p.UnmarshalBinary(m.OperatorKey); err != nil {
			return nil, fmt.Errorf("scheduler: decode operator key for member %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// runPhase executes one phase's sleep/start/drain cycle. It returns true if
// the round must be aborted.
func (s *Scheduler) runPhase(ctx context.Context, rc *roundCtx, state PhaseState, k int) bool {
	_, end := s.deps.Params.PhaseWindow(rc.base.Height, k)

	if s.sleepBeforePhase(ctx, rc) {
		return true
	}
	if s.shouldAbort(ctx, rc.base) {
		return true
	}

	s.setPhase(state, rc.base)
	if err := s.startPhase(ctx, rc, state); err != nil {
		s.deps.Log.Errorw("scheduler: start-phase hook failed", "phase", state.String(), "err", err)
	}

	return s.drainUntil(ctx, rc, state, end)
}

// sleepBeforePhase pauses a pseudo-randomly jittered fraction of the phase
// window, de-synchronizing members to smear CPU and bandwidth load. The
// jitter seed is (quorum hash, member index), so it is deterministic and
// auditable. Pure watchers never reach here since initNewQuorum only builds
// a roundCtx for contributing members.
func (s *Scheduler) sleepBeforePhase(ctx context.Context, rc *roundCtx) bool {
	windowBlocks := s.deps.Params.DKGPhaseBlocks
	total := time.Duration(windowBlocks) * s.deps.BlockInterval
	frac := jitterFraction(rc.base.Hash, rc.myIndex) * s.deps.Knobs.PhaseSleepFactor
	sleepFor := time.Duration(float64(total) * frac)
	if sleepFor <= 0 {
		return false
	}

	deadline := s.deps.Clock.Now().Add(sleepFor)
	for {
		now := s.deps.Clock.Now()
		if !now.Before(deadline) {
			return false
		}
		if s.shouldAbort(ctx, rc.base) {
			return true
		}

		wait := params.DefaultTimeBetweenPolls
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return true
		case <-s.deps.Clock.After(wait):
		}
	}
}

// jitterFraction deterministically derives a value in [0, 1) from
// (quorumHash, memberIndex).
func jitterFraction(quorumHash [32]byte, memberIndex int) float64 {
	h := hashFunc()
	_, _ = h.Write(quorumHash[:])
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(memberIndex))
	_, _ = h.Write(idx[:])
	sum := h.Sum(nil)
	v := binary.BigEndian.Uint64(sum[:8])
	return math.Ldexp(float64(v>>11), -53)
}

// shouldAbort is the single reorg-safety observation point. It is true if
// base has fallen off the active chain, or if the current tip's ancestor at
// base's height no longer matches base.
func (s *Scheduler) shouldAbort(ctx context.Context, base chain.BaseBlock) bool {
	onChain, err := s.deps.Chain.IsOnActiveChain(ctx, base)
	if err != nil {
		s.deps.Log.Warnw("scheduler: active-chain check failed", "err", err)
		return false
	}
	if !onChain {
		return true
	}

	tip, valid := s.getTip()
	if !valid {
		return false
	}
	anc, err := s.deps.Chain.Ancestor(ctx, tip, base.Height)
	if err != nil {
		s.deps.Log.Warnw("scheduler: ancestor re-check failed", "err", err)
		return false
	}
	return anc.Hash != base.Hash
}

// startPhase invokes the session's per-phase Start hook and broadcasts its
// outgoing message(s).
func (s *Scheduler) startPhase(ctx context.Context, rc *roundCtx, state PhaseState) error {
	switch state {
	case PhaseContribute:
		msg, err := rc.session.StartContribute()
		if err != nil || msg == nil {
			return err
		}
		return s.broadcastAll(ctx, rc, wire.CommandContribution, *msg)

	case PhaseComplain:
		msg, err := rc.session.StartComplain(rc.invalidContributors)
		if err != nil || msg == nil {
			return err
		}
		return s.broadcastAll(ctx, rc, wire.CommandComplaint, *msg)

	case PhaseJustify:
		msgs, err := rc.session.StartJustify()
		if err != nil {
			return err
		}
		// Justifications are broadcast, not unicast to the accuser: every
		// peer re-verifies the disclosed share publicly.
		for _, m := range msgs {
			if err := s.broadcastAll(ctx, rc, wire.CommandJustification, m); err != nil {
				s.deps.Log.Warnw("scheduler: broadcast justification failed", "accuser", m.AccuserIndex, "err", err)
			}
		}
		return nil

	case PhaseCommit:
		msg, err := rc.session.StartCommit()
		if err != nil || msg == nil {
			return err
		}
		return s.broadcastAll(ctx, rc, wire.CommandPrematureCommitment, *msg)
	}
	return nil
}

func (s *Scheduler) broadcastAll(ctx context.Context, rc *roundCtx, tag wire.CommandTag, msg wire.Message) error {
	payload, err := s.deps.Codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("scheduler: marshal %s: %w", tag, err)
	}
	sig, err := rc.auth.Sign(s.deps.Identity.PrivateKey, payload)
	if err != nil {
		return fmt.Errorf("scheduler: sign %s: %w", tag, err)
	}
	sealed, err := wire.SealEnvelope(payload, sig)
	if err != nil {
		return fmt.Errorf("scheduler: seal %s: %w", tag, err)
	}

	var wg sync.WaitGroup
	for i, m := range rc.members {
		if i == rc.myIndex {
			continue
		}
		addr := m.Addr
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if err := s.deps.Broadcaster.Send(ctx, addr, tag, sealed); err != nil {
				s.deps.Log.Warnw("scheduler: broadcast failed", "addr", addr, "tag", tag, "err", err)
			}
		}(addr)
	}
	wg.Wait()
	return nil
}

// drainUntil pops and ingests messages while inside the phase window,
// polling at most every DefaultTimeBetweenPolls, until the tip reaches end
// or the round must abort. It doubles as the wait-for-next-phase gate.
func (s *Scheduler) drainUntil(ctx context.Context, rc *roundCtx, state PhaseState, end uint32) bool {
	tag := tagForPhase(state)
	buf := s.buffers[tag]

	for {
		if s.shouldAbort(ctx, rc.base) {
			return true
		}
		if tip, valid := s.getTip(); valid && tip.Height >= end {
			return false
		}

		items := buf.Pop(s.deps.Knobs.DrainBatchSize)
		if len(items) > 0 {
			s.ingestBatch(ctx, rc, state, items)
		}
		metrics.BufferOccupancy.WithLabelValues(s.deps.MetricsQuorumType, string(tag)).Set(float64(buf.Len()))

		select {
		case <-ctx.Done():
			return true
		case <-s.deps.Clock.After(params.DefaultTimeBetweenPolls):
		}
	}
}

func tagForPhase(p PhaseState) wire.CommandTag {
	switch p {
	case PhaseContribute:
		return wire.CommandContribution
	case PhaseComplain:
		return wire.CommandComplaint
	case PhaseJustify:
		return wire.CommandJustification
	case PhaseCommit:
		return wire.CommandPrematureCommitment
	default:
		return ""
	}
}

// decode opens one buffered item's envelope, unmarshals the payload,
// authenticates the claimed sender index against its operator key, and drops
// the item, without punishment, if its embedded quorum hash belongs to a
// different round than rc's: a consequence of ingress routing by command tag
// only, ahead of decode. Undecodable bytes and forged sender signatures are
// peer misbehavior.
func (s *Scheduler) decode(rc *roundCtx, tag wire.CommandTag, it queue.Item) (wire.Message, bool) {
	punish := func(format string, args ...interface{}) {
		rerr := newRoundError(KindPeerMisbehavior, format, args...)
		s.deps.Log.Debugw("scheduler: " + rerr.Error())
		metrics.PeerPunishments.WithLabelValues(s.deps.MetricsQuorumType, "invalid_frame").Inc()
		if s.deps.Scorer != nil {
			s.deps.Scorer.Punish(context.Background(), it.PeerID, 5)
		}
	}

	payload, sig, err := wire.OpenEnvelope(it.Bytes)
	if err != nil {
		punish("open %s from %s: %v", tag, it.PeerID, err)
		return nil, false
	}
	msg, err := s.deps.Codec.Unmarshal(tag, payload)
	if err != nil {
		punish("decode %s from %s: %v", tag, it.PeerID, err)
		return nil, false
	}
	if qh, ok := quorumHashOf(msg); ok && qh != rc.base.Hash {
		return nil, false
	}
	sender, ok := senderIndexOf(msg)
	if !ok || sender < 0 || sender >= len(rc.operatorKeys) {
		punish("%s from %s names out-of-range sender %d", tag, it.PeerID, sender)
		return nil, false
	}
	if err := rc.auth.Verify(rc.operatorKeys[sender], payload, sig); err != nil {
		punish("%s from %s fails sender %d's packet signature: %v", tag, it.PeerID, sender, err)
		return nil, false
	}
	return msg, true
}

func senderIndexOf(m wire.Message) (int, bool) {
	switch v := m.(type) {
	case wire.Contribution:
		return v.SenderIndex, true
	case wire.Complaint:
		return v.SenderIndex, true
	case wire.Justification:
		return v.SenderIndex, true
	case wire.PrematureCommitment:
		return v.SenderIndex, true
	default:
		return -1, false
	}
}

func quorumHashOf(m wire.Message) ([32]byte, bool) {
	switch v := m.(type) {
	case wire.Contribution:
		return v.QuorumHash, true
	case wire.Complaint:
		return v.QuorumHash, true
	case wire.Justification:
		return v.QuorumHash, true
	case wire.PrematureCommitment:
		return v.QuorumHash, true
	default:
		return [32]byte{}, false
	}
}

// ingestBatch decodes and hands off one drain iteration's popped items to
// the session, per message type, and reports any resulting punishments.
func (s *Scheduler) ingestBatch(ctx context.Context, rc *roundCtx, state PhaseState, items []queue.Item) {
	switch state {
	case PhaseContribute:
		var batch []wire.Contribution
		for _, it := range items {
			if msg, ok := s.decode(rc, wire.CommandContribution, it); ok {
				batch = append(batch, msg.(wire.Contribution))
			}
		}
		if len(batch) == 0 {
			return
		}
		punishments, err := rc.session.IngestContribute(ctx, batch)
		if err != nil {
			s.deps.Log.Errorw("scheduler: ingest contribute failed", "err", err)
			return
		}
		s.applyPunishments(ctx, rc, punishments)
		for _, p := range punishments {
			if p.Reason == "invalid_share" {
				rc.invalidContributors = append(rc.invalidContributors, p.MemberIndex)
			}
		}

	case PhaseComplain:
		var batch []wire.Complaint
		for _, it := range items {
			if msg, ok := s.decode(rc, wire.CommandComplaint, it); ok {
				batch = append(batch, msg.(wire.Complaint))
			}
		}
		if len(batch) == 0 {
			return
		}
		s.applyPunishments(ctx, rc, rc.session.IngestComplain(batch))

	case PhaseJustify:
		var batch []wire.Justification
		for _, it := range items {
			if msg, ok := s.decode(rc, wire.CommandJustification, it); ok {
				batch = append(batch, msg.(wire.Justification))
			}
		}
		if len(batch) == 0 {
			return
		}
		rc.session.IngestJustify(batch)

	case PhaseCommit:
		var batch []wire.PrematureCommitment
		for _, it := range items {
			if msg, ok := s.decode(rc, wire.CommandPrematureCommitment, it); ok {
				batch = append(batch, msg.(wire.PrematureCommitment))
			}
		}
		if len(batch) == 0 {
			return
		}
		s.applyPunishments(ctx, rc, rc.session.IngestCommit(ctx, batch))
	}
}

func (s *Scheduler) applyPunishments(ctx context.Context, rc *roundCtx, punishments []dkgsession.Punishment) {
	for _, p := range punishments {
		if p.MemberIndex < 0 || p.MemberIndex >= len(rc.members) {
			continue
		}
		metrics.PeerPunishments.WithLabelValues(s.deps.MetricsQuorumType, p.Reason).Inc()
		if s.deps.Scorer != nil {
			s.deps.Scorer.Punish(ctx, rc.members[p.MemberIndex].Addr, p.Score)
		}
	}
}

// finalizeRound aggregates premature commitments and returns to idle.
func (s *Scheduler) finalizeRound(rc *roundCtx) {
	s.setPhase(PhaseFinalize, rc.base)

	sig, ok, err := rc.session.Finalize()
	switch {
	case err != nil:
		rerr := newRoundError(KindFatal, "finalize: %w", err)
		s.deps.Log.Errorw("scheduler: " + rerr.Error())
		metrics.AbortedSessions.WithLabelValues(s.deps.MetricsQuorumType, "finalize_error").Inc()
	case ok:
		s.deps.Log.Infow("scheduler: quorum finalized", "quorum_hash", fmt.Sprintf("%x", rc.base.Hash))
		metrics.FinalizedQuorums.WithLabelValues(s.deps.MetricsQuorumType).Inc()
		if s.deps.OnFinalized != nil {
			s.deps.OnFinalized(rc.base, sig)
		}
	default:
		s.deps.Log.Warnw("scheduler: quorum did not reach threshold agreement", "quorum_hash", fmt.Sprintf("%x", rc.base.Hash))
		metrics.AbortedSessions.WithLabelValues(s.deps.MetricsQuorumType, "no_threshold").Inc()
	}

	s.clearBuffers()
	s.setPhase(PhaseIdle, chain.BaseBlock{})
}

// abortRound unwinds to idle without emitting any further outgoing message
// for the abandoned quorum.
func (s *Scheduler) abortRound(ctx context.Context, rc *roundCtx) {
	if ctx.Err() != nil {
		s.deps.Log.Infow("scheduler: shutdown during round", "quorum_hash", fmt.Sprintf("%x", rc.base.Hash))
		metrics.AbortedSessions.WithLabelValues(s.deps.MetricsQuorumType, "shutdown").Inc()
	} else {
		rerr := newRoundError(KindAbortRound, "reorg invalidated quorum_hash %x", rc.base.Hash)
		s.deps.Log.Warnw("scheduler: " + rerr.Error())
		metrics.AbortedSessions.WithLabelValues(s.deps.MetricsQuorumType, "reorg").Inc()
	}
	s.clearBuffers()
	s.setPhase(PhaseIdle, chain.BaseBlock{})
}
