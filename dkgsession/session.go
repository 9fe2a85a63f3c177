// Package dkgsession implements the per-quorum-instantiation DKG protocol
// engine: one Session per quorum round, driven phase by phase through
// Contribute, Complain, Justify, Commit and Finalize by its owning
// scheduler.
package dkgsession

import (
	"context"
	"fmt"
	"sync"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"
	"github.com/google/uuid"

	"github.com/dashpay/llmq/bls"
	"github.com/dashpay/llmq/ecies"
	"github.com/dashpay/llmq/log"
	"github.com/dashpay/llmq/member"
	"github.com/dashpay/llmq/wire"
)

// Punishment names a peer whose behavior during this phase warrants a
// PoSe-score report to the external peer_misbehavior collaborator.
type Punishment struct {
	MemberIndex int
	Reason      string
	Score       int
}

// Opts configures a new Session.
type Opts struct {
	Log            log.Logger
	QuorumHash     [32]byte
	Members        member.List
	OperatorKeys   []kyber.Point // parallel to Members; this quorum's BLS operator public keys
	MyIndex        int           // -1 if this node is not a member (watch-only)
	MyPrivateKey   kyber.Scalar  // nil if MyIndex == -1
	Threshold      int
	BadVoteLimit   int
	Scheme         *bls.Scheme
	// Worker runs the offloaded share-decrypt and partial-signature checks;
	// nil gets an in-process pool of WorkerPoolSize slots.
	Worker         bls.Worker
	WorkerPoolSize int
}

// Session is the one-shot, exclusively-scheduler-owned protocol engine for a
// single quorum instantiation.
type Session struct {
	log          log.Logger
	runID        uuid.UUID
	quorumHash   [32]byte
	members      member.List
	operatorKeys []kyber.Point
	myIndex      int
	myPriv       kyber.Scalar
	threshold    int
	badVoteLimit int
	scheme       *bls.Scheme
	worker       bls.Worker

	mu sync.Mutex

	priPoly *share.PriPoly
	pubPoly *share.PubPoly

	contributions map[int]wire.Contribution
	// dealerShares/dealerPub hold, per dealer index, the share this node
	// decrypted from that dealer's Contribution and the dealer's
	// reconstructed verification polynomial. Combined across qualified
	// dealers at Commit time, they give this node's share of the group's
	// aggregate key.
	dealerShares map[int]*share.PriShare
	dealerPub    map[int]*share.PubPoly

	complaints     map[int]wire.Complaint
	badVotes       map[int]int
	invalidMembers map[int]bool

	// justifications is keyed by (sender, accuser): an accused dealer sends
	// one justification per accuser and each must be verified on its own.
	justifications map[[2]int]wire.Justification

	commitments map[int]wire.PrematureCommitment
	validBitset []bool

	combinedShare *share.PriShare
	combinedPub   *share.PubPoly

	finalized bool
	finalSig  []byte
}

// New constructs a Session; the scheduler creates one when it initializes a
// new quorum round and drops it when the round ends.
func New(o Opts) *Session {
	worker := o.Worker
	if worker == nil {
		worker = bls.NewPoolWorker(o.WorkerPoolSize)
	}
	return &Session{
		log:            o.Log,
		runID:          newRunID(),
		quorumHash:     o.QuorumHash,
		members:        o.Members,
		operatorKeys:   o.OperatorKeys,
		myIndex:        o.MyIndex,
		myPriv:         o.MyPrivateKey,
		threshold:      o.Threshold,
		badVoteLimit:   o.BadVoteLimit,
		scheme:         o.Scheme,
		worker:         worker,
		contributions:  make(map[int]wire.Contribution),
		dealerShares:   make(map[int]*share.PriShare),
		dealerPub:      make(map[int]*share.PubPoly),
		complaints:     make(map[int]wire.Complaint),
		badVotes:       make(map[int]int),
		invalidMembers: make(map[int]bool),
		justifications: make(map[[2]int]wire.Justification),
		commitments:    make(map[int]wire.PrematureCommitment),
	}
}

func newRunID() uuid.UUID {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails if crypto/rand is broken; fall back to a
		// nil UUID rather than panicking inside the scheduler goroutine.
		return uuid.UUID{}
	}
	return id
}

// RunID returns the random identifier generated for this instantiation.
func (s *Session) RunID() uuid.UUID { return s.runID }

// IsContributor reports whether this node holds a seat in the quorum.
func (s *Session) IsContributor() bool { return s.myIndex >= 0 }

// StartContribute generates this member's secret polynomial and verification
// vector and returns the Contribution message to broadcast. No-op (returns
// nil) for non-members.
func (s *Session) StartContribute() (*wire.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsContributor() {
		return nil, nil
	}
	if s.priPoly != nil {
		return nil, nil // idempotent: already started this phase
	}

	secret := s.scheme.SigGroup.Scalar().Pick(random.New())
	s.priPoly = share.NewPriPoly(s.scheme.KeyGroup, s.threshold, secret, random.New())
	s.pubPoly = s.priPoly.Commit(s.scheme.KeyGroup.Point().Base())

	shares := s.priPoly.Shares(len(s.members))
	encrypted := make([][]byte, len(s.members))
	for i, sh := range shares {
		if i == s.myIndex {
			s.dealerShares[s.myIndex] = sh
			s.dealerPub[s.myIndex] = s.pubPoly
			continue
		}
		raw, err := sh.V.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("dkgsession: marshal share for member %d: %w", i, err)
		}
		ct, err := ecies.Encrypt(s.scheme.SigGroup, s.scheme.IdentityHash, s.operatorKeys[i], raw)
		if err != nil {
			return nil, fmt.Errorf("dkgsession: encrypt share for member %d: %w", i, err)
		}
		encrypted[i] = encodeCiphertext(ct)
	}

	commits, err := marshalCommits(s.pubPoly)
	if err != nil {
		return nil, err
	}

	return &wire.Contribution{
		QuorumHash:      s.quorumHash,
		SenderIndex:     s.myIndex,
		VerificationVec: commits,
		EncryptedShares: encrypted,
	}, nil
}

// IngestContribute decrypts and verifies each incoming contribution against
// its verification vector, dispatching the work to the BLS worker so the
// scheduler stays responsive.
func (s *Session) IngestContribute(ctx context.Context, batch []wire.Contribution) ([]Punishment, error) {
	s.mu.Lock()
	var toVerify []wire.Contribution
	for _, c := range batch {
		if _, dup := s.contributions[c.SenderIndex]; dup {
			continue
		}
		s.contributions[c.SenderIndex] = c
		if c.SenderIndex == s.myIndex {
			continue // our own contribution needs no self-verification
		}
		toVerify = append(toVerify, c)
	}
	myIndex, myPriv := s.myIndex, s.myPriv
	scheme := s.scheme
	s.mu.Unlock()

	if myIndex < 0 || len(toVerify) == 0 {
		return nil, nil
	}

	shares := make([]*share.PriShare, len(toVerify))
	pubs := make([]*share.PubPoly, len(toVerify))
	ok := make([]bool, len(toVerify))
	pending := make([]<-chan bls.Result, len(toVerify))
	for i, c := range toVerify {
		i, c := i, c
		pending[i] = s.worker.VerifyAsync(ctx, bls.Job{
			Kind:        bls.JobDecryptShare,
			SenderIndex: c.SenderIndex,
			Verify: func() bool {
				shares[i], pubs[i], ok[i] = verifyContribution(scheme, myIndex, myPriv, c)
				return ok[i]
			},
		})
	}
	for _, ch := range pending {
		if res := <-ch; res.Err != nil {
			return nil, fmt.Errorf("dkgsession: verify contributions: %w", res.Err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var punishments []Punishment
	for i, c := range toVerify {
		if ok[i] {
			s.dealerShares[c.SenderIndex] = shares[i]
			s.dealerPub[c.SenderIndex] = pubs[i]
		} else {
			punishments = append(punishments, Punishment{MemberIndex: c.SenderIndex, Reason: "invalid_share", Score: 10})
		}
	}
	return punishments, nil
}

// verifyContribution decrypts the share addressed to myIndex, reconstructs
// the dealer's public polynomial from its verification vector and checks the
// decrypted share against it. The reconstructed share and polynomial are
// later summed across every qualified dealer to derive this node's share of
// the group key.
func verifyContribution(scheme *bls.Scheme, myIndex int, myPriv kyber.Scalar, c wire.Contribution) (*share.PriShare, *share.PubPoly, bool) {
	if myIndex >= len(c.EncryptedShares) {
		return nil, nil, false
	}
	raw := c.EncryptedShares[myIndex]
	if raw == nil {
		return nil, nil, false
	}
	ct, err := decodeCiphertext(raw)
	if err != nil {
		return nil, nil, false
	}
	plain, err := ecies.Decrypt(scheme.SigGroup, scheme.IdentityHash, myPriv, ct)
	if err != nil {
		return nil, nil, false
	}
	v := scheme.SigGroup.Scalar()
	if err := v.UnmarshalBinary(plain); err != nil {
		return nil, nil, false
	}

	dealerPub, err := unmarshalPubPoly(scheme.KeyGroup, c.VerificationVec)
	if err != nil {
		return nil, nil, false
	}

	expected := dealerPub.Eval(myIndex).V
	got := scheme.KeyGroup.Point().Mul(v, scheme.KeyGroup.Point().Base())
	if !expected.Equal(got) {
		return nil, nil, false
	}
	return &share.PriShare{I: myIndex, V: v}, dealerPub, true
}

// StartComplain builds this member's complaint bitset against contributors
// whose share failed verification or who did not contribute at all.
func (s *Session) StartComplain(invalid []int) (*wire.Complaint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsContributor() {
		return nil, nil
	}

	bitset := make([]bool, len(s.members))
	for _, idx := range invalid {
		if idx >= 0 && idx < len(bitset) {
			bitset[idx] = true
		}
	}
	for i := range s.members {
		if i == s.myIndex {
			continue
		}
		if _, ok := s.contributions[i]; !ok {
			bitset[i] = true
		}
	}
	return &wire.Complaint{
		QuorumHash:    s.quorumHash,
		SenderIndex:   s.myIndex,
		AccusedBitset: bitset,
		ReasonCode:    "invalid_share",
	}, nil
}

// IngestComplain tallies complaints and marks a member bad once it has
// accumulated more than the configured bad-vote threshold of accusations.
func (s *Session) IngestComplain(batch []wire.Complaint) []Punishment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var punishments []Punishment
	for _, c := range batch {
		if _, dup := s.complaints[c.SenderIndex]; dup {
			continue
		}
		s.complaints[c.SenderIndex] = c
		for accused, flagged := range c.AccusedBitset {
			if !flagged {
				continue
			}
			s.badVotes[accused]++
			if s.badVotes[accused] > s.badVoteLimit && !s.invalidMembers[accused] {
				s.invalidMembers[accused] = true
				punishments = append(punishments, Punishment{MemberIndex: accused, Reason: "bad_vote_threshold", Score: 20})
			}
		}
	}
	return punishments
}

// StartJustify re-discloses this member's plaintext share for every accuser
// that complained against it, so peers can re-verify publicly.
func (s *Session) StartJustify() ([]wire.Justification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsContributor() || s.dealerShares[s.myIndex] == nil {
		return nil, nil
	}

	var accusers []int
	for senderIdx, c := range s.complaints {
		for accused, flagged := range c.AccusedBitset {
			if flagged && accused == s.myIndex {
				accusers = append(accusers, senderIdx)
			}
		}
	}
	if len(accusers) == 0 {
		return nil, nil
	}

	// Each justification re-discloses the exact share this dealer sent to
	// that accuser, since that is the value peers re-check against the
	// verification vector at the accuser's index.
	shares := s.priPoly.Shares(len(s.members))
	out := make([]wire.Justification, 0, len(accusers))
	for _, accuser := range accusers {
		raw, err := shares[accuser].V.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("dkgsession: marshal share for accuser %d: %w", accuser, err)
		}
		out = append(out, wire.Justification{
			QuorumHash:   s.quorumHash,
			SenderIndex:  s.myIndex,
			AccuserIndex: accuser,
			PlainShare:   raw,
		})
	}
	return out, nil
}

// IngestJustify re-verifies each disclosed share against the dealer's
// original verification vector; a justification that fails verification is
// ignored and the member remains accused. A justification addressed to this
// node also repairs its dealerShares/dealerPub entry for that dealer, since
// its ECIES-encrypted copy may have been the one that failed to decrypt in
// the first place.
func (s *Session) IngestJustify(batch []wire.Justification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range batch {
		key := [2]int{j.SenderIndex, j.AccuserIndex}
		if _, dup := s.justifications[key]; dup {
			continue
		}
		contribution, ok := s.contributions[j.SenderIndex]
		if !ok {
			continue
		}
		dealerPub, err := unmarshalPubPoly(s.scheme.KeyGroup, contribution.VerificationVec)
		if err != nil {
			continue
		}
		v := s.scheme.SigGroup.Scalar()
		if err := v.UnmarshalBinary(j.PlainShare); err != nil {
			continue
		}
		expected := dealerPub.Eval(j.AccuserIndex).V
		got := s.scheme.KeyGroup.Point().Mul(v, s.scheme.KeyGroup.Point().Base())
		if !expected.Equal(got) {
			continue
		}
		s.justifications[key] = j
		delete(s.invalidMembers, j.SenderIndex)
		if j.AccuserIndex == s.myIndex {
			s.dealerShares[j.SenderIndex] = &share.PriShare{I: s.myIndex, V: v}
			s.dealerPub[j.SenderIndex] = dealerPub
		}
	}
}

// StartCommit combines this node's shares of every dealer still marked valid
// into its share of the quorum's single group key, then broadcasts the
// valid-member bitset, the aggregated public key, and a partial signature
// proving membership consensus.
func (s *Session) StartCommit() (*wire.PrematureCommitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsContributor() || s.dealerShares[s.myIndex] == nil {
		return nil, nil
	}

	// A member counts as valid only if this node actually holds a verified
	// share and polynomial from it (its own, a verified contribution, or a
	// repaired one from a justification) and it was not voted out. Members
	// that never contributed are therefore excluded here even if they fell
	// short of the bad-vote threshold.
	bitset := make([]bool, len(s.members))
	for i := range bitset {
		bitset[i] = s.dealerPub[i] != nil && !s.invalidMembers[i]
	}
	s.validBitset = bitset

	if err := s.combineQualified(bitset); err != nil {
		return nil, err
	}

	digest := bitsetDigest(s.quorumHash, bitset)
	partialSig, err := s.scheme.SignPartial(s.combinedShare, digest)
	if err != nil {
		return nil, fmt.Errorf("dkgsession: sign premature commitment: %w", err)
	}

	pubBytes, err := s.combinedPub.Commit().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("dkgsession: marshal aggregate pub key: %w", err)
	}

	msg := wire.PrematureCommitment{
		QuorumHash:      s.quorumHash,
		SenderIndex:     s.myIndex,
		ValidBitset:     bitset,
		AggregatePubKey: pubBytes,
		PartialSig:      partialSig,
	}
	// Broadcast skips self-delivery, so record our own commitment here; it
	// counts toward the threshold like any other member's.
	s.commitments[s.myIndex] = msg
	return &msg, nil
}

// combineQualified sums this node's per-dealer shares and reconstructed
// public polynomials across every dealer marked valid in bitset, producing
// this node's share of the quorum's single aggregate key. The combination is
// explicit because each dealer's polynomial is carried and verified
// independently on the wire.
func (s *Session) combineQualified(bitset []bool) error {
	var combinedShare *share.PriShare
	var combinedPub *share.PubPoly
	for i, valid := range bitset {
		if !valid {
			continue
		}
		sh, hasShare := s.dealerShares[i]
		pub, hasPub := s.dealerPub[i]
		if !hasShare || !hasPub {
			continue
		}
		if combinedShare == nil {
			combinedShare = &share.PriShare{I: sh.I, V: sh.V.Clone()}
			combinedPub = pub
			continue
		}
		combinedShare.V.Add(combinedShare.V, sh.V)
		merged, err := combinedPub.Add(pub)
		if err != nil {
			return fmt.Errorf("dkgsession: combine dealer %d: %w", i, err)
		}
		combinedPub = merged
	}
	if combinedShare == nil || combinedPub == nil {
		return fmt.Errorf("dkgsession: no qualified dealer shares available to combine")
	}
	s.combinedShare = combinedShare
	s.combinedPub = combinedPub
	return nil
}

// IngestCommit verifies each incoming premature commitment's partial
// signature on the BLS worker and records those that pass; Finalize later
// groups them by identical valid-member bitsets. A commitment over a
// different member set than this node's cannot be checked against its
// combined key, so it is dropped without punishment; an invalid signature
// over this node's own bitset is punished.
func (s *Session) IngestCommit(ctx context.Context, batch []wire.PrematureCommitment) []Punishment {
	s.mu.Lock()
	combinedPub := s.combinedPub
	quorumHash := s.quorumHash
	myBitset := s.validBitset
	s.mu.Unlock()

	if combinedPub == nil {
		// No combined key to verify against; this node cannot finalize
		// either, so record the commitments as-is for diagnostics.
		s.mu.Lock()
		for _, c := range batch {
			s.commitments[c.SenderIndex] = c
		}
		s.mu.Unlock()
		return nil
	}

	pending := make([]<-chan bls.Result, len(batch))
	for i, c := range batch {
		c := c
		pending[i] = s.worker.VerifyAsync(ctx, bls.Job{
			Kind:        bls.JobVerifyPartial,
			SenderIndex: c.SenderIndex,
			Verify: func() bool {
				digest := bitsetDigest(quorumHash, c.ValidBitset)
				return s.scheme.VerifyPartial(combinedPub, digest, c.PartialSig) == nil
			},
		})
	}
	results := make([]bls.Result, len(batch))
	for i, ch := range pending {
		results[i] = <-ch
	}

	var punishments []Punishment
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range batch {
		if results[i].Err != nil {
			continue
		}
		if results[i].OK {
			s.commitments[c.SenderIndex] = c
			continue
		}
		if bitsetKey(c.ValidBitset) == bitsetKey(myBitset) {
			punishments = append(punishments, Punishment{MemberIndex: c.SenderIndex, Reason: "invalid_partial_sig", Score: 10})
		}
	}
	return punishments
}

// Finalize aggregates threshold-agreeing premature commitments into the
// final group signature, or reports that the quorum failed to finalize.
func (s *Session) Finalize() (sig []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return s.finalSig, s.finalSig != nil, nil
	}
	s.finalized = true

	if !s.IsContributor() || s.combinedPub == nil {
		return nil, false, nil
	}

	groups := make(map[string][]wire.PrematureCommitment)
	for _, c := range s.commitments {
		key := bitsetKey(c.ValidBitset)
		groups[key] = append(groups[key], c)
	}

	var best []wire.PrematureCommitment
	for _, g := range groups {
		if len(g) >= s.threshold && len(g) > len(best) {
			best = g
		}
	}
	if best == nil {
		return nil, false, nil
	}
	if bitsetKey(best[0].ValidBitset) != bitsetKey(s.validBitset) {
		// The threshold agreed on a member set this node does not hold the
		// matching combined share for; it cannot contribute to or verify the
		// recovery, so for this node the round yields no commitment.
		return nil, false, nil
	}

	digest := bitsetDigest(s.quorumHash, best[0].ValidBitset)
	partials := make([][]byte, 0, len(best))
	for _, c := range best {
		partials = append(partials, c.PartialSig)
	}

	finalSig, err := s.scheme.RecoverSignature(s.combinedPub, digest, partials, s.threshold, len(s.members))
	if err != nil {
		return nil, false, fmt.Errorf("dkgsession: recover final commitment: %w", err)
	}
	if err := s.scheme.VerifyRecovered(s.combinedPub.Commit(), digest, finalSig); err != nil {
		return nil, false, fmt.Errorf("dkgsession: verify final commitment: %w", err)
	}

	s.finalSig = finalSig
	return finalSig, true, nil
}

func bitsetKey(bitset []bool) string {
	b := make([]byte, len(bitset))
	for i, v := range bitset {
		if v {
			b[i] = 1
		}
	}
	return string(b)
}

func bitsetDigest(quorumHash [32]byte, bitset []bool) []byte {
	out := make([]byte, 0, 32+len(bitset))
	out = append(out, quorumHash[:]...)
	for _, v := range bitset {
		if v {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	return out
}
