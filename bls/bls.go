// Package bls wires the BLS12-381 threshold-signature scheme used by the DKG
// session to sign, recover, and verify commitments.
package bls

import (
	"context"
	"crypto/cipher"
	"hash"

	"github.com/drand/kyber"
	suite "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/sign"
	signbls "github.com/drand/kyber/sign/bls" //nolint:staticcheck // single-signature use only, never aggregated, so the rogue-key caveat does not apply
	"github.com/drand/kyber/sign/schnorr"
	"github.com/drand/kyber/sign/tbls"
	"github.com/drand/kyber/util/random"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/semaphore"
)

// Scheme bundles the groups and signature schemes this module signs and
// verifies DKG commitments with.
type Scheme struct {
	KeyGroup        kyber.Group
	SigGroup        kyber.Group
	ThresholdScheme sign.ThresholdScheme
	AuthScheme      sign.Scheme
	IdentityHash    func() hash.Hash
}

type schnorrSuite struct{ kyber.Group }

func (s *schnorrSuite) RandomStream() cipher.Stream {
	return random.New()
}

// NewScheme constructs the BLS12-381 pairing suite and the threshold and
// peer-identity signature schemes atop it: keys on G1, signatures on G2.
func NewScheme() *Scheme {
	pairing := suite.NewBLS12381SuiteWithDST(
		[]byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"),
		[]byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"),
	)
	keyGroup := pairing.G1()
	sigGroup := pairing.G2()

	return &Scheme{
		KeyGroup:        keyGroup,
		SigGroup:        sigGroup,
		ThresholdScheme: tbls.NewThresholdSchemeOnG2(pairing),
		AuthScheme:      signbls.NewSchemeOnG2(pairing),
		IdentityHash:    func() hash.Hash { h, _ := blake2b.New256(nil); return h },
	}
}

// DKGAuthScheme returns a schnorr signature scheme over the group member
// operator keys live on, used to authenticate DKG protocol packets during
// broadcast.
func (s *Scheme) DKGAuthScheme() sign.Scheme {
	return schnorr.NewScheme(&schnorrSuite{s.SigGroup})
}

// SignPartial signs msg with a member's private share.
func (s *Scheme) SignPartial(priShare *share.PriShare, msg []byte) ([]byte, error) {
	return s.ThresholdScheme.Sign(priShare, msg)
}

// VerifyPartial checks one member's partial signature over msg against pub.
func (s *Scheme) VerifyPartial(pub *share.PubPoly, msg, sig []byte) error {
	return s.ThresholdScheme.VerifyPartial(pub, msg, sig)
}

// RecoverSignature aggregates threshold partial signatures over pub into a
// group signature.
func (s *Scheme) RecoverSignature(pub *share.PubPoly, msg []byte, partials [][]byte, threshold, n int) ([]byte, error) {
	return s.ThresholdScheme.Recover(pub, msg, partials, threshold, n)
}

// VerifyRecovered checks a recovered group signature against the group
// public key.
func (s *Scheme) VerifyRecovered(groupPub kyber.Point, msg, sig []byte) error {
	return s.ThresholdScheme.VerifyRecovered(groupPub, msg, sig)
}

// Job is a unit of cryptographic work offloaded to a Worker. Verify carries
// the bound computation; Kind and SenderIndex label it for diagnostics.
type Job struct {
	Kind        JobKind
	SenderIndex int
	Verify      func() bool
}

// JobKind discriminates between the two offloaded verification shapes.
type JobKind int

const (
	JobDecryptShare JobKind = iota
	JobVerifyPartial
)

// Result is what a Worker produces for a Job. Err is non-nil only when the
// job never ran (context canceled before a pool slot freed up).
type Result struct {
	Job Job
	OK  bool
	Err error
}

// Worker runs verification jobs off the caller's goroutine so DKG phase
// handling stays responsive while pairings are computed. An embedding node
// may supply its own implementation; PoolWorker is the in-process default.
type Worker interface {
	VerifyAsync(ctx context.Context, job Job) <-chan Result
}

// PoolWorker bounds concurrent verification with a weighted semaphore.
type PoolWorker struct {
	sem *semaphore.Weighted
}

// NewPoolWorker builds a PoolWorker running at most size jobs at once; a
// non-positive size falls back to a small default.
func NewPoolWorker(size int) *PoolWorker {
	if size <= 0 {
		size = 4
	}
	return &PoolWorker{sem: semaphore.NewWeighted(int64(size))}
}

// VerifyAsync implements Worker. The returned channel is buffered; the
// result can be collected at any later point without blocking the pool.
func (w *PoolWorker) VerifyAsync(ctx context.Context, job Job) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		// Acquire's fast path can succeed even on a done context, so check
		// cancellation explicitly before taking a slot.
		select {
		case <-ctx.Done():
			out <- Result{Job: job, Err: ctx.Err()}
			return
		default:
		}
		if err := w.sem.Acquire(ctx, 1); err != nil {
			out <- Result{Job: job, Err: err}
			return
		}
		defer w.sem.Release(1)
		out <- Result{Job: job, OK: job.Verify()}
	}()
	return out
}
