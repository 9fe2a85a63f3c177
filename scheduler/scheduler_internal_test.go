package scheduler

import (
	"context"
	"testing"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/dashpay/llmq/bls"
	"github.com/dashpay/llmq/chain"
	"github.com/dashpay/llmq/log/testlogger"
	"github.com/dashpay/llmq/queue"
	"github.com/dashpay/llmq/wire"
)

func TestJitterFractionIsDeterministicAndBounded(t *testing.T) {
	quorumHash := [32]byte{0x01, 0x02}
	for idx := 0; idx < 8; idx++ {
		a := jitterFraction(quorumHash, idx)
		b := jitterFraction(quorumHash, idx)
		require.Equal(t, a, b)
		require.GreaterOrEqual(t, a, 0.0)
		require.Less(t, a, 1.0)
	}
}

func TestJitterFractionVariesByMemberIndex(t *testing.T) {
	quorumHash := [32]byte{0x09}
	seen := make(map[float64]bool)
	for idx := 0; idx < 5; idx++ {
		seen[jitterFraction(quorumHash, idx)] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestTagForPhaseCoversEveryActivePhase(t *testing.T) {
	cases := map[PhaseState]wire.CommandTag{
		PhaseContribute: wire.CommandContribution,
		PhaseComplain:   wire.CommandComplaint,
		PhaseJustify:    wire.CommandJustification,
		PhaseCommit:     wire.CommandPrematureCommitment,
	}
	for phase, want := range cases {
		require.Equal(t, want, tagForPhase(phase))
	}
	require.Equal(t, wire.CommandTag(""), tagForPhase(PhaseIdle))
}

func TestQuorumHashOfEachMessageType(t *testing.T) {
	qh := [32]byte{0x42}
	msgs := []wire.Message{
		wire.Contribution{QuorumHash: qh},
		wire.Complaint{QuorumHash: qh},
		wire.Justification{QuorumHash: qh},
		wire.PrematureCommitment{QuorumHash: qh},
	}
	for _, m := range msgs {
		got, ok := quorumHashOf(m)
		require.True(t, ok)
		require.Equal(t, qh, got)
	}
}

type recordingScorer struct {
	punished map[string]int
}

func (r *recordingScorer) Punish(_ context.Context, peerID string, score int) {
	r.punished[peerID] += score
}

func buildDecodeFixture(t *testing.T, n int) (*Scheduler, *roundCtx, []kyber.Scalar, *recordingScorer) {
	t.Helper()
	scheme := bls.NewScheme()

	privs := make([]kyber.Scalar, n)
	keys := make([]kyber.Point, n)
	for i := range privs {
		privs[i] = scheme.SigGroup.Scalar().Pick(random.New())
		keys[i] = scheme.SigGroup.Point().Mul(privs[i], nil)
	}

	scorer := &recordingScorer{punished: make(map[string]int)}
	s := New(Deps{
		Log:    testlogger.New(t),
		Codec:  wire.NewJSONCodec(),
		Scheme: scheme,
		Scorer: scorer,
	})
	rc := &roundCtx{
		base:         chain.BaseBlock{Hash: [32]byte{0x7C}, Height: 24},
		operatorKeys: keys,
		myIndex:      0,
		auth:         scheme.DKGAuthScheme(),
	}
	return s, rc, privs, scorer
}

func sealComplaint(t *testing.T, rc *roundCtx, priv kyber.Scalar, c wire.Complaint) []byte {
	t.Helper()
	payload, err := wire.NewJSONCodec().Marshal(c)
	require.NoError(t, err)
	sig, err := rc.auth.Sign(priv, payload)
	require.NoError(t, err)
	sealed, err := wire.SealEnvelope(payload, sig)
	require.NoError(t, err)
	return sealed
}

func TestDecodeAcceptsAuthenticatedSender(t *testing.T) {
	s, rc, privs, scorer := buildDecodeFixture(t, 3)

	c := wire.Complaint{QuorumHash: rc.base.Hash, SenderIndex: 1, AccusedBitset: []bool{false, false, true}}
	sealed := sealComplaint(t, rc, privs[1], c)

	msg, ok := s.decode(rc, wire.CommandComplaint, queue.Item{PeerID: "peer-1", Bytes: sealed})
	require.True(t, ok)
	require.Equal(t, c, msg)
	require.Empty(t, scorer.punished)
}

func TestDecodePunishesForgedSenderIndex(t *testing.T) {
	s, rc, privs, scorer := buildDecodeFixture(t, 3)

	// Signed with member 2's key but claiming member 1's seat.
	c := wire.Complaint{QuorumHash: rc.base.Hash, SenderIndex: 1}
	sealed := sealComplaint(t, rc, privs[2], c)

	_, ok := s.decode(rc, wire.CommandComplaint, queue.Item{PeerID: "peer-2", Bytes: sealed})
	require.False(t, ok)
	require.Positive(t, scorer.punished["peer-2"])
}

func TestDecodeDropsForeignQuorumHashWithoutPunishing(t *testing.T) {
	s, rc, privs, scorer := buildDecodeFixture(t, 3)

	c := wire.Complaint{QuorumHash: [32]byte{0xFF}, SenderIndex: 1}
	sealed := sealComplaint(t, rc, privs[1], c)

	_, ok := s.decode(rc, wire.CommandComplaint, queue.Item{PeerID: "peer-1", Bytes: sealed})
	require.False(t, ok)
	require.Empty(t, scorer.punished)
}

func TestDecodePunishesUndecodableBytes(t *testing.T) {
	s, rc, _, scorer := buildDecodeFixture(t, 3)

	_, ok := s.decode(rc, wire.CommandComplaint, queue.Item{PeerID: "peer-x", Bytes: []byte("not an envelope")})
	require.False(t, ok)
	require.Positive(t, scorer.punished["peer-x"])
}

func TestRoundErrorWrapsKindAndUnwraps(t *testing.T) {
	base := require.New(t)
	err := newRoundError(KindPeerMisbehavior, "bad share from %d", 3)
	base.Equal(KindPeerMisbehavior, err.Kind)
	base.Contains(err.Error(), "peer_misbehavior")
	base.Error(err.Unwrap())
}
