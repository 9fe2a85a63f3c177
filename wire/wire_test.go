package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashpay/llmq/wire"
)

func TestJSONCodecRoundTripsContribution(t *testing.T) {
	codec := wire.NewJSONCodec()
	want := wire.Contribution{
		QuorumHash:      [32]byte{0x01},
		SenderIndex:     3,
		VerificationVec: [][]byte{{0xAA}, {0xBB}},
		EncryptedShares: [][]byte{{0x01, 0x02}},
	}

	raw, err := codec.Marshal(want)
	require.NoError(t, err)

	got, err := codec.Unmarshal(wire.CommandContribution, raw)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestJSONCodecRoundTripsPrematureCommitment(t *testing.T) {
	codec := wire.NewJSONCodec()
	want := wire.PrematureCommitment{
		QuorumHash:      [32]byte{0x02},
		SenderIndex:     1,
		ValidBitset:     []bool{true, false, true},
		AggregatePubKey: []byte{0xCC},
		PartialSig:      []byte{0xDD},
	}

	raw, err := codec.Marshal(want)
	require.NoError(t, err)

	got, err := codec.Unmarshal(wire.CommandPrematureCommitment, raw)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	sealed, err := wire.SealEnvelope([]byte("payload"), []byte("sig"))
	require.NoError(t, err)

	payload, sig, err := wire.OpenEnvelope(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), payload)
	require.Equal(t, []byte("sig"), sig)
}

func TestOpenEnvelopeRejectsGarbage(t *testing.T) {
	_, _, err := wire.OpenEnvelope([]byte("garbage"))
	require.Error(t, err)
}

func TestUnmarshalUnknownTagErrors(t *testing.T) {
	codec := wire.NewJSONCodec()
	_, err := codec.Unmarshal(wire.CommandTag("bogus"), []byte("{}"))
	require.Error(t, err)
}
