package connect_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashpay/llmq/connect"
)

func TestRingRelaySetExcludesSelfAndIsBounded(t *testing.T) {
	for n := 2; n <= 200; n++ {
		for i := 0; i < n; i++ {
			set := connect.RingRelaySet(i, n)
			for _, idx := range set {
				require.NotEqual(t, i, idx, "n=%d i=%d", n, i)
				require.GreaterOrEqual(t, idx, 0)
				require.Less(t, idx, n)
			}
			// O(log n) bound with small constant slack.
			require.LessOrEqual(t, len(set), 32)
		}
	}
}

func TestAllConnectedInitiatorIsSymmetric(t *testing.T) {
	const n = 17
	for a := 0; a < n; a++ {
		for b := 0; b < n; b++ {
			if a == b {
				continue
			}
			aInit := connect.Initiator(a, b)
			bInit := connect.Initiator(b, a)
			require.NotEqual(t, aInit, bInit, "pair (%d,%d) must have exactly one initiator", a, b)
		}
	}
}

func TestWatchStateIsDeterministicForSameSeed(t *testing.T) {
	seed := [32]byte{0x42}
	w1 := connect.NewWatchState(seed)
	w2 := connect.NewWatchState(seed)

	base := [32]byte{0x01, 0x02}
	for i := 0; i < 5; i++ {
		a := w1.Next(3, base, 50)
		b := w2.Next(3, base, 50)
		require.Equal(t, a, b)
	}
}

func TestProbeSetFiltersByThreshold(t *testing.T) {
	cands := []connect.ProbeCandidate{
		{SinceLastSuccess: 100},
		{SinceLastSuccess: connect.ProbeThresholdSeconds},
		{SinceLastSuccess: connect.ProbeThresholdSeconds + 1},
	}
	out := connect.ProbeSet(cands)
	require.Len(t, out, 1)
}
