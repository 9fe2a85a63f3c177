package coordinator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashpay/llmq/bls"
	"github.com/dashpay/llmq/coordinator"
	"github.com/dashpay/llmq/log/testlogger"
	"github.com/dashpay/llmq/params"
	"github.com/dashpay/llmq/store"
	"github.com/dashpay/llmq/wire"
)

func buildCoordinator(t *testing.T, quorums []params.QuorumParams) *coordinator.Coordinator {
	t.Helper()
	return coordinator.New(nil, coordinator.Deps{
		Log:         testlogger.New(t),
		Chain:       store.NewChain(),
		Registry:    &store.Registry{},
		Connections: store.NewConnections(),
		Broadcaster: store.NewNetwork().BroadcasterFor("self"),
		Codec:       wire.NewJSONCodec(),
		Scheme:      bls.NewScheme(),
		Scorer:      store.NewScorer(),
		Sporks:      params.StaticSporks{},
	}, quorums)
}

func TestCurrentPhaseAndQuorumListsEveryConfiguredType(t *testing.T) {
	quorums := []params.QuorumParams{
		{TypeID: 1, Name: "llmq_3_2", Size: 3, MinSize: 2, Threshold: 2, DKGInterval: 24, DKGPhaseBlocks: 2},
		{TypeID: 2, Name: "llmq_5_3", Size: 5, MinSize: 3, Threshold: 3, DKGInterval: 48, DKGPhaseBlocks: 4},
	}
	c := buildCoordinator(t, quorums)

	statuses := c.CurrentPhaseAndQuorum()
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		require.Equal(t, "idle", st.Phase)
		require.Empty(t, st.QuorumHash, "idle schedulers expose no quorum hash")
	}
}

func TestDispatchUnknownTagIsIgnored(t *testing.T) {
	quorums := []params.QuorumParams{
		{TypeID: 1, Name: "llmq_3_2", Size: 3, MinSize: 2, Threshold: 2, DKGInterval: 24, DKGPhaseBlocks: 2},
	}
	c := buildCoordinator(t, quorums)

	err := c.Dispatch(context.Background(), "peer", wire.CommandTag("bogus"), []byte("payload"))
	require.NoError(t, err)
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	quorums := []params.QuorumParams{
		{TypeID: 1, Name: "llmq_3_2", Size: 3, MinSize: 2, Threshold: 2, DKGInterval: 24, DKGPhaseBlocks: 2},
	}
	c := buildCoordinator(t, quorums)
	c.Stop()
}
