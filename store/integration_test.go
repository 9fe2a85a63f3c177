package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/dashpay/llmq/bls"
	"github.com/dashpay/llmq/chain"
	"github.com/dashpay/llmq/config"
	"github.com/dashpay/llmq/coordinator"
	"github.com/dashpay/llmq/log/testlogger"
	"github.com/dashpay/llmq/member"
	"github.com/dashpay/llmq/params"
	"github.com/dashpay/llmq/scheduler"
	"github.com/dashpay/llmq/store"
	"github.com/dashpay/llmq/wire"
)

// buildNodes assembles n in-process nodes sharing one fake chain, one
// registry, and one loopback network, each driven by its own Coordinator,
// against in-memory doubles rather than a real blockchain or socket.
func buildNodes(t *testing.T, n, threshold int) ([]*coordinator.Coordinator, chan []byte, *store.Chain) {
	t.Helper()

	scheme := bls.NewScheme()
	candidates := make([]member.Candidate, n)
	privKeys := make([]kyber.Scalar, n)
	for i := 0; i < n; i++ {
		priv := scheme.SigGroup.Scalar().Pick(random.New())
		pub := scheme.SigGroup.Point().Mul(priv, nil)
		pubBytes, err := pub.MarshalBinary()
		require.NoError(t, err)

		var id member.ID
		id[0] = byte(i + 1)
		candidates[i] = member.Candidate{
			ProTxHash:   id,
			OperatorKey: pubBytes,
			Addr:        fmt.Sprintf("node-%d", i),
		}
		privKeys[i] = priv
	}

	p := params.QuorumParams{
		TypeID:            1,
		Name:              "test",
		Size:              n,
		MinSize:           n,
		Threshold:         threshold,
		DKGInterval:       4,
		DKGPhaseBlocks:    2,
		BadVotesThreshold: 1,
	}

	fakeChain := store.NewChain()
	registry := &store.Registry{Candidates: candidates}
	network := store.NewNetwork()

	finalized := make(chan []byte, n)

	coords := make([]*coordinator.Coordinator, n)
	for i := 0; i < n; i++ {
		l := testlogger.New(t)
		conns := store.NewConnections()
		scorer := store.NewScorer()

		c := coordinator.New(nil, coordinator.Deps{
			Log:         l,
			Chain:       fakeChain,
			Registry:    registry,
			Connections: conns,
			Broadcaster: network.BroadcasterFor(candidates[i].Addr),
			Codec:       wire.NewJSONCodec(),
			Scheme:      scheme,
			Scorer:      scorer,
			Identity: scheduler.Identity{
				ProTxHash:  candidates[i].ProTxHash,
				PrivateKey: privKeys[i],
			},
			Sporks:        params.StaticSporks{},
			BlockInterval: 5 * time.Millisecond,
			OnFinalized: func(_ params.QuorumType, _ chain.BaseBlock, sig []byte) {
				finalized <- sig
			},
		}, []params.QuorumParams{p})

		network.Register(candidates[i].Addr, c.Dispatch)
		coords[i] = c
	}

	return coords, finalized, fakeChain
}

func TestEndToEndThreeOfThreeFinalizes(t *testing.T) {
	coords, finalized, fakeChain := buildNodes(t, 3, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, c := range coords {
		c.Start(ctx)
		defer c.Stop()
	}

	tip, err := fakeChain.Tip(ctx)
	require.NoError(t, err)
	for _, c := range coords {
		c.UpdatedBlockTip(tip)
	}

	// Drive the fake chain forward so each phase window closes; the
	// scheduler's own gating is height-based, this only supplies new tips.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			time.Sleep(40 * time.Millisecond)
			newTip := fakeChain.Extend(1)
			for _, c := range coords {
				c.UpdatedBlockTip(newTip)
			}
		}
	}()

	sigs := 0
	timeout := time.After(5 * time.Second)
	for sigs < 3 {
		select {
		case sig := <-finalized:
			require.NotEmpty(t, sig)
			sigs++
		case <-timeout:
			t.Fatalf("only %d of 3 nodes finalized before timeout", sigs)
		}
	}
	<-done
}

func allIdle(coords []*coordinator.Coordinator) bool {
	for _, c := range coords {
		for _, st := range c.CurrentPhaseAndQuorum() {
			if st.Phase != "idle" {
				return false
			}
		}
	}
	return true
}

// Once the base block falls off the active chain the session is destroyed,
// buffers are cleared, and no commitment is ever produced for the abandoned
// quorum.
func TestMidRoundReorgAbortsSessionWithoutCommitment(t *testing.T) {
	coords, finalized, fakeChain := buildNodes(t, 3, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, c := range coords {
		c.Start(ctx)
		defer c.Stop()
	}

	// Genesis (height 0) is itself an interval boundary: pushing it starts a
	// session anchored there.
	tip, err := fakeChain.Tip(ctx)
	require.NoError(t, err)
	for _, c := range coords {
		c.UpdatedBlockTip(tip)
	}

	require.Eventually(t, func() bool { return !allIdle(coords) },
		2*time.Second, 10*time.Millisecond, "a session must start at the boundary")

	// Fork below the base block. The new tip is not a boundary, so no new
	// session can start either.
	newTip := fakeChain.Reorg(0, 1)
	for _, c := range coords {
		c.UpdatedBlockTip(newTip)
	}

	require.Eventually(t, func() bool { return allIdle(coords) },
		2*time.Second, 10*time.Millisecond, "every scheduler must abort back to idle")

	select {
	case <-finalized:
		t.Fatal("no commitment may be emitted for the abandoned quorum")
	case <-time.After(300 * time.Millisecond):
	}
}

// A non-member with watch_quorums enabled declares exactly one
// deterministic connection into the quorum and never creates a session.
func TestWatchModeDeclaresSingleConnection(t *testing.T) {
	scheme := bls.NewScheme()

	const n = 3
	candidates := make([]member.Candidate, n)
	for i := 0; i < n; i++ {
		priv := scheme.SigGroup.Scalar().Pick(random.New())
		pub := scheme.SigGroup.Point().Mul(priv, nil)
		pubBytes, err := pub.MarshalBinary()
		require.NoError(t, err)

		var id member.ID
		id[0] = byte(i + 1)
		candidates[i] = member.Candidate{ProTxHash: id, OperatorKey: pubBytes, Addr: fmt.Sprintf("node-%d", i)}
	}

	p := params.QuorumParams{
		TypeID:            1,
		Name:              "test",
		Size:              n,
		MinSize:           n,
		Threshold:         2,
		DKGInterval:       4,
		DKGPhaseBlocks:    2,
		BadVotesThreshold: 1,
	}

	fakeChain := store.NewChain()
	registry := &store.Registry{Candidates: candidates}
	network := store.NewNetwork()
	conns := store.NewConnections()

	var watcherID member.ID
	watcherID[0] = 0xEE
	watcherPriv := scheme.SigGroup.Scalar().Pick(random.New())

	cfg := &config.Config{WatchQuorums: true}
	c := coordinator.New(cfg, coordinator.Deps{
		Log:         testlogger.New(t),
		Chain:       fakeChain,
		Registry:    registry,
		Connections: conns,
		Broadcaster: network.BroadcasterFor("watcher"),
		Codec:       wire.NewJSONCodec(),
		Scheme:      scheme,
		Scorer:      store.NewScorer(),
		Identity: scheduler.Identity{
			ProTxHash:  watcherID,
			PrivateKey: watcherPriv,
		},
		Sporks:        params.StaticSporks{},
		BlockInterval: 5 * time.Millisecond,
		OnFinalized: func(_ params.QuorumType, _ chain.BaseBlock, _ []byte) {
			t.Error("a watcher must never emit a commitment")
		},
	}, []params.QuorumParams{p})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	tip, err := fakeChain.Tip(ctx)
	require.NoError(t, err)
	c.UpdatedBlockTip(tip)

	require.Eventually(t, func() bool { return len(conns.QuorumSets()) == 1 },
		2*time.Second, 10*time.Millisecond, "the watcher must declare into exactly one quorum")

	for _, declared := range conns.QuorumSets() {
		require.Len(t, declared, 1, "watch mode declares exactly one connection")
		require.Contains(t, []member.ID{candidates[0].ProTxHash, candidates[1].ProTxHash, candidates[2].ProTxHash}, declared[0])
	}
	require.Empty(t, conns.RelaySets(), "a watcher has no relay set")

	require.Eventually(t, func() bool { return allIdle([]*coordinator.Coordinator{c}) },
		2*time.Second, 10*time.Millisecond, "the watcher returns to idle with no session")
}
