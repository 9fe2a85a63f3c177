package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashpay/llmq/chain"
	"github.com/dashpay/llmq/member"
	"github.com/dashpay/llmq/store"
)

func TestChainReorgInvalidatesOldAncestor(t *testing.T) {
	ctx := context.Background()
	c := store.NewChain()
	c.Extend(10)

	old, err := c.Ancestor(ctx, chain.BaseBlock{}, 5)
	require.NoError(t, err)

	onChain, err := c.IsOnActiveChain(ctx, old)
	require.NoError(t, err)
	require.True(t, onChain)

	c.Reorg(3, 12)

	onChain, err = c.IsOnActiveChain(ctx, old)
	require.NoError(t, err)
	require.False(t, onChain, "block 5 on the old fork must no longer be active after a reorg below it")
}

func TestRegistryMembersAtReturnsCopy(t *testing.T) {
	ctx := context.Background()
	var id member.ID
	id[0] = 7
	r := &store.Registry{Candidates: []member.Candidate{{ProTxHash: id}}}

	got, err := r.MembersAt(ctx, chain.BaseBlock{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got[0].ProTxHash[0] = 0xFF
	again, err := r.MembersAt(ctx, chain.BaseBlock{})
	require.NoError(t, err)
	require.Equal(t, byte(7), again[0].ProTxHash[0], "mutating a returned slice must not affect the registry's own copy")
}
