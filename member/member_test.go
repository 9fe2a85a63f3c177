package member_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashpay/llmq/chain"
	"github.com/dashpay/llmq/log/testlogger"
	"github.com/dashpay/llmq/member"
	"github.com/dashpay/llmq/params"
)

type fakeRegistry struct {
	candidates []member.Candidate
}

func (f *fakeRegistry) MembersAt(_ context.Context, _ chain.BaseBlock) ([]member.Candidate, error) {
	out := make([]member.Candidate, len(f.candidates))
	copy(out, f.candidates)
	return out, nil
}

func makeCandidates(n int) []member.Candidate {
	out := make([]member.Candidate, n)
	for i := 0; i < n; i++ {
		var pro, confirmed [32]byte
		pro[0] = byte(i)
		pro[1] = byte(i >> 8)
		confirmed[0] = byte(i + 1)
		out[i] = member.Candidate{
			ProTxHash:              pro,
			ConfirmedHashWithProTx: confirmed,
			Addr:                   "10.0.0.1:9999",
		}
	}
	return out
}

func TestMembersForIsDeterministic(t *testing.T) {
	registry := &fakeRegistry{candidates: makeCandidates(20)}
	l := testlogger.New(t)

	p := params.QuorumParams{TypeID: 1, Size: 5, MinSize: 3}
	base := chain.BaseBlock{Height: 100, Hash: [32]byte{0xAB, 0xCD}}

	c1 := member.NewCalculator(registry, 8, l)
	c2 := member.NewCalculator(registry, 8, l)

	got1, err := c1.MembersFor(context.Background(), p, base)
	require.NoError(t, err)
	got2, err := c2.MembersFor(context.Background(), p, base)
	require.NoError(t, err)

	require.Equal(t, got1, got2)
	require.Len(t, got1, 5)
}

func TestMembersForDiffersByBase(t *testing.T) {
	registry := &fakeRegistry{candidates: makeCandidates(20)}
	l := testlogger.New(t)
	p := params.QuorumParams{TypeID: 1, Size: 5, MinSize: 3}

	calc := member.NewCalculator(registry, 8, l)

	base1 := chain.BaseBlock{Height: 100, Hash: [32]byte{0x01}}
	base2 := chain.BaseBlock{Height: 200, Hash: [32]byte{0x02}}

	got1, err := calc.MembersFor(context.Background(), p, base1)
	require.NoError(t, err)
	got2, err := calc.MembersFor(context.Background(), p, base2)
	require.NoError(t, err)

	require.NotEqual(t, got1.Hash(), got2.Hash())
}

func TestMembersForBelowMinSizeReturnsShortList(t *testing.T) {
	registry := &fakeRegistry{candidates: makeCandidates(2)}
	l := testlogger.New(t)
	p := params.QuorumParams{TypeID: 1, Size: 5, MinSize: 3}
	base := chain.BaseBlock{Height: 10, Hash: [32]byte{0x09}}

	calc := member.NewCalculator(registry, 8, l)
	got, err := calc.MembersFor(context.Background(), p, base)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestMembersForCachesResult(t *testing.T) {
	registry := &fakeRegistry{candidates: makeCandidates(10)}
	l := testlogger.New(t)
	p := params.QuorumParams{TypeID: 2, Size: 4, MinSize: 2}
	base := chain.BaseBlock{Height: 50, Hash: [32]byte{0x11}}

	calc := member.NewCalculator(registry, 8, l)
	first, err := calc.MembersFor(context.Background(), p, base)
	require.NoError(t, err)

	registry.candidates = makeCandidates(3)
	second, err := calc.MembersFor(context.Background(), p, base)
	require.NoError(t, err)

	require.Equal(t, first, second)
}
