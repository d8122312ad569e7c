package visualize

import (
	"bytes"
	"context"
	"testing"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/utils"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	blocks []*model.Block
}

func (f *fakeChain) GetTailBlock(context.Context) (*model.Block, error) {
	if len(f.blocks) == 0 {
		return nil, errors.NewBlockNotFoundError("empty chain")
	}
	return f.blocks[len(f.blocks)-1], nil
}

func (f *fakeChain) GetBlockByHeight(_ context.Context, height uint64) (*model.Block, error) {
	if height >= uint64(len(f.blocks)) {
		return nil, errors.NewBlockNotFoundError("no block at %d", height)
	}
	return f.blocks[height], nil
}

func newFakeChain(n int) *fakeChain {
	f := &fakeChain{}

	var prev *model.Block
	for i := 0; i < n; i++ {
		b := utils.NewCandidateBlock(prev, []*model.Transaction{utils.CreateIncentiveTx(50, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT")}, int64(i))
		b.Hash = chainhash.HashH([]byte{byte(i)})
		f.blocks = append(f.blocks, b)
		prev = b
	}

	return f
}

func TestShortenString(t *testing.T) {
	assert.Equal(t, "abc", shortenString("abc"))
	assert.Equal(t, "abc...ghi", shortenString("abcdefghi"))
}

func TestLastBlocks(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(5)

	blocks, err := LastBlocks(ctx, chain, 2)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(2), blocks[0].Height)
	assert.Equal(t, uint64(4), blocks[2].Height)

	blocks, err = LastBlocks(ctx, chain, 100)
	require.NoError(t, err)
	assert.Len(t, blocks, 5)

	blocks, err = LastBlocks(ctx, chain, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint64(4), blocks[0].Height)

	_, err = LastBlocks(ctx, chain, -1)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, err = LastBlocks(ctx, &fakeChain{}, 3)
	assert.True(t, errors.Is(err, errors.ErrBlockNotFound))
}

func TestBuildChain(t *testing.T) {
	chain := newFakeChain(3)

	root := buildChain(chain.blocks)
	require.NotNil(t, root)
	assert.Equal(t, uint64(0), root.height)
	require.NotNil(t, root.child)
	require.NotNil(t, root.child.child)
	assert.Equal(t, uint64(2), root.child.child.height)
	assert.Nil(t, root.child.child.child)
	assert.Equal(t, "INCENTIVE", root.txs[0].txType)

	assert.Nil(t, buildChain(nil))
}

func TestRender(t *testing.T) {
	chain := newFakeChain(2)

	buf := &bytes.Buffer{}
	Render(buf, chain.blocks)
	assert.Contains(t, buf.String(), "digraph")

	buf.Reset()
	Render(buf, nil)
	assert.Empty(t, buf.String())
}
