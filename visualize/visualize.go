package visualize

import (
	"context"
	"fmt"
	"io"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/bradleyjkemp/memviz"
)

// BlockSource is the read side of the chain needed to walk back from the tail.
type BlockSource interface {
	GetTailBlock(ctx context.Context) (*model.Block, error)
	GetBlockByHeight(ctx context.Context, height uint64) (*model.Block, error)
}

// Flattened copies of the model, so the graph shows only what matters and short strings.
type input struct {
	prevTxHash string
	index      uint32
	amount     uint64
}

type output struct {
	amount uint64
	owner  string
}

type transaction struct {
	hash    string
	txType  string
	amount  uint64
	payee   string
	inputs  []input
	outputs []output
}

type block struct {
	hash     string
	prevHash string
	height   uint64
	nonce    uint64
	txs      []transaction
	child    *block
}

// Hashes and addresses are too long to render, keep the first and last 3 characters,
// e.g. "abcdefghi" becomes "abc...ghi".
func shortenString(s string) string {
	if len(s) < 9 {
		return s
	}
	return fmt.Sprintf("%s...%s", s[0:3], s[len(s)-3:])
}

func txToTx(tx *model.Transaction) transaction {
	t := transaction{
		hash:   shortenString(tx.Hash.String()),
		txType: tx.Type.String(),
		amount: tx.Amount,
		payee:  shortenString(tx.Payee),
	}

	for _, in := range tx.Inputs {
		t.inputs = append(t.inputs, input{
			prevTxHash: shortenString(in.Output.TxHash.String()),
			index:      in.Output.Index,
			amount:     in.Output.Amount,
		})
	}

	for _, out := range tx.Outputs {
		t.outputs = append(t.outputs, output{amount: out.Amount, owner: shortenString(out.Owner)})
	}

	return t
}

func blockToBlock(b *model.Block) *block {
	n := &block{
		hash:     shortenString(b.Hash.String()),
		prevHash: shortenString(b.PrevHash.String()),
		height:   b.Height,
		nonce:    b.Nonce,
	}

	for _, tx := range b.Transactions {
		n.txs = append(n.txs, txToTx(tx))
	}

	return n
}

// buildChain links the blocks, oldest first, each pointing at its child.
func buildChain(blocks []*model.Block) *block {
	var root, last *block

	for _, b := range blocks {
		n := blockToBlock(b)
		if root == nil {
			root = n
		} else {
			last.child = n
		}
		last = n
	}

	return root
}

// LastBlocks returns the blocks from depth below the tail up to the tail, oldest first.
func LastBlocks(ctx context.Context, src BlockSource, depth int) ([]*model.Block, error) {
	if depth < 0 {
		return nil, errors.NewInvalidArgumentError("depth must not be negative, got %d", depth)
	}

	tail, err := src.GetTailBlock(ctx)
	if err != nil {
		return nil, err
	}

	from := uint64(0)
	if tail.Height > uint64(depth) {
		from = tail.Height - uint64(depth)
	}

	blocks := make([]*model.Block, 0, tail.Height-from+1)
	for h := from; h < tail.Height; h++ {
		b, err := src.GetBlockByHeight(ctx, h)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}

	return append(blocks, tail), nil
}

// Render writes the blocks as a graphviz dot graph to w. Nothing is written for no blocks.
func Render(w io.Writer, blocks []*model.Block) {
	root := buildChain(blocks)
	if root == nil {
		return
	}

	memviz.Map(w, root)
}
