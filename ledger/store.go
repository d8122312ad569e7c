// Package ledger holds the shared chain state: the per-address UTXO sets, the block,
// height and transaction indices, and the mempool.
package ledger

import (
	"context"

	"github.com/Luismorlan/utxo_chain/model"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Tx is a consistent view of the store, valid only inside the View or Update callback
// that produced it.
type Tx interface {
	// GetTail returns errors.ErrBlockNotFound on an empty chain.
	GetTail() (*model.Block, error)
	GetBlockByHash(hash chainhash.Hash) (*model.Block, error)
	GetBlockHashByHeight(height uint64) (chainhash.Hash, error)
	GetTransaction(hash chainhash.Hash) (*model.Transaction, error)

	// HasUTXO reports whether this exact output is unspent.
	HasUTXO(output model.TransactionOutput) (bool, error)
	// GetUTXOs lists the address's unspent outputs in insertion order.
	GetUTXOs(address string) ([]model.TransactionOutput, error)

	// GetMempool returns up to limit transactions, oldest first. limit <= 0 means all.
	GetMempool(limit int) ([]*model.Transaction, error)
	MempoolContains(hash chainhash.Hash) (bool, error)

	// AddToMempool rejects transactions already pooled or committed.
	AddToMempool(tx *model.Transaction) error
	// RemoveFromMempool reports whether the transaction was pooled.
	RemoveFromMempool(hash chainhash.Hash) (bool, error)
	// CommitBlock applies an already validated block: indexes it as the new tail, moves
	// its transactions from the mempool to the transaction index, and spends and creates
	// outputs. Either everything is applied or nothing is.
	CommitBlock(block *model.Block) error
}

// Store serialises access to the ledger. Update callbacks are exclusive, View callbacks
// run concurrently with each other but never with an Update.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Balance sums the unspent outputs of the given addresses in one consistent view.
func Balance(ctx context.Context, s Store, addresses []string) (uint64, error) {
	var total uint64

	err := s.View(ctx, func(tx Tx) error {
		for _, address := range addresses {
			utxos, err := tx.GetUTXOs(address)
			if err != nil {
				return err
			}

			for _, utxo := range utxos {
				total += utxo.Amount
			}
		}

		return nil
	})

	return total, err
}
