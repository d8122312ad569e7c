package blockchain

import (
	"context"
	"math/big"
	"time"

	"github.com/Luismorlan/utxo_chain/config"
	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/ledger"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/Luismorlan/utxo_chain/utils"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Wallet is what genesis creation needs from the bootstrap wallet.
type Wallet interface {
	NewAccount() (*model.Account, error)
	GenIncentive(account *model.Account) *model.Transaction
}

// Blockchain validates candidate blocks and commits the accepted ones to its store. It
// owns the store for its whole lifetime.
type Blockchain struct {
	logger ulogger.Logger
	store  ledger.Store
	target *big.Int
	reward uint64
}

func New(logger ulogger.Logger, store ledger.Store, c config.AppConfig) *Blockchain {
	initPrometheusMetrics()

	return &Blockchain{
		logger: logger,
		store:  store,
		target: utils.GetTarget(c.Difficulty),
		reward: c.IncentiveReward,
	}
}

func (b *Blockchain) Store() ledger.Store {
	return b.store
}

// Target returns a copy of the proof of work target.
func (b *Blockchain) Target() *big.Int {
	return new(big.Int).Set(b.target)
}

func (b *Blockchain) Reward() uint64 {
	return b.reward
}

func (b *Blockchain) Close() error {
	return b.store.Close()
}

// AddBlock validates candidate against the current tail and commits it. Validation and
// commit run in one exclusive store update, so a rejected block changes nothing and two
// blocks racing for the same height cannot both be accepted.
func (b *Blockchain) AddBlock(ctx context.Context, candidate *model.Block) error {
	start := time.Now()

	var reason string

	err := b.store.Update(ctx, func(tx ledger.Tx) error {
		var err error
		if reason, err = validateBlock(tx, candidate, b.target, b.reward); err != nil {
			return err
		}

		if err = tx.CommitBlock(candidate); err != nil {
			reason = reasonCommit
			return err
		}

		return nil
	})

	prometheusChainAddBlock.Observe(time.Since(start).Seconds())

	if err != nil {
		// A failing store says nothing about the block.
		if errors.Is(err, errors.ErrStorage) {
			b.logger.Errorf("[AddBlock][%s] store failed at height %d: %v", candidate.Hash, candidate.Height, err)
			return err
		}

		if reason == "" {
			reason = reasonCommit
		}

		prometheusChainBlocksRejected.WithLabelValues(reason).Inc()
		b.logger.Warnf("[AddBlock][%s] block at height %d rejected (%s): %v", candidate.Hash, candidate.Height, reason, err)

		if errors.Is(err, errors.ErrBlockInvalid) {
			return err
		}

		return errors.NewBlockInvalidError("block %s rejected", candidate.Hash, err)
	}

	prometheusChainBlocksAccepted.Inc()
	prometheusChainHeight.Set(float64(candidate.Height))
	b.logger.Infof("[AddBlock][%s] accepted block at height %d with %d transactions", candidate.Hash, candidate.Height, len(candidate.Transactions))

	return nil
}

// CreateGenesisBlock mints the first incentive to a fresh account of w and commits it at
// height 0. It fails if the chain already has a block.
func (b *Blockchain) CreateGenesisBlock(ctx context.Context, w Wallet) (*model.Block, error) {
	if _, err := b.GetTailBlock(ctx); err == nil {
		return nil, errors.NewBlockExistsError("genesis block already exists")
	} else if !errors.Is(err, errors.ErrBlockNotFound) {
		return nil, err
	}

	account, err := w.NewAccount()
	if err != nil {
		return nil, err
	}

	genesis := utils.NewCandidateBlock(nil, []*model.Transaction{w.GenIncentive(account)}, time.Now().UnixNano())

	if _, err = utils.Mine(ctx, genesis, b.target); err != nil {
		return nil, err
	}

	if err = b.AddBlock(ctx, genesis); err != nil {
		return nil, err
	}

	return genesis, nil
}

// SubmitTransaction puts tx in the mempool. Full validation happens when a block
// carrying it is added.
func (b *Blockchain) SubmitTransaction(ctx context.Context, tx *model.Transaction) error {
	// Rewards are minted by miners inside their own blocks, never pooled.
	if tx.Type != model.NORMAL {
		return errors.NewTxInvalidError("only normal transactions enter the mempool, got %s", tx.Type)
	}

	if hash := utils.GetTransactionHash(tx); hash != tx.Hash {
		return errors.NewTxInvalidError("transaction hash %s does not match computed hash %s", tx.Hash, hash)
	}

	if err := b.store.Update(ctx, func(ltx ledger.Tx) error {
		return ltx.AddToMempool(tx)
	}); err != nil {
		return err
	}

	b.logger.Debugf("[SubmitTransaction][%s] added %s transaction of %d to mempool", tx.Hash, tx.Type, tx.Amount)

	return nil
}

func (b *Blockchain) GetTailBlock(ctx context.Context) (*model.Block, error) {
	var block *model.Block

	err := b.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		block, err = tx.GetTail()
		return err
	})

	return block, err
}

// Height returns the tail height, or ErrBlockNotFound on an empty chain.
func (b *Blockchain) Height(ctx context.Context) (uint64, error) {
	tail, err := b.GetTailBlock(ctx)
	if err != nil {
		return 0, err
	}

	return tail.Height, nil
}

func (b *Blockchain) GetBlockByHash(ctx context.Context, hash chainhash.Hash) (*model.Block, error) {
	var block *model.Block

	err := b.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		block, err = tx.GetBlockByHash(hash)
		return err
	})

	return block, err
}

func (b *Blockchain) GetBlockByHeight(ctx context.Context, height uint64) (*model.Block, error) {
	var block *model.Block

	err := b.store.View(ctx, func(tx ledger.Tx) error {
		hash, err := tx.GetBlockHashByHeight(height)
		if err != nil {
			return err
		}

		block, err = tx.GetBlockByHash(hash)
		return err
	})

	return block, err
}

func (b *Blockchain) GetTransactionByHash(ctx context.Context, hash chainhash.Hash) (*model.Transaction, error) {
	var t *model.Transaction

	err := b.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		t, err = tx.GetTransaction(hash)
		return err
	})

	return t, err
}

// GetMempool returns up to limit pending transactions, oldest first.
func (b *Blockchain) GetMempool(ctx context.Context, limit int) ([]*model.Transaction, error) {
	var txs []*model.Transaction

	err := b.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		txs, err = tx.GetMempool(limit)
		return err
	})

	return txs, err
}

// PruneMempool evicts pending transactions that could never be committed on top of the
// current tail: non normal ones, bad hashes or signatures, spent outputs, or conflicts
// with an older pending transaction. Returns the number evicted.
func (b *Blockchain) PruneMempool(ctx context.Context) (int, error) {
	evicted := 0

	err := b.store.Update(ctx, func(tx ledger.Tx) error {
		pending, err := tx.GetMempool(0)
		if err != nil {
			return err
		}

		seen := make(map[model.TransactionOutput]struct{})
		for _, t := range pending {
			var verr error
			if t.Type != model.NORMAL {
				verr = errors.NewTxInvalidError("%s transaction in mempool", t.Type)
			} else {
				verr = validateTransaction(tx, t, seen, b.reward)
			}

			if verr == nil {
				continue
			}

			if _, err = tx.RemoveFromMempool(t.Hash); err != nil {
				return err
			}

			evicted++
			b.logger.Warnf("[PruneMempool][%s] evicted transaction: %v", t.Hash, verr)
		}

		return nil
	})

	return evicted, err
}
