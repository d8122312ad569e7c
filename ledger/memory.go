package ledger

import (
	"context"
	"sync"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/Luismorlan/utxo_chain/utils"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dolthub/swiss"
	"github.com/jinzhu/copier"
)

const defaultMapSize = 1024

// outputSet is an insertion ordered set of outputs.
type outputSet struct {
	items []model.TransactionOutput
	index map[model.TransactionOutput]struct{}
}

func newOutputSet() *outputSet {
	return &outputSet{index: make(map[model.TransactionOutput]struct{})}
}

func (s *outputSet) has(o model.TransactionOutput) bool {
	_, ok := s.index[o]
	return ok
}

func (s *outputSet) add(o model.TransactionOutput) {
	if s.has(o) {
		return
	}
	s.index[o] = struct{}{}
	s.items = append(s.items, o)
}

func (s *outputSet) remove(o model.TransactionOutput) {
	if !s.has(o) {
		return
	}
	delete(s.index, o)
	for i := range s.items {
		if s.items[i] == o {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// MemoryStore keeps the ledger in maps behind a single RWMutex.
type MemoryStore struct {
	logger  ulogger.Logger
	mu      sync.RWMutex
	utxos   map[string]*outputSet
	blocks  *swiss.Map[chainhash.Hash, *model.Block]
	heights *swiss.Map[uint64, chainhash.Hash]
	txs     *swiss.Map[chainhash.Hash, *model.Transaction]
	mempool *swiss.Map[chainhash.Hash, *model.Transaction]
	tail    *model.Block
	nUTXOs  int
}

func NewMemoryStore(logger ulogger.Logger) *MemoryStore {
	initPrometheusMetrics()

	return &MemoryStore{
		logger:  logger,
		utxos:   make(map[string]*outputSet),
		blocks:  swiss.NewMap[chainhash.Hash, *model.Block](defaultMapSize),
		heights: swiss.NewMap[uint64, chainhash.Hash](defaultMapSize),
		txs:     swiss.NewMap[chainhash.Hash, *model.Transaction](defaultMapSize),
		mempool: swiss.NewMap[chainhash.Hash, *model.Transaction](defaultMapSize),
	}
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.NewContextCanceledError("view aborted", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memoryTx{s: s})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.NewContextCanceledError("update aborted", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(&memoryTx{s: s, writable: true})
}

func (s *MemoryStore) Close() error {
	return nil
}

// memoryTx reads and writes the store's maps directly; the lock is held by View/Update.
type memoryTx struct {
	s        *MemoryStore
	writable bool
}

// Handed out objects are deep copies so callers can never reach into the store.
func cloneBlock(b *model.Block) (*model.Block, error) {
	if b == nil {
		return nil, errors.NewProcessingError("cannot copy a nil block")
	}

	c := &model.Block{}
	if err := copier.CopyWithOption(c, b, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.NewProcessingError("failed to copy block %s", b.Hash, err)
	}

	return c, nil
}

func cloneTransaction(tx *model.Transaction) (*model.Transaction, error) {
	if tx == nil {
		return nil, errors.NewProcessingError("cannot copy a nil transaction")
	}

	c := &model.Transaction{}
	if err := copier.CopyWithOption(c, tx, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.NewProcessingError("failed to copy transaction %s", tx.Hash, err)
	}

	return c, nil
}

func (t *memoryTx) GetTail() (*model.Block, error) {
	if t.s.tail == nil {
		return nil, errors.NewBlockNotFoundError("chain is empty")
	}
	return cloneBlock(t.s.tail)
}

func (t *memoryTx) GetBlockByHash(hash chainhash.Hash) (*model.Block, error) {
	b, ok := t.s.blocks.Get(hash)
	if !ok {
		return nil, errors.NewBlockNotFoundError("block %s not found", hash)
	}
	return cloneBlock(b)
}

func (t *memoryTx) GetBlockHashByHeight(height uint64) (chainhash.Hash, error) {
	hash, ok := t.s.heights.Get(height)
	if !ok {
		return chainhash.Hash{}, errors.NewBlockNotFoundError("no block at height %d", height)
	}
	return hash, nil
}

func (t *memoryTx) GetTransaction(hash chainhash.Hash) (*model.Transaction, error) {
	tx, ok := t.s.txs.Get(hash)
	if !ok {
		return nil, errors.NewTxNotFoundError("transaction %s not found", hash)
	}
	return cloneTransaction(tx)
}

func (t *memoryTx) HasUTXO(output model.TransactionOutput) (bool, error) {
	set, ok := t.s.utxos[output.Owner]
	return ok && set.has(output), nil
}

func (t *memoryTx) GetUTXOs(address string) ([]model.TransactionOutput, error) {
	set, ok := t.s.utxos[address]
	if !ok {
		return nil, nil
	}

	out := make([]model.TransactionOutput, len(set.items))
	copy(out, set.items)

	return out, nil
}

func (t *memoryTx) GetMempool(limit int) ([]*model.Transaction, error) {
	txs := make([]*model.Transaction, 0, t.s.mempool.Count())
	t.s.mempool.Iter(func(_ chainhash.Hash, tx *model.Transaction) bool {
		txs = append(txs, tx)
		return false
	})

	utils.SortTransactionsByTimestamp(txs)

	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}

	for i := range txs {
		c, err := cloneTransaction(txs[i])
		if err != nil {
			return nil, err
		}
		txs[i] = c
	}

	return txs, nil
}

func (t *memoryTx) MempoolContains(hash chainhash.Hash) (bool, error) {
	return t.s.mempool.Has(hash), nil
}

func (t *memoryTx) AddToMempool(tx *model.Transaction) error {
	if !t.writable {
		return errors.NewStateError("mempool insert outside of an update")
	}

	if t.s.mempool.Has(tx.Hash) || t.s.txs.Has(tx.Hash) {
		return errors.NewTxAlreadyExistsError("transaction %s already known", tx.Hash)
	}

	stored, err := cloneTransaction(tx)
	if err != nil {
		return err
	}

	t.s.mempool.Put(tx.Hash, stored)
	prometheusLedgerMempoolAdds.Inc()

	return nil
}

func (t *memoryTx) RemoveFromMempool(hash chainhash.Hash) (bool, error) {
	if !t.writable {
		return false, errors.NewStateError("mempool removal outside of an update")
	}

	return t.s.mempool.Delete(hash), nil
}

func (t *memoryTx) CommitBlock(block *model.Block) error {
	if !t.writable {
		return errors.NewStateError("commit outside of an update")
	}

	if t.s.blocks.Has(block.Hash) {
		return errors.NewBlockExistsError("block %s already committed", block.Hash)
	}

	if t.s.heights.Has(block.Height) {
		return errors.NewBlockExistsError("height %d already committed", block.Height)
	}

	// Check every spend first so a failure leaves nothing half applied.
	spent := make(map[model.TransactionOutput]struct{})
	seenTxs := make(map[chainhash.Hash]struct{}, len(block.Transactions))
	for _, tx := range block.Transactions {
		if _, dup := seenTxs[tx.Hash]; dup || t.s.txs.Has(tx.Hash) {
			return errors.NewTxAlreadyExistsError("transaction %s already committed", tx.Hash)
		}
		seenTxs[tx.Hash] = struct{}{}

		if tx.Type != model.NORMAL {
			continue
		}

		for _, in := range tx.Inputs {
			set, ok := t.s.utxos[in.Output.Owner]
			if !ok || !set.has(in.Output) {
				return errors.NewStateError("output %s:%d is not spendable", in.Output.TxHash, in.Output.Index)
			}

			if _, dup := spent[in.Output]; dup {
				return errors.NewStateError("output %s:%d spent twice", in.Output.TxHash, in.Output.Index)
			}
			spent[in.Output] = struct{}{}
		}
	}

	stored, err := cloneBlock(block)
	if err != nil {
		return err
	}

	t.s.blocks.Put(stored.Hash, stored)
	t.s.heights.Put(stored.Height, stored.Hash)
	t.s.tail = stored

	for _, tx := range stored.Transactions {
		t.s.mempool.Delete(tx.Hash)
		t.s.txs.Put(tx.Hash, tx)

		if tx.Type == model.NORMAL {
			for _, in := range tx.Inputs {
				t.s.utxos[in.Output.Owner].remove(in.Output)
				t.s.nUTXOs--
			}
		}

		for _, out := range tx.Outputs {
			set, ok := t.s.utxos[out.Owner]
			if !ok {
				set = newOutputSet()
				t.s.utxos[out.Owner] = set
			}
			set.add(*out)
			t.s.nUTXOs++
		}
	}

	prometheusLedgerCommits.Inc()
	prometheusLedgerUTXOs.WithLabelValues("memory").Set(float64(t.s.nUTXOs))
	t.s.logger.Debugf("[MemoryStore] committed block %s at height %d with %d transactions", stored.Hash, stored.Height, len(stored.Transactions))

	return nil
}
