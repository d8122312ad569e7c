package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/Luismorlan/utxo_chain/utils"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStores(t *testing.T) map[string]Store {
	sqlStore, err := NewSQLStore(ulogger.TestLogger{}, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(ulogger.TestLogger{}),
		"sqlite": sqlStore,
	}
}

func incentiveTx(owner string, amount uint64, ts int64) *model.Transaction {
	tx := &model.Transaction{Type: model.INCENTIVE, Amount: amount, Payee: owner, Timestamp: ts}
	tx.Hash = utils.GetTransactionHash(tx)
	utils.AddOutput(tx, amount, owner)
	return tx
}

func spendTx(spend model.TransactionOutput, payee string, amount uint64, change string, ts int64) *model.Transaction {
	tx := &model.Transaction{Type: model.NORMAL, Amount: spend.Amount, Payee: payee, Timestamp: ts}
	tx.Hash = utils.GetTransactionHash(tx)
	tx.Inputs = []*model.TransactionInput{{Output: spend}}
	utils.AddOutput(tx, amount, payee)
	if spend.Amount > amount {
		utils.AddOutput(tx, spend.Amount-amount, change)
	}
	return tx
}

func testBlock(height uint64, txs ...*model.Transaction) *model.Block {
	return &model.Block{
		Hash:         chainhash.HashH([]byte(fmt.Sprintf("block-%d", height))),
		PrevHash:     chainhash.HashH([]byte(fmt.Sprintf("block-%d", height-1))),
		Height:       height,
		Transactions: txs,
	}
}

func commit(ctx context.Context, s Store, b *model.Block) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.CommitBlock(b)
	})
}

func utxosOf(t *testing.T, s Store, address string) []model.TransactionOutput {
	var utxos []model.TransactionOutput
	require.NoError(t, s.View(context.Background(), func(tx Tx) error {
		var err error
		utxos, err = tx.GetUTXOs(address)
		return err
	}))
	return utxos
}

func TestEmptyStore(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.View(context.Background(), func(tx Tx) error {
				_, err := tx.GetTail()
				return err
			})
			assert.True(t, errors.Is(err, errors.ErrBlockNotFound))
			assert.Empty(t, utxosOf(t, s, "nobody"))
		})
	}
}

func TestCommitGenesisAndSpend(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			reward := incentiveTx("A", 8, 1)
			genesis := testBlock(0, reward)
			require.NoError(t, commit(ctx, s, genesis))

			require.Equal(t, []model.TransactionOutput{*reward.Outputs[0]}, utxosOf(t, s, "A"))

			pay := spendTx(*reward.Outputs[0], "B", 3, "C", 2)
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				return tx.AddToMempool(pay)
			}))

			next := testBlock(1, pay, incentiveTx("A", 50, 3))
			require.NoError(t, commit(ctx, s, next))

			require.NoError(t, s.View(ctx, func(tx Tx) error {
				tail, err := tx.GetTail()
				require.NoError(t, err)
				assert.Equal(t, next.Hash, tail.Hash)
				assert.Equal(t, uint64(1), tail.Height)

				hash, err := tx.GetBlockHashByHeight(0)
				require.NoError(t, err)
				assert.Equal(t, genesis.Hash, hash)

				b, err := tx.GetBlockByHash(genesis.Hash)
				require.NoError(t, err)
				assert.Equal(t, reward.Hash, b.Transactions[0].Hash)

				stored, err := tx.GetTransaction(pay.Hash)
				require.NoError(t, err)
				assert.Equal(t, pay.Outputs, stored.Outputs)

				inPool, err := tx.MempoolContains(pay.Hash)
				require.NoError(t, err)
				assert.False(t, inPool)

				spent, err := tx.HasUTXO(*reward.Outputs[0])
				require.NoError(t, err)
				assert.False(t, spent)

				return nil
			}))

			assert.Len(t, utxosOf(t, s, "A"), 1)
			assert.Equal(t, uint64(3), utxosOf(t, s, "B")[0].Amount)
			assert.Equal(t, uint64(5), utxosOf(t, s, "C")[0].Amount)

			total, err := Balance(ctx, s, []string{"A", "B", "C"})
			require.NoError(t, err)
			assert.Equal(t, uint64(58), total)
		})
	}
}

func TestCommitIsAllOrNothing(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			reward := incentiveTx("A", 10, 1)
			require.NoError(t, commit(ctx, s, testBlock(0, reward)))

			good := spendTx(*reward.Outputs[0], "B", 10, "", 2)
			unknown := model.TransactionOutput{TxHash: chainhash.HashH([]byte("ghost")), Amount: 4, Owner: "A"}
			bad := spendTx(unknown, "B", 4, "", 3)

			err := commit(ctx, s, testBlock(1, good, bad))
			assert.True(t, errors.Is(err, errors.ErrState))

			// Nothing from the failed block is visible.
			assert.Len(t, utxosOf(t, s, "A"), 1)
			assert.Empty(t, utxosOf(t, s, "B"))
			require.NoError(t, s.View(ctx, func(tx Tx) error {
				tail, err := tx.GetTail()
				require.NoError(t, err)
				assert.Equal(t, uint64(0), tail.Height)
				_, err = tx.GetTransaction(good.Hash)
				assert.True(t, errors.Is(err, errors.ErrTxNotFound))
				return nil
			}))
		})
	}
}

func TestCommitTwiceIsRejected(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			genesis := testBlock(0, incentiveTx("A", 50, 1))

			require.NoError(t, commit(ctx, s, genesis))
			assert.True(t, errors.Is(commit(ctx, s, genesis), errors.ErrBlockExists))
			assert.Len(t, utxosOf(t, s, "A"), 1)
		})
	}
}

func TestMempool(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			late := incentiveTx("X", 1, 30)
			early := incentiveTx("Y", 1, 10)
			middle := incentiveTx("Z", 1, 20)

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				for _, mtx := range []*model.Transaction{late, early, middle} {
					if err := tx.AddToMempool(mtx); err != nil {
						return err
					}
				}
				return nil
			}))

			err := s.Update(ctx, func(tx Tx) error {
				return tx.AddToMempool(early)
			})
			assert.True(t, errors.Is(err, errors.ErrTxAlreadyExists))

			err = s.View(ctx, func(tx Tx) error {
				return tx.AddToMempool(incentiveTx("W", 1, 1))
			})
			assert.True(t, errors.Is(err, errors.ErrState))

			require.NoError(t, s.View(ctx, func(tx Tx) error {
				all, err := tx.GetMempool(0)
				require.NoError(t, err)
				require.Len(t, all, 3)
				assert.Equal(t, early.Hash, all[0].Hash)
				assert.Equal(t, middle.Hash, all[1].Hash)
				assert.Equal(t, late.Hash, all[2].Hash)

				two, err := tx.GetMempool(2)
				require.NoError(t, err)
				assert.Len(t, two, 2)
				return nil
			}))

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				removed, err := tx.RemoveFromMempool(middle.Hash)
				require.NoError(t, err)
				assert.True(t, removed)

				removed, err = tx.RemoveFromMempool(middle.Hash)
				require.NoError(t, err)
				assert.False(t, removed)

				rest, err := tx.GetMempool(0)
				require.NoError(t, err)
				assert.Len(t, rest, 2)
				return nil
			}))
		})
	}
}

func TestUTXOInsertionOrder(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var want []model.TransactionOutput
			for h := uint64(0); h < 5; h++ {
				reward := incentiveTx("A", 10+h, int64(h))
				require.NoError(t, commit(ctx, s, testBlock(h, reward)))
				want = append(want, *reward.Outputs[0])
			}

			assert.Equal(t, want, utxosOf(t, s, "A"))
		})
	}
}

func TestConcurrentReadersDuringCommits(t *testing.T) {
	s := NewMemoryStore(ulogger.TestLogger{})
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				total, err := Balance(ctx, s, []string{"A"})
				assert.NoError(t, err)
				// Every committed block adds exactly 10.
				assert.Equal(t, uint64(0), total%10)
			}
		}()
	}

	for h := uint64(0); h < 50; h++ {
		require.NoError(t, commit(ctx, s, testBlock(h, incentiveTx("A", 10, int64(h)))))
	}
	close(stop)
	wg.Wait()

	total, err := Balance(ctx, s, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, uint64(500), total)
}

func TestReturnedBlocksAreCopies(t *testing.T) {
	s := NewMemoryStore(ulogger.TestLogger{})
	ctx := context.Background()
	require.NoError(t, commit(ctx, s, testBlock(0, incentiveTx("A", 50, 1))))

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		tail, err := tx.GetTail()
		require.NoError(t, err)
		tail.Transactions[0].Outputs[0].Amount = 1000
		return nil
	}))

	assert.Equal(t, uint64(50), utxosOf(t, s, "A")[0].Amount)
	require.NoError(t, s.View(ctx, func(tx Tx) error {
		tail, err := tx.GetTail()
		require.NoError(t, err)
		assert.Equal(t, uint64(50), tail.Transactions[0].Outputs[0].Amount)
		return nil
	}))
}

func TestCanceledContext(t *testing.T) {
	s := NewMemoryStore(ulogger.TestLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.View(ctx, func(tx Tx) error { return nil })
	assert.True(t, errors.Is(err, errors.ErrContextCanceled))
}

func TestCloneReportsFailures(t *testing.T) {
	_, err := cloneBlock(nil)
	assert.True(t, errors.Is(err, errors.ErrProcessing))

	_, err = cloneTransaction(nil)
	assert.True(t, errors.Is(err, errors.ErrProcessing))

	tx := incentiveTx("alice", 50, 1)
	c, err := cloneTransaction(tx)
	require.NoError(t, err)
	assert.Equal(t, tx, c)
	assert.NotSame(t, tx.Outputs[0], c.Outputs[0])
}
