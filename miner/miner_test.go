package miner

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Luismorlan/utxo_chain/blockchain"
	"github.com/Luismorlan/utxo_chain/config"
	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/ledger"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/Luismorlan/utxo_chain/utils"
	"github.com/Luismorlan/utxo_chain/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.AppConfig {
	c := config.NewDefaultAppConfig()
	c.Difficulty = 4
	c.PausePollInterval = 10 * time.Millisecond
	return c
}

// unreachableChain serves a fixed tail and mempool under a target no hash can meet.
// targeted fires right before each nonce search.
type unreachableChain struct {
	tail     *model.Block
	pending  []*model.Transaction
	targeted chan struct{}
}

func newUnreachableChain() *unreachableChain {
	return &unreachableChain{
		tail:     &model.Block{Height: 0},
		pending:  []*model.Transaction{utils.CreateIncentiveTx(1, "someone")},
		targeted: make(chan struct{}, 16),
	}
}

func (c *unreachableChain) GetTailBlock(context.Context) (*model.Block, error) {
	return c.tail, nil
}

func (c *unreachableChain) GetMempool(context.Context, int) ([]*model.Transaction, error) {
	return c.pending, nil
}

func (c *unreachableChain) AddBlock(context.Context, *model.Block) error {
	return errors.NewProcessingError("unreachable")
}

func (c *unreachableChain) PruneMempool(context.Context) (int, error) {
	return 0, nil
}

func (c *unreachableChain) Target() *big.Int {
	select {
	case c.targeted <- struct{}{}:
	default:
	}
	return big.NewInt(0)
}

type nopWallet struct{}

func (nopWallet) GenIncentive(account *model.Account) *model.Transaction {
	return utils.CreateIncentiveTx(1, account.Address)
}
func (nopWallet) AddAccount(*model.Account)  {}
func (nopWallet) RemoveAccount(string) bool { return false }

func runMiner(t *testing.T, m *Miner) chan error {
	done := make(chan error, 1)
	go func() {
		done <- m.Run(context.Background())
	}()
	return done
}

func TestStateTransitions(t *testing.T) {
	m := New(ulogger.TestLogger{}, newUnreachableChain(), nopWallet{}, testConfig())

	assert.NotEmpty(t, m.ID())
	assert.Equal(t, StatePaused, m.State())

	assert.True(t, errors.Is(m.Pause(), errors.ErrState))

	require.NoError(t, m.Start())
	assert.Equal(t, StateActive, m.State())
	assert.True(t, errors.Is(m.Start(), errors.ErrState))

	require.NoError(t, m.Pause())
	assert.Equal(t, StatePaused, m.State())

	require.NoError(t, m.Start())
	require.NoError(t, m.Cancel())
	assert.Equal(t, StateCancelled, m.State())

	// cancelled is terminal
	assert.True(t, errors.Is(m.Start(), errors.ErrState))
	assert.True(t, errors.Is(m.Pause(), errors.ErrState))
	assert.True(t, errors.Is(m.Cancel(), errors.ErrState))
	assert.Equal(t, StateCancelled, m.State())
}

func TestCancelFromPaused(t *testing.T) {
	m := New(ulogger.TestLogger{}, newUnreachableChain(), nopWallet{}, testConfig())
	done := runMiner(t, m)

	require.NoError(t, m.Cancel())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not stop")
	}
}

func TestCancelInterruptsSearch(t *testing.T) {
	chain := newUnreachableChain()
	m := New(ulogger.NewVerboseTestLogger(t), chain, nopWallet{}, testConfig())

	require.NoError(t, m.Start())
	done := runMiner(t, m)

	<-chain.targeted
	require.NoError(t, m.Cancel())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("search was not abandoned")
	}

	assert.Equal(t, StateCancelled, m.State())
	assert.Zero(t, m.BlocksMined())
	assert.Zero(t, m.BlocksRejected())
}

func TestPauseInterruptsSearch(t *testing.T) {
	chain := newUnreachableChain()
	m := New(ulogger.NewVerboseTestLogger(t), chain, nopWallet{}, testConfig())

	require.NoError(t, m.Start())
	done := runMiner(t, m)

	<-chain.targeted
	require.NoError(t, m.Pause())

	// A paused miner starts no new search.
	select {
	case <-chain.targeted:
		t.Fatal("paused miner kept searching")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StatePaused, m.State())

	require.NoError(t, m.Start())
	<-chain.targeted
	require.NoError(t, m.Cancel())
	require.NoError(t, <-done)

	assert.Zero(t, m.BlocksMined())
}

func TestRunStopsWithContext(t *testing.T) {
	m := New(ulogger.TestLogger{}, newUnreachableChain(), nopWallet{}, testConfig())
	require.NoError(t, m.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("miner ignored context")
	}
}

type testNode struct {
	chain   *blockchain.Blockchain
	genesis *wallet.Wallet
}

func newTestNode(t *testing.T) *testNode {
	c := testConfig()
	logger := ulogger.NewVerboseTestLogger(t)
	chain := blockchain.New(logger, ledger.NewMemoryStore(logger), c)

	w := wallet.New(logger, chain.Store(), chain, chain.Reward())
	_, err := chain.CreateGenesisBlock(context.Background(), w)
	require.NoError(t, err)

	return &testNode{chain: chain, genesis: w}
}

func (n *testNode) newMiner(t *testing.T) (*Miner, *wallet.Wallet) {
	logger := ulogger.NewVerboseTestLogger(t)
	w := wallet.New(logger, n.chain.Store(), n.chain, n.chain.Reward())
	return New(logger, n.chain, w, testConfig()), w
}

func TestMinerPacksMempool(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t)
	m, rewards := node.newMiner(t)

	payee, err := utils.GenerateAccount()
	require.NoError(t, err)

	tx, err := node.genesis.Pay(ctx, 10, payee.Address)
	require.NoError(t, err)

	require.NoError(t, m.Start())
	done := runMiner(t, m)

	require.Eventually(t, func() bool {
		got, err := node.chain.GetTransactionByHash(ctx, tx.Hash)
		return err == nil && got.Hash == tx.Hash
	}, 10*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Cancel())
	require.NoError(t, <-done)

	assert.Equal(t, uint64(1), m.BlocksMined())
	assert.Positive(t, m.HashAttempts())

	balance, err := rewards.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, node.chain.Reward(), balance)

	payeeBalance, err := ledger.Balance(ctx, node.chain.Store(), []string{payee.Address})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), payeeBalance)

	// Nothing left to mine, so the chain stays at height 1.
	height, err := node.chain.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)
}

func TestMinersRaceOnSameHeight(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t)

	m1, w1 := node.newMiner(t)
	m2, w2 := node.newMiner(t)

	payee, err := utils.GenerateAccount()
	require.NoError(t, err)
	_, err = node.genesis.Pay(ctx, 20, payee.Address)
	require.NoError(t, err)

	require.NoError(t, m1.Start())
	require.NoError(t, m2.Start())
	done1 := runMiner(t, m1)
	done2 := runMiner(t, m2)

	require.Eventually(t, func() bool {
		height, err := node.chain.Height(ctx)
		return err == nil && height == 1
	}, 10*time.Second, 5*time.Millisecond)

	// Let the slower miner finish its search and lose.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, m1.Cancel())
	require.NoError(t, m2.Cancel())
	require.NoError(t, <-done1)
	require.NoError(t, <-done2)

	assert.Equal(t, uint64(1), m1.BlocksMined()+m2.BlocksMined())

	height, err := node.chain.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)

	b1, err := w1.Balance(ctx)
	require.NoError(t, err)
	b2, err := w2.Balance(ctx)
	require.NoError(t, err)
	genesis, err := node.genesis.Balance(ctx)
	require.NoError(t, err)
	paid, err := ledger.Balance(ctx, node.chain.Store(), []string{payee.Address})
	require.NoError(t, err)

	reward := node.chain.Reward()
	assert.Equal(t, reward, b1+b2)
	assert.Equal(t, uint64(20), paid)
	assert.Equal(t, 2*reward, b1+b2+genesis+paid)

	// A losing miner keeps no reward account.
	assert.Len(t, append(w1.Accounts(), w2.Accounts()...), 1)
}

func TestMinerRecoversFromPooledIncentive(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t)
	m, _ := node.newMiner(t)

	stray := utils.CreateIncentiveTx(node.chain.Reward(), "thief")
	require.NoError(t, node.chain.Store().Update(ctx, func(tx ledger.Tx) error {
		return tx.AddToMempool(stray)
	}))

	payee, err := utils.GenerateAccount()
	require.NoError(t, err)
	pay, err := node.genesis.Pay(ctx, 5, payee.Address)
	require.NoError(t, err)

	require.NoError(t, m.Start())
	done := runMiner(t, m)

	require.Eventually(t, func() bool {
		_, err := node.chain.GetTransactionByHash(ctx, pay.Hash)
		return err == nil
	}, 10*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Cancel())
	require.NoError(t, <-done)

	assert.Positive(t, m.BlocksRejected())

	_, err = node.chain.GetTransactionByHash(ctx, stray.Hash)
	assert.True(t, errors.Is(err, errors.ErrTxNotFound))

	thief, err := ledger.Balance(ctx, node.chain.Store(), []string{"thief"})
	require.NoError(t, err)
	assert.Zero(t, thief)
}

// brokenStoreChain accepts any nonce but fails every commit in its store.
type brokenStoreChain struct {
	unreachableChain
	commits chan struct{}
}

func (c *brokenStoreChain) AddBlock(context.Context, *model.Block) error {
	select {
	case c.commits <- struct{}{}:
	default:
	}
	return errors.NewStorageError("disk full")
}

func (c *brokenStoreChain) Target() *big.Int {
	return utils.GetTarget(0)
}

type recordingWallet struct {
	nopWallet
	mu      sync.Mutex
	added   int
	removed int
}

func (w *recordingWallet) AddAccount(*model.Account) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.added++
}

func (w *recordingWallet) RemoveAccount(string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed++
	return true
}

func TestStorageFailureIsNotARejection(t *testing.T) {
	chain := &brokenStoreChain{unreachableChain: *newUnreachableChain(), commits: make(chan struct{}, 1)}
	w := &recordingWallet{}
	m := New(ulogger.NewVerboseTestLogger(t), chain, w, testConfig())

	require.NoError(t, m.Start())
	done := runMiner(t, m)

	<-chain.commits
	require.NoError(t, m.Cancel())
	require.NoError(t, <-done)

	assert.Zero(t, m.BlocksRejected())
	assert.Zero(t, m.BlocksMined())

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Positive(t, w.added)
	assert.Equal(t, w.added, w.removed)
}
