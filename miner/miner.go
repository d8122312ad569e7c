package miner

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/Luismorlan/utxo_chain/config"
	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/Luismorlan/utxo_chain/utils"
	"github.com/looplab/fsm"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
)

const (
	StateActive    = "active"
	StatePaused    = "paused"
	StateCancelled = "cancelled"

	EventResume = "resume"
	EventPause  = "pause"
	EventCancel = "cancel"
)

// Chain is the part of the blockchain a miner builds on.
type Chain interface {
	GetTailBlock(ctx context.Context) (*model.Block, error)
	GetMempool(ctx context.Context, limit int) ([]*model.Transaction, error)
	AddBlock(ctx context.Context, candidate *model.Block) error
	PruneMempool(ctx context.Context) (int, error)
	Target() *big.Int
}

// Wallet receives the accounts holding block rewards.
type Wallet interface {
	GenIncentive(account *model.Account) *model.Transaction
	AddAccount(account *model.Account)
	RemoveAccount(address string) bool
}

// Miner repeatedly packs the mempool into a block on top of the tail and searches a nonce
// for it. It starts paused.
type Miner struct {
	id               string
	logger           ulogger.Logger
	chain            Chain
	wallet           Wallet
	transactionLimit int
	pollInterval     time.Duration

	// mu serialises state changes with the search token they replace or cancel.
	mu          sync.Mutex
	fsm         *fsm.FSM
	token       context.Context
	cancelToken context.CancelFunc

	blocksMined    *atomic.Uint64
	blocksRejected *atomic.Uint64
	hashAttempts   *atomic.Uint64
}

func NewFSM() *fsm.FSM {
	return fsm.NewFSM(
		StatePaused,
		fsm.Events{
			{Name: EventResume, Src: []string{StatePaused}, Dst: StateActive},
			{Name: EventPause, Src: []string{StateActive}, Dst: StatePaused},
			{Name: EventCancel, Src: []string{StateActive, StatePaused}, Dst: StateCancelled},
		},
		fsm.Callbacks{},
	)
}

func New(logger ulogger.Logger, chain Chain, w Wallet, c config.AppConfig) *Miner {
	initPrometheusMetrics()

	return &Miner{
		id:               uuid.NewV4().String(),
		logger:           logger,
		chain:            chain,
		wallet:           w,
		transactionLimit: c.TransactionLimit,
		pollInterval:     c.PausePollInterval,
		fsm:              NewFSM(),
		blocksMined:      atomic.NewUint64(0),
		blocksRejected:   atomic.NewUint64(0),
		hashAttempts:     atomic.NewUint64(0),
	}
}

func (m *Miner) ID() string {
	return m.id
}

func (m *Miner) State() string {
	return m.fsm.Current()
}

func (m *Miner) BlocksMined() uint64 {
	return m.blocksMined.Load()
}

func (m *Miner) BlocksRejected() uint64 {
	return m.blocksRejected.Load()
}

func (m *Miner) HashAttempts() uint64 {
	return m.hashAttempts.Load()
}

// Start moves a paused miner to active with a fresh search token.
func (m *Miner) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.event(EventResume); err != nil {
		return err
	}

	m.token, m.cancelToken = context.WithCancel(context.Background())

	return nil
}

// Pause abandons the running search, if any, and parks the miner.
func (m *Miner) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.event(EventPause); err != nil {
		return err
	}

	m.dropToken()

	return nil
}

// Cancel stops the miner for good; Run returns once it observes it.
func (m *Miner) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.event(EventCancel); err != nil {
		return err
	}

	m.dropToken()

	return nil
}

func (m *Miner) event(name string) error {
	from := m.fsm.Current()

	if err := m.fsm.Event(context.Background(), name); err != nil {
		return errors.NewStateError("miner %s cannot %s while %s", m.id, name, from, err)
	}

	m.logger.Infof("[Miner][%s] %s -> %s", m.id, from, m.fsm.Current())

	return nil
}

func (m *Miner) dropToken() {
	if m.cancelToken != nil {
		m.cancelToken()
	}

	m.token, m.cancelToken = nil, nil
}

// searchToken returns the token of the current active period, nil when not active.
func (m *Miner) searchToken() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.token
}

// Run mines until the miner is cancelled or ctx is done.
func (m *Miner) Run(ctx context.Context) error {
	m.logger.Infof("[Miner][%s] running", m.id)

	for {
		if ctx.Err() != nil {
			m.logger.Infof("[Miner][%s] context done, exiting", m.id)
			return nil
		}

		switch m.State() {
		case StateCancelled:
			m.logger.Infof("[Miner][%s] cancelled, exiting", m.id)
			return nil

		case StateActive:
			if err := m.mineOnce(ctx); err != nil {
				m.logger.Errorf("[Miner][%s] mining round failed: %v", m.id, err)
				m.sleep(ctx)
			}

		default:
			m.sleep(ctx)
		}
	}
}

// mineOnce builds one candidate and searches it until found or the search token is
// cancelled. An empty chain or mempool just waits one poll interval.
func (m *Miner) mineOnce(ctx context.Context) error {
	token := m.searchToken()
	if token == nil {
		return nil
	}

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(token, cancel)
	defer stop()

	tail, err := m.chain.GetTailBlock(searchCtx)
	if errors.Is(err, errors.ErrBlockNotFound) {
		m.sleep(searchCtx)
		return nil
	} else if err != nil {
		return err
	}

	txs, err := m.chain.GetMempool(searchCtx, m.transactionLimit)
	if err != nil {
		return err
	}

	if len(txs) == 0 {
		m.sleep(searchCtx)
		return nil
	}

	account, err := utils.GenerateAccount()
	if err != nil {
		return err
	}

	txs = append(txs, m.wallet.GenIncentive(account))
	block := utils.NewCandidateBlock(tail, txs, time.Now().UnixNano())

	start := time.Now()
	attempts, err := utils.Mine(searchCtx, block, m.chain.Target())

	m.hashAttempts.Add(attempts)
	prometheusMinerHashes.Add(float64(attempts))

	if err != nil {
		if errors.Is(err, errors.ErrContextCanceled) {
			m.logger.Debugf("[Miner][%s] search at height %d abandoned after %d attempts", m.id, block.Height, attempts)
			return nil
		}

		return err
	}

	prometheusMinerBlockMined.Observe(time.Since(start).Seconds())
	m.logger.Infof("[Miner][%s] found block %s at height %d after %d attempts", m.id, block.Hash, block.Height, attempts)

	m.wallet.AddAccount(account)

	if err = m.chain.AddBlock(ctx, block); err != nil {
		m.wallet.RemoveAccount(account.Address)

		if errors.Is(err, errors.ErrStorage) {
			return err
		}

		m.blocksRejected.Inc()
		prometheusMinerBlocksRejected.Inc()
		m.logger.Warnf("[Miner][%s] block %s rejected: %v", m.id, block.Hash, err)

		if isTransactionError(err) {
			if _, err = m.chain.PruneMempool(ctx); err != nil {
				return err
			}
		}

		return nil
	}

	m.blocksMined.Inc()

	return nil
}

func isTransactionError(err error) bool {
	return errors.Is(err, errors.ErrTxInvalid) ||
		errors.Is(err, errors.ErrTxInvalidDoubleSpend) ||
		errors.Is(err, errors.ErrTxAlreadyExists)
}

func (m *Miner) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
