package full_node

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Luismorlan/utxo_chain/blockchain"
	"github.com/Luismorlan/utxo_chain/commands"
	"github.com/Luismorlan/utxo_chain/config"
	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/ledger"
	"github.com/Luismorlan/utxo_chain/miner"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/Luismorlan/utxo_chain/visualize"
	"github.com/Luismorlan/utxo_chain/wallet"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"
)

// A full node owns the chain and its store, the operator wallet and a set of miners
// rewarding into that wallet.
type FullNode struct {
	id     string
	logger ulogger.Logger
	config config.AppConfig
	chain  *blockchain.Blockchain
	wallet *wallet.Wallet

	// Protects miners; they are added before Run and read by commands.
	m      sync.RWMutex
	miners []*miner.Miner
}

// NewStore builds the ledger store named by the config.
func NewStore(logger ulogger.Logger, c config.AppConfig) (ledger.Store, error) {
	switch c.Store {
	case config.StoreMemory:
		return ledger.NewMemoryStore(logger), nil
	case config.StoreSQLite:
		return ledger.NewSQLStore(logger, c.SQLitePath)
	default:
		return nil, errors.NewConfigurationError("unknown store %q", c.Store)
	}
}

// NewFullNode wires a chain on a fresh store with c.Miners paused miners. The chain is
// empty until CreateGenesisBlock is called.
func NewFullNode(logger ulogger.Logger, c config.AppConfig) (*FullNode, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	store, err := NewStore(logger.New("ledger"), c)
	if err != nil {
		return nil, err
	}

	chain := blockchain.New(logger.New("chain"), store, c)

	f := &FullNode{
		id:     uuid.NewV4().String(),
		logger: logger,
		config: c,
		chain:  chain,
	}
	f.wallet = f.NewWallet()

	for i := 0; i < c.Miners; i++ {
		f.AddMiner(f.wallet)
	}

	logger.Infof("[FullNode][%s] created with %s store and %d miners", f.id, c.Store, c.Miners)

	return f, nil
}

func (f *FullNode) ID() string {
	return f.id
}

func (f *FullNode) Chain() *blockchain.Blockchain {
	return f.chain
}

// Wallet returns the operator wallet, which holds the genesis reward.
func (f *FullNode) Wallet() *wallet.Wallet {
	return f.wallet
}

// NewWallet returns an empty wallet bound to this node's chain.
func (f *FullNode) NewWallet() *wallet.Wallet {
	return wallet.New(f.logger.New("wallet"), f.chain.Store(), f.chain, f.chain.Reward())
}

// AddMiner adds a paused miner rewarding into w. Miners added after Run do not run.
func (f *FullNode) AddMiner(w miner.Wallet) *miner.Miner {
	f.m.Lock()
	defer f.m.Unlock()

	m := miner.New(f.logger.New("miner"), f.chain, w, f.config)
	f.miners = append(f.miners, m)

	return m
}

func (f *FullNode) Miner(i int) (*miner.Miner, error) {
	f.m.RLock()
	defer f.m.RUnlock()

	if i < 0 || i >= len(f.miners) {
		return nil, errors.NewInvalidArgumentError("no miner %d, node has %d", i, len(f.miners))
	}

	return f.miners[i], nil
}

func (f *FullNode) Miners() []*miner.Miner {
	f.m.RLock()
	defer f.m.RUnlock()

	return append([]*miner.Miner(nil), f.miners...)
}

func (f *FullNode) CreateGenesisBlock(ctx context.Context) (*model.Block, error) {
	return f.chain.CreateGenesisBlock(ctx, f.wallet)
}

// Run drives every miner until all are cancelled or ctx is done.
func (f *FullNode) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	for _, m := range f.Miners() {
		g.Go(func() error {
			return m.Run(gCtx)
		})
	}

	return g.Wait()
}

// Stop cancels every miner that is not cancelled yet.
func (f *FullNode) Stop() {
	for _, m := range f.Miners() {
		if m.State() != miner.StateCancelled {
			_ = m.Cancel()
		}
	}
}

func (f *FullNode) Close() error {
	f.Stop()
	return f.chain.Close()
}

// HandleCommand executes an operator command and writes its outcome to out.
func (f *FullNode) HandleCommand(ctx context.Context, cmd commands.Command, out io.Writer) error {
	if !cmd.IsValid() {
		return errors.NewInvalidArgumentError("invalid command %s %v", cmd.Op, cmd.Args)
	}

	switch cmd.Op {
	case commands.START, commands.PAUSE, commands.STOP:
		m, err := f.Miner(cmd.IntArg(0))
		if err != nil {
			return err
		}

		switch cmd.Op {
		case commands.START:
			err = m.Start()
		case commands.PAUSE:
			err = m.Pause()
		default:
			err = m.Cancel()
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "miner %d is %s\n", cmd.IntArg(0), m.State())

	case commands.PAY:
		tx, err := f.wallet.Pay(ctx, cmd.Amount(), cmd.Args[1])
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "submitted %s paying %d to %s\n", tx.Hash, cmd.Amount(), cmd.Args[1])

	case commands.BALANCE:
		balance, err := f.wallet.Balance(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "balance: %d\n", balance)

	case commands.ACCOUNTS:
		for _, address := range f.wallet.Addresses() {
			balance, err := ledger.Balance(ctx, f.chain.Store(), []string{address})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s %d\n", address, balance)
		}

	case commands.NEW_ACCOUNT:
		account, err := f.wallet.NewAccount()
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s\n", account.Address)

	case commands.SHOW:
		return f.Show(ctx, cmd.IntArg(0), out)
	}

	return nil
}

// Show prints the last depth blocks and writes their graph next to the other node files
// in the temp dir.
func (f *FullNode) Show(ctx context.Context, depth int, out io.Writer) error {
	blocks, err := visualize.LastBlocks(ctx, f.chain, depth)
	if err != nil {
		return err
	}

	for _, b := range blocks {
		fmt.Fprintf(out, "%d %s prev=%s txs=%d\n", b.Height, b.Hash, b.PrevHash, len(b.Transactions))
	}

	fileName := filepath.Join(os.TempDir(), "chaindata-"+f.id+".dot")

	file, err := os.Create(fileName)
	if err != nil {
		return errors.NewProcessingError("failed to create %s", fileName, err)
	}
	defer file.Close()

	visualize.Render(file, blocks)
	fmt.Fprintf(out, "graph written to %s\n", fileName)

	return nil
}
