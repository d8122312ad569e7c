package full_node

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Luismorlan/utxo_chain/config"
	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/Luismorlan/utxo_chain/wallet"
)

// Balances observed at the checkpoints of Simulate.
type SimulationResult struct {
	GenesisBalance uint64
	// After the first payment is mined.
	FirstWallet1 uint64
	FirstWallet2 uint64
	// After the second payment is mined.
	FinalWallet1 uint64
	FinalWallet2 uint64
	Height       uint64
}

// Simulate plays the two wallet scenario on a fresh node:
//  1. wallet1 receives the genesis reward and pays 10 to an account of wallet2.
//  2. miner1, rewarding wallet1, mines until wallet2 holds 10, then is cancelled.
//  3. miner2, rewarding wallet2, takes over and wallet1 pays 50 more.
//  4. it ends when wallet2 holds 10 + 50 + one block reward.
func Simulate(ctx context.Context, logger ulogger.Logger, c config.AppConfig, out io.Writer) (*SimulationResult, error) {
	c.Miners = 0

	node, err := NewFullNode(logger, c)
	if err != nil {
		return nil, err
	}
	defer node.Close()

	result := &SimulationResult{}
	wallet1 := node.Wallet()
	wallet2 := node.NewWallet()

	if _, err = node.CreateGenesisBlock(ctx); err != nil {
		return nil, err
	}

	if result.GenesisBalance, err = wallet1.Balance(ctx); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "genesis created, wallet1 balance: %d\n", result.GenesisBalance)

	account, err := wallet2.NewAccount()
	if err != nil {
		return nil, err
	}

	miner1 := node.AddMiner(wallet1)
	miner2 := node.AddMiner(wallet2)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- node.Run(runCtx)
	}()

	if _, err = wallet1.Pay(ctx, 10, account.Address); err != nil {
		return nil, err
	}

	if err = miner1.Start(); err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "miner1 started")

	if err = waitForBalance(ctx, wallet2, 10, c.PausePollInterval); err != nil {
		return nil, err
	}

	if err = miner1.Cancel(); err != nil {
		return nil, err
	}

	result.FirstWallet1, result.FirstWallet2, err = balances(ctx, wallet1, wallet2)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "wallet2 received the payment, wallet1: %d, wallet2: %d\n", result.FirstWallet1, result.FirstWallet2)

	if err = miner2.Start(); err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "miner2 started")

	if _, err = wallet1.Pay(ctx, 50, account.Address); err != nil {
		return nil, err
	}

	if err = waitForBalance(ctx, wallet2, 10+50+c.IncentiveReward, c.PausePollInterval); err != nil {
		return nil, err
	}

	if err = miner2.Cancel(); err != nil {
		return nil, err
	}

	if err = <-done; err != nil {
		return nil, err
	}

	result.FinalWallet1, result.FinalWallet2, err = balances(ctx, wallet1, wallet2)
	if err != nil {
		return nil, err
	}

	if result.Height, err = node.Chain().Height(ctx); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "wallet2 received the payment, wallet1: %d, wallet2: %d, height: %d\n",
		result.FinalWallet1, result.FinalWallet2, result.Height)

	return result, nil
}

func waitForBalance(ctx context.Context, w *wallet.Wallet, want uint64, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		balance, err := w.Balance(ctx)
		if err != nil {
			return err
		}

		if balance == want {
			return nil
		}

		if balance > want {
			return errors.NewStateError("balance %d overshot the expected %d", balance, want)
		}

		select {
		case <-ctx.Done():
			return errors.NewContextCanceledError("waiting for balance %d, have %d", want, balance, ctx.Err())
		case <-ticker.C:
		}
	}
}

func balances(ctx context.Context, w1, w2 *wallet.Wallet) (uint64, uint64, error) {
	b1, err := w1.Balance(ctx)
	if err != nil {
		return 0, 0, err
	}

	b2, err := w2.Balance(ctx)
	if err != nil {
		return 0, 0, err
	}

	return b1, b2, nil
}
