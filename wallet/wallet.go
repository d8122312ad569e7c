package wallet

import (
	"context"
	"sync"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/ledger"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/Luismorlan/utxo_chain/utils"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// Mempool accepts signed transactions for mining.
type Mempool interface {
	SubmitTransaction(ctx context.Context, tx *model.Transaction) error
}

// A wallet controls a set of accounts, and spends and reports the outputs they own.
type Wallet struct {
	logger  ulogger.Logger
	store   ledger.Store
	mempool Mempool
	reward  uint64

	mu        sync.RWMutex
	accounts  []*model.Account
	byAddress map[string]*model.Account

	// payMu serialises payments. pending maps each output spent by a payment still in
	// the mempool to that payment, so a second payment does not pick it again.
	payMu   sync.Mutex
	pending map[model.TransactionOutput]chainhash.Hash
}

func New(logger ulogger.Logger, store ledger.Store, mempool Mempool, reward uint64) *Wallet {
	return &Wallet{
		logger:    logger,
		store:     store,
		mempool:   mempool,
		reward:    reward,
		byAddress: make(map[string]*model.Account),
		pending:   make(map[model.TransactionOutput]chainhash.Hash),
	}
}

// NewAccount generates a random account and adds it to the wallet.
func (w *Wallet) NewAccount() (*model.Account, error) {
	account, err := utils.GenerateAccount()
	if err != nil {
		return nil, err
	}

	w.AddAccount(account)

	return account, nil
}

// AddAccount is a no-op for an address already held.
func (w *Wallet) AddAccount(account *model.Account) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.byAddress[account.Address]; ok {
		return
	}

	w.byAddress[account.Address] = account
	w.accounts = append(w.accounts, account)
}

func (w *Wallet) RemoveAccount(address string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.byAddress[address]; !ok {
		return false
	}

	delete(w.byAddress, address)

	for i, account := range w.accounts {
		if account.Address == address {
			w.accounts = append(w.accounts[:i], w.accounts[i+1:]...)
			break
		}
	}

	return true
}

func (w *Wallet) GetAccount(address string) (*model.Account, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	account, ok := w.byAddress[address]
	return account, ok
}

// Accounts returns the accounts in the order they were added.
func (w *Wallet) Accounts() []*model.Account {
	w.mu.RLock()
	defer w.mu.RUnlock()

	accounts := make([]*model.Account, len(w.accounts))
	copy(accounts, w.accounts)
	return accounts
}

func (w *Wallet) Addresses() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	addresses := make([]string, 0, len(w.accounts))
	for _, account := range w.accounts {
		addresses = append(addresses, account.Address)
	}
	return addresses
}

// Balance sums every unspent output owned by the wallet, read live from the ledger.
func (w *Wallet) Balance(ctx context.Context) (uint64, error) {
	return ledger.Balance(ctx, w.store, w.Addresses())
}

// GenIncentive builds the reward transaction paying account.
func (w *Wallet) GenIncentive(account *model.Account) *model.Transaction {
	return utils.CreateIncentiveTx(w.reward, account.Address)
}

type selection struct {
	account *model.Account
	output  model.TransactionOutput
}

// Pay sends amount to payee. Outputs are picked first-fit, accounts in the order they
// were added and each account's outputs in ledger order, stopping at the first output
// that covers the amount. Any surplus goes to a freshly generated account as output 1.
// The transaction's Amount is the total value it moves, inputs and outputs alike.
func (w *Wallet) Pay(ctx context.Context, amount uint64, payee string) (*model.Transaction, error) {
	if amount == 0 {
		return nil, errors.NewInvalidArgumentError("payment amount must be positive")
	}

	if payee == "" {
		return nil, errors.NewInvalidArgumentError("payee address is empty")
	}

	w.payMu.Lock()
	defer w.payMu.Unlock()

	accounts := w.Accounts()

	var (
		picked []selection
		sum    uint64
	)

	err := w.store.View(ctx, func(tx ledger.Tx) error {
		if err := w.prunePending(tx); err != nil {
			return err
		}

		for _, account := range accounts {
			utxos, err := tx.GetUTXOs(account.Address)
			if err != nil {
				return err
			}

			for _, utxo := range utxos {
				if _, ok := w.pending[utxo]; ok {
					continue
				}

				picked = append(picked, selection{account: account, output: utxo})
				sum += utxo.Amount

				if sum >= amount {
					return nil
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if sum < amount {
		return nil, errors.NewInsufficientFundsError("wallet can spend %d, payment needs %d", sum, amount)
	}

	tx := utils.NewTransaction(model.NORMAL, sum, payee)

	for _, p := range picked {
		input, err := utils.SignInput(p.account, p.output)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, input)
	}

	utils.AddOutput(tx, amount, payee)

	var change *model.Account
	if sum > amount {
		if change, err = w.NewAccount(); err != nil {
			return nil, err
		}
		utils.AddOutput(tx, sum-amount, change.Address)
	}

	if err = w.mempool.SubmitTransaction(ctx, tx); err != nil {
		if change != nil {
			w.RemoveAccount(change.Address)
		}
		return nil, err
	}

	for _, p := range picked {
		w.pending[p.output] = tx.Hash
	}

	w.logger.Infof("[Pay][%s] paying %d to %s using %d inputs, change %d", tx.Hash, amount, payee, len(tx.Inputs), sum-amount)

	return tx, nil
}

// prunePending forgets outputs whose spending payment left the mempool, either mined or
// evicted. Called with payMu held.
func (w *Wallet) prunePending(tx ledger.Tx) error {
	for output, txHash := range w.pending {
		inPool, err := tx.MempoolContains(txHash)
		if err != nil {
			return err
		}

		if !inPool {
			delete(w.pending, output)
		}
	}

	return nil
}

// SaveAccounts writes the wallet's private keys to fPath.
func (w *Wallet) SaveAccounts(fPath string) error {
	accounts := w.Accounts()

	keys := make([]*bec.PrivateKey, 0, len(accounts))
	for _, account := range accounts {
		keys = append(keys, account.PrivateKey)
	}

	return utils.SavePrivateKeysToFile(keys, fPath)
}

// LoadAccounts adds every key found in fPath as an account.
func (w *Wallet) LoadAccounts(fPath string) error {
	keys, err := utils.ReadPrivateKeysFromFile(fPath)
	if err != nil {
		return err
	}

	for _, key := range keys {
		account, err := utils.AccountFromPrivateKey(key)
		if err != nil {
			return err
		}
		w.AddAccount(account)
	}

	w.logger.Infof("[LoadAccounts] loaded %d accounts from %s", len(keys), fPath)

	return nil
}
