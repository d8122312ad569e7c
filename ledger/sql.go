package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/ulogger"
	"github.com/Luismorlan/utxo_chain/utils"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	jsoniter "github.com/json-iterator/go"
	uuid "github.com/satori/go.uuid"
	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const sqlSchema = `
CREATE TABLE IF NOT EXISTS blocks (
	hash   TEXT PRIMARY KEY,
	height INTEGER NOT NULL UNIQUE,
	data   BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	hash TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS mempool (
	hash      TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	data      BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS utxos (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_hash TEXT NOT NULL,
	idx     INTEGER NOT NULL,
	amount  INTEGER NOT NULL,
	owner   TEXT NOT NULL,
	UNIQUE (tx_hash, idx)
);
CREATE INDEX IF NOT EXISTS idx_utxos_owner ON utxos (owner, seq);
`

// SQLStore keeps the ledger in sqlite. An empty path gives a private in-memory database.
// Writes are serialised with a mutex and applied in one sql transaction.
type SQLStore struct {
	logger ulogger.Logger
	db     *sql.DB
	mu     sync.RWMutex
}

func NewSQLStore(logger ulogger.Logger, path string) (*SQLStore, error) {
	initPrometheusMetrics()

	var dsn string
	if path == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewV4().String())
	} else {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout=5000&_pragma=journal_mode=WAL", path)
	}

	logger.Infof("[SQLStore] using sqlite DB: %s", dsn)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewStorageError("failed to open sqlite DB", err)
	}

	// One connection keeps the shared in-memory database alive and ordering simple.
	db.SetMaxOpenConns(1)

	for _, stmt := range strings.Split(sqlSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}

		if _, err = db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.NewStorageError("failed to create schema", err)
		}
	}

	return &SQLStore{
		logger: logger,
		db:     db,
	}, nil
}

func (s *SQLStore) View(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.run(ctx, false, fn)
}

func (s *SQLStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.run(ctx, true, fn)
}

func (s *SQLStore) run(ctx context.Context, writable bool, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}

	if err = fn(&sqlLedgerTx{ctx: ctx, tx: sqlTx, writable: writable, logger: s.logger}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if !writable {
		_ = sqlTx.Rollback()
		return nil
	}

	if err = sqlTx.Commit(); err != nil {
		return errors.NewStorageError("failed to commit transaction", err)
	}

	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlLedgerTx struct {
	ctx      context.Context
	tx       *sql.Tx
	writable bool
	logger   ulogger.Logger
}

func (t *sqlLedgerTx) getBlock(query string, args ...interface{}) (*model.Block, error) {
	var data []byte
	if err := t.tx.QueryRowContext(t.ctx, query, args...).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewBlockNotFoundError("block not found")
		}
		return nil, errors.NewStorageError("failed to read block", err)
	}

	block := &model.Block{}
	if err := json.Unmarshal(data, block); err != nil {
		return nil, errors.NewStorageError("failed to decode block", err)
	}

	return block, nil
}

func (t *sqlLedgerTx) GetTail() (*model.Block, error) {
	return t.getBlock(`SELECT data FROM blocks ORDER BY height DESC LIMIT 1`)
}

func (t *sqlLedgerTx) GetBlockByHash(hash chainhash.Hash) (*model.Block, error) {
	return t.getBlock(`SELECT data FROM blocks WHERE hash = ?`, hash.String())
}

func (t *sqlLedgerTx) GetBlockHashByHeight(height uint64) (chainhash.Hash, error) {
	var hashStr string
	if err := t.tx.QueryRowContext(t.ctx, `SELECT hash FROM blocks WHERE height = ?`, int64(height)).Scan(&hashStr); err != nil {
		if err == sql.ErrNoRows {
			return chainhash.Hash{}, errors.NewBlockNotFoundError("no block at height %d", height)
		}
		return chainhash.Hash{}, errors.NewStorageError("failed to read height %d", height, err)
	}

	hash, err := utils.HexToHash(hashStr)
	if err != nil {
		return chainhash.Hash{}, errors.NewStorageError("corrupt hash at height %d", height, err)
	}

	return hash, nil
}

func (t *sqlLedgerTx) GetTransaction(hash chainhash.Hash) (*model.Transaction, error) {
	var data []byte
	if err := t.tx.QueryRowContext(t.ctx, `SELECT data FROM transactions WHERE hash = ?`, hash.String()).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewTxNotFoundError("transaction %s not found", hash)
		}
		return nil, errors.NewStorageError("failed to read transaction %s", hash, err)
	}

	tx := &model.Transaction{}
	if err := json.Unmarshal(data, tx); err != nil {
		return nil, errors.NewStorageError("failed to decode transaction %s", hash, err)
	}

	return tx, nil
}

func (t *sqlLedgerTx) HasUTXO(output model.TransactionOutput) (bool, error) {
	var (
		amount int64
		owner  string
	)

	err := t.tx.QueryRowContext(t.ctx, `SELECT amount, owner FROM utxos WHERE tx_hash = ? AND idx = ?`,
		output.TxHash.String(), int64(output.Index)).Scan(&amount, &owner)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewStorageError("failed to read utxo", err)
	}

	return uint64(amount) == output.Amount && owner == output.Owner, nil
}

func (t *sqlLedgerTx) GetUTXOs(address string) ([]model.TransactionOutput, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT tx_hash, idx, amount FROM utxos WHERE owner = ? ORDER BY seq`, address)
	if err != nil {
		return nil, errors.NewStorageError("failed to list utxos of %s", address, err)
	}
	defer rows.Close()

	var utxos []model.TransactionOutput

	for rows.Next() {
		var (
			hashStr string
			idx     int64
			amount  int64
		)

		if err = rows.Scan(&hashStr, &idx, &amount); err != nil {
			return nil, errors.NewStorageError("failed to scan utxo", err)
		}

		hash, err := utils.HexToHash(hashStr)
		if err != nil {
			return nil, errors.NewStorageError("corrupt utxo hash %s", hashStr, err)
		}

		utxos = append(utxos, model.TransactionOutput{
			TxHash: hash,
			Index:  uint32(idx),
			Amount: uint64(amount),
			Owner:  address,
		})
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to list utxos of %s", address, err)
	}

	return utxos, nil
}

func (t *sqlLedgerTx) GetMempool(limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := t.tx.QueryContext(t.ctx, `SELECT data FROM mempool ORDER BY timestamp, hash LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewStorageError("failed to read mempool", err)
	}
	defer rows.Close()

	var txs []*model.Transaction

	for rows.Next() {
		var data []byte
		if err = rows.Scan(&data); err != nil {
			return nil, errors.NewStorageError("failed to scan mempool row", err)
		}

		tx := &model.Transaction{}
		if err = json.Unmarshal(data, tx); err != nil {
			return nil, errors.NewStorageError("failed to decode mempool transaction", err)
		}

		txs = append(txs, tx)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to read mempool", err)
	}

	return txs, nil
}

func (t *sqlLedgerTx) exists(query string, args ...interface{}) (bool, error) {
	var n int
	if err := t.tx.QueryRowContext(t.ctx, query, args...).Scan(&n); err != nil {
		return false, errors.NewStorageError("failed to query", err)
	}
	return n > 0, nil
}

func (t *sqlLedgerTx) MempoolContains(hash chainhash.Hash) (bool, error) {
	return t.exists(`SELECT COUNT(*) FROM mempool WHERE hash = ?`, hash.String())
}

func (t *sqlLedgerTx) AddToMempool(tx *model.Transaction) error {
	if !t.writable {
		return errors.NewStateError("mempool insert outside of an update")
	}

	known, err := t.exists(`SELECT (SELECT COUNT(*) FROM mempool WHERE hash = ?) + (SELECT COUNT(*) FROM transactions WHERE hash = ?)`,
		tx.Hash.String(), tx.Hash.String())
	if err != nil {
		return err
	}
	if known {
		return errors.NewTxAlreadyExistsError("transaction %s already known", tx.Hash)
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return errors.NewStorageError("failed to encode transaction %s", tx.Hash, err)
	}

	if _, err = t.tx.ExecContext(t.ctx, `INSERT INTO mempool (hash, timestamp, data) VALUES (?, ?, ?)`,
		tx.Hash.String(), tx.Timestamp, data); err != nil {
		return errors.NewStorageError("failed to insert transaction %s into mempool", tx.Hash, err)
	}

	prometheusLedgerMempoolAdds.Inc()

	return nil
}

func (t *sqlLedgerTx) RemoveFromMempool(hash chainhash.Hash) (bool, error) {
	if !t.writable {
		return false, errors.NewStateError("mempool removal outside of an update")
	}

	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM mempool WHERE hash = ?`, hash.String())
	if err != nil {
		return false, errors.NewStorageError("failed to remove %s from mempool", hash, err)
	}

	affected, _ := res.RowsAffected()

	return affected > 0, nil
}

// CommitBlock relies on the surrounding sql transaction for atomicity: any error makes
// Update roll everything back.
func (t *sqlLedgerTx) CommitBlock(block *model.Block) error {
	if !t.writable {
		return errors.NewStateError("commit outside of an update")
	}

	known, err := t.exists(`SELECT COUNT(*) FROM blocks WHERE hash = ? OR height = ?`, block.Hash.String(), int64(block.Height))
	if err != nil {
		return err
	}
	if known {
		return errors.NewBlockExistsError("block %s or height %d already committed", block.Hash, block.Height)
	}

	data, err := json.Marshal(block)
	if err != nil {
		return errors.NewStorageError("failed to encode block %s", block.Hash, err)
	}

	if _, err = t.tx.ExecContext(t.ctx, `INSERT INTO blocks (hash, height, data) VALUES (?, ?, ?)`,
		block.Hash.String(), int64(block.Height), data); err != nil {
		return errors.NewStorageError("failed to insert block %s", block.Hash, err)
	}

	for _, tx := range block.Transactions {
		if err = t.commitTransaction(tx); err != nil {
			return err
		}
	}

	var n int64
	if err = t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM utxos`).Scan(&n); err == nil {
		prometheusLedgerUTXOs.WithLabelValues("sqlite").Set(float64(n))
	}

	prometheusLedgerCommits.Inc()
	t.logger.Debugf("[SQLStore] committed block %s at height %d with %d transactions", block.Hash, block.Height, len(block.Transactions))

	return nil
}

func (t *sqlLedgerTx) commitTransaction(tx *model.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return errors.NewStorageError("failed to encode transaction %s", tx.Hash, err)
	}

	if _, err = t.tx.ExecContext(t.ctx, `DELETE FROM mempool WHERE hash = ?`, tx.Hash.String()); err != nil {
		return errors.NewStorageError("failed to remove %s from mempool", tx.Hash, err)
	}

	if _, err = t.tx.ExecContext(t.ctx, `INSERT INTO transactions (hash, data) VALUES (?, ?)`, tx.Hash.String(), data); err != nil {
		return errors.NewTxAlreadyExistsError("transaction %s already committed", tx.Hash, err)
	}

	if tx.Type == model.NORMAL {
		for _, in := range tx.Inputs {
			res, err := t.tx.ExecContext(t.ctx, `DELETE FROM utxos WHERE tx_hash = ? AND idx = ? AND amount = ? AND owner = ?`,
				in.Output.TxHash.String(), int64(in.Output.Index), int64(in.Output.Amount), in.Output.Owner)
			if err != nil {
				return errors.NewStorageError("failed to spend %s:%d", in.Output.TxHash, in.Output.Index, err)
			}

			if affected, _ := res.RowsAffected(); affected != 1 {
				return errors.NewStateError("output %s:%d is not spendable", in.Output.TxHash, in.Output.Index)
			}
		}
	}

	for _, out := range tx.Outputs {
		if _, err = t.tx.ExecContext(t.ctx, `INSERT INTO utxos (tx_hash, idx, amount, owner) VALUES (?, ?, ?, ?)`,
			out.TxHash.String(), int64(out.Index), int64(out.Amount), out.Owner); err != nil {
			return errors.NewStorageError("failed to add output %s:%d", out.TxHash, out.Index, err)
		}
	}

	return nil
}
