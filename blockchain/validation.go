package blockchain

import (
	"math/big"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/ledger"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/Luismorlan/utxo_chain/utils"
)

const (
	reasonLinkage     = "linkage"
	reasonHash        = "hash"
	reasonProofOfWork = "proof_of_work"
	reasonMerkle      = "merkle"
	reasonTransaction = "transaction"
	reasonCommit      = "commit"
)

// A block is valid if:
// 1. It extends the tail by exactly one height, or is a height 0 block on an empty chain,
//    and only height 0 is typed GENESIS.
// 2. Its hash matches its fields.
// 3. Its hash is below the target.
// 4. Its merkle root matches its transactions.
// 5. Every transaction is valid and no output is spent twice within it.
func validateBlock(tx ledger.Tx, candidate *model.Block, target *big.Int, reward uint64) (string, error) {
	tail, err := tx.GetTail()
	switch {
	case errors.Is(err, errors.ErrBlockNotFound):
		if candidate.Height != 0 {
			return reasonLinkage, errors.NewBlockInvalidError("first block must have height 0, got %d", candidate.Height)
		}
	case err != nil:
		return reasonLinkage, err
	default:
		if candidate.PrevHash != tail.Hash || candidate.Height != tail.Height+1 {
			return reasonLinkage, errors.NewBlockInvalidError("block at height %d with parent %s does not extend tail %s at height %d",
				candidate.Height, candidate.PrevHash, tail.Hash, tail.Height)
		}
	}

	wantType := model.NORMAL_BLOCK
	if candidate.Height == 0 {
		wantType = model.GENESIS
	}

	if candidate.Type != wantType {
		return reasonLinkage, errors.NewBlockInvalidError("block at height %d must be %s, got type %d", candidate.Height, wantType, candidate.Type)
	}

	if hash := utils.GetBlockHash(candidate); hash != candidate.Hash {
		return reasonHash, errors.NewBlockInvalidError("block hash %s does not match computed hash %s", candidate.Hash, hash)
	}

	if utils.HashToBig(candidate.Hash).Cmp(target) >= 0 {
		return reasonProofOfWork, errors.NewBlockInvalidError("block hash %s is not below the target", candidate.Hash)
	}

	if len(candidate.Transactions) == 0 {
		return reasonMerkle, errors.NewBlockInvalidError("block has no transactions")
	}

	if root := utils.GetMerkleRoot(candidate.TxHashes()); root != candidate.MerkleRoot {
		return reasonMerkle, errors.NewBlockInvalidError("merkle root %s does not match computed root %s", candidate.MerkleRoot, root)
	}

	seen := make(map[model.TransactionOutput]struct{})
	incentives := 0

	for i, t := range candidate.Transactions {
		if t.Type == model.INCENTIVE {
			incentives++
		}

		if err := validateTransaction(tx, t, seen, reward); err != nil {
			return reasonTransaction, errors.NewBlockInvalidError("transaction %d (%s) is invalid", i, t.Hash, err)
		}
	}

	if incentives > 1 {
		return reasonTransaction, errors.NewBlockInvalidError("block is invalid",
			errors.NewTxInvalidError("block has %d incentive transactions", incentives))
	}

	return "", nil
}

// validateTransaction checks one transaction against the ledger. seen holds the outputs
// spent by the transactions accepted so far; a valid transaction adds its own.
func validateTransaction(tx ledger.Tx, t *model.Transaction, seen map[model.TransactionOutput]struct{}, reward uint64) error {
	if hash := utils.GetTransactionHash(t); hash != t.Hash {
		return errors.NewTxInvalidError("transaction hash %s does not match computed hash %s", t.Hash, hash)
	}

	if _, err := tx.GetTransaction(t.Hash); err == nil {
		return errors.NewTxAlreadyExistsError("transaction %s is already committed", t.Hash)
	} else if !errors.Is(err, errors.ErrTxNotFound) {
		return err
	}

	for i, out := range t.Outputs {
		if out.TxHash != t.Hash || out.Index != uint32(i) {
			return errors.NewTxInvalidError("output %d points at %s:%d", i, out.TxHash, out.Index)
		}
	}

	outputSum, ok := sumOutputs(t.Outputs)
	if !ok {
		return errors.NewTxInvalidError("output amounts overflow")
	}

	switch t.Type {
	case model.INCENTIVE:
		if len(t.Inputs) != 0 || len(t.Outputs) != 1 {
			return errors.NewTxInvalidError("incentive must have no inputs and one output, has %d and %d", len(t.Inputs), len(t.Outputs))
		}

		if t.Amount != reward || outputSum != reward {
			return errors.NewTxInvalidError("incentive pays %d, reward is %d", outputSum, reward)
		}

		return nil

	case model.NORMAL:
		if len(t.Inputs) == 0 {
			return errors.NewTxInvalidError("transaction has no inputs")
		}

		var inputSum uint64

		spent := make(map[model.TransactionOutput]struct{}, len(t.Inputs))

		for _, in := range t.Inputs {
			present, err := tx.HasUTXO(in.Output)
			if err != nil {
				return err
			}

			if !present {
				return errors.NewTxInvalidDoubleSpendError("double spend or unknown output %s:%d", in.Output.TxHash, in.Output.Index)
			}

			if err = utils.VerifyInput(in); err != nil {
				return err
			}

			_, dupInBlock := seen[in.Output]
			_, dupInTx := spent[in.Output]
			if dupInBlock || dupInTx {
				return errors.NewTxInvalidDoubleSpendError("output %s:%d spent twice in block", in.Output.TxHash, in.Output.Index)
			}
			spent[in.Output] = struct{}{}

			if inputSum+in.Output.Amount < inputSum {
				return errors.NewTxInvalidError("input amounts overflow")
			}
			inputSum += in.Output.Amount
		}

		if inputSum != outputSum || outputSum != t.Amount {
			return errors.NewTxInvalidError("inputs %d, outputs %d and amount %d differ", inputSum, outputSum, t.Amount)
		}

		for out := range spent {
			seen[out] = struct{}{}
		}

		return nil

	default:
		return errors.NewTxInvalidError("unknown transaction type %d", t.Type)
	}
}

func sumOutputs(outputs []*model.TransactionOutput) (uint64, bool) {
	var sum uint64
	for _, out := range outputs {
		if sum+out.Amount < sum {
			return 0, false
		}
		sum += out.Amount
	}
	return sum, true
}
