package utils

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/fxamacker/cbor/v2"
)

var outputEncMode cbor.EncMode

func init() {
	var err error
	if outputEncMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
}

// Wire shape of a referenced output, the subject of input signatures.
type outputSubject struct {
	_      struct{} `cbor:",toarray"`
	TxHash []byte
	Index  uint32
	Amount uint64
	Owner  string
}

// GetOutputBytes returns the canonical CBOR encoding of an output.
func GetOutputBytes(output *model.TransactionOutput) ([]byte, error) {
	if output == nil {
		return nil, errors.NewInvalidArgumentError("output is nil")
	}

	b, err := outputEncMode.Marshal(outputSubject{
		TxHash: output.TxHash.CloneBytes(),
		Index:  output.Index,
		Amount: output.Amount,
		Owner:  output.Owner,
	})
	if err != nil {
		return nil, errors.NewProcessingError("failed to encode output", err)
	}

	return b, nil
}

// GetTransactionBytes concats payee, amount, timestamp and nonce. Inputs and outputs are
// not part of it.
func GetTransactionBytes(tx *model.Transaction) []byte {
	var data []byte
	data = append(data, []byte(tx.Payee)...)
	data = append(data, Uint64ToBytes(tx.Amount)...)
	data = append(data, Int64ToBytes(tx.Timestamp)...)
	data = append(data, Uint64ToBytes(tx.Nonce)...)
	return data
}

func GetTransactionHash(tx *model.Transaction) chainhash.Hash {
	return DoubleHash(GetTransactionBytes(tx))
}

// NewTransaction stamps a fresh timestamp and random nonce and computes the hash.
// Outputs are left for the caller.
func NewTransaction(txType model.TransactionType, amount uint64, payee string) *model.Transaction {
	tx := &model.Transaction{
		Type:      txType,
		Amount:    amount,
		Payee:     payee,
		Timestamp: time.Now().UnixNano(),
		Nonce:     rand.Uint64(),
	}
	tx.Hash = GetTransactionHash(tx)
	return tx
}

// AddOutput appends an output owned by owner at the next index.
func AddOutput(tx *model.Transaction, amount uint64, owner string) *model.TransactionOutput {
	out := &model.TransactionOutput{
		TxHash: tx.Hash,
		Index:  uint32(len(tx.Outputs)),
		Amount: amount,
		Owner:  owner,
	}
	tx.Outputs = append(tx.Outputs, out)
	return out
}

// CreateIncentiveTx mints reward to address, one output and no inputs.
func CreateIncentiveTx(reward uint64, address string) *model.Transaction {
	tx := NewTransaction(model.INCENTIVE, reward, address)
	AddOutput(tx, reward, address)
	return tx
}

// SignInput fills signature and public key of an input spending output with account's key.
func SignInput(account *model.Account, output model.TransactionOutput) (*model.TransactionInput, error) {
	if account.Address != output.Owner {
		return nil, errors.NewInvalidArgumentError("account %s does not own output %s:%d", account.Address, output.TxHash, output.Index)
	}

	data, err := GetOutputBytes(&output)
	if err != nil {
		return nil, err
	}

	sig, err := Sign(account.PrivateKey, data)
	if err != nil {
		return nil, err
	}

	return &model.TransactionInput{
		Output:    output,
		Signature: sig,
		PublicKey: account.PublicKey.Compressed(),
	}, nil
}

// VerifyInput checks the public key owns the referenced output and the signature is valid.
func VerifyInput(input *model.TransactionInput) error {
	address, err := AddressFromPublicKeyBytes(input.PublicKey)
	if err != nil {
		return errors.NewTxInvalidError("invalid public key on input %s:%d", input.Output.TxHash, input.Output.Index, err)
	}

	if address != input.Output.Owner {
		return errors.NewTxInvalidError("public key address %s does not own output %s:%d", address, input.Output.TxHash, input.Output.Index)
	}

	data, err := GetOutputBytes(&input.Output)
	if err != nil {
		return err
	}

	if !Verify(input.PublicKey, data, input.Signature) {
		return errors.NewTxInvalidError("invalid signature on input %s:%d", input.Output.TxHash, input.Output.Index)
	}

	return nil
}

// SortTransactionsByTimestamp orders oldest first, ties broken by hash.
func SortTransactionsByTimestamp(txs []*model.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Timestamp != txs[j].Timestamp {
			return txs[i].Timestamp < txs[j].Timestamp
		}
		return txs[i].Hash.String() < txs[j].Hash.String()
	})
}
