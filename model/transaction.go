package model

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

type TransactionType int

const (
	// Mints the block reward, has no inputs.
	INCENTIVE TransactionType = iota
	// Moves value from inputs to outputs.
	NORMAL
)

func (t TransactionType) String() string {
	switch t {
	case INCENTIVE:
		return "INCENTIVE"
	case NORMAL:
		return "NORMAL"
	default:
		return "UNKNOWN"
	}
}

// A spendable unit of value. Comparable, so it can be used as a map key.
type TransactionOutput struct {
	// Hash of the transaction that created this output.
	TxHash chainhash.Hash
	// Position within that transaction's outputs.
	Index uint32
	Amount uint64
	// Address of the account allowed to spend it.
	Owner string
}

// An input carries a copy of the output it spends, plus proof of ownership.
type TransactionInput struct {
	Output TransactionOutput
	// DER signature over the canonical encoding of Output.
	Signature []byte
	// Compressed public key, must derive to Output.Owner.
	PublicKey []byte
}

type Transaction struct {
	// Covers Payee, Amount, Timestamp and Nonce only.
	Hash      chainhash.Hash
	Type      TransactionType
	Inputs    []*TransactionInput
	Outputs   []*TransactionOutput
	Amount    uint64
	Payee     string
	Timestamp int64
	Nonce     uint64
}

func (t *Transaction) InputSum() uint64 {
	var sum uint64
	for _, in := range t.Inputs {
		sum += in.Output.Amount
	}
	return sum
}

func (t *Transaction) OutputSum() uint64 {
	var sum uint64
	for _, out := range t.Outputs {
		sum += out.Amount
	}
	return sum
}
