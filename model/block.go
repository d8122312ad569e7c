package model

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

type BlockType int

const (
	GENESIS BlockType = iota
	NORMAL_BLOCK
)

func (t BlockType) String() string {
	if t == GENESIS {
		return "GENESIS"
	}
	return "NORMAL"
}

type Block struct {
	// Covers PrevHash, Timestamp, Nonce and MerkleRoot.
	Hash     chainhash.Hash
	PrevHash chainhash.Hash
	// Genesis is height 0.
	Height       uint64
	Transactions []*Transaction
	Timestamp    int64
	Nonce        uint64
	MerkleRoot   chainhash.Hash
	Type         BlockType
}

// TxHashes returns the transaction hashes in block order.
func (b *Block) TxHashes() []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		hashes = append(hashes, tx.Hash)
	}
	return hashes
}
