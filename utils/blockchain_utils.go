package utils

import (
	"context"
	"math/big"
	"math/rand/v2"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// GetBlockBytes concats prev hash, timestamp, nonce and merkle root.
func GetBlockBytes(block *model.Block) []byte {
	var rawBlock []byte
	rawBlock = append(rawBlock, block.PrevHash.CloneBytes()...)
	rawBlock = append(rawBlock, Int64ToBytes(block.Timestamp)...)
	rawBlock = append(rawBlock, Uint64ToBytes(block.Nonce)...)
	rawBlock = append(rawBlock, block.MerkleRoot.CloneBytes()...)
	return rawBlock
}

func GetBlockHash(block *model.Block) chainhash.Hash {
	return DoubleHash(GetBlockBytes(block))
}

// GetMerkleRoot hashes pairs level by level, duplicating the last node of odd levels.
// A single hash is its own root, no hashes give the zero hash.
func GetMerkleRoot(hashes []chainhash.Hash) chainhash.Hash {
	if len(hashes) == 0 {
		return chainhash.Hash{}
	}

	level := make([]chainhash.Hash, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		next := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			var pair [chainhash.HashSize * 2]byte
			copy(pair[:chainhash.HashSize], level[i][:])
			copy(pair[chainhash.HashSize:], level[i+1][:])
			next = append(next, DoubleHash(pair[:]))
		}
		level = next
	}

	return level[0]
}

// GetTarget returns 2^(256-difficulty); a valid hash is strictly below it.
func GetTarget(difficulty int) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(256-difficulty))
}

// HashToBig reads the hash as an unsigned integer in display order, so leading zeros in
// Hash.String() mean a small number.
func HashToBig(hash chainhash.Hash) *big.Int {
	return new(big.Int).SetBytes(bt.ReverseBytes(hash.CloneBytes()))
}

func MatchDifficulty(block *model.Block, target *big.Int) (bool, chainhash.Hash) {
	digest := GetBlockHash(block)
	return HashToBig(digest).Cmp(target) < 0, digest
}

// Mine draws random nonces until the block hash is below target, then fills Nonce and
// Hash. The context is checked before every attempt. Returns the number of attempts.
func Mine(ctx context.Context, block *model.Block, target *big.Int) (uint64, error) {
	var attempts uint64

	for {
		select {
		case <-ctx.Done():
			return attempts, errors.NewContextCanceledError("mining of block at height %d interrupted", block.Height, ctx.Err())
		default:
		}

		attempts++
		block.Nonce = rand.Uint64()

		if isMatched, digest := MatchDifficulty(block, target); isMatched {
			block.Hash = digest
			return attempts, nil
		}
	}
}

// NewCandidateBlock assembles an unmined block on top of prev. prev nil builds genesis.
func NewCandidateBlock(prev *model.Block, txs []*model.Transaction, timestamp int64) *model.Block {
	block := &model.Block{
		Transactions: txs,
		Timestamp:    timestamp,
		Type:         model.GENESIS,
	}

	if prev != nil {
		block.PrevHash = prev.Hash
		block.Height = prev.Height + 1
		block.Type = model.NORMAL_BLOCK
	}

	block.MerkleRoot = GetMerkleRoot(block.TxHashes())

	return block
}
