package utils

import (
	"encoding/binary"

	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// HexToHash parses a hash in its display (byte reversed) form.
func HexToHash(s string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, errors.NewInvalidArgumentError("malformed hash %q", s, err)
	}
	return *h, nil
}

func Int64ToBytes(i int64) []byte {
	return Uint64ToBytes(uint64(i))
}

func Uint64ToBytes(i uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, i)
	return b
}
