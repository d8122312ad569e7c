package model

import (
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// An account is a keypair and the address derived from its public key.
type Account struct {
	PrivateKey *bec.PrivateKey
	PublicKey  *bec.PublicKey
	Address    string
}
