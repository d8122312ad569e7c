package utils

import (
	"github.com/Luismorlan/utxo_chain/errors"
	"github.com/Luismorlan/utxo_chain/model"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// DoubleHash is sha256(sha256(b)).
func DoubleHash(b []byte) chainhash.Hash {
	return chainhash.DoubleHashH(b)
}

// GenerateAccount creates a random secp256k1 keypair and its address.
func GenerateAccount() (*model.Account, error) {
	privateKey, err := bec.NewPrivateKey()
	if err != nil {
		return nil, errors.NewProcessingError("failed to generate private key", err)
	}

	return AccountFromPrivateKey(privateKey)
}

func AccountFromPrivateKey(privateKey *bec.PrivateKey) (*model.Account, error) {
	if privateKey == nil {
		return nil, errors.NewInvalidArgumentError("private key is nil")
	}

	address, err := AddressFromPublicKey(privateKey.PubKey())
	if err != nil {
		return nil, err
	}

	return &model.Account{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PubKey(),
		Address:    address,
	}, nil
}

// AddressFromPublicKey returns the base58check encoded hash160 of the compressed key.
func AddressFromPublicKey(publicKey *bec.PublicKey) (string, error) {
	address, err := bscript.NewAddressFromPublicKey(publicKey, true)
	if err != nil {
		return "", errors.NewInvalidArgumentError("failed to derive address", err)
	}

	return address.AddressString, nil
}

// AddressFromPublicKeyBytes parses a compressed public key and derives its address.
func AddressFromPublicKeyBytes(publicKey []byte) (string, error) {
	pub, err := bec.ParsePubKey(publicKey)
	if err != nil {
		return "", errors.NewInvalidArgumentError("failed to parse public key", err)
	}

	return AddressFromPublicKey(pub)
}

// Sign signs the double hash of data and returns a DER encoded signature.
func Sign(privateKey *bec.PrivateKey, data []byte) ([]byte, error) {
	sig, err := privateKey.Sign(chainhash.DoubleHashB(data))
	if err != nil {
		return nil, errors.NewProcessingError("failed to sign data", err)
	}

	return sig.Serialize(), nil
}

// Verify checks a DER signature produced by Sign against a compressed public key.
func Verify(publicKey []byte, data []byte, signature []byte) bool {
	pub, err := bec.ParsePubKey(publicKey)
	if err != nil {
		return false
	}

	sig, err := bec.ParseDERSignature(signature)
	if err != nil {
		return false
	}

	return sig.Verify(chainhash.DoubleHashB(data), pub)
}
