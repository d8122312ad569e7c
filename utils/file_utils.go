package utils

import (
	"bufio"
	"os"
	"strings"

	"github.com/Luismorlan/utxo_chain/errors"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// SavePrivateKeysToFile writes one WIF encoded key per line.
func SavePrivateKeysToFile(keys []*bec.PrivateKey, fPath string) error {
	if fPath == "" {
		return errors.NewInvalidArgumentError("file path is missing")
	}

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(key.Wif())
		sb.WriteString("\n")
	}

	if err := os.WriteFile(fPath, []byte(sb.String()), 0o600); err != nil {
		return errors.NewStorageError("failed to save keys in %s", fPath, err)
	}

	return nil
}

// ReadPrivateKeysFromFile reads keys written by SavePrivateKeysToFile, skipping blank lines.
func ReadPrivateKeysFromFile(fPath string) ([]*bec.PrivateKey, error) {
	f, err := os.Open(fPath)
	if err != nil {
		return nil, errors.NewStorageError("failed to open key file %s", fPath, err)
	}
	defer f.Close()

	var keys []*bec.PrivateKey

	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		wif := strings.TrimSpace(scanner.Text())
		if wif == "" {
			continue
		}

		key, err := bec.PrivateKeyFromWif(wif)
		if err != nil {
			return nil, errors.NewInvalidArgumentError("bad key on line %d of %s", line, fPath, err)
		}
		keys = append(keys, key)
	}

	if err = scanner.Err(); err != nil {
		return nil, errors.NewStorageError("failed to read key file %s", fPath, err)
	}

	return keys, nil
}
