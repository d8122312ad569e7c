package utils

import (
	"os"
	"path/filepath"
	"testing"

	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndReadPrivateKeys(t *testing.T) {
	a, err := bec.NewPrivateKey()
	require.NoError(t, err)
	b, err := bec.NewPrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys")
	require.NoError(t, SavePrivateKeysToFile([]*bec.PrivateKey{a, b}, path))

	keys, err := ReadPrivateKeysFromFile(path)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, a.Serialize(), keys[0].Serialize())
	assert.Equal(t, b.Serialize(), keys[1].Serialize())
}

func TestReadPrivateKeysBadFile(t *testing.T) {
	_, err := ReadPrivateKeysFromFile(filepath.Join(t.TempDir(), "missing"))
	assert.NotNil(t, err)

	path := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(path, []byte("\nnot-a-wif\n"), 0o600))
	_, err = ReadPrivateKeysFromFile(path)
	assert.NotNil(t, err)

	assert.NotNil(t, SavePrivateKeysToFile(nil, ""))
}
