package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestStoreAndAddress(t *testing.T) {
	dir := t.TempDir()
	walletPath := filepath.Join(dir, "wallet.json")

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.ImportECDSA(key, "secret")
	require.NoError(t, err)

	require.NoError(t, Store(account, walletPath))

	addr, err := Address(walletPath)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
}

func TestAddressRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":3}`), 0o600))

	_, err := Address(path)
	require.ErrorContains(t, err, "has no address")
}

func TestReadPasswordFromEnv(t *testing.T) {
	t.Setenv("WALLET_PASSWORD", "from-env")

	password, err := ReadPassword(true)
	require.NoError(t, err)
	require.Equal(t, "from-env", password)
}
