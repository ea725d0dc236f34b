package contracts_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/filemint/filemint/filemint/contracts"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedABIs(t *testing.T) {
	registry, err := contracts.FileToken("")
	require.NoError(t, err)
	require.Contains(t, registry.Methods, contracts.RegisterFile)
	require.Equal(t, contracts.TransferEvent, registry.Events["Transfer"].ID)

	treasury, err := contracts.MintToken("")
	require.NoError(t, err)
	require.Contains(t, treasury.Methods, contracts.BalanceOf)
	require.Equal(t, contracts.TransferEvent, treasury.Events["Transfer"].ID)
}

func TestABIFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("MissingMethod", func(t *testing.T) {
		path := filepath.Join(dir, "partial.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"type":"function","name":"totalSupply","inputs":[],"outputs":[{"name":"","type":"uint256"}]}]`), 0o600))

		_, err := contracts.FileToken(path)
		require.ErrorContains(t, err, "registerFile")
	})

	t.Run("Unreadable", func(t *testing.T) {
		_, err := contracts.MintToken(filepath.Join(dir, "missing.json"))
		require.Error(t, err)
	})

	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))

		_, err := contracts.MintToken(path)
		require.Error(t, err)
	})
}
