package app_test

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filemint/filemint/filemint/app"
	"github.com/filemint/filemint/filemint/config"
	"github.com/filemint/filemint/filemint/contentstore"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/testutil"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RegistryAddress = testutil.RegistryAddress.Hex()
	cfg.TreasuryAddress = testutil.TreasuryAddress.Hex()
	cfg.StoreOwner = testutil.StoreOwner.Hex()
	return cfg
}

func build(t *testing.T, cfg config.Config) (*app.Clients, *testutil.Chain) {
	t.Helper()

	chain := testutil.NewChain()
	chain.AddNodeAccount(testutil.StoreOwner)

	clients, err := app.Build(context.Background(), cfg, app.Backends{
		Ledger: chain,
		RPC:    chain,
		Store:  contentstore.NewMemory(0),
	}, workflow.Options{})
	require.NoError(t, err)
	t.Cleanup(clients.Close)

	return clients, chain
}

func TestIssueInitialSupplyOnce(t *testing.T) {
	clients, chain := build(t, testConfig())
	ctx := context.Background()
	supply := testConfig().InitialSupplyWei()

	report, err := clients.IssueInitialSupply(ctx, supply)
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.Equal(t, supply, report.Supply)
	require.Equal(t, supply, report.Balance.Balance)
	require.Equal(t, testutil.StoreOwner, report.Mint.To)

	report, err = clients.IssueInitialSupply(ctx, supply)
	require.NoError(t, err)
	require.True(t, report.Skipped)
	require.Nil(t, report.Mint)
	require.Equal(t, supply, chain.Balance(testutil.StoreOwner))
}

func TestBuildRequiresDeployedContracts(t *testing.T) {
	cfg := testConfig()
	cfg.RegistryAddress = "0x0000000000000000000000000000000000000bad"

	_, err := app.Build(context.Background(), cfg, app.Backends{
		Ledger: testutil.NewChain(),
		RPC:    testutil.NewChain(),
		Store:  contentstore.NewMemory(0),
	}, workflow.Options{})
	require.ErrorContains(t, err, "no registry contract deployed")
}

func TestTreasuryKeystore(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	dir := t.TempDir()
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.ImportECDSA(key, "secret")
	require.NoError(t, err)

	path := filepath.Join(dir, "treasury.json")
	require.NoError(t, os.Rename(account.URL.Path, path))

	cfg := testConfig()
	cfg.StoreOwner = ""
	cfg.TreasuryKeystore = path
	cfg.WalletPassword = "secret"

	clients, chain := build(t, cfg)
	require.Equal(t, account.Address, clients.Treasury.Signer())

	_, err = clients.IssueInitialSupply(context.Background(), ledger.TokensToWei(big.NewInt(10)))
	require.NoError(t, err)
	require.Equal(t, ledger.TokensToWei(big.NewInt(10)), chain.Balance(account.Address))

	t.Run("WrongStoreOwner", func(t *testing.T) {
		cfg := cfg
		cfg.StoreOwner = common.HexToAddress("0x01").Hex()
		_, err := app.Build(context.Background(), cfg, app.Backends{Ledger: chain, RPC: chain, Store: contentstore.NewMemory(0)}, workflow.Options{})
		require.ErrorContains(t, err, "not the configured store owner")
	})
}

func TestBuildWithoutStorage(t *testing.T) {
	chain := testutil.NewChain()
	chain.AddNodeAccount(testutil.StoreOwner)

	clients, err := app.Build(context.Background(), testConfig(), app.Backends{Ledger: chain, RPC: chain}, workflow.Options{})
	require.NoError(t, err)
	require.Nil(t, clients.Workflow)

	_, err = clients.IssueInitialSupply(context.Background(), ledger.TokensToWei(big.NewInt(1)))
	require.NoError(t, err)
}
