package treasury_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filemint/filemint/filemint/contracts"
	"github.com/filemint/filemint/filemint/failures"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/testutil"
	"github.com/filemint/filemint/filemint/treasury"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTreasury(t *testing.T) (*treasury.Treasury, *testutil.Chain) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	contractABI, err := contracts.MintToken("")
	require.NoError(t, err)

	chain := testutil.NewChain()
	return treasury.New(ledger.NewTransactor(chain), testutil.TreasuryAddress, contractABI, ledger.NewKeySigner(key), 0), chain
}

func TestMintTransferAndBalance(t *testing.T) {
	tr, _ := newTreasury(t)
	ctx := context.Background()
	recipient := common.HexToAddress("0x0000000000000000000000000000000000000ABC")
	supply := ledger.TokensToWei(big.NewInt(1_000_000_000))
	reward := ledger.TokensToWei(big.NewInt(500))

	hash, err := tr.Mint(ctx, tr.Signer(), supply)
	require.NoError(t, err)
	minted, err := tr.AwaitReceipt(ctx, hash, time.Second)
	require.NoError(t, err)
	require.Equal(t, common.Address{}, minted.From)
	require.Equal(t, tr.Signer(), minted.To)
	require.Equal(t, supply, minted.Amount)

	hash, err = tr.Transfer(ctx, recipient, reward)
	require.NoError(t, err)
	rt, err := tr.AwaitReceipt(ctx, hash, time.Second)
	require.NoError(t, err)
	require.Equal(t, tr.Signer(), rt.From)
	require.Equal(t, recipient, rt.To)
	require.Equal(t, reward, rt.Amount)
	require.Equal(t, types.ReceiptStatusSuccessful, rt.Status)

	balance, err := tr.BalanceOf(ctx, recipient)
	require.NoError(t, err)
	require.Equal(t, reward, balance.Balance)
	require.Equal(t, rt.BlockNumber, balance.Block)

	total, err := tr.TotalSupply(ctx)
	require.NoError(t, err)
	require.Equal(t, supply, total)
}

func TestConcurrentRewardsNeverConflict(t *testing.T) {
	tr, chain := newTreasury(t)
	chain.SetBalance(tr.Signer(), big.NewInt(1_000_000))

	const n = 24

	g, ctx := errgroup.WithContext(context.Background())
	for i := range n {
		g.Go(func() error {
			to := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
			hash, err := tr.Transfer(ctx, to, big.NewInt(7))
			if err != nil {
				return err
			}
			_, err = tr.AwaitReceipt(ctx, hash, time.Second)
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Zero(t, chain.NonceConflicts())
	require.Equal(t, n, chain.Sent(contracts.Transfer))
	require.Equal(t, big.NewInt(1_000_000-7*n), chain.Balance(tr.Signer()))
}

func TestTransferBeyondBalance(t *testing.T) {
	tr, chain := newTreasury(t)

	_, err := tr.Transfer(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	require.ErrorIs(t, err, failures.ErrLedgerRejected)
	require.ErrorContains(t, err, "exceeds balance")
	require.Zero(t, chain.Sent(contracts.Transfer))
}

func TestResolveWithoutEvent(t *testing.T) {
	tr, _ := newTreasury(t)

	_, err := tr.Resolve(&types.Receipt{
		TxHash:      common.HexToHash("0x01"),
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(3),
	})
	require.ErrorContains(t, err, "no Transfer event")
}
