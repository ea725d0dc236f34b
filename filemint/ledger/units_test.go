package ledger_test

import (
	"math/big"
	"testing"

	"github.com/filemint/filemint/filemint/ledger"
	"github.com/stretchr/testify/require"
)

func TestUnits(t *testing.T) {
	wei := ledger.TokensToWei(big.NewInt(500))
	expected, ok := new(big.Int).SetString("500000000000000000000", 10)
	require.True(t, ok)
	require.Equal(t, expected, wei)

	require.Equal(t, 500.0, ledger.WeiToFloat(wei))
	require.Equal(t, "1,000,000,000", ledger.FormatTokens(ledger.TokensToWei(big.NewInt(1_000_000_000))))
	require.Equal(t, "0", ledger.FormatTokens(nil))
}
