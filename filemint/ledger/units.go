package ledger

import (
	"math/big"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/params"
)

// TokensToWei converts whole tokens to 18-decimal base units.
func TokensToWei(n *big.Int) *big.Int {
	return new(big.Int).Mul(n, big.NewInt(params.Ether))
}

func WeiToFloat(n *big.Int) float64 {
	f := new(big.Rat).SetFrac(n, big.NewInt(params.Ether))
	res, _ := f.Float64()
	return res
}

// FormatTokens renders base units as whole tokens with thousands separators.
func FormatTokens(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return humanize.Commaf(WeiToFloat(n))
}
