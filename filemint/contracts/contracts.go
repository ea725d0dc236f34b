// Package contracts loads the ABIs of the registry and treasury contracts.
package contracts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

//go:embed abi/file_token.json
var fileTokenABI []byte

//go:embed abi/mint_token.json
var mintTokenABI []byte

// TransferEvent is the signature shared by the ERC-721 and ERC-20 Transfer events.
// The registry indexes the token id, so its logs carry four topics; the treasury logs carry three.
var TransferEvent = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Method and event names the registry and treasury clients rely on.
const (
	RegisterFile = "registerFile"
	TotalSupply  = "totalSupply"
	Transfer     = "transfer"
	Mint         = "mint"
	BalanceOf    = "balanceOf"
)

var (
	registryRequired = []string{RegisterFile, TotalSupply}
	treasuryRequired = []string{Transfer, Mint, BalanceOf}
)

// FileToken returns the registry ABI, read from path when it is set.
func FileToken(path string) (abi.ABI, error) {
	return load(path, fileTokenABI, registryRequired)
}

// MintToken returns the treasury ABI, read from path when it is set.
func MintToken(path string) (abi.ABI, error) {
	return load(path, mintTokenABI, treasuryRequired)
}

func load(path string, fallback []byte, required []string) (abi.ABI, error) {
	data := fallback
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to read abi file: %w", err)
		}
	}

	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse abi: %w", err)
	}

	for _, m := range required {
		if _, ok := parsed.Methods[m]; !ok {
			return abi.ABI{}, fmt.Errorf("abi is missing method %q", m)
		}
	}

	return parsed, nil
}
