// Package treasury talks to the MintToken contract the store owner pays rewards from.
package treasury

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/filemint/filemint/filemint/contracts"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/holiman/uint256"
)

// RewardTransfer is a confirmed movement of reward tokens.
type RewardTransfer struct {
	Amount      *big.Int       `json:"amount"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	TxHash      common.Hash    `json:"txHash"`
	Status      uint64         `json:"status"`
	BlockNumber uint64         `json:"blockNumber"`
}

// AccountBalance is a read-only snapshot. It is never cached.
type AccountBalance struct {
	Address common.Address `json:"address"`
	Balance *big.Int       `json:"balance"`
	Block   uint64         `json:"block"`
}

// Treasury submits every mutating call from a single signer. The transactor serializes
// those submissions, so callers may use one Treasury from many goroutines.
type Treasury struct {
	transactor *ledger.Transactor
	address    common.Address
	abi        abi.ABI
	signer     ledger.Signer
	gas        uint64
	logger     log.Logger
}

func New(transactor *ledger.Transactor, address common.Address, contractABI abi.ABI, signer ledger.Signer, gas uint64) *Treasury {
	return &Treasury{
		transactor: transactor,
		address:    address,
		abi:        contractABI,
		signer:     signer,
		gas:        gas,
		logger:     log.New("component", "treasury", "contract", address),
	}
}

func (t *Treasury) Address() common.Address {
	return t.address
}

// Signer is the account rewards are paid from.
func (t *Treasury) Signer() common.Address {
	return t.signer.Address()
}

// Transfer pays amount base units from the treasury signer's own balance.
func (t *Treasury) Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	hash, err := t.submit(ctx, contracts.Transfer, to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit transfer: %w", err)
	}

	t.logger.Info("Transfer submitted", "to", to, "amount", ledger.FormatTokens(amount), "tx", hash)

	return hash, nil
}

// Mint issues new supply to an account.
func (t *Treasury) Mint(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	hash, err := t.submit(ctx, contracts.Mint, to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit mint: %w", err)
	}

	t.logger.Info("Mint submitted", "to", to, "amount", ledger.FormatTokens(amount), "tx", hash)

	return hash, nil
}

func (t *Treasury) submit(ctx context.Context, method string, to common.Address, amount *big.Int) (common.Hash, error) {
	data, err := t.abi.Pack(method, to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	return t.transactor.Submit(ctx, t.signer, ledger.Call{
		To:   t.address,
		Data: data,
		Gas:  t.gas,
	})
}

// AwaitReceipt waits for a transfer or mint and decodes the token movement it caused.
func (t *Treasury) AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (RewardTransfer, error) {
	receipt, err := t.transactor.Await(ctx, hash, timeout)
	if err != nil {
		rt := RewardTransfer{TxHash: hash, From: t.signer.Address()}
		if receipt != nil {
			rt.Status = receipt.Status
			rt.BlockNumber = receipt.BlockNumber.Uint64()
		}
		return rt, err
	}
	return t.Resolve(receipt)
}

// Resolve decodes the Transfer event of a successful receipt.
func (t *Treasury) Resolve(receipt *types.Receipt) (RewardTransfer, error) {
	rt := RewardTransfer{
		TxHash:      receipt.TxHash,
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}

	for _, l := range receipt.Logs {
		if l.Address != t.address || len(l.Topics) != 3 || l.Topics[0] != contracts.TransferEvent {
			continue
		}
		if len(l.Data) != 32 {
			return rt, fmt.Errorf("malformed Transfer event data in %s", receipt.TxHash.Hex())
		}
		rt.From = common.BytesToAddress(l.Topics[1].Bytes())
		rt.To = common.BytesToAddress(l.Topics[2].Bytes())
		rt.Amount = new(uint256.Int).SetBytes32(l.Data).ToBig()
		return rt, nil
	}

	return rt, fmt.Errorf("no Transfer event in %s", receipt.TxHash.Hex())
}

func (t *Treasury) Lookup(ctx context.Context, hash common.Hash) (ledger.TxState, *types.Receipt, error) {
	return t.transactor.Lookup(ctx, hash)
}

// BalanceOf reads addr's balance pinned to the current head so the snapshot carries the
// block it was taken at.
func (t *Treasury) BalanceOf(ctx context.Context, addr common.Address) (AccountBalance, error) {
	head, err := t.transactor.Backend().BlockNumber(ctx)
	if err != nil {
		return AccountBalance{}, fmt.Errorf("failed to get block number: %w", err)
	}

	balance, err := t.view(ctx, contracts.BalanceOf, new(big.Int).SetUint64(head), addr)
	if err != nil {
		return AccountBalance{}, err
	}

	return AccountBalance{Address: addr, Balance: balance, Block: head}, nil
}

func (t *Treasury) TotalSupply(ctx context.Context) (*big.Int, error) {
	return t.view(ctx, contracts.TotalSupply, nil)
}

func (t *Treasury) view(ctx context.Context, method string, block *big.Int, args ...interface{}) (*big.Int, error) {
	data, err := t.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	out, err := t.transactor.Call(ctx, t.address, data, block)
	if err != nil {
		return nil, err
	}

	res, err := t.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	v, ok := res[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result %T", method, res[0])
	}
	return v, nil
}
