// Package registry talks to the FileToken contract that records one token per registered file.
package registry

import (
	"context"
	"errors"
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

// FileRegistration is the on-chain provenance record of one file.
type FileRegistration struct {
	TokenID     *big.Int       `json:"tokenId"`
	Owner       common.Address `json:"owner"`
	ContentURI  string         `json:"contentUri"`
	TxHash      common.Hash    `json:"txHash"`
	Status      uint64         `json:"status"`
	BlockNumber uint64         `json:"blockNumber"`
}

type Registry struct {
	transactor *ledger.Transactor
	address    common.Address
	abi        abi.ABI
	gas        uint64
	logger     log.Logger
}

// New binds the registry contract at address. A zero gas limit means estimate per call.
func New(transactor *ledger.Transactor, address common.Address, contractABI abi.ABI, gas uint64) *Registry {
	return &Registry{
		transactor: transactor,
		address:    address,
		abi:        contractABI,
		gas:        gas,
		logger:     log.New("component", "registry", "contract", address),
	}
}

func (r *Registry) Address() common.Address {
	return r.address
}

// Register submits registerFile(owner, uri) signed by signer and returns without waiting
// for the receipt.
func (r *Registry) Register(ctx context.Context, signer ledger.Signer, owner common.Address, uri string) (common.Hash, error) {
	data, err := r.abi.Pack(contracts.RegisterFile, owner, uri)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack registerFile: %w", err)
	}

	hash, err := r.transactor.Submit(ctx, signer, ledger.Call{
		To:   r.address,
		Data: data,
		Gas:  r.gas,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit registration: %w", err)
	}

	r.logger.Info("Registration submitted", "owner", owner, "uri", uri, "tx", hash)

	return hash, nil
}

// AwaitReceipt waits for the registration and resolves the minted token id.
func (r *Registry) AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (FileRegistration, error) {
	receipt, err := r.transactor.Await(ctx, hash, timeout)
	if err != nil {
		reg := FileRegistration{TxHash: hash}
		if receipt != nil {
			reg.Status = receipt.Status
			reg.BlockNumber = receipt.BlockNumber.Uint64()
		}
		return reg, err
	}
	return r.Resolve(ctx, receipt)
}

// Resolve turns a successful receipt into a FileRegistration. The token id comes from the
// mint Transfer event; registries that do not emit one are read through totalSupply at
// the receipt's block.
func (r *Registry) Resolve(ctx context.Context, receipt *types.Receipt) (FileRegistration, error) {
	reg := FileRegistration{
		TxHash:      receipt.TxHash,
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}

	r.decodeCall(ctx, receipt.TxHash, &reg)

	id, owner, ok := r.mintEvent(receipt)
	if ok {
		reg.TokenID = id
		reg.Owner = owner
		return reg, nil
	}

	supply, err := r.totalSupplyAt(ctx, receipt.BlockNumber)
	if err != nil {
		return reg, fmt.Errorf("failed to resolve token id: %w", err)
	}
	if supply.Sign() == 0 {
		return reg, errors.New("failed to resolve token id: registry reports no tokens")
	}

	r.logger.Warn("Mint event missing, token id read from total supply", "tx", receipt.TxHash, "block", reg.BlockNumber, "tokenId", supply)

	reg.TokenID = supply
	return reg, nil
}

func (r *Registry) mintEvent(receipt *types.Receipt) (*big.Int, common.Address, bool) {
	for _, l := range receipt.Logs {
		if l.Address != r.address || len(l.Topics) != 4 {
			continue
		}
		if l.Topics[0] != contracts.TransferEvent || l.Topics[1] != (common.Hash{}) {
			continue
		}
		id := new(uint256.Int).SetBytes32(l.Topics[3].Bytes())
		return id.ToBig(), common.BytesToAddress(l.Topics[2].Bytes()), true
	}
	return nil, common.Address{}, false
}

// decodeCall fills owner and uri from the submitted calldata when the node still has it.
func (r *Registry) decodeCall(ctx context.Context, hash common.Hash, reg *FileRegistration) {
	tx, _, err := r.transactor.Backend().TransactionByHash(ctx, hash)
	if err != nil || len(tx.Data()) < 4 {
		return
	}
	method, err := r.abi.MethodById(tx.Data()[:4])
	if err != nil || method.Name != contracts.RegisterFile {
		return
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil || len(args) != 2 {
		return
	}
	if owner, ok := args[0].(common.Address); ok {
		reg.Owner = owner
	}
	if uri, ok := args[1].(string); ok {
		reg.ContentURI = uri
	}
}

// Lookup reports the state of a registration transaction without waiting.
func (r *Registry) Lookup(ctx context.Context, hash common.Hash) (ledger.TxState, *types.Receipt, error) {
	return r.transactor.Lookup(ctx, hash)
}

func (r *Registry) TotalSupply(ctx context.Context) (*big.Int, error) {
	return r.totalSupplyAt(ctx, nil)
}

func (r *Registry) totalSupplyAt(ctx context.Context, block *big.Int) (*big.Int, error) {
	data, err := r.abi.Pack(contracts.TotalSupply)
	if err != nil {
		return nil, fmt.Errorf("failed to pack totalSupply: %w", err)
	}

	out, err := r.transactor.Call(ctx, r.address, data, block)
	if err != nil {
		return nil, err
	}

	res, err := r.abi.Unpack(contracts.TotalSupply, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack totalSupply: %w", err)
	}
	supply, ok := res[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected totalSupply result %T", res[0])
	}
	return supply, nil
}
