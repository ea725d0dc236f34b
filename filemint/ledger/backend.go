// Package ledger submits and tracks transactions for the registry and treasury clients.
package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the part of *ethclient.Client the ledger clients use.
type Backend interface {
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)

	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// RPCCaller is satisfied by *rpc.Client.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Call is a contract invocation to be signed and submitted.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int

	// Gas is a fixed gas limit. Zero means estimate.
	Gas uint64
}

type TxState int

const (
	// TxAbsent means the node knows nothing of the transaction.
	TxAbsent TxState = iota
	TxPending
	TxConfirmed
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxAbsent:
		return "absent"
	case TxPending:
		return "pending"
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	}
	return "unknown"
}
