package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/filemint/filemint/filemint/failures"
	lru "github.com/hashicorp/golang-lru/v2"
)

// submittedCacheSize bounds how many locally signed hashes are remembered for nonce recovery.
const submittedCacheSize = 4096

// Transactor is the shared handle to the ledger. It is safe for concurrent use; the only
// state it synchronizes is the per-signer sequence slot and the locally tracked nonces.
type Transactor struct {
	backend Backend
	seq     *SequenceLock
	logger  log.Logger

	mu      sync.Mutex
	chainID *big.Int
	nonces  map[common.Address]uint64

	// submitted maps locally signed transactions to their sender.
	submitted *lru.Cache[common.Hash, common.Address]
}

func NewTransactor(backend Backend) *Transactor {
	submitted, err := lru.New[common.Hash, common.Address](submittedCacheSize)
	if err != nil {
		panic(err)
	}
	return &Transactor{
		backend:   backend,
		seq:       NewSequenceLock(),
		logger:    log.New("component", "transactor"),
		nonces:    map[common.Address]uint64{},
		submitted: submitted,
	}
}

func (t *Transactor) Backend() Backend {
	return t.backend
}

// Submit signs and sends call from s and returns the transaction hash once the node has
// accepted it. Submissions from the same signer are strictly serialized.
func (t *Transactor) Submit(ctx context.Context, s Signer, call Call) (common.Hash, error) {
	release, err := t.seq.Acquire(ctx, s.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to acquire signer sequence: %w", err)
	}
	defer release()

	gas := call.Gas
	if gas == 0 {
		gas, err = t.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.Address(),
			To:    &call.To,
			Value: call.Value,
			Data:  call.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", Classify(err))
		}
	}

	switch s := s.(type) {
	case *KeySigner:
		return t.submitSigned(ctx, s, call, gas)
	case *NodeSigner:
		return t.submitNode(ctx, s, call, gas)
	}

	return common.Hash{}, fmt.Errorf("unsupported signer %T", s)
}

func (t *Transactor) submitSigned(ctx context.Context, s *KeySigner, call Call, gas uint64) (common.Hash, error) {
	chainID, err := t.chain(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := t.nextNonce(ctx, s.Address())
	if err != nil {
		return common.Hash{}, err
	}

	gasTipCap, err := t.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas tip cap: %w", err)
	}

	gasFeeCap, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas fee cap: %w", err)
	}
	if gasFeeCap.Cmp(gasTipCap) < 0 {
		gasFeeCap = gasTipCap
	}

	txdata := &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gas,
		To:        &call.To,
		Value:     call.Value,
		Data:      call.Data,
	}

	signer := types.LatestSignerForChainID(chainID)

	signedTx, err := types.SignNewTx(s.key, signer, txdata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	err = t.backend.SendTransaction(ctx, signedTx)
	switch {
	case err == nil, isAlreadyKnown(err):
		t.advanceNonce(s.Address(), nonce)
		t.submitted.Add(signedTx.Hash(), s.Address())
	case isNonceError(err):
		t.forgetNonce(s.Address())
		return common.Hash{}, fmt.Errorf("failed to send transaction with nonce %d: %w", nonce, err)
	default:
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", Classify(err))
	}

	t.logger.Debug("Transaction submitted", "from", s.Address(), "to", call.To, "nonce", nonce, "hash", signedTx.Hash())

	return signedTx.Hash(), nil
}

type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Gas   hexutil.Uint64  `json:"gas"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data"`
}

func (t *Transactor) submitNode(ctx context.Context, s *NodeSigner, call Call, gas uint64) (common.Hash, error) {
	args := sendTxArgs{
		From: s.Address(),
		To:   &call.To,
		Gas:  hexutil.Uint64(gas),
		Data: call.Data,
	}
	if call.Value != nil {
		args.Value = (*hexutil.Big)(call.Value)
	}

	var txHash common.Hash
	err := s.rpc.CallContext(ctx, &txHash, "eth_sendTransaction", args)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send tx: %w", Classify(err))
	}

	t.logger.Debug("Transaction submitted by node", "from", s.Address(), "to", call.To, "hash", txHash)

	return txHash, nil
}

// Await waits up to timeout for the receipt of hash. A receipt with a failed status is
// returned together with ErrLedgerRejected or ErrInsufficientGas.
func (t *Transactor) Await(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	receipt, err := bind.WaitMinedHash(waitCtx, t.backend, hash)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stopped waiting for %s: %w", hash.Hex(), ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s not mined within %s", failures.ErrReceiptTimeout, hash.Hex(), timeout)
		}
		return nil, fmt.Errorf("failed to wait for tx: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, t.receiptFailure(ctx, receipt)
	}

	return receipt, nil
}

func (t *Transactor) receiptFailure(ctx context.Context, receipt *types.Receipt) error {
	tx, _, err := t.backend.TransactionByHash(ctx, receipt.TxHash)
	if err == nil && receipt.GasUsed >= tx.Gas() {
		return fmt.Errorf("%w: %s ran out of gas at limit %d (%s)", failures.ErrInsufficientGas, receipt.TxHash.Hex(), tx.Gas(), failures.GasHint)
	}
	return fmt.Errorf("%w: %s reverted in block %v", failures.ErrLedgerRejected, receipt.TxHash.Hex(), receipt.BlockNumber)
}

// Lookup reports what the ledger currently knows about hash without waiting. When a
// transaction this transactor signed turns out to be absent, its sender's nonce is read
// from the node again before the next submission.
func (t *Transactor) Lookup(ctx context.Context, hash common.Hash) (TxState, *types.Receipt, error) {
	receipt, err := t.backend.TransactionReceipt(ctx, hash)
	if err == nil {
		t.submitted.Remove(hash)
		if receipt.Status == types.ReceiptStatusSuccessful {
			return TxConfirmed, receipt, nil
		}
		return TxFailed, receipt, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return TxAbsent, nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	_, _, err = t.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		if err := t.dropped(ctx, hash); err != nil {
			return TxAbsent, nil, err
		}
		return TxAbsent, nil, nil
	}
	if err != nil {
		return TxAbsent, nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	// Known to the node but without a receipt yet, whether still pooled or just mined.
	return TxPending, nil, nil
}

// Call runs a read-only contract call at block, or at the latest block when block is nil.
func (t *Transactor) Call(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract %s: %w", to.Hex(), err)
	}
	return out, nil
}

func (t *Transactor) chain(ctx context.Context) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.chainID != nil {
		return t.chainID, nil
	}

	chainID, err := t.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	t.chainID = chainID
	return chainID, nil
}

// nextNonce must be called while holding the signer's sequence slot.
func (t *Transactor) nextNonce(ctx context.Context, addr common.Address) (uint64, error) {
	t.mu.Lock()
	nonce, ok := t.nonces[addr]
	t.mu.Unlock()
	if ok {
		return nonce, nil
	}

	nonce, err := t.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return nonce, nil
}

// dropped forgets the cached nonce of the signer that sent hash. It waits for the signer's
// slot so no submission is between reading and advancing the nonce.
func (t *Transactor) dropped(ctx context.Context, hash common.Hash) error {
	from, ok := t.submitted.Peek(hash)
	if !ok {
		return nil
	}

	release, err := t.seq.Acquire(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to acquire signer sequence: %w", err)
	}
	defer release()

	t.submitted.Remove(hash)
	t.forgetNonce(from)

	t.logger.Warn("Submitted transaction dropped, nonce will be read from the node", "from", from, "hash", hash)

	return nil
}

func (t *Transactor) advanceNonce(addr common.Address, used uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nonces[addr] = used + 1
}

func (t *Transactor) forgetNonce(addr common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nonces, addr)
}
