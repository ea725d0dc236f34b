package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/filemint/filemint/filemint/contracts"
)

var (
	RegistryAddress = common.HexToAddress("0x00000000000000000000000000000000000f11e5")
	TreasuryAddress = common.HexToAddress("0x0000000000000000000000000000000000007e11")
)

const defaultGas = 100_000

// Chain is an in-memory ledger running the registry and treasury contracts. It satisfies
// ledger.Backend and ledger.RPCCaller, enforces strict per-sender nonces and lets tests
// hold transactions in the pool, inject send errors and force reverts.
type Chain struct {
	mu sync.Mutex

	chainID     *big.Int
	signer      types.Signer
	registryABI abi.ABI
	treasuryABI abi.ABI

	block    uint64
	nonces   map[common.Address]uint64
	txs      map[common.Hash]*types.Transaction
	senders  map[common.Hash]common.Address
	receipts map[common.Hash]*types.Receipt
	pool     []common.Hash
	holding  bool

	registrySupply *big.Int
	supplyHistory  map[uint64]*big.Int
	tokenOwners    map[uint64]common.Address
	tokenURIs      map[uint64]string
	balances       map[common.Address]*big.Int

	nodeAccounts   []common.Address
	sendErrs       []error
	revertNext     map[string]int
	outOfGasNext   map[string]int
	sent           map[string]int
	nonceConflicts int
	quietRegistry  bool
}

func NewChain() *Chain {
	registryABI, err := contracts.FileToken("")
	if err != nil {
		panic(err)
	}
	treasuryABI, err := contracts.MintToken("")
	if err != nil {
		panic(err)
	}

	chainID := big.NewInt(1337)

	return &Chain{
		chainID:        chainID,
		signer:         types.LatestSignerForChainID(chainID),
		registryABI:    registryABI,
		treasuryABI:    treasuryABI,
		nonces:         map[common.Address]uint64{},
		txs:            map[common.Hash]*types.Transaction{},
		senders:        map[common.Hash]common.Address{},
		receipts:       map[common.Hash]*types.Receipt{},
		registrySupply: new(big.Int),
		supplyHistory:  map[uint64]*big.Int{0: new(big.Int)},
		tokenOwners:    map[uint64]common.Address{},
		tokenURIs:      map[uint64]string{},
		balances:       map[common.Address]*big.Int{},
		revertNext:     map[string]int{},
		outOfGasNext:   map[string]int{},
		sent:           map[string]int{},
	}
}

// AddNodeAccount makes addr available to eth_accounts and eth_sendTransaction.
func (c *Chain) AddNodeAccount(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeAccounts = append(c.nodeAccounts, addr)
}

// Hold keeps accepted transactions in the pool until Mine is called.
func (c *Chain) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holding = true
}

// Mine includes every pooled transaction in the next block and stops holding.
func (c *Chain) Mine() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.holding = false
	c.block++
	for _, h := range c.pool {
		c.execute(h)
	}
	c.pool = nil
	c.supplyHistory[c.block] = new(big.Int).Set(c.registrySupply)
	return c.block
}

// OmitRegistryEvents stops the registry from emitting its mint Transfer event.
func (c *Chain) OmitRegistryEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quietRegistry = true
}

// Drop discards every pooled transaction as if the node had evicted it, rewinds the
// senders' nonces and stops holding.
func (c *Chain) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.pool {
		from := c.senders[h]
		c.nonces[from]--
		delete(c.txs, h)
		delete(c.senders, h)
	}
	c.pool = nil
	c.holding = false
}

// FailNextSend makes the next SendTransaction return err without accepting the transaction.
func (c *Chain) FailNextSend(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErrs = append(c.sendErrs, err)
}

// RevertNext makes the next n estimates of method fail with an execution revert.
func (c *Chain) RevertNext(method string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revertNext[method] += n
}

// OutOfGasNext makes the next n executions of method fail after consuming all gas.
func (c *Chain) OutOfGasNext(method string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outOfGasNext[method] += n
}

// Sent is the number of accepted transactions calling method.
func (c *Chain) Sent(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[method]
}

// NonceConflicts is the number of transactions refused for a wrong nonce.
func (c *Chain) NonceConflicts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonceConflicts
}

func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceOf(addr))
}

// SetBalance credits the treasury token directly, bypassing mint.
func (c *Chain) SetBalance(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(amount)
}

func (c *Chain) TokenOwner(id uint64) (common.Address, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.tokenOwners[id]
	return owner, c.tokenURIs[id], ok
}

func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

func (c *Chain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	if contract == RegistryAddress || contract == TreasuryAddress {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (c *Chain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call.To == nil || len(call.Data) < 4 {
		return nil, errors.New("execution reverted")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	contractABI, err := c.abiFor(*call.To)
	if err != nil {
		return nil, err
	}
	method, err := contractABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}

	switch {
	case *call.To == RegistryAddress && method.Name == contracts.TotalSupply:
		supply := c.registrySupply
		if blockNumber != nil {
			supply = c.supplyAt(blockNumber.Uint64())
		}
		return method.Outputs.Pack(new(big.Int).Set(supply))
	case *call.To == TreasuryAddress && method.Name == contracts.BalanceOf:
		return method.Outputs.Pack(new(big.Int).Set(c.balanceOf(args[0].(common.Address))))
	case *call.To == TreasuryAddress && method.Name == contracts.TotalSupply:
		total := new(big.Int)
		for _, b := range c.balances {
			total.Add(total, b)
		}
		return method.Outputs.Pack(total)
	}

	return nil, fmt.Errorf("execution reverted: %s is not a view", method.Name)
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.Head(), nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2e9), nil
}

func (c *Chain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (c *Chain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if call.To == nil {
		return 0, errors.New("contract creation is not supported")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	name, args, err := c.decode(*call.To, call.Data)
	if err != nil {
		return 0, err
	}
	if c.revertNext[name] > 0 {
		c.revertNext[name]--
		return 0, fmt.Errorf("execution reverted: %s refused", name)
	}
	if reason := c.check(call.From, *call.To, name, args); reason != "" {
		return 0, fmt.Errorf("execution reverted: %s", reason)
	}
	return defaultGas, nil
}

func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.accept(from, tx)
}

func (c *Chain) accept(from common.Address, tx *types.Transaction) error {
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		return err
	}
	if _, ok := c.txs[tx.Hash()]; ok {
		return errors.New("already known")
	}
	if tx.To() == nil {
		return errors.New("contract creation is not supported")
	}
	name, _, err := c.decode(*tx.To(), tx.Data())
	if err != nil {
		return err
	}

	expected := c.nonces[from]
	switch {
	case tx.Nonce() < expected:
		c.nonceConflicts++
		return fmt.Errorf("nonce too low: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)
	case tx.Nonce() > expected:
		c.nonceConflicts++
		return fmt.Errorf("nonce too high: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)
	}

	c.nonces[from]++
	c.txs[tx.Hash()] = tx
	c.senders[tx.Hash()] = from
	c.sent[name]++

	if c.holding {
		c.pool = append(c.pool, tx.Hash())
		return nil
	}

	c.block++
	c.execute(tx.Hash())
	c.supplyHistory[c.block] = new(big.Int).Set(c.registrySupply)
	return nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *Chain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := c.receipts[hash]
	return tx, !mined, nil
}

// CallContext serves the node-managed account methods.
func (c *Chain) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch method {
	case "eth_accounts":
		out, ok := result.(*[]common.Address)
		if !ok {
			return fmt.Errorf("unexpected result type %T", result)
		}
		*out = append([]common.Address(nil), c.nodeAccounts...)
		return nil
	case "eth_sendTransaction":
		return c.sendFromNode(result, args)
	}
	return fmt.Errorf("the method %s does not exist/is not available", method)
}

func (c *Chain) sendFromNode(result interface{}, args []interface{}) error {
	if len(args) != 1 {
		return errors.New("missing value for required argument 0")
	}
	encoded, err := json.Marshal(args[0])
	if err != nil {
		return err
	}
	var req struct {
		From  common.Address  `json:"from"`
		To    *common.Address `json:"to"`
		Gas   hexutil.Uint64  `json:"gas"`
		Value *hexutil.Big    `json:"value"`
		Data  hexutil.Bytes   `json:"data"`
	}
	err = json.Unmarshal(encoded, &req)
	if err != nil {
		return err
	}

	known := false
	for _, a := range c.nodeAccounts {
		if a == req.From {
			known = true
		}
	}
	if !known {
		return errors.New("unknown account")
	}

	value := new(big.Int)
	if req.Value != nil {
		value = req.Value.ToInt()
	}
	// Unsigned stand-in; V carries the sender so hashes stay unique across accounts.
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    c.nonces[req.From],
		To:       req.To,
		Gas:      uint64(req.Gas),
		GasPrice: big.NewInt(2e9),
		Value:    value,
		Data:     req.Data,
		V:        new(big.Int).SetBytes(req.From[:]),
		R:        new(big.Int),
		S:        new(big.Int),
	})

	err = c.accept(req.From, tx)
	if err != nil {
		return err
	}

	out, ok := result.(*common.Hash)
	if !ok {
		return fmt.Errorf("unexpected result type %T", result)
	}
	*out = tx.Hash()
	return nil
}

func (c *Chain) abiFor(addr common.Address) (abi.ABI, error) {
	switch addr {
	case RegistryAddress:
		return c.registryABI, nil
	case TreasuryAddress:
		return c.treasuryABI, nil
	}
	return abi.ABI{}, fmt.Errorf("no contract at %s", addr.Hex())
}

func (c *Chain) decode(to common.Address, data []byte) (string, []interface{}, error) {
	contractABI, err := c.abiFor(to)
	if err != nil {
		return "", nil, err
	}
	if len(data) < 4 {
		return "", nil, errors.New("execution reverted: no method selector")
	}
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return "", nil, fmt.Errorf("execution reverted: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, fmt.Errorf("execution reverted: %w", err)
	}
	return method.Name, args, nil
}

// check returns a revert reason, or "" when the call would succeed.
func (c *Chain) check(from, to common.Address, name string, args []interface{}) string {
	switch {
	case to == RegistryAddress && name == contracts.RegisterFile:
		if args[1].(string) == "" {
			return "FileToken: empty uri"
		}
	case to == TreasuryAddress && name == contracts.Transfer:
		if c.balanceOf(from).Cmp(args[1].(*big.Int)) < 0 {
			return "ERC20: transfer amount exceeds balance"
		}
	}
	return ""
}

// execute applies a transaction in the current block. Callers hold c.mu.
func (c *Chain) execute(h common.Hash) {
	tx := c.txs[h]
	from := c.senders[h]
	name, args, _ := c.decode(*tx.To(), tx.Data())

	receipt := &types.Receipt{
		Type:        tx.Type(),
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      h,
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     21_000,
	}
	c.receipts[h] = receipt

	if c.outOfGasNext[name] > 0 {
		c.outOfGasNext[name]--
		receipt.Status = types.ReceiptStatusFailed
		receipt.GasUsed = tx.Gas()
		return
	}
	if c.check(from, *tx.To(), name, args) != "" {
		receipt.Status = types.ReceiptStatusFailed
		return
	}

	switch {
	case *tx.To() == RegistryAddress && name == contracts.RegisterFile:
		owner := args[0].(common.Address)
		c.registrySupply.Add(c.registrySupply, common.Big1)
		id := c.registrySupply.Uint64()
		c.tokenOwners[id] = owner
		c.tokenURIs[id] = args[1].(string)
		if c.quietRegistry {
			return
		}
		receipt.Logs = append(receipt.Logs, c.log(h, RegistryAddress, []common.Hash{
			contracts.TransferEvent,
			{},
			common.BytesToHash(owner.Bytes()),
			common.BigToHash(c.registrySupply),
		}, nil))
	case *tx.To() == TreasuryAddress && name == contracts.Transfer:
		to := args[0].(common.Address)
		amount := args[1].(*big.Int)
		c.balances[from] = new(big.Int).Sub(c.balanceOf(from), amount)
		c.balances[to] = new(big.Int).Add(c.balanceOf(to), amount)
		receipt.Logs = append(receipt.Logs, c.log(h, TreasuryAddress, []common.Hash{
			contracts.TransferEvent,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		}, common.BigToHash(amount).Bytes()))
	case *tx.To() == TreasuryAddress && name == contracts.Mint:
		to := args[0].(common.Address)
		amount := args[1].(*big.Int)
		c.balances[to] = new(big.Int).Add(c.balanceOf(to), amount)
		receipt.Logs = append(receipt.Logs, c.log(h, TreasuryAddress, []common.Hash{
			contracts.TransferEvent,
			{},
			common.BytesToHash(to.Bytes()),
		}, common.BigToHash(amount).Bytes()))
	}
}

func (c *Chain) log(h common.Hash, addr common.Address, topics []common.Hash, data []byte) *types.Log {
	return &types.Log{
		Address:     addr,
		Topics:      topics,
		Data:        data,
		BlockNumber: c.block,
		TxHash:      h,
	}
}

func (c *Chain) balanceOf(addr common.Address) *big.Int {
	b, ok := c.balances[addr]
	if !ok {
		return new(big.Int)
	}
	return b
}

func (c *Chain) supplyAt(block uint64) *big.Int {
	for b := block; ; b-- {
		if s, ok := c.supplyHistory[b]; ok {
			return s
		}
		if b == 0 {
			return new(big.Int)
		}
	}
}
