// Package app builds the shared clients once at startup and runs the one-time supply issuance.
package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/filemint/filemint/filemint/config"
	"github.com/filemint/filemint/filemint/contentstore"
	"github.com/filemint/filemint/filemint/contracts"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/registry"
	"github.com/filemint/filemint/filemint/treasury"
	"github.com/filemint/filemint/filemint/workflow"
)

// Backends are the external systems the clients run against.
type Backends struct {
	Ledger ledger.Backend
	RPC    ledger.RPCCaller
	Store  contentstore.Store

	// Treasury replaces the signer cfg describes when set.
	Treasury ledger.Signer
}

// Clients are the long lived handles shared by every request. They are safe for concurrent use.
// Workflow is nil when no storage backend was configured.
type Clients struct {
	Config     config.Config
	Transactor *ledger.Transactor
	Store      contentstore.Store
	Registry   *registry.Registry
	Treasury   *treasury.Treasury
	Signers    ledger.SignerSource
	Journal    *workflow.Journal
	Workflow   *workflow.Orchestrator

	closers []func()
}

// Dial connects to the node and, when cfg has pinning credentials, the pinning service.
func Dial(ctx context.Context, cfg config.Config, opts workflow.Options) (*Clients, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.NodeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	ethClient := ethclient.NewClient(rpcClient)

	b := Backends{Ledger: ethClient, RPC: rpcClient}
	if cfg.ValidateStorage() == nil {
		store, err := contentstore.NewPinata(cfg.Pinata())
		if err != nil {
			ethClient.Close()
			return nil, fmt.Errorf("failed to create pinata client: %w", err)
		}
		b.Store = store
	}

	clients, err := Build(ctx, cfg, b, opts)
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	clients.closers = append(clients.closers, ethClient.Close)

	return clients, nil
}

// Build wires the clients over already connected backends. opts is completed from cfg.
func Build(ctx context.Context, cfg config.Config, b Backends, opts workflow.Options) (*Clients, error) {
	registryABI, err := contracts.FileToken(cfg.RegistryABI)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry abi: %w", err)
	}
	treasuryABI, err := contracts.MintToken(cfg.TreasuryABI)
	if err != nil {
		return nil, fmt.Errorf("failed to load treasury abi: %w", err)
	}

	registryAddress := common.HexToAddress(cfg.RegistryAddress)
	treasuryAddress := common.HexToAddress(cfg.TreasuryAddress)

	for name, addr := range map[string]common.Address{"registry": registryAddress, "treasury": treasuryAddress} {
		code, err := b.Ledger.CodeAt(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s contract: %w", name, err)
		}
		if len(code) == 0 {
			return nil, fmt.Errorf("no %s contract deployed at %s", name, addr.Hex())
		}
	}

	signer := b.Treasury
	if signer == nil {
		signer, err = treasurySigner(cfg, b.RPC)
		if err != nil {
			return nil, err
		}
	}

	transactor := ledger.NewTransactor(b.Ledger)
	signers := ledger.NewNodeAccounts(b.RPC)
	journal := workflow.NewJournal()

	reg := registry.New(transactor, registryAddress, registryABI, cfg.RegistryGas)
	tr := treasury.New(transactor, treasuryAddress, treasuryABI, signer, cfg.TreasuryGas)

	defaults := cfg.Workflow()
	if opts.RewardAmount == nil {
		opts.RewardAmount = defaults.RewardAmount
	}
	if opts.ReceiptTimeout == 0 {
		opts.ReceiptTimeout = defaults.ReceiptTimeout
	}
	if opts.StorageTimeout == 0 {
		opts.StorageTimeout = defaults.StorageTimeout
	}
	if opts.StorageRetries == 0 {
		opts.StorageRetries = defaults.StorageRetries
	}

	log.Info("Clients ready", "registry", registryAddress, "treasury", treasuryAddress, "storeOwner", signer.Address())

	clients := &Clients{
		Config:     cfg,
		Transactor: transactor,
		Store:      b.Store,
		Registry:   reg,
		Treasury:   tr,
		Signers:    signers,
		Journal:    journal,
	}
	if b.Store != nil {
		clients.Workflow = workflow.New(b.Store, reg, tr, signers, journal, opts)
	}
	return clients, nil
}

func treasurySigner(cfg config.Config, rpcClient ledger.RPCCaller) (ledger.Signer, error) {
	if cfg.TreasuryKeystore == "" {
		return ledger.NewNodeSigner(rpcClient, common.HexToAddress(cfg.StoreOwner)), nil
	}

	signer, err := ledger.LoadKeySigner(cfg.TreasuryKeystore, cfg.WalletPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load treasury key: %w", err)
	}
	if cfg.StoreOwner != "" && common.HexToAddress(cfg.StoreOwner) != signer.Address() {
		return nil, fmt.Errorf("treasury keystore holds %s, not the configured store owner %s", signer.Address().Hex(), cfg.StoreOwner)
	}
	return signer, nil
}

func (c *Clients) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// SupplyReport describes the outcome of IssueInitialSupply.
type SupplyReport struct {
	Skipped bool
	Supply  *big.Int
	Mint    *treasury.RewardTransfer
	Balance treasury.AccountBalance
}

// IssueInitialSupply mints amount to the store owner unless the treasury already has supply.
func (c *Clients) IssueInitialSupply(ctx context.Context, amount *big.Int) (*SupplyReport, error) {
	logger := log.New("component", "supply")
	owner := c.Treasury.Signer()

	supply, err := c.Treasury.TotalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read total supply: %w", err)
	}

	if supply.Sign() > 0 {
		balance, err := c.Treasury.BalanceOf(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to read store owner balance: %w", err)
		}
		logger.Info("Treasury already has supply, skipping mint", "supply", ledger.FormatTokens(supply), "storeOwner", owner)
		return &SupplyReport{Skipped: true, Supply: supply, Balance: balance}, nil
	}

	hash, err := c.Treasury.Mint(ctx, owner, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to mint initial supply: %w", err)
	}

	minted, err := c.Treasury.AwaitReceipt(ctx, hash, c.Config.ReceiptTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm initial supply mint %s: %w", hash.Hex(), err)
	}

	balance, err := c.Treasury.BalanceOf(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read store owner balance: %w", err)
	}

	logger.Info("Initial supply minted", "amount", ledger.FormatTokens(minted.Amount), "storeOwner", owner, "tx", hash, "block", minted.BlockNumber)

	return &SupplyReport{Supply: new(big.Int).Set(minted.Amount), Mint: &minted, Balance: balance}, nil
}
