package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filemint/filemint/filemint/app"
	"github.com/filemint/filemint/filemint/config"
	"github.com/filemint/filemint/filemint/contentstore"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/workflow"
)

var (
	// StoreOwnerKey signs every treasury transaction of a World.
	StoreOwnerKey, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")

	// StoreOwner is the treasury signer.
	StoreOwner = crypto.PubkeyToAddress(StoreOwnerKey.PublicKey)

	// Owner is the default submitter.
	Owner = common.HexToAddress("0x0000000000000000000000000000000000000ABC")
)

// World is the test world - it holds all the state that is shared between steps
type World struct {
	Chain   *Chain
	Store   *contentstore.Memory
	Clients *app.Clients

	LastResult *workflow.Result
	LastError  error
	Results    []*workflow.Result

	mu          sync.Mutex
	transitions []workflow.State
	hooks       map[workflow.State][]func()
	observer    func(workflow.Checkpoint)
}

// WorldOptions tune the orchestrator of a new World. Zero values keep the fast defaults.
type WorldOptions struct {
	RewardTokens   int64
	ReceiptTimeout time.Duration

	// NodeTreasury lets the node sign treasury transactions instead of StoreOwnerKey.
	NodeTreasury bool

	// OnTransition also observes every checkpoint.
	OnTransition func(workflow.Checkpoint)
}

// NewWorld starts an empty ledger with Owner as a node account and builds the clients
// over it. The treasury signs locally with StoreOwnerKey unless NodeTreasury is set.
func NewWorld(ctx context.Context, o WorldOptions) (*World, error) {
	if o.RewardTokens == 0 {
		o.RewardTokens = 500
	}
	if o.ReceiptTimeout == 0 {
		o.ReceiptTimeout = 100 * time.Millisecond
	}

	chain := NewChain()
	chain.AddNodeAccount(Owner)

	var treasurer ledger.Signer = ledger.NewKeySigner(StoreOwnerKey)
	if o.NodeTreasury {
		chain.AddNodeAccount(StoreOwner)
		treasurer = nil
	}

	w := &World{
		Chain:    chain,
		Store:    contentstore.NewMemory(0),
		hooks:    map[workflow.State][]func(){},
		observer: o.OnTransition,
	}

	cfg := config.Default()
	cfg.RegistryAddress = RegistryAddress.Hex()
	cfg.TreasuryAddress = TreasuryAddress.Hex()
	cfg.StoreOwner = StoreOwner.Hex()
	cfg.RewardAmount = uint64(o.RewardTokens)
	cfg.ReceiptTimeout = o.ReceiptTimeout

	clients, err := app.Build(ctx, cfg, app.Backends{Ledger: chain, RPC: chain, Store: w.Store, Treasury: treasurer}, workflow.Options{
		ReceiptTimeout: o.ReceiptTimeout,
		StorageBackoff: time.Millisecond,
		OnTransition:   w.observe,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build clients: %w", err)
	}
	w.Clients = clients

	return w, nil
}

// FundTreasury mints tokens whole tokens to the store owner.
func (w *World) FundTreasury(ctx context.Context, tokens int64) error {
	_, err := w.Clients.IssueInitialSupply(ctx, ledger.TokensToWei(big.NewInt(tokens)))
	return err
}

// Upload runs a registration and records its outcome.
func (w *World) Upload(ctx context.Context, req workflow.UploadRequest) (*workflow.Result, error) {
	res, err := w.Clients.Workflow.Register(ctx, req)
	w.record(res, err)
	return res, err
}

// Resume continues the run of the last failure.
func (w *World) Resume(ctx context.Context) (*workflow.Result, error) {
	cp, err := w.LastCheckpoint()
	if err != nil {
		return nil, err
	}
	res, err := w.Clients.Workflow.Resume(ctx, cp)
	w.record(res, err)
	return res, err
}

func (w *World) record(res *workflow.Result, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.LastResult = res
	w.LastError = err
	if res != nil {
		w.Results = append(w.Results, res)
	}
}

// LastCheckpoint is the checkpoint carried by the last workflow error.
func (w *World) LastCheckpoint() (workflow.Checkpoint, error) {
	wfErr, ok := w.LastError.(*workflow.Error)
	if !ok {
		return workflow.Checkpoint{}, fmt.Errorf("last error %v is not a workflow error", w.LastError)
	}
	return wfErr.Checkpoint, nil
}

// On runs fn the first time a run enters state.
func (w *World) On(state workflow.State, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks[state] = append(w.hooks[state], fn)
}

func (w *World) observe(cp workflow.Checkpoint) {
	if w.observer != nil {
		w.observer(cp)
	}

	w.mu.Lock()
	fresh := len(w.transitions) == 0 || w.transitions[len(w.transitions)-1] != cp.State
	if fresh {
		w.transitions = append(w.transitions, cp.State)
	}
	hooks := w.hooks[cp.State]
	if fresh {
		delete(w.hooks, cp.State)
	}
	w.mu.Unlock()

	if !fresh {
		return
	}
	for _, fn := range hooks {
		fn()
	}
}

// Transitions is every state entered so far, in order, without repeats.
func (w *World) Transitions() []workflow.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]workflow.State(nil), w.transitions...)
}

func (w *World) Shutdown() {
	w.Clients.Close()
}
