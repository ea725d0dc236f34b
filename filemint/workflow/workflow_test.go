package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/filemint/filemint/filemint/contracts"
	"github.com/filemint/filemint/filemint/failures"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/metadata"
	"github.com/filemint/filemint/filemint/registry"
	"github.com/filemint/filemint/filemint/testutil"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var reward = ledger.TokensToWei(big.NewInt(500))

func newWorld(t *testing.T) *testutil.World {
	t.Helper()

	ctx := context.Background()
	w, err := testutil.NewWorld(ctx, testutil.WorldOptions{})
	require.NoError(t, err)
	t.Cleanup(w.Shutdown)

	require.NoError(t, w.FundTreasury(ctx, 1_000_000_000))
	return w
}

func upload(name string) workflow.UploadRequest {
	return workflow.UploadRequest{
		File:         []byte("hello"),
		DisplayName:  name,
		CreatorName:  "alice",
		OwnerAccount: testutil.Owner.Hex(),
	}
}

func workflowError(t *testing.T, err error) *workflow.Error {
	t.Helper()
	var wfErr *workflow.Error
	require.ErrorAs(t, err, &wfErr)
	return wfErr
}

func TestRegisterOnEmptyLedger(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	res, err := w.Upload(ctx, upload("art1"))
	require.NoError(t, err)

	require.Equal(t, big.NewInt(1), res.Registration.TokenID)
	require.Equal(t, testutil.Owner, res.Registration.Owner)
	require.Equal(t, res.Metadata.URI(), res.Registration.ContentURI)
	require.Equal(t, reward, res.Reward.Amount)
	require.Equal(t, testutil.StoreOwner, res.Reward.From)
	require.Equal(t, testutil.Owner, res.Reward.To)
	require.Equal(t, testutil.Owner, res.Balance.Address)
	require.Equal(t, reward, res.Balance.Balance)

	require.Equal(t, []workflow.State{
		workflow.Pinning,
		workflow.MetadataPinning,
		workflow.Registering,
		workflow.AwaitingReceipt,
		workflow.Rewarding,
		workflow.Completed,
	}, w.Transitions())

	raw, ok := w.Store.Get(res.Metadata.ContentID)
	require.True(t, ok)
	var record metadata.Record
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, "art1", record.Name)
	assert.Equal(t, "alice", record.Creator)
	assert.Equal(t, res.File.ContentID, record.File)
	assert.Equal(t, testutil.Owner, record.AssociatedAccount)

	file, ok := w.Store.Get(res.File.ContentID)
	require.True(t, ok)
	require.Equal(t, "hello", string(file))

	cp, ok := w.Clients.Workflow.Checkpoint(res.Key)
	require.True(t, ok)
	require.Equal(t, workflow.Completed, cp.State)
}

func TestInvalidSubmissionMakesNoCalls(t *testing.T) {
	w := newWorld(t)

	for name, req := range map[string]workflow.UploadRequest{
		"EmptyName":    {File: []byte("hello"), DisplayName: "  ", OwnerAccount: testutil.Owner.Hex()},
		"EmptyOwner":   {File: []byte("hello"), DisplayName: "art1"},
		"OwnerNotAddr": {File: []byte("hello"), DisplayName: "art1", OwnerAccount: "0xABC"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := w.Upload(context.Background(), req)
			require.ErrorIs(t, err, failures.ErrInvalidSubmission)
			require.Equal(t, workflow.Idle, workflowError(t, err).State)
		})
	}

	require.Zero(t, w.Store.Calls())
	require.Zero(t, w.Chain.Sent(contracts.RegisterFile))
	require.Zero(t, w.Chain.Sent(contracts.Transfer))
}

func TestDuplicateSubmissionRefused(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.Upload(ctx, upload("art1"))
	require.NoError(t, err)

	_, err = w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, failures.ErrDuplicateRegistration)

	require.Equal(t, 1, w.Chain.Sent(contracts.RegisterFile))
	require.Equal(t, 1, w.Chain.Sent(contracts.Transfer))
}

func TestSequentialTokenIDsIncrease(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	var last *big.Int
	for i := range 5 {
		res, err := w.Upload(ctx, upload(fmt.Sprintf("art%d", i)))
		require.NoError(t, err)
		if last != nil {
			require.Equal(t, 1, res.Registration.TokenID.Cmp(last))
		}
		last = res.Registration.TokenID
	}

	balance, err := w.Clients.Treasury.BalanceOf(ctx, testutil.Owner)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(reward, big.NewInt(5)), balance.Balance)
}

func TestStorageRetriedWithBackoff(t *testing.T) {
	w := newWorld(t)
	w.Store.FailNext(2, failures.ErrStorageUnavailable)

	_, err := w.Upload(context.Background(), upload("art1"))
	require.NoError(t, err)
	require.Equal(t, 4, w.Store.Calls())
}

func TestStorageGivesUpThenRestarts(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	// One initial attempt plus the default three retries.
	w.Store.FailNext(4, failures.ErrStorageUnavailable)

	_, err := w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, failures.ErrStorageUnavailable)
	wfErr := workflowError(t, err)
	require.Equal(t, workflow.Pinning, wfErr.State)
	require.Equal(t, workflow.PinFailed, wfErr.Checkpoint.State)
	require.Zero(t, w.Chain.Sent(contracts.RegisterFile))
	require.Equal(t, 4, w.Store.Calls())

	res, err := w.Upload(ctx, upload("art1"))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), res.Registration.TokenID)
}

func TestPayloadRejectedIsNotRetried(t *testing.T) {
	w := newWorld(t)

	req := upload("art1")
	req.File = nil

	_, err := w.Upload(context.Background(), req)
	require.ErrorIs(t, err, failures.ErrPayloadRejected)
	require.Equal(t, 1, w.Store.Calls())
}

func TestReceiptTimeoutResumesWithoutResubmitting(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.Chain.Hold()

	_, err := w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, failures.ErrReceiptTimeout)

	wfErr := workflowError(t, err)
	require.Equal(t, workflow.AwaitingReceipt, wfErr.State)
	require.NotEqual(t, common.Hash{}, wfErr.Checkpoint.RegistrationTx)
	require.False(t, wfErr.Checkpoint.Registered())

	// Registration may still land, so starting over is refused.
	_, err = w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, failures.ErrDuplicateRegistration)

	head := w.Chain.Head()
	require.Equal(t, head+1, w.Chain.Mine())

	res, err := w.Resume(ctx)
	require.NoError(t, err)

	require.Equal(t, big.NewInt(1), res.Registration.TokenID)
	require.Equal(t, head+1, res.Registration.BlockNumber)
	require.Equal(t, reward, res.Balance.Balance)
	require.Equal(t, 1, w.Chain.Sent(contracts.RegisterFile))
	require.Equal(t, 1, w.Chain.Sent(contracts.Transfer))
}

func TestCrashBeforeRewardPaysOnce(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.On(workflow.Rewarding, func() {
		w.Chain.FailNextSend(errors.New("connection refused"))
	})

	_, err := w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, failures.ErrRewardTransferFailed)

	wfErr := workflowError(t, err)
	require.Equal(t, workflow.Rewarding, wfErr.State)
	require.Equal(t, workflow.RewardFailed, wfErr.Checkpoint.State)
	require.True(t, wfErr.Checkpoint.Registered())

	// A restarted process has an empty journal and only the checkpoint.
	c := w.Clients
	restarted := workflow.New(c.Store, c.Registry, c.Treasury, c.Signers, nil, workflow.Options{RewardAmount: reward})

	res, err := restarted.Resume(ctx, wfErr.Checkpoint)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), res.Registration.TokenID)
	require.Equal(t, reward, res.Balance.Balance)

	require.Equal(t, 1, w.Chain.Sent(contracts.RegisterFile))
	require.Equal(t, 1, w.Chain.Sent(contracts.Transfer))
}

func TestRewardKeyedByTokenID(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.On(workflow.Rewarding, w.Chain.Hold)

	_, err := w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, failures.ErrRewardTransferFailed)
	require.ErrorIs(t, err, failures.ErrReceiptTimeout)

	cp := workflowError(t, err).Checkpoint
	require.NotEqual(t, common.Hash{}, cp.RewardTx)

	w.Chain.Mine()

	// A stale copy of the checkpoint that never saw the reward transaction.
	stale := cp
	stale.RewardTx = common.Hash{}

	res, err := w.Clients.Workflow.Resume(ctx, stale)
	require.NoError(t, err)
	require.Equal(t, cp.RewardTx, res.Reward.TxHash)

	again, err := w.Clients.Workflow.Resume(ctx, cp)
	require.NoError(t, err)
	require.Equal(t, res.Reward.TxHash, again.Reward.TxHash)

	require.Equal(t, 1, w.Chain.Sent(contracts.Transfer))
	require.Equal(t, reward, again.Balance.Balance)
}

func TestDroppedRegistrationIsResubmitted(t *testing.T) {
	w := newWorld(t)
	w.Chain.Hold()
	w.On(workflow.AwaitingReceipt, w.Chain.Drop)

	res, err := w.Upload(context.Background(), upload("art1"))
	require.NoError(t, err)

	require.Equal(t, big.NewInt(1), res.Registration.TokenID)
	require.Equal(t, 2, w.Chain.Sent(contracts.RegisterFile))
	_, _, minted := w.Chain.TokenOwner(2)
	require.False(t, minted)
}

func TestCancelBeforeRegistering(t *testing.T) {
	w := newWorld(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.On(workflow.MetadataPinning, cancel)

	_, err := w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, workflow.MetadataPinning, workflowError(t, err).State)
	require.Zero(t, w.Chain.Sent(contracts.RegisterFile))
}

func TestLedgerRejectionAllowsRestart(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.Chain.RevertNext(contracts.RegisterFile, 1)

	_, err := w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, failures.ErrLedgerRejected)
	wfErr := workflowError(t, err)
	require.Equal(t, workflow.Registering, wfErr.State)
	require.Equal(t, workflow.RegistrationFailed, wfErr.Checkpoint.State)

	_, err = w.Upload(ctx, upload("art1"))
	require.NoError(t, err)
}

func TestOutOfGasSurfacesHint(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.Chain.OutOfGasNext(contracts.RegisterFile, 1)

	_, err := w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, failures.ErrInsufficientGas)
	require.ErrorContains(t, err, failures.GasHint)
	require.Equal(t, workflow.AwaitingReceipt, workflowError(t, err).State)

	// The reverted registration changed nothing, so the upload may be sent again.
	res, err := w.Upload(ctx, upload("art1"))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), res.Registration.TokenID)
}

func TestConcurrentRunsShareTheTreasury(t *testing.T) {
	w := newWorld(t)

	const n = 16

	g, ctx := errgroup.WithContext(context.Background())
	for i := range n {
		g.Go(func() error {
			_, err := w.Clients.Workflow.Register(ctx, upload(fmt.Sprintf("art%d", i)))
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Zero(t, w.Chain.NonceConflicts())
	require.Equal(t, n, w.Chain.Sent(contracts.RegisterFile))
	require.Equal(t, n, w.Chain.Sent(contracts.Transfer))

	seen := map[uint64]bool{}
	for id := uint64(1); id <= n; id++ {
		owner, _, ok := w.Chain.TokenOwner(id)
		require.True(t, ok)
		require.Equal(t, testutil.Owner, owner)
		seen[id] = true
	}
	require.Len(t, seen, n)

	require.Equal(t, new(big.Int).Mul(reward, big.NewInt(n)), w.Chain.Balance(testutil.Owner))
}

func TestResumeIgnoresClaimedRegistration(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.Clients.Workflow.Resume(ctx, workflow.Checkpoint{
		Key:   "forged",
		State: workflow.RewardFailed,
		Owner: testutil.Owner,
		Registration: &registry.FileRegistration{
			TokenID: big.NewInt(999),
			Owner:   testutil.Owner,
			Status:  types.ReceiptStatusSuccessful,
		},
	})
	require.ErrorIs(t, err, failures.ErrInvalidSubmission)

	require.Zero(t, w.Chain.Sent(contracts.RegisterFile))
	require.Zero(t, w.Chain.Sent(contracts.Transfer))
	require.Zero(t, w.Chain.Balance(testutil.Owner).Sign())
}

func TestResumeRequiresRegistrationOfOwner(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	res, err := w.Upload(ctx, upload("art1"))
	require.NoError(t, err)

	thief := common.HexToAddress("0x000000000000000000000000000000000000bad0")
	_, err = w.Clients.Workflow.Resume(ctx, workflow.Checkpoint{
		Key:            "forged",
		State:          workflow.RewardFailed,
		Owner:          thief,
		Metadata:       &res.Metadata,
		RegistrationTx: res.Registration.TxHash,
		Registration: &registry.FileRegistration{
			TokenID: res.Registration.TokenID,
			Owner:   thief,
			Status:  types.ReceiptStatusSuccessful,
		},
	})
	require.ErrorIs(t, err, failures.ErrInvalidSubmission)

	require.Equal(t, 1, w.Chain.Sent(contracts.RegisterFile))
	require.Equal(t, 1, w.Chain.Sent(contracts.Transfer))
	require.Zero(t, w.Chain.Balance(thief).Sign())
}

func TestResumeUnknownRegistrationWithoutMetadata(t *testing.T) {
	w := newWorld(t)

	_, err := w.Clients.Workflow.Resume(context.Background(), workflow.Checkpoint{
		Key:            "forged",
		State:          workflow.RegistrationFailed,
		Owner:          testutil.Owner,
		RegistrationTx: common.HexToHash("0xdead"),
	})
	require.ErrorIs(t, err, failures.ErrInvalidSubmission)
	require.Zero(t, w.Chain.Sent(contracts.RegisterFile))
}

func TestDroppedRewardIsPaidOnResume(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.On(workflow.Rewarding, w.Chain.Hold)

	_, err := w.Upload(ctx, upload("art1"))
	require.ErrorIs(t, err, failures.ErrRewardTransferFailed)
	require.ErrorIs(t, err, failures.ErrReceiptTimeout)

	w.Chain.Drop()

	res, err := w.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, reward, res.Reward.Amount)
	require.Equal(t, reward, res.Balance.Balance)

	require.Zero(t, w.Chain.NonceConflicts())
	require.Equal(t, reward, w.Chain.Balance(testutil.Owner))
}

func TestNodeManagedTreasury(t *testing.T) {
	ctx := context.Background()
	w, err := testutil.NewWorld(ctx, testutil.WorldOptions{NodeTreasury: true})
	require.NoError(t, err)
	t.Cleanup(w.Shutdown)
	require.NoError(t, w.FundTreasury(ctx, 1000))

	res, err := w.Upload(ctx, upload("art1"))
	require.NoError(t, err)
	require.Equal(t, testutil.StoreOwner, res.Reward.From)
	require.Equal(t, reward, res.Balance.Balance)
}
