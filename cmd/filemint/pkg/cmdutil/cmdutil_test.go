package cmdutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/filemint/filemint/filemint/failures"
	"github.com/filemint/filemint/filemint/registry"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/stretchr/testify/require"
)

func TestFailedSavesCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cp := workflow.Checkpoint{
		Key:            "0x01",
		RunID:          "run",
		State:          workflow.RegistrationFailed,
		RegistrationTx: common.HexToHash("0xabc"),
	}

	err := Failed(&workflow.Error{State: workflow.AwaitingReceipt, Err: failures.ErrReceiptTimeout, Checkpoint: cp}, path)
	require.ErrorIs(t, err, failures.ErrReceiptTimeout)
	require.ErrorContains(t, err, "filemint resume --checkpoint "+path)

	saved, err := ReadCheckpoint(path)
	require.NoError(t, err)
	require.Equal(t, cp.Key, saved.Key)
	require.Equal(t, cp.State, saved.State)
	require.Equal(t, cp.RegistrationTx, saved.RegistrationTx)
}

func TestFailedWithoutCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	plain := errors.New("boom")
	require.Equal(t, plain, Failed(plain, path))

	idle := &workflow.Error{State: workflow.Idle, Err: failures.ErrInvalidSubmission}
	require.Equal(t, error(idle), Failed(idle, path))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestLockCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	unlock, err := LockCheckpoint(path)
	require.NoError(t, err)

	_, err = LockCheckpoint(path)
	require.ErrorContains(t, err, "in use by another filemint process")

	unlock()

	unlock, err = LockCheckpoint(path)
	require.NoError(t, err)
	unlock()
}

func TestSaveCheckpointsFollowsTheRun(t *testing.T) {
	path := CheckpointPath(filepath.Join(t.TempDir(), "checkpoints"), "0xabc")
	require.Equal(t, "abc.json", filepath.Base(path))

	save := SaveCheckpoints(path)
	save(workflow.Checkpoint{Key: "0xabc", State: workflow.Registering})
	save(workflow.Checkpoint{Key: "0xabc", State: workflow.AwaitingReceipt, RegistrationTx: common.HexToHash("0x01")})

	cp, err := ReadCheckpoint(path)
	require.NoError(t, err)
	require.Equal(t, workflow.AwaitingReceipt, cp.State)
	require.Equal(t, common.HexToHash("0x01"), cp.RegistrationTx)

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestCheckRegistrable(t *testing.T) {
	dir := t.TempDir()

	for name, tc := range map[string]struct {
		cp *workflow.Checkpoint
		ok bool
	}{
		"NoCheckpoint":        {nil, true},
		"StoppedBeforeLedger": {&workflow.Checkpoint{Key: "k", State: workflow.MetadataPinning}, true},
		"KilledAfterSubmit":   {&workflow.Checkpoint{Key: "k", State: workflow.AwaitingReceipt, RegistrationTx: common.HexToHash("0x01")}, false},
		"RegistrationReverted": {&workflow.Checkpoint{
			Key:            "k",
			State:          workflow.RegistrationFailed,
			RegistrationTx: common.HexToHash("0x01"),
			Registration:   &registry.FileRegistration{Status: types.ReceiptStatusFailed, BlockNumber: 2},
		}, true},
		"Completed": {&workflow.Checkpoint{Key: "k", State: workflow.Completed, RegistrationTx: common.HexToHash("0x01")}, false},
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			if tc.cp != nil {
				require.NoError(t, WriteCheckpoint(path, *tc.cp))
			}

			err := CheckRegistrable(path)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, failures.ErrDuplicateRegistration)
			}
		})
	}
}
