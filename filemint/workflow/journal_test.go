package workflow

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/filemint/filemint/filemint/failures"
	"github.com/filemint/filemint/filemint/registry"
	"github.com/filemint/filemint/filemint/treasury"
	"github.com/stretchr/testify/require"
)

func TestJournalClaim(t *testing.T) {
	j := NewJournal()
	cp := Checkpoint{Key: "k", RunID: "a", State: Idle}

	_, err := j.claim(cp, true)
	require.NoError(t, err)

	_, err = j.claim(cp, true)
	require.ErrorIs(t, err, failures.ErrDuplicateRegistration)
	_, err = j.claim(cp, false)
	require.ErrorIs(t, err, failures.ErrDuplicateRegistration)

	j.release("k")

	tests := []struct {
		name        string
		cp          Checkpoint
		restartable bool
	}{
		{"PinFailed", Checkpoint{State: PinFailed}, true},
		{"RejectedBeforeSubmit", Checkpoint{State: RegistrationFailed}, true},
		{"TimedOut", Checkpoint{State: RegistrationFailed, RegistrationTx: common.HexToHash("0x01")}, false},
		{"RevertedOnChain", Checkpoint{
			State:          RegistrationFailed,
			RegistrationTx: common.HexToHash("0x01"),
			Registration:   &registry.FileRegistration{Status: types.ReceiptStatusFailed, BlockNumber: 3},
		}, true},
		{"Registered", Checkpoint{
			State:          RewardFailed,
			RegistrationTx: common.HexToHash("0x01"),
			Registration:   &registry.FileRegistration{Status: types.ReceiptStatusSuccessful, TokenID: big.NewInt(1)},
		}, false},
		{"Running", Checkpoint{State: Rewarding}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.restartable, tt.cp.restartable())
		})
	}
}

func TestJournalMergeKeepsLaterSteps(t *testing.T) {
	j := NewJournal()

	journaled := Checkpoint{
		Key:            "k",
		State:          RewardFailed,
		RegistrationTx: common.HexToHash("0x01"),
		Registration:   &registry.FileRegistration{Status: types.ReceiptStatusSuccessful, TokenID: big.NewInt(7)},
		RewardTx:       common.HexToHash("0x02"),
	}
	j.save(journaled)

	h, ok := j.rewardFor("7")
	require.True(t, ok)
	require.Equal(t, common.HexToHash("0x02"), h)

	stale := Checkpoint{Key: "k", State: RegistrationFailed, RegistrationTx: common.HexToHash("0x01")}
	merged, err := j.claim(stale, false)
	require.NoError(t, err)

	require.True(t, merged.Registered())
	require.Equal(t, common.HexToHash("0x02"), merged.RewardTx)
}

func TestJournalMergeIgnoresSuppliedOutcomes(t *testing.T) {
	j := NewJournal()

	j.save(Checkpoint{Key: "k", State: RegistrationFailed, RegistrationTx: common.HexToHash("0x01")})
	j.release("k")

	supplied := Checkpoint{
		Key:          "k",
		RewardTx:     common.HexToHash("0x02"),
		Registration: &registry.FileRegistration{Status: types.ReceiptStatusSuccessful, TokenID: big.NewInt(999)},
		Reward:       &treasury.RewardTransfer{Status: types.ReceiptStatusSuccessful},
	}
	merged, err := j.claim(supplied, false)
	require.NoError(t, err)

	require.False(t, merged.Registered())
	require.False(t, merged.Rewarded())
	require.Equal(t, common.HexToHash("0x01"), merged.RegistrationTx)
	require.Equal(t, common.HexToHash("0x02"), merged.RewardTx)
}

func TestStatesMoveForward(t *testing.T) {
	forward := []State{Idle, Pinning, MetadataPinning, Registering, AwaitingReceipt, Rewarding, Completed}
	for i := 1; i < len(forward); i++ {
		require.Greater(t, forward[i].order(), forward[i-1].order())
	}

	require.Equal(t, PinFailed, Pinning.failure())
	require.Equal(t, MetadataPinFailed, MetadataPinning.failure())
	require.Equal(t, RegistrationFailed, AwaitingReceipt.failure())
	require.Equal(t, RewardFailed, Rewarding.failure())
	require.True(t, RewardFailed.Terminal())
	require.False(t, Rewarding.Terminal())
}
