package failures_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/filemint/filemint/filemint/failures"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	t.Run("StorageUnavailableIsRetryable", func(t *testing.T) {
		err := fmt.Errorf("failed to pin file: %w", failures.ErrStorageUnavailable)
		require.True(t, failures.Retryable(err))
		require.False(t, failures.Fatal(err))
	})

	t.Run("FatalErrorsAreNotRetryable", func(t *testing.T) {
		for _, sentinel := range []error{
			failures.ErrInvalidSubmission,
			failures.ErrPayloadRejected,
			failures.ErrLedgerRejected,
			failures.ErrInsufficientGas,
			failures.ErrDuplicateRegistration,
		} {
			err := fmt.Errorf("wrapped: %w", sentinel)
			require.True(t, failures.Fatal(err), sentinel.Error())
			require.False(t, failures.Retryable(err), sentinel.Error())
		}
	})

	t.Run("ReceiptTimeoutNeedsReconciliation", func(t *testing.T) {
		err := fmt.Errorf("registration: %w", failures.ErrReceiptTimeout)
		require.False(t, failures.Retryable(err))
		require.False(t, failures.Fatal(err))
	})

	t.Run("UnknownErrorsAreNeither", func(t *testing.T) {
		require.False(t, failures.Retryable(context.Canceled))
		require.False(t, failures.Fatal(context.Canceled))
		require.False(t, failures.Retryable(nil))
	})
}
