package ledger

import (
	"fmt"
	"strings"

	"github.com/filemint/filemint/filemint/failures"
)

var gasMessages = []string{
	"intrinsic gas too low",
	"out of gas",
	"insufficient funds for gas",
	"gas required exceeds allowance",
	"exceeds block gas limit",
}

// Classify tags node errors with the failure taxonomy. Unknown errors are returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	for _, m := range gasMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w (%s)", failures.ErrInsufficientGas, err, failures.GasHint)
		}
	}
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert") {
		return fmt.Errorf("%w: %w", failures.ErrLedgerRejected, err)
	}
	return err
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}
