// Package failures holds the error taxonomy shared by every filemint component.
// Components wrap these sentinels with context; callers match them with errors.Is.
package failures

import (
	"errors"
)

var (
	// ErrInvalidSubmission is caller input that can never succeed.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrStorageUnavailable is a transient storage network failure.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrPayloadRejected is a storage network refusal of the payload itself.
	ErrPayloadRejected = errors.New("payload rejected")

	// ErrLedgerRejected is a contract revert or a failed receipt status.
	ErrLedgerRejected = errors.New("ledger rejected transaction")

	// ErrReceiptTimeout means no receipt was observed within the wait window.
	// The transaction may still land, so the ledger has to be queried before retrying.
	ErrReceiptTimeout = errors.New("receipt timeout")

	// ErrInsufficientGas is surfaced verbatim from the node.
	ErrInsufficientGas = errors.New("insufficient gas")

	// ErrDuplicateRegistration guards the one registration per upload rule.
	ErrDuplicateRegistration = errors.New("duplicate registration")

	// ErrRewardTransferFailed is a reward transfer that did not confirm.
	ErrRewardTransferFailed = errors.New("reward transfer failed")
)

// GasHint is appended to ErrInsufficientGas errors.
const GasHint = "fund the signing account or raise the configured gas limit"

// Retryable reports whether err may be retried without reconciling ledger state first.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidSubmission),
		errors.Is(err, ErrPayloadRejected),
		errors.Is(err, ErrLedgerRejected),
		errors.Is(err, ErrInsufficientGas),
		errors.Is(err, ErrDuplicateRegistration),
		errors.Is(err, ErrReceiptTimeout):
		return false
	case errors.Is(err, ErrStorageUnavailable):
		return true
	}
	return false
}

// Fatal reports whether err can never succeed on retry.
func Fatal(err error) bool {
	return errors.Is(err, ErrInvalidSubmission) ||
		errors.Is(err, ErrPayloadRejected) ||
		errors.Is(err, ErrLedgerRejected) ||
		errors.Is(err, ErrInsufficientGas) ||
		errors.Is(err, ErrDuplicateRegistration)
}
