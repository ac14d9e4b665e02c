package pay

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrTransactionNotFound = errors.New("not found")
	ErrMissingMeta         = errors.New("missing meta")
	ErrExecutionFailed     = errors.New("transaction failed on-chain")
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrAmountMismatch      = errors.New("amount not transferred")
	ErrTransferNotFound    = errors.New("transfer not found")

	// ErrReferenceNotFound means no transaction mentions the reference yet.
	// Pollers treat it as "keep waiting", not as a failure.
	ErrReferenceNotFound = errors.New("reference not found")

	ErrMissingRecipient = errors.New("recipient is required")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidLink      = errors.New("invalid transaction request link")
)

// ValidateTransferError is returned by ValidateTransfer. Err is one of the
// sentinel errors above and survives errors.Is through Unwrap.
type ValidateTransferError struct {
	Signature solana.Signature
	Err       error
	Detail    string
}

func (e *ValidateTransferError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validate transfer %s: %v (%s)", e.Signature, e.Err, e.Detail)
	}
	return fmt.Sprintf("validate transfer %s: %v", e.Signature, e.Err)
}

func (e *ValidateTransferError) Unwrap() error {
	return e.Err
}

func validationErr(sig solana.Signature, err error, format string, args ...interface{}) error {
	e := &ValidateTransferError{Signature: sig, Err: err}
	if format != "" {
		e.Detail = fmt.Sprintf(format, args...)
	}
	return e
}
