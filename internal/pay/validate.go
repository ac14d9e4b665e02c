package pay

import (
	"context"
	"errors"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

const lamportsPerSOL = 9

// ValidateTransferFields 是需要校验的收款字段。SPLToken 为 nil 时按原生 SOL 校验。
type ValidateTransferFields struct {
	Recipient solana.PublicKey
	Amount    decimal.Decimal
	SPLToken  *solana.PublicKey
}

// ValidateTransfer checks that the transaction sig pays at least
// fields.Amount to fields.Recipient, in fields.SPLToken when set.
//
// Receiving more than requested is accepted: merchants rely on that slack for
// fee and rounding differences on the payer side.
//
// The check only reads finalized ledger data, so it is safe to retry.
func ValidateTransfer(ctx context.Context, ledger Ledger, sig solana.Signature, fields ValidateTransferFields, commitment rpc.CommitmentType) (*Record, error) {
	record, err := ledger.GetTransaction(ctx, sig, commitment)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, validationErr(sig, ErrTransactionNotFound, "")
		}
		return nil, err
	}
	if record == nil {
		return nil, validationErr(sig, ErrTransactionNotFound, "")
	}
	meta := record.Meta
	if meta == nil {
		return nil, validationErr(sig, ErrMissingMeta, "")
	}
	if meta.Err != nil {
		return nil, validationErr(sig, ErrExecutionFailed, "%v", meta.Err)
	}

	// 只在 token 模式下需要；派生是确定性的，循环外算一次即可
	var expectedTokenAccount solana.PublicKey
	if fields.SPLToken != nil {
		expectedTokenAccount, err = recipientTokenAccount(record.AccountKeys, fields.Recipient, *fields.SPLToken)
		if err != nil {
			return nil, err
		}
	}

	transferred := false
	for i, ix := range record.Instructions {
		if fields.SPLToken != nil {
			accountIndex := record.AccountIndex(expectedTokenAccount)
			if accountIndex == -1 {
				return nil, validationErr(sig, ErrRecipientNotFound, "token account %s", expectedTokenAccount)
			}

			decoded := DecodeInstruction(record.AccountKeys, ix)
			if decoded.Kind != KindTokenTransfer && decoded.Kind != KindTokenTransferChecked {
				continue
			}

			pre := tokenBalanceAt(meta.PreTokenBalances, accountIndex)
			post := tokenBalanceAt(meta.PostTokenBalances, accountIndex)
			if delta := post.Sub(pre); delta.LessThan(fields.Amount) {
				return nil, validationErr(sig, ErrAmountMismatch, "instruction %d: received %s, want %s", i, delta, fields.Amount)
			}
			transferred = true
			continue
		}

		accountIndex := record.AccountIndex(fields.Recipient)
		if accountIndex == -1 {
			return nil, validationErr(sig, ErrRecipientNotFound, "account %s", fields.Recipient)
		}

		if DecodeInstruction(record.AccountKeys, ix).Kind != KindNativeTransfer {
			continue
		}

		pre := lamportsToSOL(lamportsAt(meta.PreBalances, accountIndex))
		post := lamportsToSOL(lamportsAt(meta.PostBalances, accountIndex))
		if delta := post.Sub(pre); delta.LessThan(fields.Amount) {
			return nil, validationErr(sig, ErrAmountMismatch, "instruction %d: received %s SOL, want %s", i, delta, fields.Amount)
		}
		transferred = true
	}

	if !transferred {
		return nil, validationErr(sig, ErrTransferNotFound, "")
	}
	return record, nil
}

func lamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportsPerSOL)
}
