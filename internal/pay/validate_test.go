package pay_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"PayPeer/internal/pay"
	"PayPeer/internal/pay/paytest"
)

func usdcFields(recipient solana.PublicKey, amount string) pay.ValidateTransferFields {
	mint := pay.USDCMintDevnet
	return pay.ValidateTransferFields{
		Recipient: recipient,
		Amount:    decimal.RequireFromString(amount),
		SPLToken:  &mint,
	}
}

// 10.5 USDC from payer to recipient, with the reference appended.
func usdcPayment(payer, recipient, reference solana.PublicKey) *pay.Record {
	mint := pay.USDCMintDevnet
	return paytest.NewRecord(payer).
		TransferChecked(mint, recipient, 10_500_000, 6, reference).
		TokenBalances(paytest.ATA(recipient, mint), mint, 6, "1.25", "11.75").
		Build()
}

func TestValidateTransfer_Token(t *testing.T) {
	payer, recipient, reference := paytest.NewKey(), paytest.NewKey(), paytest.NewKey()
	record := usdcPayment(payer, recipient, reference)
	ledger := paytest.NewLedger(record)

	t.Run("ExactAmount", func(t *testing.T) {
		got, err := pay.ValidateTransfer(context.Background(), ledger, record.Signature, usdcFields(recipient, "10.5"), rpc.CommitmentConfirmed)
		require.NoError(t, err)
		require.Equal(t, record.Signature, got.Signature)
		require.Equal(t, payer, got.Payer())
	})

	t.Run("AmountMonotonicity", func(t *testing.T) {
		tests := []struct {
			amount  string
			wantErr error
		}{
			{amount: "0", wantErr: nil},
			{amount: "10", wantErr: nil},
			{amount: "10.499999", wantErr: nil},
			{amount: "10.5", wantErr: nil},
			{amount: "10.500001", wantErr: pay.ErrAmountMismatch},
			{amount: "11", wantErr: pay.ErrAmountMismatch},
		}
		for _, tc := range tests {
			t.Run(tc.amount, func(t *testing.T) {
				_, err := pay.ValidateTransfer(context.Background(), ledger, record.Signature, usdcFields(recipient, tc.amount), rpc.CommitmentConfirmed)
				if tc.wantErr == nil {
					require.NoError(t, err)
					return
				}
				require.ErrorIs(t, err, tc.wantErr)
			})
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		for _, amount := range []string{"10.5", "12"} {
			_, err1 := pay.ValidateTransfer(context.Background(), ledger, record.Signature, usdcFields(recipient, amount), rpc.CommitmentConfirmed)
			_, err2 := pay.ValidateTransfer(context.Background(), ledger, record.Signature, usdcFields(recipient, amount), rpc.CommitmentConfirmed)
			require.Equal(t, err1 == nil, err2 == nil)
			if err1 != nil {
				require.Equal(t, err1.Error(), err2.Error())
			}
		}
	})

	t.Run("WrongRecipient", func(t *testing.T) {
		_, err := pay.ValidateTransfer(context.Background(), ledger, record.Signature, usdcFields(paytest.NewKey(), "10.5"), rpc.CommitmentConfirmed)
		require.ErrorIs(t, err, pay.ErrRecipientNotFound)
	})

	t.Run("PlainTransferInstruction", func(t *testing.T) {
		mint := pay.USDCMintDevnet
		rec := paytest.NewRecord(payer).
			Transfer(mint, recipient, 3_000_000, reference).
			TokenBalances(paytest.ATA(recipient, mint), mint, 6, "0", "3").
			Build()
		_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), rec.Signature, usdcFields(recipient, "3"), rpc.CommitmentConfirmed)
		require.NoError(t, err)
	})

	t.Run("NewTokenAccountWithoutPreBalance", func(t *testing.T) {
		mint := pay.USDCMintDevnet
		rec := paytest.NewRecord(payer).
			TransferChecked(mint, recipient, 2_000_000, 6).
			TokenBalances(paytest.ATA(recipient, mint), mint, 6, "", "2").
			Build()
		_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), rec.Signature, usdcFields(recipient, "2"), rpc.CommitmentConfirmed)
		require.NoError(t, err)
	})
}

// Token-2022 mints pay into the ATA derived with the Token-2022 program id.
func TestValidateTransfer_Token2022(t *testing.T) {
	payer, recipient, reference := paytest.NewKey(), paytest.NewKey(), paytest.NewKey()
	mint := paytest.NewKey()
	record := paytest.NewRecord(payer).
		TransferChecked2022(mint, recipient, 1_000_000, 6, reference).
		TokenBalances(paytest.ATA2022(recipient, mint), mint, 6, "0", "1").
		Build()
	ledger := paytest.NewLedger(record)
	fields := pay.ValidateTransferFields{Recipient: recipient, Amount: decimal.RequireFromString("1"), SPLToken: &mint}

	got, err := pay.ValidateTransfer(context.Background(), ledger, record.Signature, fields, rpc.CommitmentConfirmed)
	require.NoError(t, err)
	require.Equal(t, payer, got.Payer())

	fields.Amount = decimal.RequireFromString("1.000001")
	_, err = pay.ValidateTransfer(context.Background(), ledger, record.Signature, fields, rpc.CommitmentConfirmed)
	require.ErrorIs(t, err, pay.ErrAmountMismatch)

	fields.Amount = decimal.RequireFromString("1")
	fields.Recipient = paytest.NewKey()
	_, err = pay.ValidateTransfer(context.Background(), ledger, record.Signature, fields, rpc.CommitmentConfirmed)
	require.ErrorIs(t, err, pay.ErrRecipientNotFound)
}

func TestValidateTransfer_TokenIsolation(t *testing.T) {
	payer, recipient := paytest.NewKey(), paytest.NewKey()
	otherMint := paytest.NewKey()
	rec := paytest.NewRecord(payer).
		TransferChecked(otherMint, recipient, 10_500_000, 6).
		TokenBalances(paytest.ATA(recipient, otherMint), otherMint, 6, "0", "10.5").
		Build()

	_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), rec.Signature, usdcFields(recipient, "10.5"), rpc.CommitmentConfirmed)
	require.ErrorIs(t, err, pay.ErrRecipientNotFound)
}

func TestValidateTransfer_IrrelevantInstructions(t *testing.T) {
	payer, recipient, reference := paytest.NewKey(), paytest.NewKey(), paytest.NewKey()
	mint := pay.USDCMintDevnet
	rec := paytest.NewRecord(payer).
		Memo("order 42").
		Memo("ref", reference).
		TransferChecked(mint, recipient, 10_500_000, 6).
		Memo("thanks").
		TokenBalances(paytest.ATA(recipient, mint), mint, 6, "0", "10.5").
		Build()

	_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), rec.Signature, usdcFields(recipient, "10.5"), rpc.CommitmentConfirmed)
	require.NoError(t, err)
}

func TestValidateTransfer_NoMatchingInstruction(t *testing.T) {
	payer, recipient := paytest.NewKey(), paytest.NewKey()
	mint := pay.USDCMintDevnet

	t.Run("Token", func(t *testing.T) {
		// the recipient's token balance moves, but no transfer instruction exists
		rec := paytest.NewRecord(payer).
			Memo("not a transfer").
			TokenBalances(paytest.ATA(recipient, mint), mint, 6, "0", "50").
			Build()
		_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), rec.Signature, usdcFields(recipient, "10.5"), rpc.CommitmentConfirmed)
		require.ErrorIs(t, err, pay.ErrTransferNotFound)
	})

	t.Run("Native", func(t *testing.T) {
		rec := paytest.NewRecord(payer).
			Mention(recipient).
			Memo("not a transfer").
			Build()
		rec.Meta.PostBalances[rec.AccountIndex(recipient)] = 5_000_000_000
		_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), rec.Signature, pay.ValidateTransferFields{
			Recipient: recipient,
			Amount:    decimal.RequireFromString("1"),
		}, rpc.CommitmentConfirmed)
		require.ErrorIs(t, err, pay.ErrTransferNotFound)
	})

	t.Run("NoInstructions", func(t *testing.T) {
		rec := paytest.NewRecord(payer).Build()
		_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), rec.Signature, usdcFields(recipient, "1"), rpc.CommitmentConfirmed)
		require.ErrorIs(t, err, pay.ErrTransferNotFound)
	})
}

func TestValidateTransfer_Native(t *testing.T) {
	payer, recipient, reference := paytest.NewKey(), paytest.NewKey(), paytest.NewKey()
	rec := paytest.NewRecord(payer).
		NativeTransfer(recipient, 500_000_000, reference).
		Build()
	ledger := paytest.NewLedger(rec)

	fields := func(amount string) pay.ValidateTransferFields {
		return pay.ValidateTransferFields{Recipient: recipient, Amount: decimal.RequireFromString(amount)}
	}

	_, err := pay.ValidateTransfer(context.Background(), ledger, rec.Signature, fields("0.5"), rpc.CommitmentConfirmed)
	require.NoError(t, err)

	_, err = pay.ValidateTransfer(context.Background(), ledger, rec.Signature, fields("0.000000001"), rpc.CommitmentConfirmed)
	require.NoError(t, err)

	_, err = pay.ValidateTransfer(context.Background(), ledger, rec.Signature, fields("0.500000001"), rpc.CommitmentConfirmed)
	require.ErrorIs(t, err, pay.ErrAmountMismatch)

	_, err = pay.ValidateTransfer(context.Background(), ledger, rec.Signature, pay.ValidateTransferFields{
		Recipient: paytest.NewKey(),
		Amount:    decimal.RequireFromString("0.5"),
	}, rpc.CommitmentConfirmed)
	require.ErrorIs(t, err, pay.ErrRecipientNotFound)
}

func TestValidateTransfer_LedgerStates(t *testing.T) {
	payer, recipient := paytest.NewKey(), paytest.NewKey()

	t.Run("NotFound", func(t *testing.T) {
		_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(), paytest.RandomSignature(), usdcFields(recipient, "1"), rpc.CommitmentConfirmed)
		require.ErrorIs(t, err, pay.ErrTransactionNotFound)

		var vErr *pay.ValidateTransferError
		require.True(t, errors.As(err, &vErr))
	})

	t.Run("MissingMeta", func(t *testing.T) {
		rec := paytest.NewRecord(payer).WithoutMeta().Build()
		_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), rec.Signature, usdcFields(recipient, "1"), rpc.CommitmentConfirmed)
		require.ErrorIs(t, err, pay.ErrMissingMeta)
	})

	t.Run("FailedOnChain", func(t *testing.T) {
		rec := usdcPayment(payer, recipient, paytest.NewKey())
		rec.Meta.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
		_, err := pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), rec.Signature, usdcFields(recipient, "1"), rpc.CommitmentConfirmed)
		require.ErrorIs(t, err, pay.ErrExecutionFailed)
	})

	t.Run("TransportError", func(t *testing.T) {
		boom := errors.New("connection refused")
		ledger := &paytest.Ledger{
			GetTransactionFunc: func(ctx context.Context, sig solana.Signature) (*pay.Record, error) {
				return nil, boom
			},
		}
		_, err := pay.ValidateTransfer(context.Background(), ledger, paytest.RandomSignature(), usdcFields(recipient, "1"), rpc.CommitmentConfirmed)
		require.ErrorIs(t, err, boom)

		var vErr *pay.ValidateTransferError
		require.False(t, errors.As(err, &vErr))
	})
}
