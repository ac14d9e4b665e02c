package pay_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"PayPeer/internal/pay"
	"PayPeer/internal/pay/paytest"
)

func TestDecodeInstruction(t *testing.T) {
	payer, recipient, mint := paytest.NewKey(), paytest.NewKey(), paytest.NewKey()

	t.Run("TransferChecked", func(t *testing.T) {
		rec := paytest.NewRecord(payer).TransferChecked(mint, recipient, 1_500_000, 6).Build()
		got := pay.DecodeInstruction(rec.AccountKeys, rec.Instructions[0])
		require.Equal(t, pay.KindTokenTransferChecked, got.Kind)
		require.Equal(t, solana.TokenProgramID, got.Program)
		require.Equal(t, paytest.ATA(payer, mint), got.Source)
		require.Equal(t, paytest.ATA(recipient, mint), got.Destination)
		require.Equal(t, mint, got.Mint)
		require.Equal(t, payer, got.Authority)
		require.EqualValues(t, 1_500_000, got.Amount)
		require.EqualValues(t, 6, got.Decimals)
	})

	t.Run("Transfer", func(t *testing.T) {
		rec := paytest.NewRecord(payer).Transfer(mint, recipient, 42).Build()
		got := pay.DecodeInstruction(rec.AccountKeys, rec.Instructions[0])
		require.Equal(t, pay.KindTokenTransfer, got.Kind)
		require.Equal(t, paytest.ATA(recipient, mint), got.Destination)
		require.Equal(t, payer, got.Authority)
		require.EqualValues(t, 42, got.Amount)
	})

	t.Run("Token2022", func(t *testing.T) {
		keys := []solana.PublicKey{payer, paytest.NewKey(), mint, paytest.NewKey(), pay.Token2022ProgramID}
		ix := pay.CompiledInstruction{
			ProgramIDIndex: 4,
			Accounts:       []int{1, 2, 3, 0},
			Data:           pay.EncodeTokenTransferChecked(7, 2),
		}
		got := pay.DecodeInstruction(keys, ix)
		require.Equal(t, pay.KindTokenTransferChecked, got.Kind)
		require.Equal(t, keys[3], got.Destination)
	})

	t.Run("NativeTransfer", func(t *testing.T) {
		rec := paytest.NewRecord(payer).NativeTransfer(recipient, 1_000).Build()
		got := pay.DecodeInstruction(rec.AccountKeys, rec.Instructions[0])
		require.Equal(t, pay.KindNativeTransfer, got.Kind)
		require.Equal(t, payer, got.Source)
		require.Equal(t, recipient, got.Destination)
		require.EqualValues(t, 1_000, got.Amount)
	})

	t.Run("Memo", func(t *testing.T) {
		rec := paytest.NewRecord(payer).Memo("hello").Build()
		got := pay.DecodeInstruction(rec.AccountKeys, rec.Instructions[0])
		require.Equal(t, pay.KindUnrecognized, got.Kind)
		require.Equal(t, paytest.MemoProgramID, got.Program)
	})
}

func TestDecodeInstruction_Malformed(t *testing.T) {
	keys := []solana.PublicKey{paytest.NewKey(), paytest.NewKey(), paytest.NewKey(), paytest.NewKey(), solana.TokenProgramID, solana.SystemProgramID}

	tests := []struct {
		name string
		ix   pay.CompiledInstruction
	}{
		{
			name: "ProgramIndexOutOfRange",
			ix:   pay.CompiledInstruction{ProgramIDIndex: 9, Data: pay.EncodeTokenTransferChecked(1, 6)},
		},
		{
			name: "AccountIndexOutOfRange",
			ix:   pay.CompiledInstruction{ProgramIDIndex: 4, Accounts: []int{0, 1, 12, 3}, Data: pay.EncodeTokenTransferChecked(1, 6)},
		},
		{
			name: "TruncatedChecked",
			ix:   pay.CompiledInstruction{ProgramIDIndex: 4, Accounts: []int{0, 1, 2, 3}, Data: pay.EncodeTokenTransferChecked(1, 6)[:9]},
		},
		{
			name: "TooFewAccounts",
			ix:   pay.CompiledInstruction{ProgramIDIndex: 4, Accounts: []int{0, 1}, Data: pay.EncodeTokenTransferChecked(1, 6)},
		},
		{
			name: "OtherTokenInstruction",
			ix:   pay.CompiledInstruction{ProgramIDIndex: 4, Accounts: []int{0, 1, 2}, Data: []byte{7, 1, 0, 0, 0, 0, 0, 0, 0}},
		},
		{
			name: "EmptyData",
			ix:   pay.CompiledInstruction{ProgramIDIndex: 4, Accounts: []int{0, 1, 2, 3}},
		},
		{
			name: "SystemCreateAccount",
			ix:   pay.CompiledInstruction{ProgramIDIndex: 5, Accounts: []int{0, 1}, Data: []byte{0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, pay.KindUnrecognized, pay.DecodeInstruction(keys, tc.ix).Kind)
		})
	}
}

func TestInstructionKindString(t *testing.T) {
	require.Equal(t, "token-transfer-checked", pay.KindTokenTransferChecked.String())
	require.Equal(t, "unrecognized", pay.InstructionKind(99).String())
}
