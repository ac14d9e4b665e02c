package pay

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// Ledger is the read-only view of the chain the payment core needs.
// services.RPCLedger implements it on top of a JSON-RPC node.
type Ledger interface {
	// GetTransaction returns the transaction at the given commitment, or
	// ErrTransactionNotFound (or a nil record) when the node doesn't have it.
	GetTransaction(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (*Record, error)
	// FindSignatures lists signatures of transactions mentioning address,
	// newest first.
	FindSignatures(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType, limit int) ([]SignatureInfo, error)
}

type SignatureInfo struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime *time.Time
	Err       interface{}
}

// CompiledInstruction references programs and accounts by their position in
// Record.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex int
	Accounts       []int
	Data           []byte
}

type TokenBalance struct {
	AccountIndex int
	Mint         solana.PublicKey
	Owner        *solana.PublicKey
	// Amount is the raw integer amount in base units.
	Amount   string
	Decimals uint8
	// UIAmount is the node's decimal rendering (uiAmountString).
	UIAmount string
}

// UIDecimal returns the balance in whole token units. uiAmountString is
// preferred; the raw amount is used when a node omits it.
func (b TokenBalance) UIDecimal() decimal.Decimal {
	if b.UIAmount != "" {
		if d, err := decimal.NewFromString(b.UIAmount); err == nil {
			return d
		}
	}
	if b.Amount != "" {
		if d, err := decimal.NewFromString(b.Amount); err == nil {
			return d.Shift(-int32(b.Decimals))
		}
	}
	return decimal.Zero
}

type Meta struct {
	Err               interface{}
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Record is a confirmed transaction as returned by the ledger. AccountKeys
// includes addresses loaded from lookup tables, in the order balances are
// reported.
type Record struct {
	Signature    solana.Signature
	Slot         uint64
	BlockTime    *time.Time
	AccountKeys  []solana.PublicKey
	Instructions []CompiledInstruction
	Meta         *Meta
}

// AccountIndex returns the position of key in AccountKeys, or -1.
func (r *Record) AccountIndex(key solana.PublicKey) int {
	for i, k := range r.AccountKeys {
		if k.Equals(key) {
			return i
		}
	}
	return -1
}

// Payer is the fee payer, conventionally the first account key.
func (r *Record) Payer() solana.PublicKey {
	if len(r.AccountKeys) == 0 {
		return solana.PublicKey{}
	}
	return r.AccountKeys[0]
}

func tokenBalanceAt(balances []TokenBalance, index int) decimal.Decimal {
	for _, b := range balances {
		if b.AccountIndex == index {
			return b.UIDecimal()
		}
	}
	return decimal.Zero
}

func lamportsAt(balances []uint64, index int) uint64 {
	if index < 0 || index >= len(balances) {
		return 0
	}
	return balances[index]
}
