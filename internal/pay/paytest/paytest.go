// Package paytest provides an in-memory ledger and transaction builders for
// tests of the payment core.
package paytest

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"sync"
	"sync/atomic"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"PayPeer/internal/pay"
)

var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// Ledger is an in-memory pay.Ledger. FindSignatures returns every stored
// record whose account keys include the address, newest first.
type Ledger struct {
	mu      sync.Mutex
	records []*pay.Record

	// FindSignaturesFunc and GetTransactionFunc replace the default behavior
	// when set.
	FindSignaturesFunc func(ctx context.Context, address solana.PublicKey) ([]pay.SignatureInfo, error)
	GetTransactionFunc func(ctx context.Context, sig solana.Signature) (*pay.Record, error)

	findCalls atomic.Int64
	getCalls  atomic.Int64
}

func NewLedger(records ...*pay.Record) *Ledger {
	return &Ledger{records: records}
}

func (l *Ledger) Add(r *pay.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

func (l *Ledger) FindCalls() int { return int(l.findCalls.Load()) }
func (l *Ledger) GetCalls() int  { return int(l.getCalls.Load()) }

func (l *Ledger) GetTransaction(ctx context.Context, sig solana.Signature, _ rpc.CommitmentType) (*pay.Record, error) {
	l.getCalls.Add(1)
	if l.GetTransactionFunc != nil {
		return l.GetTransactionFunc(ctx, sig)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.Signature == sig {
			return r, nil
		}
	}
	return nil, pay.ErrTransactionNotFound
}

func (l *Ledger) FindSignatures(ctx context.Context, address solana.PublicKey, _ rpc.CommitmentType, limit int) ([]pay.SignatureInfo, error) {
	l.findCalls.Add(1)
	if l.FindSignaturesFunc != nil {
		return l.FindSignaturesFunc(ctx, address)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []pay.SignatureInfo
	for i := len(l.records) - 1; i >= 0; i-- {
		r := l.records[i]
		if r.AccountIndex(address) == -1 {
			continue
		}
		out = append(out, pay.SignatureInfo{Signature: r.Signature, Slot: r.Slot})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DecodeTx decodes a base64 transaction as returned by the transaction
// request endpoint.
func DecodeTx(b64 string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return solana.TransactionFromDecoder(bin.NewBinDecoder(data))
}

func RandomSignature() solana.Signature {
	var sig solana.Signature
	if _, err := rand.Read(sig[:]); err != nil {
		panic(err)
	}
	return sig
}

func NewKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func ATA(owner, mint solana.PublicKey) solana.PublicKey {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(err)
	}
	return ata
}

func ATA2022(owner, mint solana.PublicKey) solana.PublicKey {
	ata, err := pay.AssociatedTokenAddress(owner, mint, pay.Token2022ProgramID)
	if err != nil {
		panic(err)
	}
	return ata
}

// Builder assembles a confirmed transaction record signed by payer.
type Builder struct {
	rec   *pay.Record
	payer solana.PublicKey
}

func NewRecord(payer solana.PublicKey) *Builder {
	return &Builder{
		payer: payer,
		rec: &pay.Record{
			Signature:   RandomSignature(),
			Slot:        1,
			AccountKeys: []solana.PublicKey{payer},
			Meta: &pay.Meta{
				PreBalances:  []uint64{10_000_000_000},
				PostBalances: []uint64{10_000_000_000},
			},
		},
	}
}

func (b *Builder) key(pk solana.PublicKey) int {
	if idx := b.rec.AccountIndex(pk); idx != -1 {
		return idx
	}
	b.rec.AccountKeys = append(b.rec.AccountKeys, pk)
	b.rec.Meta.PreBalances = append(b.rec.Meta.PreBalances, 0)
	b.rec.Meta.PostBalances = append(b.rec.Meta.PostBalances, 0)
	return len(b.rec.AccountKeys) - 1
}

func (b *Builder) instruction(program solana.PublicKey, accounts []solana.PublicKey, data []byte) {
	ix := pay.CompiledInstruction{Data: data}
	for _, a := range accounts {
		ix.Accounts = append(ix.Accounts, b.key(a))
	}
	ix.ProgramIDIndex = b.key(program)
	b.rec.Instructions = append(b.rec.Instructions, ix)
}

// TokenBalances records the recipient token account balance before and after
// execution. An empty pre leaves the pre-balance entry out, as for an account
// created by the transaction.
func (b *Builder) TokenBalances(account, mint solana.PublicKey, decimals uint8, pre, post string) *Builder {
	idx := b.key(account)
	if pre != "" {
		b.rec.Meta.PreTokenBalances = append(b.rec.Meta.PreTokenBalances, pay.TokenBalance{
			AccountIndex: idx, Mint: mint, Decimals: decimals, UIAmount: pre,
		})
	}
	if post != "" {
		b.rec.Meta.PostTokenBalances = append(b.rec.Meta.PostTokenBalances, pay.TokenBalance{
			AccountIndex: idx, Mint: mint, Decimals: decimals, UIAmount: post,
		})
	}
	return b
}

// TransferChecked adds a TransferChecked from the payer's associated token
// account to recipient's, with refs appended as read-only accounts.
func (b *Builder) TransferChecked(mint, recipient solana.PublicKey, amount uint64, decimals uint8, refs ...solana.PublicKey) *Builder {
	accounts := []solana.PublicKey{ATA(b.payer, mint), mint, ATA(recipient, mint), b.payer}
	b.instruction(solana.TokenProgramID, append(accounts, refs...), pay.EncodeTokenTransferChecked(amount, decimals))
	return b
}

// TransferChecked2022 is TransferChecked under the Token-2022 program, with
// the matching associated token accounts.
func (b *Builder) TransferChecked2022(mint, recipient solana.PublicKey, amount uint64, decimals uint8, refs ...solana.PublicKey) *Builder {
	accounts := []solana.PublicKey{ATA2022(b.payer, mint), mint, ATA2022(recipient, mint), b.payer}
	b.instruction(pay.Token2022ProgramID, append(accounts, refs...), pay.EncodeTokenTransferChecked(amount, decimals))
	return b
}

// Transfer adds a plain SPL Token Transfer.
func (b *Builder) Transfer(mint, recipient solana.PublicKey, amount uint64, refs ...solana.PublicKey) *Builder {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], amount)
	accounts := []solana.PublicKey{ATA(b.payer, mint), ATA(recipient, mint), b.payer}
	b.instruction(solana.TokenProgramID, append(accounts, refs...), data)
	return b
}

// NativeTransfer adds a system transfer and moves the lamports in the
// balance arrays.
func (b *Builder) NativeTransfer(recipient solana.PublicKey, lamports uint64, refs ...solana.PublicKey) *Builder {
	b.instruction(solana.SystemProgramID, append([]solana.PublicKey{b.payer, recipient}, refs...), pay.EncodeSystemTransfer(lamports))
	idx := b.key(recipient)
	b.rec.Meta.PostBalances[idx] += lamports
	b.rec.Meta.PostBalances[0] -= lamports
	return b
}

// Memo adds a memo program instruction, which the decoder doesn't recognize.
func (b *Builder) Memo(text string, accounts ...solana.PublicKey) *Builder {
	b.instruction(MemoProgramID, accounts, []byte(text))
	return b
}

// Mention adds key to the account list without any instruction using it.
func (b *Builder) Mention(key solana.PublicKey) *Builder {
	b.key(key)
	return b
}

func (b *Builder) Failed(err interface{}) *Builder {
	b.rec.Meta.Err = err
	return b
}

func (b *Builder) WithoutMeta() *Builder {
	b.rec.Meta = nil
	return b
}

func (b *Builder) Build() *pay.Record {
	return b.rec
}
