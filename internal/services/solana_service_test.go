package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"PayPeer/internal/pay"
	"PayPeer/internal/pay/paytest"
	"PayPeer/utils"
)

// fakeRPC 按方法名返回固定结果的 JSON-RPC 服务
func fakeRPC(t *testing.T, results map[string]interface{}) *Solana {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if result, ok := results[req.Method]; ok {
			resp["result"] = result
		} else {
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found: " + req.Method}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewSolana(pay.ClusterConfig{Name: pay.Devnet, RPCURL: srv.URL})
}

func blockhashResult() map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value": map[string]interface{}{
			"blockhash":            solana.Hash(paytest.NewKey()).String(),
			"lastValidBlockHeight": 200,
		},
	}
}

// mintAccountResult 一个 82 字节的 SPL mint 账户
func mintAccountResult(decimals uint8) map[string]interface{} {
	data := make([]byte, 82)
	data[44] = decimals
	data[45] = 1 // is_initialized
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value": map[string]interface{}{
			"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
			"executable": false,
			"lamports":   1461600,
			"owner":      solana.TokenProgramID.String(),
			"rentEpoch":  0,
		},
	}
}

func decodeBuilt(t *testing.T, enc string) (*solana.Transaction, pay.DecodedInstruction) {
	t.Helper()
	tx, err := paytest.DecodeTx(enc)
	require.NoError(t, err)
	ix := tx.Message.Instructions[len(tx.Message.Instructions)-1]
	compiled := pay.CompiledInstruction{ProgramIDIndex: int(ix.ProgramIDIndex), Data: ix.Data}
	for _, a := range ix.Accounts {
		compiled.Accounts = append(compiled.Accounts, int(a))
	}
	return tx, pay.DecodeInstruction(tx.Message.AccountKeys, compiled)
}

func requireReadonlyReference(t *testing.T, tx *solana.Transaction, reference solana.PublicKey) {
	t.Helper()
	idx := -1
	for i, k := range tx.Message.AccountKeys {
		if k.Equals(reference) {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx, "reference missing from account keys")
	require.GreaterOrEqual(t, idx, int(tx.Message.Header.NumRequiredSignatures), "reference must not sign")
	// 只读非签名账户排在最后
	require.GreaterOrEqual(t, idx, len(tx.Message.AccountKeys)-int(tx.Message.Header.NumReadonlyUnsignedAccounts))
}

func TestBuildTransferTx_Token(t *testing.T) {
	s := fakeRPC(t, map[string]interface{}{
		"getAccountInfo":     mintAccountResult(6),
		"getLatestBlockhash": blockhashResult(),
	})
	s.PriorityFee = 5000

	account, recipient, reference := paytest.NewKey(), paytest.NewKey(), paytest.NewKey()
	mint := pay.USDCMintDevnet
	enc, err := s.BuildTransferTx(context.Background(), TransferTxRequest{
		Account:   account,
		Recipient: recipient,
		SPLToken:  &mint,
		Amount:    decimal.RequireFromString("10.5"),
		Reference: reference,
	})
	require.NoError(t, err)

	tx, decoded := decodeBuilt(t, enc)
	require.Equal(t, account, tx.Message.AccountKeys[0], "fee payer")
	require.Len(t, tx.Message.Instructions, 2, "compute budget + transfer")
	require.Equal(t, pay.KindTokenTransferChecked, decoded.Kind)
	require.EqualValues(t, 10_500_000, decoded.Amount)
	require.EqualValues(t, 6, decoded.Decimals)
	require.Equal(t, paytest.ATA(account, mint), decoded.Source)
	require.Equal(t, paytest.ATA(recipient, mint), decoded.Destination)
	require.Equal(t, account, decoded.Authority)
	requireReadonlyReference(t, tx, reference)
}

func TestBuildTransferTx_Native(t *testing.T) {
	s := fakeRPC(t, map[string]interface{}{"getLatestBlockhash": blockhashResult()})

	account, recipient, reference := paytest.NewKey(), paytest.NewKey(), paytest.NewKey()
	enc, err := s.BuildTransferTx(context.Background(), TransferTxRequest{
		Account:   account,
		Recipient: recipient,
		Amount:    decimal.RequireFromString("0.25"),
		Reference: reference,
	})
	require.NoError(t, err)

	tx, decoded := decodeBuilt(t, enc)
	require.Len(t, tx.Message.Instructions, 1)
	require.Equal(t, pay.KindNativeTransfer, decoded.Kind)
	require.EqualValues(t, 250_000_000, decoded.Amount)
	require.Equal(t, recipient, decoded.Destination)
	requireReadonlyReference(t, tx, reference)
}

func TestBuildTransferTx_InvalidAmount(t *testing.T) {
	s := fakeRPC(t, map[string]interface{}{
		"getAccountInfo":     mintAccountResult(2),
		"getLatestBlockhash": blockhashResult(),
	})
	mint := paytest.NewKey()
	base := TransferTxRequest{Account: paytest.NewKey(), Recipient: paytest.NewKey(), Reference: paytest.NewKey()}

	tests := []struct {
		name   string
		amount string
		token  *solana.PublicKey
	}{
		{name: "Zero", amount: "0"},
		{name: "Negative", amount: "-1"},
		{name: "BeyondLamports", amount: "0.0000000001"},
		{name: "BeyondMintDecimals", amount: "1.001", token: &mint},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			req.Amount = decimal.RequireFromString(tc.amount)
			req.SPLToken = tc.token
			_, err := s.BuildTransferTx(context.Background(), req)
			require.ErrorIs(t, err, pay.ErrInvalidAmount)
		})
	}

	_, err := s.BuildTransferTx(context.Background(), TransferTxRequest{Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBuildTransferTx_MintNotFound(t *testing.T) {
	s := fakeRPC(t, map[string]interface{}{
		"getAccountInfo": map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value":   nil,
		},
	})
	mint := paytest.NewKey()
	_, err := s.BuildTransferTx(context.Background(), TransferTxRequest{
		Account:   paytest.NewKey(),
		Recipient: paytest.NewKey(),
		SPLToken:  &mint,
		Amount:    decimal.NewFromInt(1),
		Reference: paytest.NewKey(),
	})
	require.ErrorIs(t, err, ErrMintNotFound)
}

// 构造的交易经过 RPC 返回格式转换后，应能通过 ValidateTransfer
func TestRecordFromResult(t *testing.T) {
	account, recipient, reference := paytest.NewKey(), paytest.NewKey(), paytest.NewKey()
	lookup := paytest.NewKey()
	mint := pay.USDCMintDevnet
	destination := paytest.ATA(recipient, mint)

	tx, err := solana.NewTransaction([]solana.Instruction{
		solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
			{PublicKey: paytest.ATA(account, mint), IsWritable: true},
			{PublicKey: mint},
			{PublicKey: destination, IsWritable: true},
			{PublicKey: account, IsSigner: true},
			{PublicKey: reference},
		}, pay.EncodeTokenTransferChecked(2_000_000, 6)),
	}, solana.Hash(paytest.NewKey()), solana.TransactionPayer(account))
	require.NoError(t, err)
	enc, err := utils.EncodeUnsignedTx(tx)
	require.NoError(t, err)

	destIdx := -1
	for i, k := range tx.Message.AccountKeys {
		if k.Equals(destination) {
			destIdx = i
		}
	}
	require.NotEqual(t, -1, destIdx)

	balances := make([]uint64, len(tx.Message.AccountKeys)+1)
	raw := fmt.Sprintf(`{
		"slot": 42,
		"blockTime": 1700000000,
		"transaction": [%q, "base64"],
		"meta": {
			"err": null,
			"fee": 5000,
			"preBalances": %s,
			"postBalances": %s,
			"preTokenBalances": [
				{"accountIndex": %d, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "500000", "decimals": 6, "uiAmount": 0.5, "uiAmountString": "0.5"}}
			],
			"postTokenBalances": [
				{"accountIndex": %d, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "2500000", "decimals": 6, "uiAmount": 2.5, "uiAmountString": "2.5"}}
			],
			"loadedAddresses": {"writable": [], "readonly": [%q]}
		}
	}`, enc, mustJSON(t, balances), mustJSON(t, balances),
		destIdx, mint, recipient, destIdx, mint, recipient, lookup)

	var res rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal([]byte(raw), &res))

	sig := paytest.RandomSignature()
	rec, err := recordFromResult(sig, &res)
	require.NoError(t, err)
	require.EqualValues(t, 42, rec.Slot)
	require.NotNil(t, rec.BlockTime)
	require.Equal(t, account, rec.Payer())
	require.Equal(t, lookup, rec.AccountKeys[len(rec.AccountKeys)-1], "lookup table addresses appended")
	require.Len(t, rec.Instructions, 1)
	require.Len(t, rec.Meta.PostTokenBalances, 1)
	require.Equal(t, "2.5", rec.Meta.PostTokenBalances[0].UIAmount)

	_, err = pay.ValidateTransfer(context.Background(), paytest.NewLedger(rec), sig, pay.ValidateTransferFields{
		Recipient: recipient,
		Amount:    decimal.RequireFromString("2"),
		SPLToken:  &mint,
	}, rpc.CommitmentConfirmed)
	require.NoError(t, err)

	_, err = recordFromResult(sig, &rpc.GetTransactionResult{})
	require.ErrorIs(t, err, pay.ErrTransactionNotFound)
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestNetworks(t *testing.T) {
	n := NewNetworks(pay.DefaultClusters(), NetworkOptions{PriorityFee: 7})
	dev := n.Get("")
	require.Same(t, dev, n.Get("devnet"))
	require.Equal(t, pay.Devnet, dev.Cluster.Name)
	require.EqualValues(t, 7, dev.PriorityFee)
	require.Equal(t, pay.MainnetBeta, n.Get("mainnet-beta").Cluster.Name)

	wake, err := n.Wake(context.Background(), "devnet", paytest.NewKey(), rpc.CommitmentConfirmed)
	require.NoError(t, err)
	require.Nil(t, wake)
}
