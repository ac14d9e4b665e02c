package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/shopspring/decimal"

	"PayPeer/internal/listener"
	"PayPeer/internal/pay"
	"PayPeer/utils"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrMintNotFound   = errors.New("mint account not found")
	ErrEncodeFailed   = errors.New("encode failed")
	ErrBlockhash      = errors.New("failed to get latest blockhash")
)

var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// Solana 单个集群的 RPC 访问，实现 pay.Ledger
type Solana struct {
	Client  *rpc.Client
	Cluster pay.ClusterConfig
	// PriorityFee 大于 0 时在构造的交易前加 SetComputeUnitPrice（microlamports / CU）
	PriorityFee uint64
}

func NewSolana(cluster pay.ClusterConfig) *Solana {
	return &Solana{Client: rpc.New(cluster.RPCURL), Cluster: cluster}
}

var _ pay.Ledger = (*Solana)(nil)

func (s *Solana) FindSignatures(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType, limit int) ([]pay.SignatureInfo, error) {
	opts := &rpc.GetSignaturesForAddressOpts{Commitment: commitment}
	if limit > 0 {
		opts.Limit = &limit
	}
	sigs, err := s.Client.GetSignaturesForAddressWithOpts(ctx, address, opts)
	if err != nil {
		return nil, err
	}
	out := make([]pay.SignatureInfo, 0, len(sigs))
	for _, sig := range sigs {
		info := pay.SignatureInfo{
			Signature: sig.Signature,
			Slot:      sig.Slot,
			Err:       sig.Err,
		}
		if sig.BlockTime != nil {
			t := sig.BlockTime.Time()
			info.BlockTime = &t
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *Solana) GetTransaction(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (*pay.Record, error) {
	maxVersion := uint64(0)
	res, err := s.Client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, pay.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordFromResult(sig, res)
}

// recordFromResult 把 RPC 返回的交易转换为 pay.Record。
// 版本化交易的账户列表需要拼上 lookup table 加载的地址（先 writable 后 readonly），
// 与 meta 中余额数组的下标一致。
func recordFromResult(sig solana.Signature, res *rpc.GetTransactionResult) (*pay.Record, error) {
	if res == nil || res.Transaction == nil {
		return nil, pay.ErrTransactionNotFound
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}

	rec := &pay.Record{
		Signature:   sig,
		Slot:        res.Slot,
		AccountKeys: append([]solana.PublicKey{}, tx.Message.AccountKeys...),
	}
	if res.BlockTime != nil {
		t := res.BlockTime.Time()
		rec.BlockTime = &t
	}
	for _, ix := range tx.Message.Instructions {
		compiled := pay.CompiledInstruction{
			ProgramIDIndex: int(ix.ProgramIDIndex),
			Data:           ix.Data,
		}
		for _, idx := range ix.Accounts {
			compiled.Accounts = append(compiled.Accounts, int(idx))
		}
		rec.Instructions = append(rec.Instructions, compiled)
	}

	if res.Meta == nil {
		return rec, nil
	}
	rec.AccountKeys = append(rec.AccountKeys, res.Meta.LoadedAddresses.Writable...)
	rec.AccountKeys = append(rec.AccountKeys, res.Meta.LoadedAddresses.ReadOnly...)
	rec.Meta = &pay.Meta{
		Err:               res.Meta.Err,
		PreBalances:       res.Meta.PreBalances,
		PostBalances:      res.Meta.PostBalances,
		PreTokenBalances:  convertTokenBalances(res.Meta.PreTokenBalances),
		PostTokenBalances: convertTokenBalances(res.Meta.PostTokenBalances),
	}
	return rec, nil
}

func convertTokenBalances(in []rpc.TokenBalance) []pay.TokenBalance {
	out := make([]pay.TokenBalance, 0, len(in))
	for _, b := range in {
		tb := pay.TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint,
			Owner:        b.Owner,
		}
		if b.UiTokenAmount != nil {
			tb.Amount = b.UiTokenAmount.Amount
			tb.Decimals = b.UiTokenAmount.Decimals
			tb.UIAmount = b.UiTokenAmount.UiAmountString
		}
		out = append(out, tb)
	}
	return out
}

// MintInfo 读取 mint 账户，返回精度和所属 token program（Token 或 Token-2022）
func (s *Solana) MintInfo(ctx context.Context, mint solana.PublicKey) (uint8, solana.PublicKey, error) {
	res, err := s.Client.GetAccountInfoWithOpts(ctx, mint, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return 0, solana.PublicKey{}, ErrMintNotFound
	}
	if err != nil {
		return 0, solana.PublicKey{}, err
	}
	if res == nil || res.Value == nil {
		return 0, solana.PublicKey{}, ErrMintNotFound
	}
	var m token.Mint
	if err := bin.NewBinDecoder(res.Value.Data.GetBinary()).Decode(&m); err != nil {
		return 0, solana.PublicKey{}, fmt.Errorf("%w: %v", ErrMintNotFound, err)
	}
	return m.Decimals, res.Value.Owner, nil
}

// TransferTxRequest 交易请求（transaction request）接口需要构造的转账
type TransferTxRequest struct {
	Account   solana.PublicKey // 付款钱包，同时是 fee payer
	Recipient solana.PublicKey
	SPLToken  *solana.PublicKey // nil 表示原生 SOL
	Amount    decimal.Decimal
	Reference solana.PublicKey
}

// BuildTransferTx 构造一笔未签名的转账交易并返回 base64 编码。
// reference 作为只读、非签名账户追加到转账指令上，之后可以通过 getSignaturesForAddress 找回。
func (s *Solana) BuildTransferTx(ctx context.Context, req TransferTxRequest) (string, error) {
	if req.Account.IsZero() || req.Recipient.IsZero() || req.Reference.IsZero() {
		return "", ErrInvalidRequest
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", pay.ErrInvalidAmount)
	}

	var transfer solana.Instruction
	if req.SPLToken == nil {
		lamports, err := toBaseUnits(req.Amount, 9)
		if err != nil {
			return "", err
		}
		transfer = solana.NewInstruction(
			solana.SystemProgramID,
			solana.AccountMetaSlice{
				{PublicKey: req.Account, IsSigner: true, IsWritable: true},    // From
				{PublicKey: req.Recipient, IsSigner: false, IsWritable: true}, // To
				{PublicKey: req.Reference, IsSigner: false, IsWritable: false},
			},
			pay.EncodeSystemTransfer(lamports),
		)
	} else {
		mint := *req.SPLToken
		decimals, program, err := s.MintInfo(ctx, mint)
		if err != nil {
			return "", err
		}
		amount, err := toBaseUnits(req.Amount, decimals)
		if err != nil {
			return "", err
		}
		source, err := pay.AssociatedTokenAddress(req.Account, mint, program)
		if err != nil {
			return "", err
		}
		destination, err := pay.AssociatedTokenAddress(req.Recipient, mint, program)
		if err != nil {
			return "", err
		}
		transfer = solana.NewInstruction(
			program,
			solana.AccountMetaSlice{
				{PublicKey: source, IsSigner: false, IsWritable: true},        // Source
				{PublicKey: mint, IsSigner: false, IsWritable: false},         // Mint
				{PublicKey: destination, IsSigner: false, IsWritable: true},   // Destination
				{PublicKey: req.Account, IsSigner: true, IsWritable: false},   // Owner (authority)
				{PublicKey: req.Reference, IsSigner: false, IsWritable: false}, // Reference
			},
			pay.EncodeTokenTransferChecked(amount, decimals),
		)
	}

	var instructions []solana.Instruction
	if s.PriorityFee > 0 {
		instructions = append(instructions, buildComputeUnitPriceInstruction(s.PriorityFee))
	}
	instructions = append(instructions, transfer)

	bh, err := s.Client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		// Finalized 失败时退回 Confirmed
		bh, err = s.Client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBlockhash, err)
		}
	}

	tx, err := solana.NewTransaction(instructions, bh.Value.Blockhash, solana.TransactionPayer(req.Account))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	enc, err := utils.EncodeUnsignedTx(tx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	return enc, nil
}

// toBaseUnits 转换为最小单位，金额必须能用 decimals 位精度精确表示
func toBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	units := amount.Shift(int32(decimals))
	if !units.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", pay.ErrInvalidAmount, amount, decimals)
	}
	n := units.BigInt()
	if n.Sign() <= 0 || !n.IsUint64() {
		return 0, fmt.Errorf("%w: %s out of range", pay.ErrInvalidAmount, amount)
	}
	return n.Uint64(), nil
}

// buildComputeUnitPriceInstruction 构建设置优先级费用的指令
// - instruction discriminator: 3 (SetComputeUnitPrice)
// - micro_lamports: 8 bytes (uint64, little-endian)
func buildComputeUnitPriceInstruction(computeUnitPrice uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:9], computeUnitPrice)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// NetworkOptions Networks 的可选参数
type NetworkOptions struct {
	PriorityFee uint64
	// Websocket 为 true 时 Listener 额外订阅 reference 的日志通知，收到即检查
	Websocket bool
	Logger    *utils.Logger
}

// Networks 按集群缓存 Solana 客户端
type Networks struct {
	clusters pay.Clusters
	opts     NetworkOptions

	mu      sync.Mutex
	clients map[pay.Cluster]*Solana
}

func NewNetworks(clusters pay.Clusters, opts NetworkOptions) *Networks {
	if opts.Logger == nil {
		opts.Logger = utils.NewLogger("solana")
	}
	return &Networks{
		clusters: clusters,
		opts:     opts,
		clients:  make(map[pay.Cluster]*Solana),
	}
}

// Get 返回集群的客户端，未知集群按 devnet 处理
func (n *Networks) Get(name string) *Solana {
	cfg := n.clusters.Get(name)
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.clients[cfg.Name]; ok {
		return s
	}
	s := NewSolana(cfg)
	s.PriorityFee = n.opts.PriorityFee
	n.clients[cfg.Name] = s
	return s
}

func (n *Networks) Ledger(name string) pay.Ledger {
	return n.Get(name)
}

func (n *Networks) Cluster(name string) pay.ClusterConfig {
	return n.clusters.Get(name)
}

// Wake 为 reference 建立一条 websocket 日志订阅，ctx 结束时关闭连接。
// 未开启 websocket 时返回 nil channel，Listener 只轮询。
func (n *Networks) Wake(ctx context.Context, name string, reference solana.PublicKey, commitment rpc.CommitmentType) (<-chan struct{}, error) {
	if !n.opts.Websocket {
		return nil, nil
	}
	cfg := n.clusters.Get(name)
	client, err := ws.Connect(ctx, cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 连接失败: %w", err)
	}
	wake, err := listener.SubscribeReference(ctx, client, reference, commitment, n.opts.Logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		client.Close()
	}()
	return wake, nil
}

// TxBuilder 构造交易请求（transaction request）返回的未签名交易
type TxBuilder interface {
	BuildTransferTx(ctx context.Context, req TransferTxRequest) (string, error)
}

func (n *Networks) TxBuilder(name string) TxBuilder {
	return n.Get(name)
}
