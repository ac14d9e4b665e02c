package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"PayPeer/internal/db"
	"PayPeer/internal/listener"
	"PayPeer/internal/models"
	"PayPeer/internal/pay"
	"PayPeer/utils"
)

var (
	ErrTooManyCheckouts  = errors.New("too many active checkouts")
	ErrCheckoutNotFound  = errors.New("checkout not found")
	ErrRecordFailed      = errors.New("could not record payment")
	ErrSignatureReused   = db.ErrSignatureTaken
	ErrReferenceNotFound = errors.New("no transaction found for reference")
)

// NativeToken 作为 tokenPubkey 传入时表示原生 SOL
const NativeToken = "SOL"

// TransactionStore 收款记录存储，由 db.Store 实现
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	Update(ctx context.Context, id string, u db.TransactionUpdate) (*models.Transaction, error)
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
}

// Ledgers 按集群提供链上访问，由 Networks 实现
type Ledgers interface {
	Ledger(cluster string) pay.Ledger
	Cluster(cluster string) pay.ClusterConfig
	Wake(ctx context.Context, cluster string, reference solana.PublicKey, commitment rpc.CommitmentType) (<-chan struct{}, error)
}

type CheckoutConfig struct {
	// BaseURL 本服务对外地址，用于拼 transaction request 链接，如 https://pay.example.com
	BaseURL              string
	AllowInsecure        bool
	Commitment           rpc.CommitmentType
	Interval             time.Duration
	MaxListeners         int
	MaxTransientFailures int
}

// 收款结束后 session 在内存中保留的时间，之后状态只从数据库读取
const sessionRetention = 10 * time.Minute

// session 一个进行中的收款
type session struct {
	txID      string
	reference string
	cluster   string
	listener  *listener.Listener
	cancel    context.CancelFunc
	mu        sync.Mutex
	outcome   *listener.Outcome
	recordErr error
}

// CheckoutService 为每个收款启动一个 Listener，结果写回数据库
type CheckoutService struct {
	store   TransactionStore
	ledgers Ledgers
	cfg     CheckoutConfig
	log     *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session // reference -> session

	// 性能优化：并发控制和缓存
	processedSignatures sync.Map      // 已记录的交易签名（一笔交易只能结算一个收款）
	workerPool          chan struct{} // 限制同时运行的 Listener 数量
}

func NewCheckoutService(store TransactionStore, ledgers Ledgers, cfg CheckoutConfig) *CheckoutService {
	if cfg.MaxListeners <= 0 {
		cfg.MaxListeners = 100
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.Interval <= 0 {
		cfg.Interval = listener.DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CheckoutService{
		store:      store,
		ledgers:    ledgers,
		cfg:        cfg,
		log:        utils.NewLogger("checkout"),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*session),
		workerPool: make(chan struct{}, cfg.MaxListeners),
	}
}

// parseToken 解析 tokenPubkey：空值为集群的 USDC，NativeToken 为原生 SOL
func parseToken(token string, cluster pay.ClusterConfig) (*solana.PublicKey, string, error) {
	switch strings.TrimSpace(token) {
	case "":
		mint := cluster.USDCMint
		return &mint, mint.String(), nil
	case NativeToken:
		return nil, "", nil
	}
	mint, err := solana.PublicKeyFromBase58(token)
	if err != nil {
		return nil, "", fmt.Errorf("%w: tokenPubkey: %v", ErrInvalidRequest, err)
	}
	return &mint, mint.String(), nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount %q", pay.ErrInvalidAmount, s)
	}
	return amount, nil
}

// fieldsFor 根据收款记录构造校验字段，收款地址取商户的 FundsPubkey
func fieldsFor(org *models.Organization, tx *models.Transaction) (pay.ValidateTransferFields, error) {
	recipient, err := solana.PublicKeyFromBase58(org.FundsPubkey)
	if err != nil {
		return pay.ValidateTransferFields{}, fmt.Errorf("organization %s funds address: %w", org.ID, err)
	}
	amount, err := parseAmount(tx.Amount)
	if err != nil {
		return pay.ValidateTransferFields{}, err
	}
	fields := pay.ValidateTransferFields{Recipient: recipient, Amount: amount}
	if tx.TokenPubkey != "" {
		mint, err := solana.PublicKeyFromBase58(tx.TokenPubkey)
		if err != nil {
			return pay.ValidateTransferFields{}, fmt.Errorf("tokenPubkey: %w", err)
		}
		fields.SPLToken = &mint
	}
	return fields, nil
}

// StartCheckout 生成 reference，写入 PENDING 记录，返回两种支付链接，并在后台开始监听
func (s *CheckoutService) StartCheckout(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	org, err := s.store.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	cluster := s.ledgers.Cluster(req.Cluster)
	_, tokenPubkey, err := parseToken(req.TokenPubkey, cluster)
	if err != nil {
		return nil, err
	}
	reference, err := pay.NewReference()
	if err != nil {
		return nil, err
	}

	// 限制并发数
	select {
	case s.workerPool <- struct{}{}:
	default:
		return nil, ErrTooManyCheckouts
	}
	release := func() { <-s.workerPool }

	record := &models.Transaction{
		OrganizationID: org.ID,
		Reference:      reference.String(),
		Amount:         amount.String(),
		TokenPubkey:    tokenPubkey,
		Cluster:        string(cluster.Name),
		Status:         models.TxPending,
	}
	if req.Message != "" {
		record.Message = &req.Message
	}

	fields, err := fieldsFor(org, record)
	if err != nil {
		release()
		return nil, err
	}
	txRequest, transferRequest, err := s.paymentLinks(org, record, fields, req.Message)
	if err != nil {
		release()
		return nil, err
	}
	if err := s.store.Create(ctx, record); err != nil {
		release()
		return nil, err
	}

	s.watch(record, fields, reference, release)
	s.log.Info("checkout %s started: org=%s amount=%s reference=%s", record.ID, org.ID, record.Amount, record.Reference)

	return &models.CheckoutResponse{
		TxID:               record.ID,
		Reference:          record.Reference,
		TransactionRequest: txRequest,
		TransferRequest:    transferRequest,
		Status:             listener.StatusPending.String(),
	}, nil
}

// paymentLinks 返回 transaction request 和 transfer request 两种 URI
func (s *CheckoutService) paymentLinks(org *models.Organization, record *models.Transaction, fields pay.ValidateTransferFields, message string) (string, string, error) {
	base, err := url.Parse(strings.TrimSuffix(s.cfg.BaseURL, "/") + "/tx/" + url.PathEscape(org.ID))
	if err != nil {
		return "", "", fmt.Errorf("%w: base url: %v", pay.ErrInvalidLink, err)
	}
	q := url.Values{}
	q.Set("amount", record.Amount)
	q.Set("reference", record.Reference)
	q.Set("cluster", record.Cluster)
	if record.TokenPubkey == "" {
		q.Set("token", NativeToken)
	} else {
		q.Set("token", record.TokenPubkey)
	}
	base.RawQuery = q.Encode()

	txURI, err := pay.EncodeTransactionRequest(pay.TransactionRequest{
		Link:          base,
		Label:         org.Name,
		Message:       message,
		AllowInsecure: s.cfg.AllowInsecure,
	})
	if err != nil {
		return "", "", err
	}

	amount := fields.Amount
	transferURI, err := pay.EncodeTransferRequest(pay.TransferRequest{
		Recipient:  fields.Recipient,
		SPLToken:   fields.SPLToken,
		Amount:     &amount,
		References: []solana.PublicKey{solana.MustPublicKeyFromBase58(record.Reference)},
		Label:      org.Name,
		Message:    message,
	})
	if err != nil {
		return "", "", err
	}
	return txURI.String(), transferURI.String(), nil
}

func (s *CheckoutService) watch(record *models.Transaction, fields pay.ValidateTransferFields, reference solana.PublicKey, release func()) {
	ctx, cancel := context.WithCancel(s.ctx)

	wake, err := s.ledgers.Wake(ctx, record.Cluster, reference, s.cfg.Commitment)
	if err != nil {
		// 订阅失败不影响轮询
		s.log.Warn("订阅 reference %s 失败: %v", reference, err)
	}

	l := listener.New(listener.Config{
		Ledger:               s.ledgers.Ledger(record.Cluster),
		Reference:            reference,
		Fields:               fields,
		Commitment:           s.cfg.Commitment,
		Interval:             s.cfg.Interval,
		Wake:                 wake,
		Logger:               s.log,
		MaxTransientFailures: s.cfg.MaxTransientFailures,
	})
	sess := &session{txID: record.ID, reference: record.Reference, cluster: record.Cluster, listener: l, cancel: cancel}

	s.mu.Lock()
	s.sessions[record.Reference] = sess
	s.mu.Unlock()

	l.Begin()
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		l.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		defer release()
		defer cancel()
		o, ok := <-l.Done()
		if !ok {
			s.log.Info("checkout %s abandoned", record.ID)
			return
		}
		s.resolve(sess, o)
	}()
}

// claimSignature 标记 sig 由 reference 结算。已被其他 reference 标记时返回 false，同一 reference 重复标记视为成功。
func (s *CheckoutService) claimSignature(sig, reference string) bool {
	owner, loaded := s.processedSignatures.LoadOrStore(sig, reference)
	return !loaded || owner.(string) == reference
}

// releaseSignature 写库失败时撤销标记，之后的重试不会被误判为重复
func (s *CheckoutService) releaseSignature(sig, reference string) {
	s.processedSignatures.CompareAndDelete(sig, reference)
}

// resolve 把 Listener 的结果写回数据库。写库失败时记录在 session 上，状态接口返回 RecordError。
func (s *CheckoutService) resolve(sess *session, o listener.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	update := db.TransactionUpdate{Status: models.TxError}
	var claimed string
	if o.Status == listener.StatusSuccess {
		sig := o.Signature.String()
		payer := o.Payer.String()
		update = db.TransactionUpdate{Status: models.TxSuccess, Signature: &sig, CustomerPubkey: &payer}

		// 快速去重检查：同一笔交易带了多个 reference 时只结算第一个
		if s.claimSignature(sig, sess.reference) {
			claimed = sig
		} else {
			o.Status = listener.StatusError
			o.Err = ErrSignatureReused
			update = db.TransactionUpdate{Status: models.TxError}
		}
	}

	_, err := s.store.Update(ctx, sess.txID, update)
	if claimed != "" && errors.Is(err, db.ErrSignatureTaken) {
		// 内存标记之外（例如重启前）已被其他记录使用
		s.releaseSignature(claimed, sess.reference)
		o.Status = listener.StatusError
		o.Err = ErrSignatureReused
		update = db.TransactionUpdate{Status: models.TxError}
		_, err = s.store.Update(ctx, sess.txID, update)
	} else if claimed != "" && err != nil && !errors.Is(err, db.ErrAlreadyResolved) {
		s.releaseSignature(claimed, sess.reference)
	}

	sess.mu.Lock()
	sess.outcome = &o
	sess.mu.Unlock()

	if err != nil && !errors.Is(err, db.ErrAlreadyResolved) {
		s.log.Error("保存收款结果失败 tx=%s status=%s: %v", sess.txID, update.Status, err)
		sess.mu.Lock()
		sess.recordErr = fmt.Errorf("%w: %v", ErrRecordFailed, err)
		sess.mu.Unlock()
		return
	}
	s.log.Info("checkout %s %s", sess.txID, update.Status)
	time.AfterFunc(sessionRetention, func() { s.forget(sess) })
}

func (s *CheckoutService) forget(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.reference] == sess {
		delete(s.sessions, sess.reference)
	}
}

// Status 返回收款的实时状态和数据库记录
func (s *CheckoutService) Status(ctx context.Context, reference string) (*models.CheckoutStatusResponse, error) {
	record, err := s.store.GetByReference(ctx, reference)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	s.mu.Lock()
	sess := s.sessions[reference]
	s.mu.Unlock()

	if sess == nil && record == nil {
		return nil, ErrCheckoutNotFound
	}

	resp := &models.CheckoutStatusResponse{Reference: reference, Transaction: record}
	if record != nil {
		resp.Status = string(record.Status)
		if record.Signature != nil {
			resp.Signature = *record.Signature
		}
	}
	if sess != nil {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.outcome == nil {
			resp.Status = sess.listener.Status().String()
		} else {
			resp.Status = sess.outcome.Status.String()
			if !sess.outcome.Signature.IsZero() {
				resp.Signature = sess.outcome.Signature.String()
			}
			if sess.outcome.Err != nil {
				resp.Error = sess.outcome.Err.Error()
			}
		}
		if sess.recordErr != nil {
			resp.RecordError = ErrRecordFailed.Error()
		}
	}
	return resp, nil
}

// Stop 放弃一个收款：停止监听，记录保持 PENDING
func (s *CheckoutService) Stop(reference string) error {
	s.mu.Lock()
	sess, ok := s.sessions[reference]
	delete(s.sessions, reference)
	s.mu.Unlock()
	if !ok {
		return ErrCheckoutNotFound
	}
	sess.listener.Stop()
	sess.cancel()
	return nil
}

// Reconcile 对一条 PENDING 记录做一次链上检查（后台“检查待处理交易”操作）。
// 找到并校验通过时改为 SUCCESS；校验失败时记录保持不变并返回错误。
func (s *CheckoutService) Reconcile(ctx context.Context, txID string) (*models.Transaction, error) {
	record, err := s.store.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.TxPending {
		return record, nil
	}
	org, err := s.store.GetOrganization(ctx, record.OrganizationID)
	if err != nil {
		return nil, err
	}
	fields, err := fieldsFor(org, record)
	if err != nil {
		return nil, err
	}
	reference, err := solana.PublicKeyFromBase58(record.Reference)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}

	ledger := s.ledgers.Ledger(record.Cluster)
	info, err := pay.FindReference(ctx, ledger, reference, s.cfg.Commitment)
	if errors.Is(err, pay.ErrReferenceNotFound) {
		return record, ErrReferenceNotFound
	}
	if err != nil {
		return nil, err
	}
	validated, err := pay.ValidateTransfer(ctx, ledger, info.Signature, fields, s.cfg.Commitment)
	if err != nil {
		return record, err
	}

	sig := info.Signature.String()
	if !s.claimSignature(sig, record.Reference) {
		return record, ErrSignatureReused
	}
	payer := validated.Payer().String()
	updated, err := s.store.Update(ctx, record.ID, db.TransactionUpdate{
		Status:         models.TxSuccess,
		Signature:      &sig,
		CustomerPubkey: &payer,
	})
	if errors.Is(err, db.ErrAlreadyResolved) {
		// 监听器先一步写入
		return s.store.GetByID(ctx, record.ID)
	}
	if err != nil {
		s.releaseSignature(sig, record.Reference)
		return nil, err
	}
	s.log.Info("reconciled %s: %s", record.ID, sig)
	return updated, nil
}

// RecordTransaction 对应 PUT /transactions。带签名时先校验链上转账，通过后直接记为 SUCCESS。
func (s *CheckoutService) RecordTransaction(ctx context.Context, req models.CreateTransactionRequest) (*models.Transaction, error) {
	org, err := s.store.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	reference, err := solana.PublicKeyFromBase58(req.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: reference: %v", ErrInvalidRequest, err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	cluster := s.ledgers.Cluster(req.Cluster)
	_, tokenPubkey, err := parseToken(req.TokenPubkey, cluster)
	if err != nil {
		return nil, err
	}

	record := &models.Transaction{
		OrganizationID: org.ID,
		Reference:      req.Reference,
		Amount:         amount.String(),
		TokenPubkey:    tokenPubkey,
		Cluster:        string(cluster.Name),
		Message:        req.Message,
		Status:         models.TxPending,
	}

	if req.Signature != nil && *req.Signature != "" {
		sig, err := solana.SignatureFromBase58(*req.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: signature: %v", ErrInvalidRequest, err)
		}
		fields, err := fieldsFor(org, record)
		if err != nil {
			return nil, err
		}
		validated, err := pay.ValidateTransfer(ctx, s.ledgers.Ledger(record.Cluster), sig, fields, s.cfg.Commitment)
		if err != nil {
			return nil, err
		}
		// 交易必须带上这个 reference，否则任意一笔历史付款都能记到新 reference 上
		if validated.AccountIndex(reference) == -1 {
			return nil, &pay.ValidateTransferError{Signature: sig, Err: pay.ErrReferenceNotFound, Detail: "reference " + req.Reference}
		}
		sigStr := sig.String()
		if !s.claimSignature(sigStr, record.Reference) {
			return nil, ErrSignatureReused
		}
		payer := validated.Payer().String()
		if req.CustomerPubkey != nil && *req.CustomerPubkey != "" {
			payer = *req.CustomerPubkey
		}
		record.Signature = &sigStr
		record.CustomerPubkey = &payer
		record.Status = models.TxSuccess
	}

	if err := s.store.Create(ctx, record); err != nil {
		if record.Signature != nil {
			s.releaseSignature(*record.Signature, record.Reference)
		}
		return nil, err
	}
	return record, nil
}

// Active 返回正在监听的收款数量
func (s *CheckoutService) Active() int {
	return len(s.workerPool)
}

// Shutdown 停止所有 Listener 并等待后台 goroutine 退出
func (s *CheckoutService) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.listener.Stop()
	}
	s.cancel()
	s.wg.Wait()
	s.log.Info("checkout service stopped")
}
