package listener

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"PayPeer/internal/pay"
	"PayPeer/utils"
)

const DefaultInterval = 500 * time.Millisecond

type Status int32

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	default:
		return "IDLE"
	}
}

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Outcome 是一次监听的最终结果，只会产生一次
type Outcome struct {
	Status    Status
	Signature solana.Signature
	Payer     solana.PublicKey
	Record    *pay.Record
	Err       error
}

type Config struct {
	Ledger     pay.Ledger
	Reference  solana.PublicKey
	Fields     pay.ValidateTransferFields
	Commitment rpc.CommitmentType
	Interval   time.Duration
	// Wake 收到信号时立即检查一次，不必等下一个周期（通常来自 websocket 订阅）
	Wake   <-chan struct{}
	Logger *utils.Logger
	// MaxTransientFailures 允许连续多少次查询签名失败后再判定为错误，0 表示第一次失败即结束
	MaxTransientFailures int
}

// Listener polls the ledger for a transaction mentioning Reference and
// validates it against Fields. The result is delivered once on Done.
type Listener struct {
	cfg Config
	log *utils.Logger

	mu      sync.Mutex
	status  Status
	stopped bool
	stop    chan struct{}
	done    chan Outcome

	// 只在 Run 的 goroutine 中访问
	transientFailures int
}

func New(cfg Config) *Listener {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.NewLogger("listener")
	}
	return &Listener{
		cfg:  cfg,
		log:  logger.With(cfg.Reference.String()),
		stop: make(chan struct{}),
		done: make(chan Outcome, 1),
	}
}

// Begin moves an idle listener to pending. Ticks before Begin are ignored.
func (l *Listener) Begin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == StatusIdle && !l.stopped {
		l.status = StatusPending
	}
}

func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Done receives the Outcome once and is then closed. It is closed without a
// value when the listener is stopped before reaching a terminal state.
func (l *Listener) Done() <-chan Outcome {
	return l.done
}

// Stop tears the listener down. A check already in flight finishes, but its
// result is dropped.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stop)
	if !l.status.Terminal() {
		close(l.done)
	}
}

func (l *Listener) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Run drives the listener until it reaches a terminal state, Stop is called
// or ctx is done. Checks run on this goroutine only, so they never overlap.
func (l *Listener) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	wake := l.cfg.Wake
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.stop:
			return
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				// 订阅断开后退回纯轮询
				wake = nil
				continue
			}
			l.log.Debug("wake")
		}

		if l.Status() != StatusPending {
			continue
		}
		if l.tick(ctx) {
			return
		}
	}
}

// tick 执行一次检查，返回 true 表示监听已结束
func (l *Listener) tick(ctx context.Context) bool {
	info, err := pay.FindReference(ctx, l.cfg.Ledger, l.cfg.Reference, l.cfg.Commitment)
	if err != nil {
		if errors.Is(err, pay.ErrReferenceNotFound) {
			l.transientFailures = 0
			return false
		}
		if ctx.Err() != nil {
			l.Stop()
			return true
		}
		l.transientFailures++
		if l.transientFailures <= l.cfg.MaxTransientFailures {
			l.log.Warn("find reference failed (%d/%d): %v", l.transientFailures, l.cfg.MaxTransientFailures, err)
			return false
		}
		return l.finish(Outcome{Status: StatusError, Err: err})
	}
	l.transientFailures = 0

	if l.isStopped() {
		return true
	}

	l.log.Info("found transaction %s", info.Signature)
	record, err := pay.ValidateTransfer(ctx, l.cfg.Ledger, info.Signature, l.cfg.Fields, l.cfg.Commitment)
	if ctx.Err() != nil {
		// ctx 结束即拆除，检查结果作废
		l.Stop()
		return true
	}
	if err != nil {
		return l.finish(Outcome{Status: StatusError, Signature: info.Signature, Err: err})
	}
	return l.finish(Outcome{
		Status:    StatusSuccess,
		Signature: info.Signature,
		Payer:     record.Payer(),
		Record:    record,
	})
}

func (l *Listener) finish(o Outcome) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || l.status.Terminal() {
		l.log.Debug("discard %s outcome after teardown", o.Status)
		return true
	}
	l.status = o.Status
	l.done <- o
	close(l.done)
	if o.Err != nil {
		l.log.Warn("%s: %v", o.Status, o.Err)
	} else {
		l.log.Info("%s: %s paid by %s", o.Status, o.Signature, o.Payer)
	}
	return true
}
