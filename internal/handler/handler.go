package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"PayPeer/internal/db"
	"PayPeer/internal/middleware"
	"PayPeer/internal/models"
	"PayPeer/internal/pay"
	"PayPeer/internal/services"
	"PayPeer/utils"
)

// Store 处理器用到的存储操作，由 db.Store 实现
type Store interface {
	Update(ctx context.Context, id string, u db.TransactionUpdate) (*models.Transaction, error)
	FindMany(ctx context.Context, f db.TransactionFilter) ([]models.Transaction, error)
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	Ping(ctx context.Context) error
}

// Checkout 收款服务，由 services.CheckoutService 实现
type Checkout interface {
	StartCheckout(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResponse, error)
	Status(ctx context.Context, reference string) (*models.CheckoutStatusResponse, error)
	Stop(reference string) error
	Reconcile(ctx context.Context, txID string) (*models.Transaction, error)
	RecordTransaction(ctx context.Context, req models.CreateTransactionRequest) (*models.Transaction, error)
}

// TxBuilders 按集群返回交易构造器，由 services.Networks 实现
type TxBuilders interface {
	TxBuilder(cluster string) services.TxBuilder
	Cluster(cluster string) pay.ClusterConfig
}

type Handler struct {
	Store    Store
	Checkout Checkout
	Builders TxBuilders
	// AdminCIDRs 除本机外允许访问管理接口的网段
	AdminCIDRs []string
	// Warmup 启动后多久才报告就绪
	Warmup time.Duration

	startTime time.Time
	log       *utils.Logger
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	h.startTime = time.Now()
	if h.log == nil {
		h.log = utils.NewLogger("http")
	}
	admin := middleware.LocalOnly(h.AdminCIDRs...)

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readiness)

	// Solana Pay transaction request
	r.GET("/tx/:orgId", h.TxMetadata)
	r.POST("/tx/:orgId", h.TxRequest)

	r.POST("/checkout", h.StartCheckout)
	r.GET("/checkout/:reference", h.CheckoutStatus)
	r.DELETE("/checkout/:reference", h.StopCheckout)

	r.PUT("/transactions", h.CreateTransaction)
	r.PATCH("/transactions", admin, h.UpdateTransaction)
	r.GET("/transactions", h.ListTransactions)
	r.GET("/transactions/:id", h.GetTransaction)
	r.POST("/transactions/:id/check", admin, h.CheckTransaction)
}

// writeError 把业务错误映射为 HTTP 状态码
func (h *Handler) writeError(c *gin.Context, err error) {
	var vErr *pay.ValidateTransferError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, services.ErrCheckoutNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrAlreadyResolved), errors.Is(err, db.ErrDuplicate), errors.Is(err, services.ErrSignatureReused):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, db.ErrInvalidStatus),
		errors.Is(err, pay.ErrInvalidAmount),
		errors.Is(err, pay.ErrInvalidLink),
		errors.Is(err, services.ErrMintNotFound):
		status = http.StatusBadRequest
	case errors.As(err, &vErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrTooManyCheckouts):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, models.ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request: " + msg})
}
