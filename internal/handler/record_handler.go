package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"PayPeer/internal/db"
	"PayPeer/internal/models"
	"PayPeer/internal/services"
)

// CreateTransaction PUT /transactions
// 带 signature 时先校验链上转账，通过后记为 SUCCESS，否则记为 PENDING
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req models.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	tx, err := h.Checkout.RecordTransaction(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// UpdateTransaction PATCH /transactions（仅本地）
func (h *Handler) UpdateTransaction(c *gin.Context) {
	var req models.UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	tx, err := h.Store.Update(c.Request.Context(), req.TxID, db.TransactionUpdate{
		Status:         req.TxStatus,
		Signature:      req.Signature,
		CustomerPubkey: req.CustomerPubkey,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ListTransactions GET /transactions?organizationId=&txStatus=&limit=
func (h *Handler) ListTransactions(c *gin.Context) {
	filter := db.TransactionFilter{
		OrganizationID: c.Query("organizationId"),
		Status:         models.TxStatus(c.Query("txStatus")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		badRequest(c, "txStatus")
		return
	}
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			badRequest(c, "limit")
			return
		}
		filter.Limit = limit
	}

	txs, err := h.Store.FindMany(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GetTransaction GET /transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.Store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// CheckTransaction POST /transactions/:id/check（仅本地）
// 对 PENDING 记录做一次链上检查；尚未找到交易时原样返回记录
func (h *Handler) CheckTransaction(c *gin.Context) {
	tx, err := h.Checkout.Reconcile(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrReferenceNotFound) && tx != nil {
		c.JSON(http.StatusOK, tx)
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}
