package handler

import (
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"PayPeer/internal/models"
	"PayPeer/internal/services"
)

// TxMetadata GET /tx/:orgId
// 钱包扫码后先请求这里，展示商户名称和图标
func (h *Handler) TxMetadata(c *gin.Context) {
	org, err := h.Store.GetOrganization(c.Request.Context(), c.Param("orgId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.TxMetadataResponse{Label: org.Name, Icon: org.LogoURL})
}

// TxRequest POST /tx/:orgId?amount=&reference=&cluster=&token=
// 钱包提交 {account}，返回由该账户支付的未签名转账交易
func (h *Handler) TxRequest(c *gin.Context) {
	var body models.TxRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	account, err := solana.PublicKeyFromBase58(body.Account)
	if err != nil {
		badRequest(c, "account")
		return
	}
	reference, err := solana.PublicKeyFromBase58(c.Query("reference"))
	if err != nil {
		badRequest(c, "reference")
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || !amount.IsPositive() {
		badRequest(c, "amount")
		return
	}

	ctx := c.Request.Context()
	org, err := h.Store.GetOrganization(ctx, c.Param("orgId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	recipient, err := solana.PublicKeyFromBase58(org.FundsPubkey)
	if err != nil {
		h.writeError(c, err)
		return
	}

	clusterName := c.Query("cluster")
	var splToken *solana.PublicKey
	switch token := c.Query("token"); token {
	case services.NativeToken:
	case "":
		mint := h.Builders.Cluster(clusterName).USDCMint
		splToken = &mint
	default:
		mint, err := solana.PublicKeyFromBase58(token)
		if err != nil {
			badRequest(c, "token")
			return
		}
		splToken = &mint
	}

	tx, err := h.Builders.TxBuilder(clusterName).BuildTransferTx(ctx, services.TransferTxRequest{
		Account:   account,
		Recipient: recipient,
		SPLToken:  splToken,
		Amount:    amount,
		Reference: reference,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.TxResponse{Transaction: tx, Message: org.Name})
}

// StartCheckout POST /checkout
func (h *Handler) StartCheckout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	resp, err := h.Checkout.StartCheckout(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// CheckoutStatus GET /checkout/:reference，POS 页面轮询
func (h *Handler) CheckoutStatus(c *gin.Context) {
	resp, err := h.Checkout.Status(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StopCheckout DELETE /checkout/:reference，顾客离开或收银员取消
func (h *Handler) StopCheckout(c *gin.Context) {
	if err := h.Checkout.Stop(c.Param("reference")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
