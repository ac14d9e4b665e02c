package models

// CreateTransactionRequest PUT /transactions
type CreateTransactionRequest struct {
	OrganizationID string  `json:"organizationId" binding:"required"`
	Reference      string  `json:"reference" binding:"required"`
	Amount         string  `json:"amount" binding:"required"`
	TokenPubkey    string  `json:"tokenPubkey"`
	Cluster        string  `json:"cluster"`
	Message        *string `json:"message"`
	// 带签名时先校验链上转账，通过后直接记为 SUCCESS
	Signature      *string `json:"signature"`
	CustomerPubkey *string `json:"customerPubkey"`
}

// UpdateTransactionRequest PATCH /transactions
type UpdateTransactionRequest struct {
	TxID           string   `json:"txId" binding:"required"`
	TxStatus       TxStatus `json:"txStatus" binding:"required"`
	Signature      *string  `json:"signature"`
	CustomerPubkey *string  `json:"customerPubkey"`
}

// CheckoutRequest POST /checkout
type CheckoutRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	TokenPubkey    string `json:"tokenPubkey"`
	Message        string `json:"message"`
	Cluster        string `json:"cluster"`
}

// CheckoutResponse 返回给 POS 前端，用于生成二维码
type CheckoutResponse struct {
	TxID               string `json:"txId"`
	Reference          string `json:"reference"`
	TransactionRequest string `json:"transactionRequest"` // solana:<link>
	TransferRequest    string `json:"transferRequest"`    // solana:<recipient>?amount=…
	Status             string `json:"status"`
}

// CheckoutStatusResponse GET /checkout/:reference
type CheckoutStatusResponse struct {
	Reference   string       `json:"reference"`
	Status      string       `json:"status"`
	Signature   string       `json:"signature,omitempty"`
	Error       string       `json:"error,omitempty"`
	RecordError string       `json:"recordError,omitempty"` // 链上已确认但写库失败
	Transaction *Transaction `json:"transaction,omitempty"`
}

// TxMetadataResponse GET /tx/:orgId
type TxMetadataResponse struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

// TxRequestBody POST /tx/:orgId
type TxRequestBody struct {
	Account string `json:"account" binding:"required"`
}

// TxResponse POST /tx/:orgId，transaction 为 base64 编码的未签名交易
type TxResponse struct {
	Transaction string `json:"transaction"`
	Message     string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
