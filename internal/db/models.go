package db

import "PayPeer/internal/models"

// TransactionFilter FindMany 的查询条件，空字段不参与过滤
type TransactionFilter struct {
	OrganizationID string
	Status         models.TxStatus
	Limit          int
}

// TransactionUpdate 只允许把 PENDING 记录改为终态
type TransactionUpdate struct {
	Status         models.TxStatus
	Signature      *string
	CustomerPubkey *string
}
