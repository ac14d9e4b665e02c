package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TxStatus string

const (
	TxPending TxStatus = "PENDING"
	TxSuccess TxStatus = "SUCCESS"
	TxError   TxStatus = "ERROR"
)

func (s TxStatus) Valid() bool {
	return s == TxPending || s == TxSuccess || s == TxError
}

// Transaction 收款记录，一个 reference 对应一条
type Transaction struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"index;size:64;not null" json:"organizationId"`
	Reference      string    `gorm:"uniqueIndex;size:44;not null" json:"reference"`
	Amount         string    `gorm:"size:40;not null" json:"amount"`    // 十进制字符串，保留完整精度
	TokenPubkey    string    `gorm:"size:44" json:"tokenPubkey"`        // 为空表示原生 SOL
	Cluster        string    `gorm:"size:20;default:'devnet'" json:"cluster"`
	Signature      *string   `gorm:"uniqueIndex;size:88" json:"signature"` // 交易签名，成功后写入；一笔交易只能结算一条记录
	CustomerPubkey *string   `gorm:"size:44" json:"customerPubkey"`     // 付款人地址
	Message        *string   `gorm:"size:255" json:"message"`
	Status         TxStatus  `gorm:"index;size:20;default:'PENDING'" json:"txStatus"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TxPending
	}
	return nil
}

// Organization 商户，FundsPubkey 为收款地址
type Organization struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	LogoURL     string    `gorm:"size:255" json:"logoUrl"`
	FundsPubkey string    `gorm:"size:44;not null" json:"fundsPubkey"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
