package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"PayPeer/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyResolved = errors.New("transaction already resolved")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrDuplicate       = errors.New("reference already recorded")
	ErrSignatureTaken  = errors.New("signature already recorded")
)

// Open 按 driver（mysql / postgres）打开数据库连接
func Open(driver, dsn string, verbose bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	// 唯一索引冲突翻译为 gorm.ErrDuplicatedKey
	cfg := &gorm.Config{TranslateError: true}
	if !verbose {
		cfg.Logger = logger.Default.LogMode(logger.Warn)
	}
	return gorm.Open(dialector, cfg)
}

// Store 收款记录存储。记录只增不删，状态只能从 PENDING 变为终态一次。
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Organization{}, &models.Transaction{})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Create 写入一条新记录。reference 和 signature 都不能与已有记录重复。
func (s *Store) Create(ctx context.Context, tx *models.Transaction) error {
	if tx.Status != "" && !tx.Status.Valid() {
		return ErrInvalidStatus
	}
	if tx.Signature != nil && *tx.Signature == "" {
		tx.Signature = nil
	}
	if err := s.checkUnique(ctx, tx.Reference, "", tx.Signature); err != nil {
		return err
	}
	return s.insert(ctx, tx)
}

// insert 并发写入可能绕过 checkUnique，由唯一索引兜住，冲突翻译为 ErrDuplicate / ErrSignatureTaken
func (s *Store) insert(ctx context.Context, tx *models.Transaction) error {
	err := s.db.WithContext(ctx).Create(tx).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	if err := s.checkUnique(ctx, tx.Reference, "", tx.Signature); err != nil {
		return err
	}
	return ErrDuplicate
}

// checkUnique 检查 reference / signature 是否已被其他记录（id 以外）占用
func (s *Store) checkUnique(ctx context.Context, reference, id string, signature *string) error {
	if reference != "" {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
	}
	if signature != nil && *signature != "" {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("signature = ? AND id <> ?", *signature, id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrSignatureTaken
		}
	}
	return nil
}

// Update 把一条 PENDING 记录改成 SUCCESS 或 ERROR。已是终态的记录返回 ErrAlreadyResolved。
func (s *Store) Update(ctx context.Context, id string, u TransactionUpdate) (*models.Transaction, error) {
	if u.Status != models.TxSuccess && u.Status != models.TxError {
		return nil, ErrInvalidStatus
	}
	updates := map[string]interface{}{"status": u.Status}
	if u.Signature != nil && *u.Signature != "" {
		updates["signature"] = *u.Signature
	}
	if u.CustomerPubkey != nil {
		updates["customer_pubkey"] = *u.CustomerPubkey
	}

	if err := s.checkUnique(ctx, "", id, u.Signature); err != nil {
		return nil, err
	}

	var out models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", id, models.TxPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Where("id = ?", id).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyResolved
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrSignatureTaken
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) FindMany(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	q := s.db.WithContext(ctx).Model(&models.Transaction{})
	if f.OrganizationID != "" {
		q = q.Where("organization_id = ?", f.OrganizationID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var txs []models.Transaction
	return txs, q.Order("created_at DESC").Find(&txs).Error
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *Store) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.first(ctx, "reference = ?", reference)
}

func (s *Store) GetBySignature(ctx context.Context, signature string) (*models.Transaction, error) {
	return s.first(ctx, "signature = ?", signature)
}

func (s *Store) first(ctx context.Context, query string, arg interface{}) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Where(query, arg).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// SaveOrganization 新建或覆盖商户信息
func (s *Store) SaveOrganization(ctx context.Context, org *models.Organization) error {
	return s.db.WithContext(ctx).Save(org).Error
}
