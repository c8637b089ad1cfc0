package repository

import (
	"context"
	"errors"

	"playdrive/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create 追加流水，幂等键冲突返回 ErrDuplicate
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(trans).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.Transaction
	err := tx.WithContext(ctx).Where("idempotency_key = ?", key).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// ListByAccountID 查询账户相关的流水（转出或转入），按时间倒序
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("sender_id = ? OR recipient_id = ?", accountID, accountID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
