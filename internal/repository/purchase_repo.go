package repository

import (
	"context"
	"errors"

	"playdrive/internal/model"

	"gorm.io/gorm"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) Create(ctx context.Context, tx *gorm.DB, purchase *model.Purchase) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(purchase).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// HasActive 是否存在某商品的有效购买记录
func (r *PurchaseRepository) HasActive(ctx context.Context, tx *gorm.DB, accountID, itemID string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.Purchase{}).
		Where("account_id = ? AND item_id = ? AND active = ?", accountID, itemID, true).
		Count(&count).Error
	return count > 0, err
}

// ListByAccountID 账户的全部购买记录，最新的在前
func (r *PurchaseRepository) ListByAccountID(ctx context.Context, accountID string) ([]*model.Purchase, error) {
	var purchases []*model.Purchase
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&purchases).Error
	return purchases, err
}
