package repository

import (
	"context"
	"errors"

	"playdrive/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound = errors.New("账户不存在")
	ErrOptimisticLock  = errors.New("乐观锁冲突，请重试")
	ErrDuplicate       = errors.New("唯一约束冲突")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByIDForUpdate 行锁读取（SQLite 不支持行锁，由 gorm 驱动忽略）
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByTransferCode(ctx context.Context, tx *gorm.DB, code string) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).Where("transfer_code = ?", code).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Account{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

// UpdateBalances 写入新余额
//
// 【关键点】条件更新 version = 读取时的版本号，保证 读-改-写 之间没有其他写入，
// 否则返回 ErrOptimisticLock 由上层决定是否重试
func (r *AccountRepository) UpdateBalances(ctx context.Context, tx *gorm.DB, account *model.Account, contentTokens, viewTokens decimal.Decimal) error {
	if contentTokens.IsNegative() || viewTokens.IsNegative() {
		return errors.New("余额不能为负数")
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"content_tokens": contentTokens,
			"view_tokens":    viewTokens,
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	account.ContentTokens = contentTokens
	account.ViewTokens = viewTokens
	account.Version++
	return nil
}

func (r *AccountRepository) UpdateUsername(ctx context.Context, id, username string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update("username", username)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
