package repository

import (
	"context"
	"errors"
	"time"

	"playdrive/internal/model"

	"gorm.io/gorm"
)

var ErrContentNotFound = errors.New("内容不存在")

type ContentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

func (r *ContentRepository) Create(ctx context.Context, item *model.ContentItem) error {
	err := r.db.WithContext(ctx).Create(item).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *ContentRepository) GetByID(ctx context.Context, id string) (*model.ContentItem, error) {
	var item model.ContentItem
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	return &item, nil
}

// CountByOwnerBetween 统计 [from, to) 区间内某用户发布的内容数
func (r *ContentRepository) CountByOwnerBetween(ctx context.Context, ownerID string, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ContentItem{}).
		Where("owner_id = ? AND created_at >= ? AND created_at < ?", ownerID, from, to).
		Count(&count).Error
	return count, err
}

func (r *ContentRepository) MarkRewarded(ctx context.Context, tx *gorm.DB, id string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.ContentItem{}).
		Where("id = ?", id).
		Update("rewarded", true).Error
}

// MarkRewardFailed 标记奖励被永久拒绝（例如账户不存在）
func (r *ContentRepository) MarkRewardFailed(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.ContentItem{}).
		Where("id = ? AND rewarded = ?", id, false).
		Update("reward_failed", true).Error
}

// GetUnrewarded 查询创建时间早于 before、奖励尚未入账且未被永久拒绝的内容
func (r *ContentRepository) GetUnrewarded(ctx context.Context, before time.Time, limit int) ([]*model.ContentItem, error) {
	var items []*model.ContentItem
	err := r.db.WithContext(ctx).
		Where("rewarded = ? AND reward_failed = ? AND created_at < ?", false, false, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
