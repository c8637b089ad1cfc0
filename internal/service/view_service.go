package service

import (
	"context"
	"errors"

	"playdrive/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ViewService 观看计数，每个观看者首次观看他人内容时给作者发放观看代币
type ViewService struct {
	contentRepo *repository.ContentRepository
	ledger      *LedgerService
	log         *zap.Logger
}

func NewViewService(db *gorm.DB, ledger *LedgerService, log *zap.Logger) *ViewService {
	return &ViewService{
		contentRepo: repository.NewContentRepository(db),
		ledger:      ledger,
		log:         log.Named("view"),
	}
}

// RecordView 记录一次观看，返回是否发放了奖励；作者本人观看不计
func (s *ViewService) RecordView(ctx context.Context, viewerID, contentID string) (bool, error) {
	if viewerID == "" || contentID == "" {
		return false, validationError("内容ID不能为空")
	}

	item, err := s.contentRepo.GetByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, repository.ErrContentNotFound) {
			return false, validationError("内容不存在")
		}
		return false, upstream("查询内容失败", err)
	}

	if item.OwnerID == viewerID {
		return false, nil
	}

	applied, err := s.ledger.RewardView(ctx, item.OwnerID, item.ID, viewerID)
	if err != nil {
		return false, err
	}
	if applied {
		s.log.Debug("观看奖励入账",
			zap.String("owner_id", item.OwnerID),
			zap.String("content_id", item.ID),
			zap.String("viewer_id", viewerID))
	}
	return applied, nil
}
