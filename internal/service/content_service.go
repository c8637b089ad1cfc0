package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"playdrive/internal/infrastructure/lock"
	"playdrive/internal/model"
	"playdrive/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ContentService 内容发布通知：额度校验、写入内容、发放上传奖励
type ContentService struct {
	accountRepo *repository.AccountRepository
	contentRepo *repository.ContentRepository
	entitlement *EntitlementService
	ledger      *LedgerService
	locker      lock.Locker
	now         func() time.Time
	log         *zap.Logger
}

func NewContentService(db *gorm.DB, locker lock.Locker, entitlement *EntitlementService, ledger *LedgerService, log *zap.Logger) *ContentService {
	return &ContentService{
		accountRepo: repository.NewAccountRepository(db),
		contentRepo: repository.NewContentRepository(db),
		entitlement: entitlement,
		ledger:      ledger,
		locker:      locker,
		now:         time.Now,
		log:         log.Named("content"),
	}
}

type PublishRequest struct {
	OwnerID   string
	ContentID string
	IsVideo   bool
	Category  string
}

type PublishResult struct {
	Content       *model.ContentItem `json:"content"`
	Rewarded      bool               `json:"rewarded"`
	RewardPending bool               `json:"reward_pending"` // 奖励未入账，稍后由补偿任务重试
	Remaining     *int               `json:"remaining"`
}

// Publish 发布内容
//
// 【关键点】
// 1. 额度校验与写入在账户锁内完成，同一账户并发发布不会突破每日上限
// 2. 奖励在内容写入之后发放，失败不回滚内容，只返回 RewardPending
func (s *ContentService) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	contentID := strings.TrimSpace(req.ContentID)
	if req.OwnerID == "" || contentID == "" {
		return nil, validationError("内容ID不能为空")
	}

	item, remaining, err := s.insert(ctx, req.OwnerID, contentID, req)
	if err != nil {
		return nil, err
	}

	result := &PublishResult{Content: item, Remaining: remaining}

	applied, err := s.ledger.RewardUpload(ctx, item.OwnerID, item.ID, item.IsVideo)
	if err != nil {
		s.log.Warn("上传奖励发放失败，等待补偿",
			zap.String("account_id", item.OwnerID),
			zap.String("content_id", item.ID),
			zap.Error(err))
		result.RewardPending = true
		return result, nil
	}
	result.Rewarded = applied
	return result, nil
}

func (s *ContentService) insert(ctx context.Context, ownerID, contentID string, req *PublishRequest) (*model.ContentItem, *int, error) {
	release, err := s.locker.LockAccounts(ctx, uuid.NewString(), ownerID)
	if err != nil {
		return nil, nil, upstream("系统繁忙，请稍后重试", err)
	}
	defer release()

	// 未注册的账户不能发布，否则奖励永远无法入账
	if _, err := s.accountRepo.GetByID(ctx, nil, ownerID); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, nil, validationError("账户不存在")
		}
		return nil, nil, upstream("查询账户失败", err)
	}

	allowance, err := s.entitlement.CanPost(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if !allowance.Allowed {
		return nil, nil, postLimitReached("今日发布次数已用完")
	}

	item := &model.ContentItem{
		ID:        contentID,
		OwnerID:   ownerID,
		Category:  req.Category,
		IsVideo:   req.IsVideo,
		CreatedAt: s.now().UTC(),
	}
	if err := s.contentRepo.Create(ctx, item); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, validationError("内容已存在")
		}
		return nil, nil, upstream("保存内容失败", err)
	}

	remaining := allowance.Remaining
	if remaining != nil {
		left := *remaining - 1
		remaining = &left
	}
	return item, remaining, nil
}
