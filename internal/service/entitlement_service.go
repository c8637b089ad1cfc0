package service

import (
	"context"
	"errors"
	"time"

	"playdrive/internal/model"
	"playdrive/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PostAllowance 今日发布额度，Remaining 为 nil 表示不限量
type PostAllowance struct {
	Allowed   bool `json:"allowed"`
	Remaining *int `json:"remaining"`
}

// EntitlementService 权益判断，只读不写
//
// 所有会员判断都必须经过这里，调用方不得自行查询购买记录
type EntitlementService struct {
	accountRepo  *repository.AccountRepository
	contentRepo  *repository.ContentRepository
	purchaseRepo *repository.PurchaseRepository
	premiumCache PremiumCache
	maxFree      int
	now          func() time.Time
	log          *zap.Logger
}

func NewEntitlementService(db *gorm.DB, premiumCache PremiumCache, maxFreePostsPerDay int, log *zap.Logger) *EntitlementService {
	return &EntitlementService{
		accountRepo:  repository.NewAccountRepository(db),
		contentRepo:  repository.NewContentRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		premiumCache: premiumCache,
		maxFree:      maxFreePostsPerDay,
		now:          time.Now,
		log:          log.Named("entitlement"),
	}
}

// DayWindow 返回 t 所在自然日的 [00:00Z, 次日00:00Z)
func DayWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// IsPremium 是否存在有效的会员订阅，先查缓存，缓存不可用时回源数据库
func (s *EntitlementService) IsPremium(ctx context.Context, accountID string) (bool, error) {
	if s.premiumCache != nil {
		premium, hit, err := s.premiumCache.Get(ctx, accountID)
		if err != nil {
			s.log.Warn("读取会员缓存失败", zap.String("account_id", accountID), zap.Error(err))
		} else if hit {
			return premium, nil
		}
	}

	premium, err := s.purchaseRepo.HasActive(ctx, nil, accountID, model.PremiumSubscriptionItemID)
	if err != nil {
		return false, upstream("查询会员状态失败", err)
	}

	// 只缓存已开通的结果：会员没有撤销路径，而 false 可能与开通后的失效操作交错被写回
	if premium && s.premiumCache != nil {
		if err := s.premiumCache.Set(ctx, accountID, premium); err != nil {
			s.log.Warn("写入会员缓存失败", zap.String("account_id", accountID), zap.Error(err))
		}
	}
	return premium, nil
}

// CanPost 今日是否还能发布内容
//
// 【关键点】查询失败时拒绝发布（fail closed），同时返回错误供调用方记录
func (s *EntitlementService) CanPost(ctx context.Context, accountID string) (PostAllowance, error) {
	denied := PostAllowance{Allowed: false, Remaining: intPtr(0)}

	premium, err := s.IsPremium(ctx, accountID)
	if err != nil {
		s.log.Error("会员状态查询失败，拒绝发布", zap.String("account_id", accountID), zap.Error(err))
		return denied, err
	}
	if premium {
		return PostAllowance{Allowed: true, Remaining: nil}, nil
	}

	from, to := DayWindow(s.now())
	count, err := s.contentRepo.CountByOwnerBetween(ctx, accountID, from, to)
	if err != nil {
		s.log.Error("今日发布数统计失败，拒绝发布", zap.String("account_id", accountID), zap.Error(err))
		return denied, upstream("查询发布额度失败", err)
	}

	remaining := s.maxFree - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return PostAllowance{
		Allowed:   int(count) < s.maxFree,
		Remaining: &remaining,
	}, nil
}

// CanAfford 内容代币余额是否足够支付 price
func (s *EntitlementService) CanAfford(ctx context.Context, accountID string, price decimal.Decimal) (bool, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return false, validationError("账户不存在")
		}
		return false, upstream("查询账户失败", err)
	}
	return account.CanAfford(price), nil
}

func intPtr(v int) *int {
	return &v
}
