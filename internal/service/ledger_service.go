package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"playdrive/internal/catalog"
	"playdrive/internal/config"
	"playdrive/internal/infrastructure/lock"
	"playdrive/internal/model"
	"playdrive/internal/repository"
	"playdrive/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// tokenScale 余额精度：小数点后 8 位
const tokenScale = 8

// PremiumCache 会员状态缓存
type PremiumCache interface {
	Get(ctx context.Context, accountID string) (premium bool, hit bool, err error)
	Set(ctx context.Context, accountID string, premium bool) error
	Invalidate(ctx context.Context, accountID string) error
}

// LedgerService 账本引擎，唯一允许修改余额的组件
//
// 【关键点】每个操作都满足：
// 1. 原子性：余额变更、流水、事务消息在同一个数据库事务中提交
// 2. 互斥：涉及的账户先加锁（多个账户按 ID 升序），同一账户上的操作串行执行
// 3. 幂等：奖励、webhook 通过流水表的唯一幂等键去重
type LedgerService struct {
	db              *gorm.DB
	locker          lock.Locker
	catalog         *catalog.Catalog
	premiumCache    PremiumCache
	policy          config.RewardPolicy
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	contentRepo     *repository.ContentRepository
	purchaseRepo    *repository.PurchaseRepository
	outboxRepo      *repository.OutboxRepository
	log             *zap.Logger
}

func NewLedgerService(
	db *gorm.DB,
	locker lock.Locker,
	cat *catalog.Catalog,
	premiumCache PremiumCache,
	cfg *config.Config,
	log *zap.Logger,
) (*LedgerService, error) {
	policy, err := cfg.Ledger.Reward.Policy()
	if err != nil {
		return nil, err
	}
	return &LedgerService{
		db:              db,
		locker:          locker,
		catalog:         cat,
		premiumCache:    premiumCache,
		policy:          policy,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		contentRepo:     repository.NewContentRepository(db),
		purchaseRepo:    repository.NewPurchaseRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db, cfg.Kafka.Topic.LedgerEvents),
		log:             log.Named("ledger"),
	}, nil
}

// LedgerEvent 投递到 Kafka 的账本事件
type LedgerEvent struct {
	TransactionNo string    `json:"transaction_no"`
	Type          string    `json:"type"`
	SenderID      string    `json:"sender_id"`
	RecipientID   string    `json:"recipient_id"`
	ContentTokens string    `json:"content_tokens"`
	ViewTokens    string    `json:"view_tokens"`
	VideoID       string    `json:"video_id,omitempty"`
	ItemID        string    `json:"item_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func newEvent(trans *model.Transaction) LedgerEvent {
	ev := LedgerEvent{
		TransactionNo: trans.TransactionNo,
		Type:          trans.Type,
		SenderID:      trans.SenderID,
		RecipientID:   trans.RecipientID,
		ContentTokens: trans.ContentTokens.String(),
		ViewTokens:    trans.ViewTokens.String(),
		OccurredAt:    time.Now().UTC(),
	}
	if trans.VideoID != nil {
		ev.VideoID = *trans.VideoID
	}
	return ev
}

// record 写入流水和对应的事务消息
func (s *LedgerService) record(ctx context.Context, tx *gorm.DB, trans *model.Transaction, ev LedgerEvent, eventType string) error {
	trans.TransactionNo = idgen.GenerateTransactionNo()
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return errReplay
		}
		return err
	}
	ev.TransactionNo = trans.TransactionNo
	return s.outboxRepo.Enqueue(ctx, tx, eventType, trans.TransactionNo, ev)
}

// lockAccounts 获取账户锁，失败视为上游不可用
func (s *LedgerService) lockAccounts(ctx context.Context, accountIDs ...string) (func(), error) {
	release, err := s.locker.LockAccounts(ctx, uuid.NewString(), accountIDs...)
	if err != nil {
		return nil, upstream("系统繁忙，请稍后重试", err)
	}
	return release, nil
}

func (s *LedgerService) invalidatePremium(ctx context.Context, accountID string) {
	if s.premiumCache == nil {
		return
	}
	if err := s.premiumCache.Invalidate(ctx, accountID); err != nil {
		s.log.Warn("会员缓存失效失败", zap.String("account_id", accountID), zap.Error(err))
	}
}

// ============================================================
// 铸币：上传奖励、观看奖励
// ============================================================

type mintRequest struct {
	accountID     string
	contentTokens decimal.Decimal
	viewTokens    decimal.Decimal
	videoID       string
	key           string
	// afterMint 在同一事务内执行，重放时同样执行
	afterMint func(tx *gorm.DB) error
}

// mint 幂等铸币，返回本次是否真正入账
func (s *LedgerService) mint(ctx context.Context, req mintRequest) (bool, error) {
	release, err := s.lockAccounts(ctx, req.accountID)
	if err != nil {
		return false, err
	}
	defer release()

	applied := false
	err = withConflictRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, tx, req.key)
			if err != nil {
				return err
			}
			if existing != nil {
				if req.afterMint != nil {
					return req.afterMint(tx)
				}
				return nil
			}

			account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, req.accountID)
			if err != nil {
				if errors.Is(err, repository.ErrAccountNotFound) {
					return validationError("账户不存在")
				}
				return err
			}

			err = s.accountRepo.UpdateBalances(ctx, tx, account,
				account.ContentTokens.Add(req.contentTokens),
				account.ViewTokens.Add(req.viewTokens),
			)
			if err != nil {
				return err
			}

			key := req.key
			videoID := req.videoID
			trans := &model.Transaction{
				SenderID:       model.PlatformAccountID,
				RecipientID:    req.accountID,
				ContentTokens:  req.contentTokens,
				ViewTokens:     req.viewTokens,
				Type:           model.TransactionTypeReward,
				VideoID:        &videoID,
				IdempotencyKey: &key,
			}
			if err := s.record(ctx, tx, trans, newEvent(trans), model.EventTransactionCreated); err != nil {
				return err
			}

			if req.afterMint != nil {
				if err := req.afterMint(tx); err != nil {
					return err
				}
			}
			applied = true
			return nil
		})
	})

	if errors.Is(err, errReplay) {
		// 并发重放被唯一索引拦截，事务已回滚
		return false, nil
	}
	if err != nil {
		return false, upstream("入账失败", err)
	}
	return applied, nil
}

// RewardUpload 上传奖励
//
// 必须在内容写入成功后调用；以 (账户, 内容ID) 为幂等键，重试不会重复铸币
func (s *LedgerService) RewardUpload(ctx context.Context, accountID, contentID string, isVideo bool) (bool, error) {
	if accountID == "" || contentID == "" {
		return false, validationError("账户和内容不能为空")
	}

	amount := s.policy.Image
	if isVideo {
		amount = s.policy.Video
	}

	markRewarded := func(tx *gorm.DB) error {
		return s.contentRepo.MarkRewarded(ctx, tx, contentID)
	}

	if !amount.IsPositive() {
		return false, markRewarded(s.db)
	}

	applied, err := s.mint(ctx, mintRequest{
		accountID:     accountID,
		contentTokens: amount,
		viewTokens:    decimal.Zero,
		videoID:       contentID,
		key:           model.RewardKey(contentID),
		afterMint:     markRewarded,
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.log.Info("上传奖励入账",
			zap.String("account_id", accountID),
			zap.String("content_id", contentID),
			zap.Bool("is_video", isVideo),
			zap.String("amount", amount.String()))
	}
	return applied, nil
}

// RewardView 观看奖励：内容作者获得观看代币，每个观看者对同一内容只计一次
func (s *LedgerService) RewardView(ctx context.Context, ownerID, contentID, viewerID string) (bool, error) {
	if !s.policy.View.IsPositive() {
		return false, nil
	}
	return s.mint(ctx, mintRequest{
		accountID:     ownerID,
		contentTokens: decimal.Zero,
		viewTokens:    s.policy.View,
		videoID:       contentID,
		key:           model.ViewKey(contentID, viewerID),
	})
}

// ============================================================
// 转账
// ============================================================

// TransferRequest 转账请求，发送方来自登录态
type TransferRequest struct {
	SenderID              string
	RecipientTransferCode string
	ContentTokens         decimal.Decimal
	ViewTokens            decimal.Decimal
}

type TransferResult struct {
	TransactionNo string          `json:"transaction_no"`
	RecipientID   string          `json:"recipient_id"`
	ContentTokens decimal.Decimal `json:"content_tokens"`
	ViewTokens    decimal.Decimal `json:"view_tokens"`
	Sender        *model.Account  `json:"sender"`
}

func validateAmount(name string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return validationError(name + "不能为负数")
	}
	if !amount.Equal(amount.Truncate(tokenScale)) {
		return validationError(name + "最多保留8位小数")
	}
	return nil
}

// TransferTokens 按转账码转账
//
// 【关键点】
// 1. 两个账户按 ID 升序加锁，方向相反的并发转账不会死锁
// 2. 扣款、入账、流水在同一个事务中，失败时不会留下部分状态
func (s *LedgerService) TransferTokens(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	if err := validateAmount("内容代币数量", req.ContentTokens); err != nil {
		return nil, err
	}
	if err := validateAmount("观看代币数量", req.ViewTokens); err != nil {
		return nil, err
	}
	if !req.ContentTokens.IsPositive() && !req.ViewTokens.IsPositive() {
		return nil, validationError("转账数量必须大于0")
	}

	code := strings.TrimSpace(req.RecipientTransferCode)
	if code == "" {
		return nil, validationError("转账码不能为空")
	}

	recipient, err := s.accountRepo.GetByTransferCode(ctx, nil, code)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, validationError("转账码不存在")
		}
		return nil, upstream("查询收款账户失败", err)
	}
	if recipient.ID == req.SenderID {
		return nil, validationError("不能给自己转账")
	}

	release, err := s.lockAccounts(ctx, req.SenderID, recipient.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &TransferResult{
		RecipientID:   recipient.ID,
		ContentTokens: req.ContentTokens,
		ViewTokens:    req.ViewTokens,
	}

	err = withConflictRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// 与加锁顺序一致，按 ID 升序读取
			first, second := req.SenderID, recipient.ID
			if second < first {
				first, second = second, first
			}
			accounts := make(map[string]*model.Account, 2)
			for _, id := range []string{first, second} {
				account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, id)
				if err != nil {
					if errors.Is(err, repository.ErrAccountNotFound) {
						return validationError("账户不存在")
					}
					return err
				}
				accounts[id] = account
			}
			sender, receiver := accounts[req.SenderID], accounts[recipient.ID]

			if sender.ContentTokens.LessThan(req.ContentTokens) || sender.ViewTokens.LessThan(req.ViewTokens) {
				return insufficientBalance("余额不足")
			}

			err := s.accountRepo.UpdateBalances(ctx, tx, sender,
				sender.ContentTokens.Sub(req.ContentTokens),
				sender.ViewTokens.Sub(req.ViewTokens),
			)
			if err != nil {
				return err
			}
			err = s.accountRepo.UpdateBalances(ctx, tx, receiver,
				receiver.ContentTokens.Add(req.ContentTokens),
				receiver.ViewTokens.Add(req.ViewTokens),
			)
			if err != nil {
				return err
			}

			trans := &model.Transaction{
				SenderID:      sender.ID,
				RecipientID:   receiver.ID,
				ContentTokens: req.ContentTokens,
				ViewTokens:    req.ViewTokens,
				Type:          model.TransactionTypeTransfer,
			}
			if err := s.record(ctx, tx, trans, newEvent(trans), model.EventTransactionCreated); err != nil {
				return err
			}

			result.TransactionNo = trans.TransactionNo
			result.Sender = sender
			return nil
		})
	})
	if err != nil {
		return nil, upstream("转账失败", err)
	}

	s.log.Info("转账成功",
		zap.String("transaction_no", result.TransactionNo),
		zap.String("sender_id", req.SenderID),
		zap.String("recipient_id", recipient.ID),
		zap.String("content_tokens", req.ContentTokens.String()),
		zap.String("view_tokens", req.ViewTokens.String()))

	return result, nil
}

// ============================================================
// 购买
// ============================================================

type PurchaseResult struct {
	PurchaseNo    string          `json:"purchase_no"`
	TransactionNo string          `json:"transaction_no"`
	ItemID        string          `json:"item_id"`
	Price         decimal.Decimal `json:"price"`
	Account       *model.Account  `json:"account"`
}

// PurchaseItem 用内容代币购买商品
//
// 价格以商品目录为准，不接受调用方传入。扣款、购买记录、流水在同一个事务中，
// 并发购买时锁内重新校验余额，余额只够一次时只有一个请求成功
func (s *LedgerService) PurchaseItem(ctx context.Context, accountID, itemID string) (*PurchaseResult, error) {
	item, err := s.catalog.Get(itemID)
	if err != nil {
		return nil, validationError("商品不存在")
	}

	release, err := s.lockAccounts(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &PurchaseResult{ItemID: item.ID, Price: item.Price}

	err = withConflictRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
			if err != nil {
				if errors.Is(err, repository.ErrAccountNotFound) {
					return validationError("账户不存在")
				}
				return err
			}

			if item.Subscription() {
				active, err := s.purchaseRepo.HasActive(ctx, tx, accountID, item.ID)
				if err != nil {
					return err
				}
				if active {
					return validationError("已开通会员，无需重复购买")
				}
			}

			if !account.CanAfford(item.Price) {
				return insufficientBalance("内容代币余额不足")
			}

			err = s.accountRepo.UpdateBalances(ctx, tx, account,
				account.ContentTokens.Sub(item.Price),
				account.ViewTokens,
			)
			if err != nil {
				return err
			}

			purchase := &model.Purchase{
				PurchaseNo: idgen.GeneratePurchaseNo(),
				AccountID:  accountID,
				ItemID:     item.ID,
				Price:      item.Price,
				Active:     !item.Consumable,
			}
			if err := s.purchaseRepo.Create(ctx, tx, purchase); err != nil {
				return err
			}

			trans := &model.Transaction{
				SenderID:      accountID,
				RecipientID:   model.PlatformAccountID,
				ContentTokens: item.Price,
				ViewTokens:    decimal.Zero,
				Type:          model.TransactionTypePurchase,
			}
			ev := newEvent(trans)
			ev.ItemID = item.ID
			if err := s.record(ctx, tx, trans, ev, model.EventTransactionCreated); err != nil {
				return err
			}

			result.PurchaseNo = purchase.PurchaseNo
			result.TransactionNo = trans.TransactionNo
			result.Account = account
			return nil
		})
	})
	if err != nil {
		return nil, upstream("购买失败", err)
	}

	if item.Subscription() {
		s.invalidatePremium(ctx, accountID)
	}

	s.log.Info("购买成功",
		zap.String("purchase_no", result.PurchaseNo),
		zap.String("account_id", accountID),
		zap.String("item_id", item.ID),
		zap.String("price", item.Price.String()))

	return result, nil
}

// ============================================================
// 外部支付开通会员
// ============================================================

// ActivatePremium 外部支付成功后开通会员
//
// 以支付单号为幂等键，同一个 webhook 重复投递只生效一次。
// 支付未成功、账户未知时记录日志后直接返回，不向支付平台报错
func (s *LedgerService) ActivatePremium(ctx context.Context, accountID, paymentReference string, success bool) error {
	if !success {
		s.log.Info("支付未成功，忽略", zap.String("payment_reference", paymentReference))
		return nil
	}
	if accountID == "" || paymentReference == "" {
		s.log.Warn("支付回调缺少账户或支付单号",
			zap.String("account_id", accountID),
			zap.String("payment_reference", paymentReference))
		return nil
	}

	if _, err := s.accountRepo.GetByID(ctx, nil, accountID); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.log.Warn("支付回调账户不存在", zap.String("account_id", accountID),
				zap.String("payment_reference", paymentReference))
			return nil
		}
		return upstream("查询账户失败", err)
	}

	release, err := s.lockAccounts(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()

	key := model.PremiumKey(paymentReference)
	activated := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return errReplay
		}

		trans := &model.Transaction{
			SenderID:       accountID,
			RecipientID:    model.PlatformAccountID,
			ContentTokens:  decimal.Zero,
			ViewTokens:     decimal.Zero,
			Type:           model.TransactionTypePremiumPayment,
			IdempotencyKey: &key,
		}
		ev := newEvent(trans)
		ev.ItemID = model.PremiumSubscriptionItemID
		if err := s.record(ctx, tx, trans, ev, model.EventPremiumActivated); err != nil {
			return err
		}

		active, err := s.purchaseRepo.HasActive(ctx, tx, accountID, model.PremiumSubscriptionItemID)
		if err != nil {
			return err
		}
		if active {
			// 已是会员，只记录支付流水
			return nil
		}

		ref := paymentReference
		purchase := &model.Purchase{
			PurchaseNo:       idgen.GeneratePurchaseNo(),
			AccountID:        accountID,
			ItemID:           model.PremiumSubscriptionItemID,
			Price:            decimal.Zero,
			Active:           true,
			PaymentReference: &ref,
		}
		if err := s.purchaseRepo.Create(ctx, tx, purchase); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return errReplay
			}
			return err
		}
		activated = true
		return nil
	})

	if errors.Is(err, errReplay) {
		s.log.Info("重复的支付回调，忽略", zap.String("payment_reference", paymentReference))
		return nil
	}
	if err != nil {
		return upstream("开通会员失败", err)
	}

	s.invalidatePremium(ctx, accountID)
	s.log.Info("会员已开通",
		zap.String("account_id", accountID),
		zap.String("payment_reference", paymentReference),
		zap.Bool("new_subscription", activated))
	return nil
}
