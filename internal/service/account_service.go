package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"playdrive/internal/model"
	"playdrive/internal/repository"
	"playdrive/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// transferCodeAttempts 转账码冲突时的最大尝试次数
const transferCodeAttempts = 3

const maxUsernameLength = 32

type AccountService struct {
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	purchaseRepo    *repository.PurchaseRepository
	log             *zap.Logger
}

func NewAccountService(db *gorm.DB, log *zap.Logger) *AccountService {
	return &AccountService{
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		purchaseRepo:    repository.NewPurchaseRepository(db),
		log:             log.Named("account"),
	}
}

func validateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", validationError("用户名不能为空")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return "", validationError("用户名过长")
	}
	return username, nil
}

// Register 注册时创建账户，余额为 0，分配唯一转账码
//
// 同一个账户ID重复注册直接返回已有账户
func (s *AccountService) Register(ctx context.Context, accountID, username string) (*model.Account, error) {
	if accountID == "" {
		return nil, validationError("账户ID不能为空")
	}
	username, err := validateUsername(username)
	if err != nil {
		return nil, err
	}

	existing, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, upstream("查询账户失败", err)
	}

	taken, err := s.accountRepo.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, upstream("查询用户名失败", err)
	}
	if taken {
		return nil, validationError("用户名已被占用")
	}

	for attempt := 0; attempt < transferCodeAttempts; attempt++ {
		code, err := idgen.GenerateTransferCode()
		if err != nil {
			return nil, upstream("生成转账码失败", err)
		}

		account := &model.Account{
			ID:            accountID,
			Username:      username,
			ContentTokens: decimal.Zero,
			ViewTokens:    decimal.Zero,
			TransferCode:  code,
		}
		err = s.accountRepo.Create(ctx, nil, account)
		if err == nil {
			s.log.Info("账户已创建", zap.String("account_id", accountID), zap.String("username", username))
			return account, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, upstream("创建账户失败", err)
		}

		// 唯一约束冲突：并发注册、用户名被抢占、或转账码碰撞
		if existing, err := s.accountRepo.GetByID(ctx, nil, accountID); err == nil {
			return existing, nil
		}
		if taken, err := s.accountRepo.ExistsByUsername(ctx, username); err == nil && taken {
			return nil, validationError("用户名已被占用")
		}
		s.log.Warn("转账码冲突，重新生成", zap.String("account_id", accountID), zap.Int("attempt", attempt+1))
	}
	return nil, upstream("创建账户失败", errors.New("转账码多次冲突"))
}

func (s *AccountService) Get(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, validationError("账户不存在")
		}
		return nil, upstream("查询账户失败", err)
	}
	return account, nil
}

func (s *AccountService) UpdateUsername(ctx context.Context, accountID, username string) error {
	username, err := validateUsername(username)
	if err != nil {
		return err
	}
	err = s.accountRepo.UpdateUsername(ctx, accountID, username)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDuplicate):
		return validationError("用户名已被占用")
	case errors.Is(err, repository.ErrAccountNotFound):
		return validationError("账户不存在")
	default:
		return upstream("修改用户名失败", err)
	}
}

type TransactionPage struct {
	Items    []*model.Transaction `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// ListTransactions 分页查询账户流水，最新的在前
func (s *AccountService) ListTransactions(ctx context.Context, accountID string, page, pageSize int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	items, total, err := s.transactionRepo.ListByAccountID(ctx, accountID, page, pageSize)
	if err != nil {
		return nil, upstream("查询流水失败", err)
	}
	if items == nil {
		items = []*model.Transaction{}
	}
	return &TransactionPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// ListPurchases 账户的购买记录，包含商城购买和 webhook 开通的会员
func (s *AccountService) ListPurchases(ctx context.Context, accountID string) ([]*model.Purchase, error) {
	purchases, err := s.purchaseRepo.ListByAccountID(ctx, accountID)
	if err != nil {
		return nil, upstream("查询购买记录失败", err)
	}
	if purchases == nil {
		purchases = []*model.Purchase{}
	}
	return purchases, nil
}
