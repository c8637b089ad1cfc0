package service

import (
	"context"

	"playdrive/internal/catalog"
	"playdrive/internal/model"
	"playdrive/internal/repository"

	"gorm.io/gorm"
)

// PurchaseFlow 商城购买流程：查价 -> 余额预检 -> 账本扣款 -> 刷新账户
//
// 预检只用于快速失败，真正的余额校验在 LedgerService 的事务内完成
type PurchaseFlow struct {
	catalog     *catalog.Catalog
	entitlement *EntitlementService
	ledger      *LedgerService
	accountRepo *repository.AccountRepository
}

func NewPurchaseFlow(db *gorm.DB, cat *catalog.Catalog, entitlement *EntitlementService, ledger *LedgerService) *PurchaseFlow {
	return &PurchaseFlow{
		catalog:     cat,
		entitlement: entitlement,
		ledger:      ledger,
		accountRepo: repository.NewAccountRepository(db),
	}
}

type PurchaseOutcome struct {
	PurchaseNo    string         `json:"purchase_no"`
	TransactionNo string         `json:"transaction_no"`
	Item          catalog.Item   `json:"item"`
	Account       *model.Account `json:"account"`
}

func (f *PurchaseFlow) Purchase(ctx context.Context, accountID, itemID string) (*PurchaseOutcome, error) {
	item, err := f.catalog.Get(itemID)
	if err != nil {
		return nil, validationError("商品不存在")
	}

	ok, err := f.entitlement.CanAfford(ctx, accountID, item.Price)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, insufficientBalance("内容代币余额不足")
	}

	result, err := f.ledger.PurchaseItem(ctx, accountID, item.ID)
	if err != nil {
		return nil, err
	}

	outcome := &PurchaseOutcome{
		PurchaseNo:    result.PurchaseNo,
		TransactionNo: result.TransactionNo,
		Item:          item,
		Account:       result.Account,
	}

	// 刷新快照，失败时沿用事务内的结果
	if account, err := f.accountRepo.GetByID(ctx, nil, accountID); err == nil {
		outcome.Account = account
	}
	return outcome, nil
}
