package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PremiumSubscriptionItemID 会员订阅商品，Active 的购买记录是会员权益的唯一依据
const PremiumSubscriptionItemID = "premium_subscription"

// Purchase 购买记录表
// 同一商品允许多条记录（历史），权益判断只看是否存在 Active 记录
type Purchase struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"purchase_no"`
	AccountID        string          `gorm:"type:varchar(64);index:idx_purchase_account_item;not null" json:"account_id"`
	ItemID           string          `gorm:"type:varchar(64);index:idx_purchase_account_item;not null" json:"item_id"`
	Price            decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"price"`
	Active           bool            `gorm:"not null;default:false" json:"active"`
	PaymentReference *string         `gorm:"type:varchar(128);uniqueIndex" json:"-"` // 外部支付单号，webhook 幂等
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Purchase) TableName() string {
	return "purchase"
}
