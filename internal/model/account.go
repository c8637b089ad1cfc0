package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformAccountID 平台账户，奖励铸币的发送方、商品购买的收款方
const PlatformAccountID = "00000000-0000-0000-0000-000000000000"

// Account 用户账户表
// 记录用户的代币余额，与身份提供方的用户一一对应
//
// 余额字段只允许通过 service 层的账本操作修改，调用方不得直接写入
type Account struct {
	ID            string          `gorm:"type:varchar(64);primaryKey" json:"id"`                       // 身份提供方 subject
	Username      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`       // 用户名，可修改
	ContentTokens decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"content_tokens"` // 内容代币（主余额）
	ViewTokens    decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"view_tokens"`    // 观看代币
	TransferCode  string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"transfer_code"`  // 转账码，对外收款标识
	Version       int             `gorm:"not null;default:0" json:"-"`                                 // 乐观锁版本号
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// CanAfford 内容代币余额是否足够
func (a *Account) CanAfford(price decimal.Decimal) bool {
	return a.ContentTokens.GreaterThanOrEqual(price)
}
