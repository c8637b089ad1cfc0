package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeReward         = "reward"          // 奖励（铸币）
	TransactionTypeTransfer       = "transfer"        // 用户间转账
	TransactionTypePurchase       = "purchase"        // 商城购买
	TransactionTypePremiumPayment = "premium-payment" // 外部支付开通会员
)

// ============================================================================
// 账本流水实体
// ============================================================================

// Transaction 账本流水表
//
// 【重要】流水表设计原则：
// 1. 只追加、不修改、不删除，保证审计可追溯
// 2. 每一次余额变动对应且仅对应一条流水
// 3. 金额记录为正数，方向由 SenderID -> RecipientID 表示
// 4. IdempotencyKey 唯一，重放的奖励 / webhook 不会产生第二条流水
type Transaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	SenderID       string          `gorm:"type:varchar(64);index;not null" json:"sender_id"`
	RecipientID    string          `gorm:"type:varchar(64);index;not null" json:"recipient_id"`
	ContentTokens  decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"content_tokens"`
	ViewTokens     decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"view_tokens"`
	Type           string          `gorm:"type:varchar(32);not null" json:"type"`
	VideoID        *string         `gorm:"type:varchar(64);index" json:"video_id,omitempty"`
	IdempotencyKey *string         `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}

// RewardKey 上传奖励的幂等键
func RewardKey(contentID string) string {
	return "reward:" + contentID
}

// ViewKey 观看奖励的幂等键
func ViewKey(contentID, viewerID string) string {
	return "view:" + contentID + ":" + viewerID
}

// PremiumKey 会员支付的幂等键
func PremiumKey(paymentReference string) string {
	return "premium:" + paymentReference
}
