package model

import (
	"time"
)

// ContentItem 用户发布的视频 / 图片
// 只保留额度统计与奖励补偿需要的字段，媒体元数据由内容存储服务维护
type ContentItem struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	OwnerID      string    `gorm:"type:varchar(64);index:idx_content_owner_created;not null" json:"owner_id"`
	Category     string    `gorm:"type:varchar(32)" json:"category"`
	IsVideo      bool      `gorm:"not null" json:"is_video"`
	Rewarded     bool      `gorm:"not null;default:false;index" json:"rewarded"` // 上传奖励是否已入账
	RewardFailed bool      `gorm:"not null;default:false" json:"reward_failed"`  // 奖励被永久拒绝，补偿任务不再重试
	CreatedAt    time.Time `gorm:"index:idx_content_owner_created;not null" json:"created_at"`
}

func (ContentItem) TableName() string {
	return "content_item"
}
