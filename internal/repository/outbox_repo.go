package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"playdrive/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db    *gorm.DB
	topic string
}

func NewOutboxRepository(db *gorm.DB, topic string) *OutboxRepository {
	return &OutboxRepository{db: db, topic: topic}
}

// Enqueue 在调用方事务内写入一条待投递事件
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *gorm.DB, eventType, key string, payload interface{}) error {
	if tx == nil {
		tx = r.db
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Topic:      r.topic,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", model.OutboxStatusSent).Error
}

// RecordFailure 记录一次投递失败，累计达到 maxRetries 后标记为 FAILED
func (r *OutboxRepository) RecordFailure(ctx context.Context, msg *model.OutboxMessage, maxRetries int) (bool, error) {
	updates := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
	}
	exhausted := msg.RetryCount+1 >= maxRetries
	if exhausted {
		updates["status"] = model.OutboxStatusFailed
	}
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", msg.ID).
		Updates(updates).Error
	return exhausted, err
}

func (r *OutboxRepository) GetByStatus(ctx context.Context, status string, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}
