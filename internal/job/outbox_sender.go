package job

import (
	"context"
	"time"

	"playdrive/internal/config"
	"playdrive/internal/infrastructure/mq"
	"playdrive/internal/model"
	"playdrive/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 把事务消息表中的账本事件投递到 Kafka
//
// 消息与账本变更同事务写入，这里保证至少投递一次，消费方按 transaction_no 去重
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetries int
	log        *zap.Logger
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config, log *zap.Logger) *OutboxSender {
	interval := time.Duration(cfg.Jobs.OutboxIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	batchSize := cfg.Jobs.OutboxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxRetries := cfg.Jobs.MaxRetryCount
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db, cfg.Kafka.Topic.LedgerEvents),
		publisher:  publisher,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		log:        log.Named("outbox"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			s.log.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
			return false
		}
		s.log.Debug("消息发送成功",
			zap.Int64("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("event_type", msg.EventType),
			zap.String("key", msg.MessageKey))
		return true
	}

	s.log.Warn("消息发送失败", zap.Int64("id", msg.ID), zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	exhausted, updateErr := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetries)
	if updateErr != nil {
		s.log.Error("记录发送失败次数失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		return false
	}
	if exhausted {
		s.log.Error("消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID), zap.String("key", msg.MessageKey))
	}
	return false
}
