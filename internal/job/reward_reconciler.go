package job

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"playdrive/internal/config"
	"playdrive/internal/repository"
	"playdrive/internal/service"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UploadRewarder 幂等的上传奖励
type UploadRewarder interface {
	RewardUpload(ctx context.Context, accountID, contentID string, isVideo bool) (bool, error)
}

// RewardReconciler 上传奖励补偿任务
//
// 发布时奖励失败的内容保持 rewarded=false，这里定期重试；
// 奖励以内容ID为幂等键，与发布请求并发执行也不会重复入账。
// 校验类错误重试也不会成功，标记 reward_failed 后跳过，避免占满每一批
type RewardReconciler struct {
	contentRepo *repository.ContentRepository
	rewarder    UploadRewarder
	pool        pond.Pool
	grace       time.Duration
	batchSize   int
	now         func() time.Time
	log         *zap.Logger
}

func NewRewardReconciler(db *gorm.DB, rewarder UploadRewarder, cfg *config.JobsConfig, log *zap.Logger) *RewardReconciler {
	workers := cfg.RewardReconcileWorkers
	if workers <= 0 {
		workers = 4
	}
	batchSize := cfg.RewardReconcileBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RewardReconciler{
		contentRepo: repository.NewContentRepository(db),
		rewarder:    rewarder,
		pool:        pond.NewPool(workers, pond.WithQueueSize(batchSize)),
		grace:       time.Duration(cfg.RewardReconcileGraceSeconds) * time.Second,
		batchSize:   batchSize,
		now:         time.Now,
		log:         log.Named("reward_reconciler"),
	}
}

// RunOnce 处理一批超过宽限期仍未入账的内容，返回成功入账的数量
func (r *RewardReconciler) RunOnce(ctx context.Context) (int, error) {
	before := r.now().UTC().Add(-r.grace)
	items, err := r.contentRepo.GetUnrewarded(ctx, before, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	var rewarded atomic.Int64
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, item := range items {
		item := item
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			applied, err := r.rewarder.RewardUpload(groupCtx, item.OwnerID, item.ID, item.IsVideo)
			if err != nil && service.KindOf(err) == service.KindValidation {
				r.log.Error("上传奖励被拒绝，不再重试",
					zap.String("content_id", item.ID),
					zap.String("account_id", item.OwnerID),
					zap.Error(err))
				if err := r.contentRepo.MarkRewardFailed(groupCtx, item.ID); err != nil {
					r.log.Warn("标记奖励失败状态出错", zap.String("content_id", item.ID), zap.Error(err))
				}
				return
			}
			if err != nil {
				r.log.Warn("补发上传奖励失败",
					zap.String("content_id", item.ID),
					zap.String("account_id", item.OwnerID),
					zap.Error(err))
				return
			}
			if applied {
				rewarded.Add(1)
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return int(rewarded.Load()), err
	}

	r.log.Info("上传奖励补偿完成", zap.Int("scanned", len(items)), zap.Int64("rewarded", rewarded.Load()))
	return int(rewarded.Load()), nil
}

// Schedule 注册到 cron，同一时间只跑一轮
func (r *RewardReconciler) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{r.log})).Then(cron.FuncJob(func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error("上传奖励补偿失败", zap.Error(err))
		}
	}))
	return c.AddJob(spec, job)
}

func (r *RewardReconciler) Stop() {
	r.pool.StopAndWait()
}

// NewScheduler cron 调度器，panic 由 Recover 记录
func NewScheduler(log *zap.Logger) *cron.Cron {
	return cron.New(cron.WithChain(cron.Recover(cronLogger{log.Named("cron")})))
}

// cronLogger 把 cron 的日志接到 zap
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
