package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playdrive/internal/auth"
	"playdrive/internal/catalog"
	"playdrive/internal/config"
	"playdrive/internal/handler"
	"playdrive/internal/infrastructure/cache"
	"playdrive/internal/infrastructure/database"
	"playdrive/internal/infrastructure/lock"
	"playdrive/internal/infrastructure/mq"
	"playdrive/internal/job"
	"playdrive/internal/service"
	"playdrive/pkg/idgen"
	"playdrive/pkg/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("PLAYDRIVE_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database, logger)
	if err != nil {
		return err
	}

	// Redis 不可用时退化为单实例本地锁，不使用会员缓存
	var (
		locker       lock.Locker
		premiumCache service.PremiumCache
	)
	redisClient, err := cache.InitRedis(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 不可用，使用本地账户锁", zap.Error(err))
		locker = lock.NewLocalLocker()
	} else {
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, lock.Options{
			TTL:           time.Duration(cfg.Ledger.Lock.TTLSeconds) * time.Second,
			RetryInterval: time.Duration(cfg.Ledger.Lock.RetryIntervalMS) * time.Millisecond,
			MaxRetries:    cfg.Ledger.Lock.MaxRetries,
		})
		premiumCache = cache.NewPremiumCache(redisClient, cfg.Redis.PremiumCacheTTL())
	}

	var publisher mq.Publisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := mq.InitKafka(&cfg.Kafka, logger)
		if err != nil {
			return err
		}
		publisher = kafkaPublisher
	} else {
		publisher = mq.NewLogPublisher(logger)
	}
	defer publisher.Close()

	cat := catalog.Default()
	ledger, err := service.NewLedgerService(db, locker, cat, premiumCache, cfg, logger)
	if err != nil {
		return err
	}
	entitlement := service.NewEntitlementService(db, premiumCache, cfg.Ledger.MaxFreePostsPerDay, logger)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, publisher, cfg, logger)
	go outboxSender.Start(ctx)

	reconciler := job.NewRewardReconciler(db, ledger, &cfg.Jobs, logger)
	defer reconciler.Stop()
	scheduler := job.NewScheduler(logger)
	if _, err := reconciler.Schedule(ctx, scheduler, cfg.Jobs.RewardReconcileSpec); err != nil {
		return fmt.Errorf("注册奖励补偿任务失败: %w", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	h := handler.NewHandler(handler.Services{
		Accounts:    service.NewAccountService(db, logger),
		Entitlement: entitlement,
		Ledger:      ledger,
		Purchases:   service.NewPurchaseFlow(db, cat, entitlement, ledger),
		Content:     service.NewContentService(db, locker, entitlement, ledger, logger),
		Views:       service.NewViewService(db, ledger, logger),
		Catalog:     cat,
	}, logger)
	wh := handler.NewWebhookHandler(ledger, cfg.Stripe.WebhookSecret, logger)
	router := handler.SetupRouter(h, wh, auth.NewJWT(cfg.Auth.JWTSecret, 0), logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	logger.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("服务关闭异常", zap.Error(err))
	}

	logger.Info("服务已关闭")
	return nil
}
