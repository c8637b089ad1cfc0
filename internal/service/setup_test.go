package service

import (
	"testing"
	"time"

	"playdrive/internal/catalog"
	"playdrive/internal/config"
	"playdrive/internal/infrastructure/cache"
	"playdrive/internal/infrastructure/database"
	"playdrive/internal/infrastructure/lock"
	"playdrive/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db          *gorm.DB
	mr          *miniredis.Miniredis
	cache       *cache.PremiumCache
	ledger      *LedgerService
	entitlement *EntitlementService
	accounts    *AccountService
	content     *ContentService
	views       *ViewService
	purchases   *PurchaseFlow
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{LedgerEvents: "ledger_events"}},
		Ledger: config.LedgerConfig{
			MaxFreePostsPerDay: 5,
			Reward:             config.RewardConfig{Video: "10", Image: "5", View: "1"},
		},
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig(logger.Silent))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 单连接：sqlite 不支持并发写
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	locker := lock.NewRedisLocker(client, lock.Options{
		TTL:           10 * time.Second,
		RetryInterval: 5 * time.Millisecond,
		MaxRetries:    2000,
	})
	premiumCache := cache.NewPremiumCache(client, time.Minute)
	log := zap.NewNop()
	cfg := testConfig()

	ledger, err := NewLedgerService(db, locker, catalog.Default(), premiumCache, cfg, log)
	require.NoError(t, err)
	entitlement := NewEntitlementService(db, premiumCache, cfg.Ledger.MaxFreePostsPerDay, log)

	return &testEnv{
		db:          db,
		mr:          mr,
		cache:       premiumCache,
		ledger:      ledger,
		entitlement: entitlement,
		accounts:    NewAccountService(db, log),
		content:     NewContentService(db, locker, entitlement, ledger, log),
		views:       NewViewService(db, ledger, log),
		purchases:   NewPurchaseFlow(db, catalog.Default(), entitlement, ledger),
	}
}

func (e *testEnv) seedAccount(t *testing.T, id, transferCode string, contentTokens int64) *model.Account {
	t.Helper()
	account := &model.Account{
		ID:            id,
		Username:      "user-" + id,
		ContentTokens: decimal.NewFromInt(contentTokens),
		ViewTokens:    decimal.Zero,
		TransferCode:  transferCode,
	}
	require.NoError(t, e.db.Create(account).Error)
	return account
}

func (e *testEnv) reload(t *testing.T, id string) *model.Account {
	t.Helper()
	var account model.Account
	require.NoError(t, e.db.Where("id = ?", id).First(&account).Error)
	return &account
}

func (e *testEnv) countTransactions(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Transaction{}).Count(&n).Error)
	return n
}

func (e *testEnv) seedContent(t *testing.T, ownerID string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.db.Create(&model.ContentItem{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			CreatedAt: at.UTC(),
		}).Error)
	}
}

func (e *testEnv) activatePremium(t *testing.T, accountID string) {
	t.Helper()
	ref := "pi_" + uuid.NewString()
	require.NoError(t, e.db.Create(&model.Purchase{
		PurchaseNo:       "PUR" + uuid.NewString(),
		AccountID:        accountID,
		ItemID:           model.PremiumSubscriptionItemID,
		Active:           true,
		PaymentReference: &ref,
	}).Error)
}
