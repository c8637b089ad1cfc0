package service

import (
	"context"
	"sync"
	"testing"

	"playdrive/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestTransferTokens_Scenario(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "ABC123", 500)
	env.seedAccount(t, "acc-b", "XYZ789", 0)

	// B 转 0 个代币被拒绝
	_, err := env.ledger.TransferTokens(ctx, &TransferRequest{
		SenderID:              "acc-b",
		RecipientTransferCode: "ABC123",
		ContentTokens:         decimal.Zero,
		ViewTokens:            decimal.Zero,
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, env.countTransactions(t))

	result, err := env.ledger.TransferTokens(ctx, &TransferRequest{
		SenderID:              "acc-a",
		RecipientTransferCode: "XYZ789",
		ContentTokens:         dec("200"),
		ViewTokens:            decimal.Zero,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.TransactionNo)
	assert.Equal(t, "acc-b", result.RecipientID)

	a, b := env.reload(t, "acc-a"), env.reload(t, "acc-b")
	assert.True(t, a.ContentTokens.Equal(dec("300")), a.ContentTokens.String())
	assert.True(t, b.ContentTokens.Equal(dec("200")), b.ContentTokens.String())

	var trans []model.Transaction
	require.NoError(t, env.db.Find(&trans).Error)
	require.Len(t, trans, 1)
	assert.Equal(t, model.TransactionTypeTransfer, trans[0].Type)
	assert.Equal(t, "acc-a", trans[0].SenderID)
	assert.Equal(t, "acc-b", trans[0].RecipientID)
	assert.True(t, trans[0].ContentTokens.Equal(dec("200")))

	var outbox int64
	require.NoError(t, env.db.Model(&model.OutboxMessage{}).Count(&outbox).Error)
	assert.Equal(t, int64(1), outbox)
}

func TestTransferTokens_Rejections(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "ABC123", 100)
	env.seedAccount(t, "acc-b", "XYZ789", 0)

	cases := []struct {
		name string
		req  TransferRequest
		kind error
	}{
		{"unknown code", TransferRequest{SenderID: "acc-a", RecipientTransferCode: "NOPE", ContentTokens: dec("1")}, ErrValidation},
		{"self transfer", TransferRequest{SenderID: "acc-a", RecipientTransferCode: "ABC123", ContentTokens: dec("1")}, ErrValidation},
		{"negative", TransferRequest{SenderID: "acc-a", RecipientTransferCode: "XYZ789", ContentTokens: dec("-1")}, ErrValidation},
		{"too precise", TransferRequest{SenderID: "acc-a", RecipientTransferCode: "XYZ789", ContentTokens: dec("0.000000001")}, ErrValidation},
		{"insufficient", TransferRequest{SenderID: "acc-a", RecipientTransferCode: "XYZ789", ContentTokens: dec("100.5")}, ErrInsufficientBalance},
		{"insufficient view", TransferRequest{SenderID: "acc-a", RecipientTransferCode: "XYZ789", ViewTokens: dec("1")}, ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := env.ledger.TransferTokens(ctx, &req)
			assert.ErrorIs(t, err, tc.kind)
		})
	}

	a, b := env.reload(t, "acc-a"), env.reload(t, "acc-b")
	assert.True(t, a.ContentTokens.Equal(dec("100")))
	assert.True(t, b.ContentTokens.IsZero())
	assert.Zero(t, env.countTransactions(t))
}

func TestTransferTokens_ConcurrentOppositeDirections(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "CODEA", 1000)
	env.seedAccount(t, "acc-b", "CODEB", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.ledger.TransferTokens(ctx, &TransferRequest{SenderID: "acc-a", RecipientTransferCode: "CODEB", ContentTokens: dec("7")})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := env.ledger.TransferTokens(ctx, &TransferRequest{SenderID: "acc-b", RecipientTransferCode: "CODEA", ContentTokens: dec("3")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, b := env.reload(t, "acc-a"), env.reload(t, "acc-b")
	assert.True(t, a.ContentTokens.Add(b.ContentTokens).Equal(dec("2000")))
	assert.True(t, a.ContentTokens.Equal(dec("960")), a.ContentTokens.String())
	assert.Equal(t, int64(20), env.countTransactions(t))
}

func TestRewardUpload_Idempotent(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "ABC123", 0)
	contentID := uuid.NewString()
	require.NoError(t, env.db.Create(&model.ContentItem{ID: contentID, OwnerID: "acc-a", IsVideo: true}).Error)

	applied, err := env.ledger.RewardUpload(ctx, "acc-a", contentID, true)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = env.ledger.RewardUpload(ctx, "acc-a", contentID, true)
	require.NoError(t, err)
	assert.False(t, applied)

	a := env.reload(t, "acc-a")
	assert.True(t, a.ContentTokens.Equal(dec("10")), a.ContentTokens.String())
	assert.Equal(t, int64(1), env.countTransactions(t))

	var item model.ContentItem
	require.NoError(t, env.db.First(&item, "id = ?", contentID).Error)
	assert.True(t, item.Rewarded)

	var trans model.Transaction
	require.NoError(t, env.db.First(&trans).Error)
	assert.Equal(t, model.PlatformAccountID, trans.SenderID)
	assert.Equal(t, model.TransactionTypeReward, trans.Type)
	require.NotNil(t, trans.VideoID)
	assert.Equal(t, contentID, *trans.VideoID)
}

func TestRewardUpload_ConcurrentRetries(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "ABC123", 0)
	contentID := uuid.NewString()
	require.NoError(t, env.db.Create(&model.ContentItem{ID: contentID, OwnerID: "acc-a"}).Error)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.RewardUpload(ctx, "acc-a", contentID, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, env.reload(t, "acc-a").ContentTokens.Equal(dec("5")))
	assert.Equal(t, int64(1), env.countTransactions(t))
}

func TestRewardUpload_UnknownAccount(t *testing.T) {
	env := setupEnv(t)
	_, err := env.ledger.RewardUpload(context.Background(), "ghost", "c1", true)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPurchaseItem_ConcurrentOnlyOneSucceeds(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "ABC123", 10000)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.PurchaseItem(ctx, "acc-a", "glowing-username")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrInsufficientBalance)
	assert.True(t, env.reload(t, "acc-a").ContentTokens.Equal(dec("2000")))

	var purchases int64
	require.NoError(t, env.db.Model(&model.Purchase{}).Count(&purchases).Error)
	assert.Equal(t, int64(1), purchases)
}

func TestPurchaseItem_Rules(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "ABC123", 30000)

	_, err := env.ledger.PurchaseItem(ctx, "acc-a", "does-not-exist")
	assert.ErrorIs(t, err, ErrValidation)

	// 消耗品不产生有效记录
	_, err = env.ledger.PurchaseItem(ctx, "acc-a", "boost-post")
	require.NoError(t, err)
	var boost model.Purchase
	require.NoError(t, env.db.First(&boost, "item_id = ?", "boost-post").Error)
	assert.False(t, boost.Active)

	// 会员不能重复购买
	result, err := env.ledger.PurchaseItem(ctx, "acc-a", model.PremiumSubscriptionItemID)
	require.NoError(t, err)
	assert.True(t, result.Account.ContentTokens.Equal(dec("18000")))

	_, err = env.ledger.PurchaseItem(ctx, "acc-a", model.PremiumSubscriptionItemID)
	assert.ErrorIs(t, err, ErrValidation)

	var trans model.Transaction
	require.NoError(t, env.db.Order("id DESC").First(&trans, "type = ?", model.TransactionTypePurchase).Error)
	assert.Equal(t, model.PlatformAccountID, trans.RecipientID)
	assert.True(t, trans.ContentTokens.Equal(dec("10000")))
}

func TestPurchaseItem_InvalidatesPremiumCache(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "ABC123", 10000)

	premium, err := env.entitlement.IsPremium(ctx, "acc-a")
	require.NoError(t, err)
	require.False(t, premium)

	_, err = env.ledger.PurchaseItem(ctx, "acc-a", model.PremiumSubscriptionItemID)
	require.NoError(t, err)

	premium, err = env.entitlement.IsPremium(ctx, "acc-a")
	require.NoError(t, err)
	assert.True(t, premium)
}

func TestActivatePremium_Idempotent(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "ABC123", 0)

	require.NoError(t, env.ledger.ActivatePremium(ctx, "acc-a", "pi_123", true))
	require.NoError(t, env.ledger.ActivatePremium(ctx, "acc-a", "pi_123", true))

	var active int64
	require.NoError(t, env.db.Model(&model.Purchase{}).
		Where("account_id = ? AND item_id = ? AND active = ?", "acc-a", model.PremiumSubscriptionItemID, true).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)
	assert.Equal(t, int64(1), env.countTransactions(t))

	premium, err := env.entitlement.IsPremium(ctx, "acc-a")
	require.NoError(t, err)
	assert.True(t, premium)
}

func TestActivatePremium_NoOps(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "acc-a", "ABC123", 0)

	assert.NoError(t, env.ledger.ActivatePremium(ctx, "acc-a", "pi_1", false))
	assert.NoError(t, env.ledger.ActivatePremium(ctx, "", "pi_2", true))
	assert.NoError(t, env.ledger.ActivatePremium(ctx, "ghost", "pi_3", true))

	var purchases int64
	require.NoError(t, env.db.Model(&model.Purchase{}).Count(&purchases).Error)
	assert.Zero(t, purchases)
	assert.Zero(t, env.countTransactions(t))
}
