package service

import (
	"context"
	"testing"

	"playdrive/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	account, err := env.accounts.Register(ctx, "sub-1", "  alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
	assert.NotEmpty(t, account.TransferCode)
	assert.True(t, account.ContentTokens.IsZero())

	// 同一账户ID重复注册返回已有账户
	again, err := env.accounts.Register(ctx, "sub-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, account.TransferCode, again.TransferCode)

	_, err = env.accounts.Register(ctx, "sub-2", "alice")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.accounts.Register(ctx, "sub-3", "")
	assert.ErrorIs(t, err, ErrValidation)

	other, err := env.accounts.Register(ctx, "sub-4", "bob")
	require.NoError(t, err)
	assert.NotEqual(t, account.TransferCode, other.TransferCode)
}

func TestUpdateUsername(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "a", "CODEA", 0)
	env.seedAccount(t, "b", "CODEB", 0)

	require.NoError(t, env.accounts.UpdateUsername(ctx, "a", "new-name"))
	got, err := env.accounts.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "new-name", got.Username)

	assert.ErrorIs(t, env.accounts.UpdateUsername(ctx, "b", "new-name"), ErrValidation)
	assert.ErrorIs(t, env.accounts.UpdateUsername(ctx, "ghost", "x"), ErrValidation)
}

func TestGet_NotFound(t *testing.T) {
	env := setupEnv(t)
	_, err := env.accounts.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListTransactions(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "a", "CODEA", 100)
	env.seedAccount(t, "b", "CODEB", 100)
	env.seedAccount(t, "c", "CODEC", 100)

	for i := 0; i < 3; i++ {
		_, err := env.ledger.TransferTokens(ctx, &TransferRequest{SenderID: "a", RecipientTransferCode: "CODEB", ContentTokens: dec("1")})
		require.NoError(t, err)
	}
	_, err := env.ledger.TransferTokens(ctx, &TransferRequest{SenderID: "b", RecipientTransferCode: "CODEC", ContentTokens: dec("1")})
	require.NoError(t, err)

	page, err := env.accounts.ListTransactions(ctx, "b", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	require.Len(t, page.Items, 2)
	// 最新的在前
	assert.Equal(t, "c", page.Items[0].RecipientID)

	page, err = env.accounts.ListTransactions(ctx, "c", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Len(t, page.Items, 1)

	page, err = env.accounts.ListTransactions(ctx, "nobody", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []*model.Transaction{}, page.Items)
}

func TestListPurchases(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "a", "CODEA", 1200)

	_, err := env.ledger.PurchaseItem(ctx, "a", "golden-username")
	require.NoError(t, err)
	require.NoError(t, env.ledger.ActivatePremium(ctx, "a", "pi_1", true))

	purchases, err := env.accounts.ListPurchases(ctx, "a")
	require.NoError(t, err)
	require.Len(t, purchases, 2)
	assert.Equal(t, model.PremiumSubscriptionItemID, purchases[0].ItemID)
	require.NotNil(t, purchases[0].PaymentReference)
	assert.Equal(t, "pi_1", *purchases[0].PaymentReference)
	assert.Equal(t, "golden-username", purchases[1].ItemID)

	purchases, err = env.accounts.ListPurchases(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, []*model.Purchase{}, purchases)
}
