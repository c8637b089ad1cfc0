package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// PremiumCache 会员状态缓存，购买会员或 webhook 开通后失效
type PremiumCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPremiumCache(client *redis.Client, ttl time.Duration) *PremiumCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PremiumCache{client: client, ttl: ttl}
}

func premiumKey(accountID string) string {
	return "premium:" + accountID
}

// Get 返回 (是否会员, 是否命中)
func (c *PremiumCache) Get(ctx context.Context, accountID string) (bool, bool, error) {
	v, err := c.client.Get(ctx, premiumKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

func (c *PremiumCache) Set(ctx context.Context, accountID string, premium bool) error {
	v := "0"
	if premium {
		v = "1"
	}
	return c.client.Set(ctx, premiumKey(accountID), v, c.ttl).Err()
}

func (c *PremiumCache) Invalidate(ctx context.Context, accountID string) error {
	return c.client.Del(ctx, premiumKey(accountID)).Err()
}
