package lock

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 场景：同一用户在多个设备 / 标签页同时发起转账和购买
//
//   请求1: 查询余额=10000 -> 扣款8000 -> 余额=2000
//   请求2: 查询余额=10000 -> 扣款8000 -> 余额=-6000  超扣！
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本检查 value 后删除，避免误删其他持有者的锁
//
// 转账同时涉及两个账户，按账户 ID 升序依次加锁，
// 两笔方向相反的转账不会互相等待形成死锁
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// ============================================================================
// 账户维度的互斥
// ============================================================================

// Locker 串行化同一账户上的所有余额变更
type Locker interface {
	// LockAccounts 获取全部账户的锁，返回的 release 必须调用
	LockAccounts(ctx context.Context, owner string, accountIDs ...string) (release func(), err error)
}

// Options 加锁参数
type Options struct {
	TTL           time.Duration
	RetryInterval time.Duration
	MaxRetries    int
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 100 * time.Millisecond
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 30
	}
	return o
}

// RedisLocker 基于 Redis 的账户锁，适用于多实例部署
type RedisLocker struct {
	client *redis.Client
	opts   Options
}

func NewRedisLocker(client *redis.Client, opts Options) *RedisLocker {
	return &RedisLocker{client: client, opts: opts.withDefaults()}
}

// AccountLockKey 账户锁的 key
func AccountLockKey(accountID string) string {
	return "ledger:lock:account:" + accountID
}

func (r *RedisLocker) LockAccounts(ctx context.Context, owner string, accountIDs ...string) (func(), error) {
	ids := orderedUnique(accountIDs)
	held := make([]*DistributedLock, 0, len(ids))

	release := func() {
		// 请求上下文可能已取消，释放使用独立的超时上下文
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Unlock(releaseCtx)
		}
	}

	for _, id := range ids {
		l := NewDistributedLock(r.client, AccountLockKey(id), owner, r.opts.TTL)
		if err := l.Lock(ctx, r.opts.RetryInterval, r.opts.MaxRetries); err != nil {
			release()
			return nil, err
		}
		held = append(held, l)
	}
	return release, nil
}

// orderedUnique 去重并升序排列，保证固定的加锁顺序
func orderedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
