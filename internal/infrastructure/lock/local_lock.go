package lock

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// LocalLocker 进程内账户锁，单实例部署或没有 Redis 时使用
type LocalLocker struct {
	mutexes *xsync.Map[string, *sync.Mutex]
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{mutexes: xsync.NewMap[string, *sync.Mutex]()}
}

func (l *LocalLocker) LockAccounts(ctx context.Context, _ string, accountIDs ...string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := orderedUnique(accountIDs)
	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		mu, _ := l.mutexes.LoadOrStore(id, &sync.Mutex{})
		mu.Lock()
		held = append(held, mu)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}, nil
}
