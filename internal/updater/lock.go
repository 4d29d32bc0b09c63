package updater

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock serializes apply_update/rollback/unpause against concurrent
// invocation. TryAcquire returns acquired=false immediately rather than
// blocking — the executor's contract is "second concurrent attempt fails",
// not "queue behind the first".
type Lock interface {
	TryAcquire(ctx context.Context) (release func(), acquired bool)
}

// localLock is a single-process mutex-backed Lock, the default when no
// distributed coordination is configured.
type localLock struct {
	mu sync.Mutex
}

func newLocalLock() *localLock { return &localLock{} }

func (l *localLock) TryAcquire(ctx context.Context) (func(), bool) {
	if !l.mu.TryLock() {
		return nil, false
	}
	return l.mu.Unlock, true
}

// redisLock is an optional distributed lock for deployments running more
// than one updater sidecar instance against a shared project checkout —
// without it, two instances could both believe they hold the only lock.
type redisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock builds a distributed Lock keyed on key with a TTL acting as
// a dead-man's switch if the holder crashes mid-operation.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) Lock {
	return &redisLock{client: client, key: key, ttl: ttl}
}

func (l *redisLock) TryAcquire(ctx context.Context) (func(), bool) {
	acquired, err := l.client.SetNX(ctx, l.key, "1", l.ttl).Result()
	if err != nil || !acquired {
		return nil, false
	}
	release := func() {
		l.client.Del(context.Background(), l.key)
	}
	return release, true
}
