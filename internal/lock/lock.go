package lock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BookingSync/dionysus-go/internal/util"
)

// Locker is the distributed lock collaborator: TryLock attempts a
// non-blocking acquire and returns a release func plus whether the lock was
// won. Another holder simply means "skip this round", never an error.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), acquired bool, err error)
}

// KeyedMutex serializes critical sections by string key, blocking until the
// key is free or ctx is done.
type KeyedMutex interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// compare-and-delete so an expired lock taken over by someone else is not
// released from under them.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements Locker over SET NX PX.
type RedisLock struct {
	rdb *redis.Client
}

func NewRedisLock(rdb *redis.Client) *RedisLock {
	return &RedisLock{rdb: rdb}
}

func (l *RedisLock) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	token := util.NewULID()
	ok, err := l.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.rdb, []string{name}, token).Err()
	}
	return release, true, nil
}

// RedisMutex implements KeyedMutex by spinning on the same SET NX primitive.
// The TTL bounds how long a crashed holder can wedge a key.
type RedisMutex struct {
	lock *RedisLock
	ttl  time.Duration
	wait time.Duration
}

func NewRedisMutex(rdb *redis.Client, ttl time.Duration) *RedisMutex {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisMutex{lock: NewRedisLock(rdb), ttl: ttl, wait: 25 * time.Millisecond}
}

func (m *RedisMutex) WithLock(ctx context.Context, key string, fn func() error) error {
	for {
		release, ok, err := m.lock.TryLock(ctx, "mutex_"+key, m.ttl)
		if err != nil {
			return err
		}
		if ok {
			defer release()
			return fn()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.wait):
		}
	}
}

// LocalMutex is an in-process KeyedMutex used in tests and single-process
// deployments.
type LocalMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalMutex() *LocalMutex {
	return &LocalMutex{locks: map[string]*sync.Mutex{}}
}

func (m *LocalMutex) WithLock(ctx context.Context, key string, fn func() error) error {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}
