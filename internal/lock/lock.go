// Package lock provides keyed mutual exclusion, in-process or across
// processes through Redis.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mind-engage/learncore/internal/apperr"
)

// Locker hands out exclusive leases on string keys. The returned release
// func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Local is an in-process Locker. ttl is ignored.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local { return &Local{locks: map[string]*entry{}} }

func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, apperr.Wrap(apperr.KindTransient, ctx.Err(), "lock "+key)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(key, e)
		})
	}, nil
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Redis implements Locker with SET NX PX and a token-checked delete.
type Redis struct {
	rdb    *goredis.Client
	prefix string
	retry  time.Duration
}

func NewRedis(rdb *goredis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "learncore:lock:"
	}
	return &Redis{rdb: rdb, prefix: prefix, retry: 25 * time.Millisecond}
}

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	k := r.prefix + key
	for {
		ok, err := r.rdb.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "lock "+key)
		}
		if ok {
			break
		}
		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, apperr.Wrap(apperr.KindTransient, ctx.Err(), "lock "+key)
		case <-t.C:
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even if the caller's context is already done.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.rdb, []string{k}, token).Err()
		})
	}, nil
}
