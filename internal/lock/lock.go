// Package lock provides the single-flight guard that keeps two runs from
// writing the same destination tab at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another run holds the key.
var ErrLocked = errors.New("lock: run already in progress")

// Unlock releases a held key. It is safe to call more than once.
type Unlock func(ctx context.Context) error

// Locker hands out exclusive, non-blocking locks by key.
type Locker interface {
	TryLock(ctx context.Context, key string) (Unlock, error)
}

// Key builds the lock key for a destination tab.
func Key(spreadsheetID, tab string) string {
	return fmt.Sprintf("reportsync:lock:%s:%s", spreadsheetID, tab)
}

// RedisLocker shares locks across processes. A lock expires after ttl so a
// crashed run cannot wedge the tab forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) TryLock(ctx context.Context, key string) (Unlock, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var rerr error
		once.Do(func() {
			rerr = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		})
		return rerr
	}, nil
}

// LocalLocker guards keys within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	l.held[key] = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
