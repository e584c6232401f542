package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ErrBatchInProgress is returned when another batch holds the lock.
var ErrBatchInProgress = httpx.Mark(httpx.ErrConflict, "reconcile: another batch is in progress")

// DefaultLockTTL bounds how long a crashed holder can block new batches.
// A live holder renews the lock every third of the TTL.
const DefaultLockTTL = 10 * time.Minute

// Locker serializes batches. Acquire fails fast with ErrBatchInProgress.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalLocker serializes batches within one process.
type LocalLocker struct {
	mu sync.Mutex
}

// NewLocalLocker returns an unlocked LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrBatchInProgress
	}
	return l.mu.Unlock, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker serializes batches across processes sharing a Redis.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker builds a RedisLocker on the global reconcile key.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, key: shared.ReconcileLockKey(""), ttl: ttl, logger: logger}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reconcile: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrBatchInProgress
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
				l.logger.Warn("reconcile lock release failed", slog.Any("error", err))
			}
		})
	}, nil
}

// renew keeps the lock alive while a batch runs longer than the TTL. It
// stops on release or once the key no longer holds token.
func (l *RedisLocker) renew(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := extendScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.logger.Warn("reconcile lock renew failed", slog.Any("error", err))
				continue
			}
			if n == 0 {
				l.logger.Warn("reconcile lock lost before batch finished")
				return
			}
		}
	}
}
