package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was taken by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLockerConfig configures the distributed locker.
type RedisLockerConfig struct {
	// Prefix namespaces lock keys.
	Prefix string

	// TTL bounds how long a crashed holder can block a key. A live holder
	// renews it until release.
	TTL time.Duration

	// RenewInterval is how often a held lock's TTL is extended. Defaults to a third of TTL.
	RenewInterval time.Duration

	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration

	Logger *slog.Logger
}

// RedisLocker is a Locker shared by every worker connected to the same Redis.
type RedisLocker struct {
	client *redis.Client
	config RedisLockerConfig
	logger *slog.Logger
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client *redis.Client, config RedisLockerConfig) *RedisLocker {
	if config.Prefix == "" {
		config.Prefix = "billsync:lock:"
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.RenewInterval <= 0 || config.RenewInterval >= config.TTL {
		config.RenewInterval = config.TTL / 3
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 25 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, config: config, logger: logger}
}

// Lock polls until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.config.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.config.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(fullKey, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// release even if the caller's context was canceled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive renews the lock until stop is closed or the key no longer holds token.
func (l *RedisLocker) keepAlive(fullKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.config.RenewInterval)
	defer ticker.Stop()

	ttl := l.config.TTL.Milliseconds()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.config.RenewInterval)
		renewed, err := renewScript.Run(ctx, l.client, []string{fullKey}, token, ttl).Int()
		cancel()
		switch {
		case err != nil:
			l.logger.Warn("failed to renew lock", "key", fullKey, "error", err)
		case renewed == 0:
			l.logger.Warn("lock lost before release", "key", fullKey)
			return
		}
	}
}

// Ping checks Redis connectivity.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
