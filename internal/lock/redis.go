package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cadence_scheduler/internal/logger"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another scheduler is never released by us.
// KEYS[1] = lock key
// ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

const redisKeyPrefix = "cadence-lock:"

// Redis is a Locker shared by every scheduler instance pointing at the same server.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedis creates a Redis locker. ttl bounds how long a crashed holder can
// keep a cadence locked.
func NewRedis(addr, password string, db int, ttl time.Duration, log *logger.Logger) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisWithClient(rdb, ttl, log)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, ttl: ttl, log: logger.OrNop(log)}
}

var _ Locker = (*Redis)(nil)

func (r *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := redisKeyPrefix + key

	ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %q: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func() {
		// release must run even when the tick's context was canceled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{full}, token).Err(); err != nil {
			// the key still expires after ttl
			r.log.Warnw("lock_release_failed", "key", key, "ttl", r.ttl, "err", err)
		}
	}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
