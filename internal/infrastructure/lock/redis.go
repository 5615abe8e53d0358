package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock key only when the caller still holds it,
// so an expired lease can never release a lock taken over by another holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager is a distributed lock manager built on SET NX with a lease.
// The lease bounds how long a crashed process can block other instances.
type RedisManager struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
}

// NewRedisManager creates a new Redis-backed lock manager
func NewRedisManager(client *redis.Client, logger *zap.Logger) *RedisManager {
	return &RedisManager{
		client: client,
		logger: logger,
		prefix: "lock:",
	}
}

// Acquire polls SET NX until the lock is held or ctx is done
func (m *RedisManager) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := m.prefix + key
	token := uuid.NewString()

	for {
		ok, err := m.client.SetNX(ctx, fullKey, token, leaseTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { m.release(fullKey, token) }, nil
		}

		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *RedisManager) release(fullKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, m.client, []string{fullKey}, token).Err(); err != nil && err != redis.Nil {
		m.logger.Warn("failed to release lock", zap.String("key", fullKey), zap.Error(err))
	}
}
