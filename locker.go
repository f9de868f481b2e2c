package tmrequest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long a crashed holder can block a user.
const DefaultLockTTL = 30 * time.Second

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a Locker backed by Redis SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker creates a RedisLocker. A ttl of zero uses DefaultLockTTL.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, opts ...Option) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{
		client: client,
		prefix: "tmrequest:lock:",
		ttl:    ttl,
		logger: newOptions(opts).logger,
	}
}

// Lock implements Locker. It fails with ErrLocked instead of waiting.
func (l *RedisLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := l.prefix + userID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock for user %s: %w", userID, err)
	}
	if !ok {
		return nil, NewError(ErrLocked, "another operation is in progress").WithUser(userID)
	}

	unlock := func() {
		// The caller's context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("failed to release user lock",
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
		}
	}
	return unlock, nil
}
