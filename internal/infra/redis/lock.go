package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*Locker)(nil)

// Locker serializes webhook processing per payment with a Redis SETNX
// lock. The release function only deletes the key when it still holds the
// caller's token, so an expired lock taken over by another worker is never
// released by the first one.
type Locker struct {
	cli *redis.Client
}

func NewLocker(c *Client) *Locker {
	return &Locker{cli: c.cli}
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		_, _ = luaUnlock.Run(context.Background(), l.cli, []string{key}, token).Result()
	}
	return release, true, nil
}
