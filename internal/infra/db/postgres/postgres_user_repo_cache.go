package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
	red "github.com/suntrackspb/paid-subscribe-bot/internal/infra/redis"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

// userRepoCacheDecorator caches user lookups in Redis. Every incoming bot
// update resolves the sender, so these reads dominate database traffic.
type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient) repository.UserRepository {
	return &userRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   1 * time.Hour,
	}
}

// Save invalidates both keys before writing through.
func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	_ = d.cache.Del(ctx, fmt.Sprintf("user:id:%s", u.ID))
	_ = d.cache.Del(ctx, fmt.Sprintf("user:tgid:%d", u.TelegramID))
	return d.inner.Save(ctx, tx, u)
}

func (d *userRepoCacheDecorator) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	key := fmt.Sprintf("user:tgid:%d", tgID)
	if val, err := d.cache.Get(ctx, key); err == nil {
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			metrics.IncCacheRequest("user", "hit")
			return &user, nil
		}
	}

	metrics.IncCacheRequest("user", "miss")
	user, err := d.inner.FindByTelegramID(ctx, tx, tgID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, user)
	return user, nil
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	key := fmt.Sprintf("user:id:%s", id)
	if val, err := d.cache.Get(ctx, key); err == nil {
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			metrics.IncCacheRequest("user", "hit")
			return &user, nil
		}
	}

	metrics.IncCacheRequest("user", "miss")
	user, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, user)
	return user, nil
}

// CountUsers bypasses the cache.
func (d *userRepoCacheDecorator) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	return d.inner.CountUsers(ctx, tx)
}

// store warms both keys so a FindByID following a FindByTelegramID hits.
func (d *userRepoCacheDecorator) store(ctx context.Context, user *model.User) {
	if user == nil {
		return
	}
	bytes, err := json.Marshal(user)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, fmt.Sprintf("user:id:%s", user.ID), bytes, d.ttl)
	_ = d.cache.Set(ctx, fmt.Sprintf("user:tgid:%d", user.TelegramID), bytes, d.ttl)
}
