//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
	red "github.com/suntrackspb/paid-subscribe-bot/internal/infra/redis"
)

func TestUserRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	user := &model.User{ID: "user-123", TelegramID: 98765, Username: "alice"}

	t.Run("FindByTelegramID fetches from DB and warms both keys on miss", func(t *testing.T) {
		innerRepoCalled := false
		var cacheSets sync.Map

		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return "", red.Nil // cache miss
			},
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				cacheSets.Store(key, value)
				return nil
			},
		}
		mockInnerRepo := &mockInnerUserRepo{
			FindByTelegramIDFunc: func(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
				innerRepoCalled = true
				return user, nil
			},
		}

		decorator := NewUserRepoCacheDecorator(mockInnerRepo, mockRedis)

		result, err := decorator.FindByTelegramID(ctx, nil, 98765)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !innerRepoCalled {
			t.Error("inner repository should be called on a cache miss")
		}

		count := 0
		cacheSets.Range(func(key, value interface{}) bool {
			count++
			return true
		})
		if count != 2 {
			t.Errorf("expected 2 cache keys to be set, but got %d", count)
		}
		if result == nil || result.ID != "user-123" {
			t.Error("did not return the correct user from the inner repository")
		}
	})

	t.Run("FindByID serves from cache without touching the DB", func(t *testing.T) {
		cached, _ := json.Marshal(user)
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(cached), nil
			},
		}
		mockInnerRepo := &mockInnerUserRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
				t.Error("inner repository must not be called on a cache hit")
				return nil, nil
			},
		}

		decorator := NewUserRepoCacheDecorator(mockInnerRepo, mockRedis)

		result, err := decorator.FindByID(ctx, nil, "user-123")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result == nil || result.TelegramID != 98765 {
			t.Error("did not return the cached user")
		}
	})

	t.Run("Save invalidates both cache keys", func(t *testing.T) {
		var deletedKeys sync.Map
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				for _, k := range keys {
					deletedKeys.Store(k, true)
				}
				return nil
			},
		}
		mockInnerRepo := &mockInnerUserRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, u *model.User) error {
				return nil
			},
		}

		decorator := NewUserRepoCacheDecorator(mockInnerRepo, mockRedis)

		if err := decorator.Save(ctx, nil, user); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if _, ok := deletedKeys.Load("user:id:user-123"); !ok {
			t.Error("did not invalidate cache by user ID")
		}
		if _, ok := deletedKeys.Load("user:tgid:98765"); !ok {
			t.Error("did not invalidate cache by telegram ID")
		}
	})
}
