// Seeds the channel catalogue for local testing. Safe to re-run: existing
// channels are listed and left untouched.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/suntrackspb/paid-subscribe-bot/internal/config"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
	pg "github.com/suntrackspb/paid-subscribe-bot/internal/infra/db/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	channelRepo := pg.NewChannelRepo(pool)

	existing, err := channelRepo.ListActive(ctx, repository.NoTX)
	if err != nil {
		log.Fatalf("list channels: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d channels already present. No changes.\n", len(existing))
		for _, c := range existing {
			fmt.Printf("  - %s (tg_id=%d)\n", c.Title, c.TelegramID)
		}
		return
	}

	seed := []struct {
		TelegramID int64
		Title      string
		InviteLink string
	}{
		{-1001000000001, "Premium Signals", "https://t.me/+premium-signals"},
		{-1001000000002, "Insider Digest", "https://t.me/+insider-digest"},
	}

	for _, s := range seed {
		c := &model.Channel{
			ID:         uuid.NewString(),
			TelegramID: s.TelegramID,
			Title:      s.Title,
			InviteLink: s.InviteLink,
			IsActive:   true,
			CreatedAt:  time.Now(),
		}
		if err := channelRepo.Save(ctx, repository.NoTX, c); err != nil {
			log.Fatalf("seed channel %q: %v", s.Title, err)
		}
		fmt.Printf("seeded: %s (id=%s, tg_id=%d)\n", c.Title, c.ID, c.TelegramID)
	}

	fmt.Println("seeding complete")
}
