package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mallkit/cart/internal/adapter/auth"
	"github.com/mallkit/cart/internal/adapter/remote"
	"github.com/mallkit/cart/internal/adapter/storage"
	"github.com/mallkit/cart/internal/config"
	"github.com/mallkit/cart/internal/core/domain"
	"github.com/mallkit/cart/internal/core/service"
	"github.com/mallkit/cart/internal/port"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ownerID := cfg.OwnerID
	if ownerID == "" {
		ownerID = "guest-" + uuid.New().String()
		log.Printf("no owner configured, using guest session %s", ownerID)
	}

	persist, cleanup, err := buildPersistence(ctx, cfg, ownerID)
	if err != nil {
		log.Fatalf("failed to build %s persistence: %v", cfg.Mode, err)
	}
	defer cleanup()

	store := service.NewCartStore(persist)
	defer store.Close()

	events, unsubscribe := store.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range events {
			if ev.Type == service.EventReverted {
				log.Printf("cart change rolled back (seq=%d): %v", ev.Seq, ev.Err)
			} else {
				log.Printf("cart %s (seq=%d)", ev.Type, ev.Seq)
			}
		}
	}()

	if err := store.Load(ctx); err != nil {
		log.Fatalf("failed to load cart: %v", err)
	}
	log.Printf("cart loaded: %d items, total %d", store.Len(), store.Total())

	// Short demo session against the chosen backend.
	hoodie := domain.Product{ID: "sku-hoodie", Name: "Zip Hoodie", Price: 5900, Images: []string{"https://img.example/hoodie.jpg"}}
	poster := domain.Product{ID: "sku-poster", Name: "Gallery Poster", Price: 1500}

	if err := store.AddItem(hoodie, 2, domain.SizeM); err != nil {
		log.Printf("add hoodie: %v", err)
	}
	if err := store.AddItem(poster, 1, domain.SizeNone); err != nil {
		log.Printf("add poster: %v", err)
	}
	if err := store.SetQuantity(hoodie.ID, domain.SizeM, 3); err != nil {
		log.Printf("set hoodie quantity: %v", err)
	}

	// Close drains every pending persist (and any reverts), so the
	// report below reflects what the backend actually accepted.
	store.Close()

	for _, item := range store.Items() {
		log.Printf("  %-12s size=%-4s qty=%-2d subtotal=%d", item.ProductID, item.Size, item.Quantity, item.Subtotal())
	}
	log.Printf("cart total: %d", store.Total())
}

func buildPersistence(ctx context.Context, cfg *config.Config, ownerID string) (port.Persistence, func(), error) {
	noop := func() {}

	switch cfg.Mode {
	case config.ModeLocal:
		log.Printf("using local cart file %s", cfg.LocalCartPath)
		return storage.NewLocalAdapter(cfg.LocalCartPath), noop, nil

	case config.ModeRemote:
		httpc := &http.Client{Timeout: cfg.HTTPTimeout}
		guard := auth.NewTokenGuard(auth.Credentials{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
		}, auth.NewHTTPRefresher(cfg.APIBaseURL, httpc))
		log.Printf("using remote cart API at %s", cfg.APIBaseURL)
		return remote.NewClient(cfg.APIBaseURL, httpc, guard), noop, nil

	case config.ModeRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, noop, err
		}
		log.Printf("connected to redis at %s", cfg.RedisAddr)
		return storage.NewRedisAdapter(rdb, ownerID), func() { rdb.Close() }, nil

	case config.ModeMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, noop, err
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		log.Println("connected to mysql")
		return storage.NewMySQLAdapter(db, ownerID), func() { db.Close() }, nil
	}

	panic("unreachable: config.Load validates the mode")
}
