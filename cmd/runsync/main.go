// Command runsync executes one sync run from the command line and exits.
// Useful for cron fallback and for checking a strategy by hand.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/invhub/stocksync/internal/cache"
	"github.com/invhub/stocksync/internal/config"
	"github.com/invhub/stocksync/internal/database"
	"github.com/invhub/stocksync/internal/engine"
	"github.com/invhub/stocksync/internal/inventoryapi"
	"github.com/invhub/stocksync/internal/models"
	"github.com/invhub/stocksync/internal/ratelimit"
	"github.com/invhub/stocksync/internal/store"
)

func main() {
	strategy := flag.String("strategy", models.StrategySmart, "sync strategy: full, inventory, critical, active, smart")
	dryRun := flag.Bool("dry-run", false, "detect changes without writing")
	force := flag.Bool("force", false, "sync every fetched item, bypassing change detection")
	batchSize := flag.Int("batch-size", 0, "override write batch size")
	filterYear := flag.Int("filter-year", 0, "active strategy: only items modified since Jan 1 of this year")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(&models.Item{}, &models.Vendor{}, &models.SyncLog{}, &models.Alert{}); err != nil {
		log.Printf("⚠️ Migration warning: %v", err)
	}

	var kv cache.Cache
	if cfg.Redis.Type == "memory" {
		kv = cache.NewMemoryCache()
	} else {
		kv, err = cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatalf("Failed to connect cache: %v", err)
		}
	}
	defer kv.Close()

	source := inventoryapi.NewClient(inventoryapi.Config{
		BaseURL:   cfg.Inventory.BaseURL,
		APIKey:    cfg.Inventory.APIKey,
		APISecret: cfg.Inventory.APISecret,
		Timeout:   cfg.Inventory.Timeout,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		MinDelay:          cfg.RateLimit.MinDelay,
		MaxRetries:        cfg.RateLimit.MaxRetries,
		RetryDelay:        cfg.RateLimit.RetryDelay,
		MaxRetryDelay:     cfg.RateLimit.MaxRetryDelay,
	})
	defer limiter.Stop()

	st := store.NewGormStore(db)
	executor := engine.NewExecutor(source, limiter, st, store.NewCacheChangeStore(kv), kv, engine.Config{
		PageSize:           cfg.Inventory.PageSize,
		BatchSize:          cfg.Executor.BatchSize,
		StuckThreshold:     cfg.Executor.StuckThreshold,
		StaleItemDays:      cfg.Executor.StaleItemDays,
		MaxBatchRetries:    cfg.Executor.MaxRetries,
		BatchRetryDelay:    cfg.Executor.RetryDelay,
		MaxBatchRetryDelay: cfg.Executor.MaxRetryDelay,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := executor.Run(ctx, engine.RunOptions{
		Strategy:   *strategy,
		DryRun:     *dryRun,
		Force:      *force,
		BatchSize:  *batchSize,
		FilterYear: *filterYear,
	})
	if err != nil && result == nil {
		log.Fatalf("❌ Sync failed: %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Status == models.SyncStatusError {
		os.Exit(1)
	}
}
