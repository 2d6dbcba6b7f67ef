package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/invhub/stocksync/internal/buildinfo"
	"github.com/invhub/stocksync/internal/cache"
	"github.com/invhub/stocksync/internal/config"
	"github.com/invhub/stocksync/internal/database"
	"github.com/invhub/stocksync/internal/engine"
	"github.com/invhub/stocksync/internal/handlers"
	"github.com/invhub/stocksync/internal/inventoryapi"
	"github.com/invhub/stocksync/internal/models"
	"github.com/invhub/stocksync/internal/monitor"
	"github.com/invhub/stocksync/internal/ratelimit"
	"github.com/invhub/stocksync/internal/scheduler"
	"github.com/invhub/stocksync/internal/store"
	ws "github.com/invhub/stocksync/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("🚀 stocksync %s starting", buildinfo.Summary())

	// 2. Initialize database (detects embedded vs external automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-migrate schema
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.Item{},
		&models.Vendor{},
		&models.SyncLog{},
		&models.Alert{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Key-value cache: Redis in production, in-memory for development
	kv, err := newCache(cfg)
	if err != nil {
		log.Fatalf("Failed to connect cache: %v", err)
	}

	// 5. Sync core: source, rate limiter, stores, executor
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

	scheduleCfg := config.LoadScheduleConfig()

	st := store.NewGormStore(db)
	changes := store.NewCacheChangeStore(kv)

	executor := engine.NewExecutor(source, limiter, st, changes, kv, engine.Config{
		PageSize:            cfg.Inventory.PageSize,
		BatchSize:           cfg.Executor.BatchSize,
		StuckThreshold:      cfg.Executor.StuckThreshold,
		StaleItemDays:       cfg.Executor.StaleItemDays,
		MaxBatchRetries:     cfg.Executor.MaxRetries,
		BatchRetryDelay:     cfg.Executor.RetryDelay,
		MaxBatchRetryDelay:  cfg.Executor.MaxRetryDelay,
		SmartInventoryHours: scheduleCfg.Thresholds.SmartInventoryHrs,
		SmartActiveHours:    scheduleCfg.Thresholds.SmartActiveHrs,
	})

	// Sweep runs stranded by a previous crash before anything fires.
	if _, err := executor.SweepStuck(context.Background()); err != nil {
		log.Printf("⚠️ Startup stuck sync sweep failed: %v", err)
	}

	// 6. Monitor and alert fan-out
	hub := ws.NewHub()
	go hub.Run()

	mon := monitor.New(st, kv, monitor.Config{
		PollInterval:         cfg.Monitor.PollInterval,
		CriticalStockoutDays: cfg.Monitor.CriticalStockoutDays,
		HighStockoutDays:     cfg.Monitor.HighStockoutDays,
		MediumStockoutDays:   cfg.Monitor.MediumStockoutDays,
		MaxAlertsPerHour:     cfg.Monitor.MaxAlertsPerHour,
		PriceChangePct:       cfg.Monitor.PriceChangePct,
	})
	mon.AddSink(monitor.LogSink{})
	mon.AddSink(hub)
	mon.Start()

	executor.SetChangePublisher(mon)
	executor.SetOutcomeNotifier(mon)

	// 7. Scheduler
	analyzer := scheduler.NewAnalyzer(st, st, mon, scheduleCfg)
	sched := scheduler.New(analyzer, executor, scheduleCfg)
	sched.Start()

	// 8. HTTP control surface
	router := handlers.NewRouter(st, executor, sched, mon, hub)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🌐 Control surface listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("⚠️ Received signal: %v. Shutting down gracefully...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	sched.Stop()
	mon.Stop()
	limiter.Stop()

	if err := kv.Close(); err != nil {
		log.Printf("Cache close error: %v", err)
	}

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}

func newCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Redis.Type == "memory" {
		log.Println("📦 Using in-memory cache")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Redis.Address(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
