package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tradeguard/compliance-engine/internal/api"
	"github.com/tradeguard/compliance-engine/internal/config"
	"github.com/tradeguard/compliance-engine/internal/marketdata"
	"github.com/tradeguard/compliance-engine/internal/service"
	"github.com/tradeguard/compliance-engine/internal/storage/cache"
	"github.com/tradeguard/compliance-engine/internal/storage/postgres"
	pkglogger "github.com/tradeguard/compliance-engine/pkg/logger"
)

// @title Pre-Trade Compliance API
// @version 1.0
// @description Pre-trade compliance portal: trade proposals are valued,
// @description checked against the restricted-instrument registry and driven
// @description through an audited approval state machine.

// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
func main() {
	cfg := config.Load()

	if err := pkglogger.Init(cfg.LogLevel, cfg.Environment == "development"); err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer pkglogger.Close()

	db, err := connectPostgres(cfg)
	if err != nil {
		log.Fatal("failed to connect to PostgreSQL:", err)
	}
	defer db.Close()

	cacheService := connectCache(cfg)
	defer cacheService.Close()

	// External dependencies, each behind its own breaker
	breakerCfg := marketdata.BreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		FailureWindow:    cfg.BreakerWindow,
		Cooldown:         cfg.BreakerCooldown,
	}
	marketDataBreaker := marketdata.NewBreaker("market_data", breakerCfg)
	fxBreaker := marketdata.NewBreaker("fx_rates", breakerCfg)

	resolver := marketdata.NewResolver(cfg.MarketDataURL, cfg.UpstreamTimeout,
		cacheService, cfg.QuoteCacheTTL, marketDataBreaker)
	converter := marketdata.NewConverter(cfg.FxRateURL, cfg.UpstreamTimeout,
		cacheService, cfg.RateCacheTTL, fxBreaker)

	// Services
	store := postgres.NewStore(db.Pool())
	registry := service.NewRegistry(store)
	audit := service.NewAuditTrail(store)
	engine := service.NewEngine(store, store, resolver, converter, cfg.MaxTradeUSD)

	// Handler
	handler := api.NewHandler(
		db,
		cacheService,
		engine,
		registry,
		audit,
		marketDataBreaker,
		fxBreaker,
	)

	// Fiber app
	app := fiber.New(fiber.Config{
		Prefork:                 false,
		ServerHeader:            "Compliance-Engine",
		AppName:                 "Pre-Trade Compliance v1.0.0",
		ReadTimeout:             cfg.APIReadTimeout,
		WriteTimeout:            cfg.APIWriteTimeout,
		IdleTimeout:             120 * time.Second,
		ReadBufferSize:          8192,
		WriteBufferSize:         8192,
		ProxyHeader:             "X-Forwarded-For",
		EnableTrustedProxyCheck: true,
		BodyLimit:               1 * 1024 * 1024, // 1MB
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Setup routes
	api.SetupRoutes(app, handler, cfg.AdminToken)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Printf("Starting server on %s", addr)

	if err := app.Listen(addr); err != nil {
		log.Fatal("Server error:", err)
	}
}

func connectPostgres(cfg *config.Config) (*postgres.DB, error) {
	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("connected to PostgreSQL")
	return db, nil
}

func connectCache(cfg *config.Config) cache.Cache {
	redisCache, err := cache.NewRedisCache(cfg.RedisURL)
	if err != nil {
		log.Printf("redis not available: %v (falling back to in-memory cache)", err)
		return cache.NewMemoryCache()
	}

	log.Println("connected to Redis")
	return redisCache
}
