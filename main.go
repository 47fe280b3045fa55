// Package main provides the main entry point for the Nurikabe popup engine
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/Nurikabe/app/handlers"
	"github.com/amirphl/Nurikabe/app/middleware"
	"github.com/amirphl/Nurikabe/app/router"
	"github.com/amirphl/Nurikabe/app/scheduler"
	"github.com/amirphl/Nurikabe/app/services"
	businessflow "github.com/amirphl/Nurikabe/business_flow"
	"github.com/amirphl/Nurikabe/config"
	_ "github.com/amirphl/Nurikabe/docs"
	"github.com/amirphl/Nurikabe/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting Nurikabe application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity.
// Redis is not optional here: frequency counters, challenge tokens, and rate
// limit buckets all live in it.
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	cancel := startCacheHealthMonitor(context.Background(), rc, cfg.Cache.CleanupInterval)
	stopFuncs = append(stopFuncs, cancel)

	// Initialize repositories
	storeRepo := repository.NewStoreRepository(db)
	settingsRepo := repository.NewStoreSettingsRepository(db)
	merchantRepo := repository.NewMerchantRepository(db)
	sessionRepo := repository.NewMerchantSessionRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	audienceRepo := repository.NewAudienceMembershipRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	conversionRepo := repository.NewConversionRepository(db)
	displayEventRepo := repository.NewDisplayEventRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// Initialize services
	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.RefreshTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.SecretKey,
		rc,
		cfg.Cache.RedisPrefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	captchaService, err := services.NewCaptchaServiceRotate(2*time.Minute, 15, 300)
	if err != nil {
		return nil, err
	}

	shopifyClient := services.NewShopifyClient(cfg.Shopify.APIVersion, cfg.Shopify.Timeout, cfg.Shopify.MaxRPS)

	// Initialize flows. Rate limiting comes first: the challenge, lead, and
	// login flows all consult it.
	rateLimitFlow := businessflow.NewRateLimitFlow(rc, cfg.RateLimits, cfg.Cache)

	frequencyFlow := businessflow.NewFrequencyFlow(
		campaignRepo,
		settingsRepo,
		displayEventRepo,
		rc,
		cfg.Engine,
		cfg.Cache,
	)

	targetingFlow := businessflow.NewTargetingFlow(
		campaignRepo,
		audienceRepo,
		frequencyFlow,
		rc,
		cfg.Cache,
	)

	challengeFlow := businessflow.NewChallengeFlow(
		campaignRepo,
		auditRepo,
		rateLimitFlow,
		rc,
		cfg.Engine,
		cfg.Cache,
	)

	discountFlow := businessflow.NewDiscountFlow(auditRepo, shopifyClient)

	leadFlow := businessflow.NewLeadFlow(
		campaignRepo,
		leadRepo,
		auditRepo,
		rateLimitFlow,
		challengeFlow,
		discountFlow,
		cfg.Engine,
		db,
	)

	attributionFlow := businessflow.NewAttributionFlow(
		campaignRepo,
		leadRepo,
		conversionRepo,
		auditRepo,
		cfg.Engine,
	)

	loginFlow := businessflow.NewLoginFlow(
		merchantRepo,
		sessionRepo,
		auditRepo,
		tokenService,
		captchaService,
		rateLimitFlow,
		db,
	)

	settingsFlow := businessflow.NewSettingsFlow(
		storeRepo,
		settingsRepo,
		auditRepo,
		rc,
		cfg.Cache,
		db,
	)

	campaignFlow := businessflow.NewCampaignFlow(
		campaignRepo,
		auditRepo,
		rc,
		cfg.Cache,
		db,
	)

	reportFlow := businessflow.NewReportFlow(
		campaignRepo,
		leadRepo,
		conversionRepo,
		displayEventRepo,
		auditRepo,
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(loginFlow)
	storefrontHandler := handlers.NewStorefrontHandler(storeRepo, targetingFlow, frequencyFlow, challengeFlow, leadFlow)
	webhookHandler := handlers.NewWebhookHandler(storeRepo, auditRepo, attributionFlow)
	campaignHandler := handlers.NewCampaignHandler(campaignFlow)
	settingsHandler := handlers.NewSettingsHandler(settingsFlow)
	reportHandler := handlers.NewReportHandler(reportFlow)

	// Initialize auth middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenService, merchantRepo, sessionRepo)

	// Initialize router
	appRouter := router.NewFiberRouter(
		authHandler,
		storefrontHandler,
		webhookHandler,
		campaignHandler,
		settingsHandler,
		reportHandler,
		authMiddleware,
	)

	// Background loops: campaign cache warming and audience membership sync
	cacheRefresher := scheduler.NewCampaignCacheRefresher(storeRepo, campaignRepo, rc, cfg.Cache, cfg.Scheduler, cfg.Logging)
	stopFuncs = append(stopFuncs, cacheRefresher.Start(context.Background()))

	audienceSyncer := scheduler.NewAudienceSyncer(storeRepo, campaignRepo, audienceRepo, auditRepo, shopifyClient, rc, cfg.Cache, cfg.Scheduler, cfg.Logging)
	stopFuncs = append(stopFuncs, audienceSyncer.Start(context.Background()))

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
