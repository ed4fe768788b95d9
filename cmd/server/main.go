package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/apiclient"
	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/infrastructure/cache"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/crypto"
	"github.com/erp/syncengine/internal/infrastructure/ecommerce"
	"github.com/erp/syncengine/internal/infrastructure/erp"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/migration"
	"github.com/erp/syncengine/internal/infrastructure/persistence"
	"github.com/erp/syncengine/internal/infrastructure/scheduler"
	"github.com/erp/syncengine/internal/infrastructure/storage"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"github.com/erp/syncengine/internal/interfaces/http/handler"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/erp/syncengine/internal/interfaces/http/router"
	"github.com/erp/syncengine/migrations"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

//	@title			ERP Sync Engine API
//	@version		1.0
//	@description	Synchronises catalog and inventory records between ERP and storefront platforms

//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Telemetry providers become the OpenTelemetry globals
	providers, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down telemetry", zap.Error(err))
		}
	}()
	if providers.Enabled() {
		log = providers.BridgeLogger(log, cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level))
	}

	// Create GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))

	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if stats, err := db.Stats(); err == nil {
			log.Info("Database pool stats",
				zap.Int("open", stats.OpenConnections),
				zap.Int64("wait_count", stats.WaitCount),
				zap.Duration("wait_duration", stats.WaitDuration),
			)
		}
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.InstrumentGorm(db.DB, cfg.Database.Driver); err != nil {
		log.Warn("Failed to instrument database", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	if cfg.Database.AutoMigrate {
		migrate := func() error { return runMigrations(db, log) }
		if cfg.Database.Driver == "sqlite" {
			// golang-migrate is wired for postgres only
			migrate = db.AutoMigrate
		}
		if err := migrate(); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Initialize repositories
	integrationRepo := persistence.NewGormIntegrationRepository(db.DB)
	credentialRepo := persistence.NewGormCredentialRepository(db.DB)
	syncStateRepo := persistence.NewGormSyncStateRepository(db.DB)
	recordRepo := persistence.NewGormRecordRepository(db.DB)
	webhookEventRepo := persistence.NewGormWebhookEventRepository(db.DB)

	encryptor, err := crypto.NewKeyRingEncryptor(cfg.Encryption.Keys)
	if err != nil {
		log.Fatal("Failed to initialize credential encryption", zap.Error(err))
	}

	idempotency := cache.NewIdempotencyStore(ctx, cfg.Redis, log)
	defer func() {
		if err := idempotency.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	var archive integration.PayloadArchive
	if cfg.Webhook.ArchiveEnabled {
		s3Archive, err := storage.NewS3PayloadArchive(ctx, &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize webhook archive", zap.Error(err))
		}
		archive = s3Archive
		log.Info("Webhook payload archive enabled", zap.String("bucket", cfg.Storage.Bucket))
	}

	metrics, err := telemetry.NewSyncMetrics(otel.GetMeterProvider())
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// OAuth app registrations per platform
	oauthClients := map[integration.PlatformCode]appintegration.OAuthClientConfig{
		integration.PlatformCodeShopify: {
			ClientID:     cfg.Platforms.Shopify.ClientID,
			ClientSecret: cfg.Platforms.Shopify.ClientSecret,
			Scopes:       cfg.Platforms.Shopify.Scopes,
		},
		integration.PlatformCodeNetSuite: {
			ClientID:     cfg.Platforms.NetSuite.ClientID,
			ClientSecret: cfg.Platforms.NetSuite.ClientSecret,
			Scopes:       cfg.Platforms.NetSuite.Scopes,
		},
	}
	oauthFlow := appintegration.NewOAuthFlow(oauthClients)

	credentialStore := appintegration.NewCredentialStore(
		integrationRepo,
		credentialRepo,
		encryptor,
		oauthFlow,
		log,
		appintegration.CredentialStoreConfig{
			KeyID:            cfg.Encryption.ActiveKeyID,
			RefreshThreshold: cfg.Sync.RefreshThreshold,
		},
	)

	// Platform connectors
	shopifyConfig := ecommerce.NewShopifyConfig(cfg.Platforms.Shopify.APIVersion, cfg.Platforms.Shopify.LocationIDs)
	shopifyConfig.Timeout = cfg.Sync.RequestTimeout
	shopify, err := ecommerce.NewShopifyAdapter(shopifyConfig, log, apiclient.WithRequestRecorder(metrics))
	if err != nil {
		log.Fatal("Failed to create Shopify adapter", zap.Error(err))
	}
	netSuiteConfig := erp.NewNetSuiteConfig()
	netSuiteConfig.Timeout = cfg.Sync.RequestTimeout
	netSuite, err := erp.NewNetSuiteAdapter(netSuiteConfig, log, apiclient.WithRequestRecorder(metrics))
	if err != nil {
		log.Fatal("Failed to create NetSuite adapter", zap.Error(err))
	}
	registry := appintegration.NewPlatformRegistry(shopify, netSuite)

	var resolver integration.ConflictResolver = integration.LastWriteWinsResolver{}
	if cfg.Sync.ConflictPolicy == "most_recent_wins" {
		resolver = integration.MostRecentWinsResolver{}
	}
	recordProcessor := appintegration.NewRecordProcessor(recordRepo, resolver)

	// Initialize application services
	syncService := appintegration.NewSyncService(appintegration.SyncServiceDeps{
		Integrations: integrationRepo,
		States:       syncStateRepo,
		Processor:    recordProcessor,
		Credentials:  credentialStore,
		Registry:     registry,
		Metrics:      metrics,
	}, appintegration.SyncServiceConfig{
		Orchestrator: appintegration.OrchestratorConfig{
			PageSize:         cfg.Sync.PageSize,
			ProgressInterval: cfg.Sync.ProgressInterval,
			MaxResultErrors:  cfg.Sync.MaxResultErrors,
		},
		Retry: appintegration.RetryConfig{
			MaxAttempts: cfg.Sync.RetryMaxAttempts,
			BaseDelay:   cfg.Sync.RetryBaseDelay,
			MaxDelay:    cfg.Sync.RetryMaxDelay,
			Multiplier:  2,
		},
		Breaker: appintegration.CircuitBreakerConfig{
			FailureThreshold: cfg.Sync.BreakerFailureThreshold,
			Cooldown:         cfg.Sync.BreakerCooldown,
		},
		RateLimit: apiclient.RateLimiterConfig{
			Capacity:        cfg.Sync.RateLimitCapacity,
			RefillPerSecond: cfg.Sync.RateLimitRefill,
		},
	}, log)
	integrationService := appintegration.NewIntegrationService(integrationRepo, registry, syncService, log)

	// Webhook events are applied in the background
	webhookProcessor := appintegration.NewWebhookProcessor(
		webhookEventRepo,
		integrationRepo,
		registry,
		recordProcessor,
		metrics,
		appintegration.WebhookProcessorConfig{
			PollInterval: cfg.Webhook.PollInterval,
			BatchSize:    cfg.Webhook.BatchSize,
			MaxAttempts:  cfg.Webhook.MaxAttempts,
		},
		log,
	)
	webhookProcessor.Start(ctx)
	defer webhookProcessor.Stop()
	log.Info("Webhook processor started",
		zap.Int("batch_size", cfg.Webhook.BatchSize),
		zap.Duration("poll_interval", cfg.Webhook.PollInterval),
	)

	webhookIngestor := appintegration.NewWebhookIngestor(appintegration.WebhookIngestorDeps{
		Integrations: integrationRepo,
		Events:       webhookEventRepo,
		Secrets:      credentialStore,
		Registry:     registry,
		Idempotency:  idempotency,
		Archive:      archive,
		Metrics:      metrics,
		Notifier:     webhookProcessor,
	}, appintegration.WebhookIngestorConfig{
		MaxBodyBytes:   cfg.Webhook.MaxBodyBytes,
		IdempotencyTTL: cfg.Webhook.IdempotencyTTL,
	}, log)

	// Initialize sync scheduler (if enabled)
	var jobHandler *handler.SchedulerHandler
	if cfg.Scheduler.Enabled {
		schedulerConfig := scheduler.DefaultSyncSchedulerConfig()
		schedulerConfig.Workers = cfg.Scheduler.Workers
		schedulerConfig.QueueSize = cfg.Scheduler.QueueSize
		schedulerConfig.JobTimeout = cfg.Scheduler.JobTimeout
		schedulerConfig.RetryDelay = cfg.Scheduler.RetryDelay
		schedulerConfig.MaxRetries = cfg.Scheduler.MaxRetries

		syncScheduler, err := scheduler.NewSyncScheduler(schedulerConfig, scheduler.SyncExecutorFunc(
			func(ctx context.Context, job *scheduler.SyncJob) ([]*integration.SyncResult, error) {
				return syncService.SyncAll(ctx, job.IntegrationID, appintegration.SyncOptions{})
			},
		), log)
		if err != nil {
			log.Fatal("Failed to create sync scheduler", zap.Error(err))
		}
		if err := syncScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start sync scheduler", zap.Error(err))
		}
		defer func() {
			if err := syncScheduler.Stop(context.Background()); err != nil {
				log.Error("Error stopping sync scheduler", zap.Error(err))
			}
		}()

		trigger := scheduler.NewSyncTrigger(scheduler.SyncTriggerConfig{
			Interval:   cfg.Scheduler.Interval,
			MaxRetries: cfg.Scheduler.MaxRetries,
		}, syncScheduler, integrationRepo, log)
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start sync trigger", zap.Error(err))
		}
		defer func() {
			if err := trigger.Stop(context.Background()); err != nil {
				log.Error("Error stopping sync trigger", zap.Error(err))
			}
		}()

		jobHandler = handler.NewSchedulerHandler(integrationService, syncScheduler, cfg.Scheduler.MaxRetries)
		log.Info("Sync scheduler started",
			zap.Int("workers", cfg.Scheduler.Workers),
			zap.Duration("interval", cfg.Scheduler.Interval),
		)
	}

	jwtService := auth.NewJWTService(cfg.JWT)
	stateGuard := auth.NewStateGuard(jwtService, idempotency)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingAttributeInjector())
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(otel.GetMeterProvider()))
	engine.Use(middleware.Secure())
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize, "/api/v1/webhooks/"))
	if cfg.HTTP.RateLimitEnabled {
		engine.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)))
	}

	checks := []handler.DependencyCheck{{
		Name:  "database",
		Check: func(context.Context) error { return db.Ping() },
	}}
	if pinger, ok := idempotency.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, handler.DependencyCheck{Name: "redis", Check: pinger.Ping})
	}

	handlers := router.Handlers{
		System:       handler.NewSystemHandler(cfg.App.Name, version, checks...),
		Integrations: handler.NewIntegrationHandler(integrationService),
		Credentials:  handler.NewCredentialHandler(integrationService, credentialStore),
		Syncs:        handler.NewSyncHandler(integrationService, syncService),
		Jobs:         jobHandler,
		OAuth: handler.NewOAuthHandler(integrationService, oauthFlow, jwtService, stateGuard, credentialStore, handler.OAuthHandlerConfig{
			Clients:   oauthClients,
			PublicURL: cfg.App.PublicURL,
		}),
		Webhooks: handler.NewWebhookHandler(webhookIngestor, handler.RegistryHeaders{Registry: registry}, cfg.Webhook.MaxBodyBytes),
		Tokens:   handler.NewTokenHandler(jwtService),
	}

	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.Logger = log
	r := router.NewRouter(engine)
	router.Mount(engine, r, handlers, middleware.JWTAuthMiddlewareWithConfig(jwtConfig))

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("Server exited gracefully")
}

// runMigrations applies every pending schema migration. The migrator is
// not closed since that would close the shared connection pool.
func runMigrations(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, migrations.FS, log)
	if err != nil {
		return err
	}
	return m.Up()
}
