package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/vitalsync/vitalsync/internal/adapter"
	"github.com/vitalsync/vitalsync/internal/analysis"
	"github.com/vitalsync/vitalsync/internal/audit"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/credential"
	"github.com/vitalsync/vitalsync/internal/database"
	"github.com/vitalsync/vitalsync/internal/handler"
	"github.com/vitalsync/vitalsync/internal/insight"
	"github.com/vitalsync/vitalsync/internal/middleware"
	"github.com/vitalsync/vitalsync/internal/profile"
	"github.com/vitalsync/vitalsync/internal/ratelimit"
	"github.com/vitalsync/vitalsync/internal/repository"
	"github.com/vitalsync/vitalsync/internal/scheduler"
	"github.com/vitalsync/vitalsync/internal/security"
	syncpkg "github.com/vitalsync/vitalsync/internal/sync"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize Zap logger
	var logger *zap.Logger
	if cfg.Server.Environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded successfully",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
	)

	// Run schema migrations before opening the pool
	if err := database.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize database connection pool with pgx
	pool, err := database.Connect(context.Background(), cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("Successfully connected to database")

	// Credential encryption at rest
	encryptor, err := security.NewEncryptorFromSecret(cfg.Security.EncryptionSecret)
	if err != nil {
		logger.Fatal("Failed to initialize credential encryption", zap.Error(err))
	}

	// Repositories
	metricRepo := repository.NewMetricRepository(pool, logger)
	credentialRepo := repository.NewCredentialRepository(pool, logger)
	auditTrail := audit.NewTrail(pool, logger)

	// Credential store, rate limiter and vendor adapters
	httpClient := &http.Client{Timeout: 30 * time.Second}
	credentialStore := credential.NewStore(credentialRepo, encryptor, &cfg.Providers, httpClient, logger)
	limiter := ratelimit.NewLimiter(cfg.Providers.MinIntervals(), logger)

	registry := adapter.NewRegistry(
		adapter.NewFitbitAdapter(cfg.Providers.Fitbit, httpClient, logger),
		adapter.NewGarminAdapter(cfg.Providers.Garmin, httpClient, logger),
		adapter.NewOuraAdapter(cfg.Providers.Oura, httpClient, logger),
		adapter.NewWhoopAdapter(cfg.Providers.Whoop, httpClient, logger),
	)

	// Sync orchestrator
	orchestrator := syncpkg.NewOrchestrator(registry, credentialStore, limiter, metricRepo, auditTrail, logger)

	// Analysis engine, with optional narrative enrichment
	var narrator insight.Narrator
	if cfg.OpenAI.APIKey != "" {
		openAINarrator, err := insight.NewOpenAINarrator(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Timeout, logger)
		if err != nil {
			logger.Fatal("Failed to initialize narrator", zap.Error(err))
		}
		narrator = openAINarrator
	} else {
		logger.Info("No OpenAI API key configured, narrative enrichment disabled")
	}
	engine := analysis.NewEngine(narrator, logger)

	// Optional external profile service
	var profiles handler.ProfileProvider
	if cfg.Profile.BaseURL != "" {
		profiles = profile.NewHTTPProvider(cfg.Profile.BaseURL, cfg.Profile.Timeout, logger)
	} else {
		logger.Info("No profile service configured, analysis runs without profiles")
	}

	// Handlers
	syncHandler := handler.NewSyncHandler(orchestrator, cfg.Sync.Lookback, logger)
	analysisHandler := handler.NewAnalysisHandler(metricRepo, engine, profiles, logger)
	metricsHandler := handler.NewMetricsHandler(metricRepo, logger)
	credentialHandler := handler.NewCredentialHandler(credentialStore, logger)
	healthHandler := handler.NewHealthHandler(pool, version)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize Gin router
	r := gin.New()

	// Recovery middleware must be first
	r.Use(middleware.Recovery(logger))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.ErrorLogging(logger))
	r.Use(middleware.SlowRequestLogging(logger, 5*time.Second))

	// Routes
	r.GET("/health", healthHandler.GetHealth)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/sync", syncHandler.PostSync)
		v1.GET("/analysis", analysisHandler.GetAnalysis)
		v1.GET("/analysis/emergency", analysisHandler.GetEmergencyAnalysis)
		v1.GET("/metrics", metricsHandler.GetMetrics)
		v1.POST("/credentials", credentialHandler.PostCredential)
		v1.GET("/credentials", credentialHandler.GetCredentials)
		v1.DELETE("/credentials/:source", credentialHandler.DeleteCredential)
	}

	// Background sync and emergency polling
	sched := scheduler.New(orchestrator, credentialRepo, metricRepo, engine, cfg.Sync.Lookback, logger)
	if err := sched.Start(cfg.Sync.Schedule, cfg.Sync.EmergencySchedule); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	pool.Close()

	logger.Info("Server exited")
}
