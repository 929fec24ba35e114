package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/quantforge/analysis-engine/internal/api"
	"github.com/quantforge/analysis-engine/internal/config"
	"github.com/quantforge/analysis-engine/internal/database"
	"github.com/quantforge/analysis-engine/internal/handlers"
	"github.com/quantforge/analysis-engine/internal/middleware"
	"github.com/quantforge/analysis-engine/internal/newsindex"
	"github.com/quantforge/analysis-engine/internal/observability"
	"github.com/quantforge/analysis-engine/internal/providers"
	"github.com/quantforge/analysis-engine/internal/services"
	"github.com/quantforge/analysis-engine/internal/telemetry"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if err := observability.InitSentry(cfg.Sentry, cfg.Analysis.Version, cfg.Environment); err != nil {
		logger.WithError(err).Warn("Failed to initialize Sentry, continuing without error tracking")
	}

	tracing, err := telemetry.Init(cfg.Analysis.Version)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	chain, descriptors, err := providers.BuildChain(context.Background(), cfg.Providers, logger)
	if err != nil {
		logger.Fatalf("Failed to build provider chain: %v", err)
	}

	cacheTTL, err := time.ParseDuration(cfg.NewsIndex.CacheTTL)
	if err != nil {
		cacheTTL = 5 * time.Minute
	}
	news := newsindex.NewCachedIndex(newsindex.NewClient(cfg.NewsIndex), redis, cacheTTL, logger)
	priceStore := database.NewPriceStore(db.Pool)

	limiter := services.NewRateLimiter(cfg.RateLimits, logger)
	gatherer := services.NewDataGatherer(priceStore, news, cfg.Analysis.GatherTimeoutDuration(), logger)
	providerChain := services.NewProviderChain(chain, logger)
	prompts := services.NewPromptLibrary(cfg.Analysis.PromptMaxTokens, cfg.Analysis.Temperature)
	validator := services.NewResponseValidator(logger)
	calibrator := services.NewConfidenceCalibrator(cfg.Analysis)
	quick := services.NewRuleBasedAnalyzer(logger)
	usage := telemetry.NewUsageRecorder(redis, logger)

	engine := services.NewAnalysisEngine(
		limiter, gatherer, providerChain, prompts, validator, calibrator, quick,
		usage, cfg.Analysis.Version, tracing.Tracer(), logger,
	)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware(telemetry.ServiceName))

	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)
	analysisHandler := handlers.NewAnalysisHandler(engine, limiter, descriptors, logger)
	api.SetupRoutes(router, db, redis, auth, analysisHandler, cfg.Analysis.Version)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := tracing.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	observability.Flush(ctx)

	logger.Info("Server exited")
}
