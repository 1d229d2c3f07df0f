package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ubuygold/gosparklio/internal/completion"
	"github.com/ubuygold/gosparklio/internal/config"
	"github.com/ubuygold/gosparklio/internal/coordinator"
	"github.com/ubuygold/gosparklio/internal/db"
	"github.com/ubuygold/gosparklio/internal/gemini"
	"github.com/ubuygold/gosparklio/internal/image"
	"github.com/ubuygold/gosparklio/internal/keyvault"
	"github.com/ubuygold/gosparklio/internal/logger"
	"github.com/ubuygold/gosparklio/internal/metrics"
	"github.com/ubuygold/gosparklio/internal/quota"
	"github.com/ubuygold/gosparklio/internal/request"
	"github.com/ubuygold/gosparklio/internal/scheduler"
	"github.com/ubuygold/gosparklio/internal/server"
)

// app holds everything main starts and stops.
type app struct {
	router    *gin.Engine
	limiter   *server.RateLimiter
	scheduler *scheduler.Scheduler
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	database, err := db.NewService(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	log.Info("Database initialized", "type", cfg.Database.Type)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(registry)

	vault, err := keyvault.New(database, gemini.NewKeyChecker(cfg.Gemini.BaseURL, nil), cfg.Security.EncryptionSecret, log)
	if err != nil {
		return nil, fmt.Errorf("error creating key vault: %w", err)
	}

	providers, err := image.ProvidersByName(cfg.Image.Providers)
	if err != nil {
		return nil, err
	}
	acquirer := image.NewAcquirer(providers, nil, cfg.Image.Timeout(), cfg.Image.Seed, rec, log)

	orchestrator := completion.NewOrchestrator(vault, gemini.NewGenerator(cfg.Gemini, log), cfg.Retry, rec, log)
	governor := quota.NewGovernor(database, quota.LimitsFromConfig(cfg.Quota), rec, log)
	coord := coordinator.New(request.NewValidator(), vault, governor, orchestrator, acquirer, rec, log)

	health := func(ctx context.Context) error {
		sqlDB, err := database.GetDB().DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	limiter := server.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst, 10*time.Minute)
	handler := server.NewHandler(coord, vault, governor, health, log)

	return &app{
		router:    server.NewRouter(handler, limiter, registry, log, cfg.Debug),
		limiter:   limiter,
		scheduler: scheduler.NewScheduler(database, vault, cfg.Scheduler, log),
	}, nil
}

func main() {
	// Load configuration
	cfg, warning, err := config.LoadConfig("config.yaml")
	if err != nil {
		// Use a temporary logger for startup errors
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithWriter(os.Stdout, cfg.Debug, cfg.LogFormat)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	if warning != "" {
		log.Warn(warning)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Error starting application", "error", err)
		os.Exit(1)
	}

	if err := a.scheduler.Start(); err != nil {
		log.Error("Error starting scheduler", "error", err)
		os.Exit(1)
	}
	log.Info("Scheduler started")

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: a.router,
	}

	// Graceful shutdown
	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Generation batches can take a while; give them time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.scheduler.Stop()
	a.limiter.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server exiting")
}
