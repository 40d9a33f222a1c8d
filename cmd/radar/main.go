package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/api"
	"github.com/irfndi/accumulation-radar/internal/api/handlers"
	"github.com/irfndi/accumulation-radar/internal/cache"
	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/database"
	"github.com/irfndi/accumulation-radar/internal/logging"
	"github.com/irfndi/accumulation-radar/internal/providers"
	"github.com/irfndi/accumulation-radar/internal/services"
	"github.com/irfndi/accumulation-radar/internal/telemetry"
)

const serviceName = "accumulation-radar"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// shutdownReason records the signal that stopped the process.
type shutdownReason struct {
	mu     sync.Mutex
	reason string
}

func (r *shutdownReason) set(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" {
		r.reason = reason
	}
}

func (r *shutdownReason) get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" {
		return "user"
	}
	return r.reason
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reason shutdownReason
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		select {
		case sig := <-quit:
			logger.WithField("signal", sig.String()).Info("Shutdown signal received")
			reason.set(sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	// Telemetry first so every component below can open spans.
	tp, err := telemetry.InitTelemetry(ctx, telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		SampleRate:     cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled {
		lp, shutdownLogs, err := logging.NewOTLPLoggerProvider(ctx, logging.OTLPConfig{
			Enabled:        true,
			Endpoint:       cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Environment:    cfg.Environment,
		})
		if err != nil {
			logger.WithError(err).Warn("OTLP log export disabled")
		} else {
			logger.AddHook(logging.NewOTLPHook(lp.Logger(serviceName), logger.GetLevel()))
			defer func() { _ = shutdownLogs(context.Background()) }()
		}
	}

	// Redis is optional: without it catalogs and dedup live in memory.
	catalogTTL := time.Duration(cfg.Redis.CatalogTTLMinutes) * time.Minute
	var catalogCache cache.CatalogCache = cache.NewMemoryCatalogCache(catalogTTL)
	var notified cache.NotifiedCache
	checks := map[string]handlers.CheckFunc{}
	if cfg.Redis.Enabled {
		rc, err := database.NewRedisConnection(cfg.Redis, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, using in-memory caches")
		} else {
			defer rc.Close()
			catalogCache = cache.NewRedisCatalogCache(rc.Client, catalogTTL, logger)
			notified = cache.NewRedisNotifiedCache(rc.Client, logger)
			checks["redis"] = rc.HealthCheck
		}
	}

	ps, err := providers.NewFromConfig(cfg.Providers, logger)
	if err != nil {
		return fmt.Errorf("failed to create providers: %w", err)
	}
	recovery := services.NewErrorRecoveryManager(services.RetryPolicyFromConfig(cfg.Retry), logger)
	router := services.NewProviderRouter(ps, cfg.Providers, recovery, catalogCache, logger)
	sink := services.NewNotificationSink(cfg.Telegram, logger)

	radar, err := services.NewCycleOrchestrator(cfg, router, sink, notified, logger)
	if err != nil {
		router.Close()
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	var srv *http.Server
	if cfg.Server.Enabled {
		if cfg.Environment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		engine := api.NewRouter(serviceName, logger)
		api.SetupRoutes(engine, radar, checks, version)
		srv = api.NewServer(cfg.Server, engine)

		go func() {
			logger.WithFields(logrus.Fields{
				"port":    cfg.Server.Port,
				"version": version,
			}).Info("Health server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Health server failed")
			}
		}()
	}

	startErr := radar.Start(ctx)
	if startErr != nil {
		logger.WithError(startErr).Error("Accumulation radar failed to start")
		reason.set("startup failure")
	}

	// Give notifications and in-flight requests a deadline for completion
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	radar.Shutdown(shutdownCtx, reason.get())
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Health server forced to shutdown")
		}
	}

	logger.Info("Accumulation radar exited")
	return startErr
}
