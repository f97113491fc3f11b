package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Monthlyaway/qr-link/config"
	"github.com/Monthlyaway/qr-link/internal/cache"
	"github.com/Monthlyaway/qr-link/internal/filter"
	"github.com/Monthlyaway/qr-link/internal/geo"
	"github.com/Monthlyaway/qr-link/internal/handler"
	"github.com/Monthlyaway/qr-link/internal/middleware"
	"github.com/Monthlyaway/qr-link/internal/observe"
	"github.com/Monthlyaway/qr-link/internal/repository"
	"github.com/Monthlyaway/qr-link/internal/router"
	"github.com/Monthlyaway/qr-link/internal/service"
	"github.com/Monthlyaway/qr-link/internal/utils"
	"github.com/gin-gonic/gin"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observe.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	sentryEnabled, err := observe.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment)
	if err != nil {
		logger.Warn("sentry disabled", "error", err)
	}
	defer observe.FlushSentry(cfg.Sentry.FlushTimeout)
	reporter := observe.NewReporter(logger, sentryEnabled)

	ids, err := utils.NewIDGenerator(cfg.Snowflake.DatacenterID, cfg.Snowflake.WorkerID)
	if err != nil {
		return err
	}

	repo, err := repository.NewQRRepository(repository.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN(),
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		LogQueries:   cfg.Database.LogQueries,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()

	checks := map[string]handler.Pinger{"database": repo}

	// Redis is optional: without it destinations and locations are not
	// cached and the rate limiter is off.
	var (
		redisCache *cache.RedisCache
		destCache  service.DestinationCache
		geoCache   geo.Cache
	)
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewRedisCache(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
		if err != nil {
			logger.Warn("running without redis", "error", err)
		} else {
			defer redisCache.Close()
			redisCache.WithDestinationTTL(cfg.Redis.DestinationTTL)
			destCache, geoCache = redisCache, redisCache
			checks["redis"] = redisCache
		}
	}

	var bloom service.Filter
	if cfg.BloomFilter.Enabled {
		bloom = filter.NewBloomFilter(cfg.BloomFilter.Capacity, cfg.BloomFilter.FalsePositiveRate)
	}

	var locator service.Locator
	if cfg.Geo.Enabled {
		locator = geo.NewClient(geo.Options{
			Endpoint: cfg.Geo.Endpoint,
			Timeout:  cfg.Geo.Timeout,
			CacheTTL: cfg.Geo.CacheTTL,
			Cache:    geoCache,
			Logger:   logger,
		})
	}

	redirects := service.NewRedirectService(repo, locator, reporter, service.RedirectOptions{
		Cache:          destCache,
		Filter:         bloom,
		Logger:         logger,
		ResolveTimeout: cfg.Server.ResolveTimeout,
		ScanTimeout:    cfg.Scan.Timeout,
		AsyncScans:     cfg.Scan.Async,
	})
	qrs := service.NewQRService(repo, ids, destCache, bloom, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := qrs.InitBloomFilter(warmCtx); err != nil {
		// An empty filter rejects every code, so refuse to serve.
		cancel()
		return err
	}
	cancel()
	go qrs.RefreshBloomFilter(ctx, cfg.BloomFilter.RefreshInterval)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		if redisCache == nil {
			logger.Warn("rate limiting requires redis, disabled")
		} else {
			logger.Info("rate limiting enabled", "strategy", cfg.RateLimit.Strategy, "limit", cfg.RateLimit.Limit, "window", cfg.RateLimit.Window)
			limiter = middleware.NewRateLimiter(redisCache.GetClient(), &middleware.RateLimitConfig{
				Strategy: middleware.RateLimitStrategy(cfg.RateLimit.Strategy),
				Limit:    cfg.RateLimit.Limit,
				Window:   cfg.RateLimit.Window,
				SkipFunc: middleware.SkipHealthCheck,
				Logger:   logger,
			})
		}
	}

	gin.SetMode(cfg.Server.Mode)
	engine := router.New(router.Deps{
		Redirects:      handler.NewRedirectHandler(redirects),
		QRCodes:        handler.NewQRHandler(qrs, cfg.Server.BaseURL),
		Health:         handler.NewHealthHandler(checks),
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SentryEnabled:  sentryEnabled,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        engine,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", "error", err)
	}
	if err := redirects.Wait(shutdownCtx); err != nil {
		logger.Warn("pending scans abandoned", "error", err)
	}

	logger.Info("server exited")
	return nil
}
