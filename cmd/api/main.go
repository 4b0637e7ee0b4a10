package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"serenity/internal/config"
	"serenity/internal/httpapi"
	"serenity/internal/httpapi/handlers"
	"serenity/internal/pkg/logger"
	"serenity/internal/pkg/metrics"
	"serenity/internal/pkg/middleware"
	"serenity/internal/pkg/shutdown"
	"serenity/internal/renderer"
	"serenity/internal/repositories"
	"serenity/internal/storage"
	"serenity/internal/worker/queue"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{ServiceName: "serenity-api"}).LogFatal("failed to load configuration", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "serenity-api",
		AddSource:   cfg.Log.AddSource,
	})

	log.Info("starting serenity API",
		"version", version,
		"captures_enabled", cfg.Captures.Enabled,
		"rate_limit_enabled", cfg.RateLimit.Enabled,
	)
	if cfg.Browserless.APIKey == "" {
		log.Warn("BROWSERLESS_API_KEY is not set; render requests will fail")
	}

	ctx := context.Background()

	// Initialize shutdown manager
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	rec := metrics.New(nil)
	svc := renderer.NewService(
		renderer.NewHTTPClient(cfg.Browserless.BaseURL, cfg.Browserless.Timeout),
		renderer.Options{
			APIKey:            cfg.Browserless.APIKey,
			RetryDelay:        cfg.Retry.Delay,
			MinWaitForTimeout: cfg.Retry.MinWaitForTimeout,
			Logger:            log,
			Metrics:           rec,
		},
	)

	hd := handlers.Deps{
		Renderer: svc,
		Service:  "serenity",
		Version:  version,
		Checks: map[string]handlers.Check{
			"browserless": func(context.Context) error {
				if cfg.Browserless.APIKey == "" {
					return errors.New("BROWSERLESS_API_KEY not configured")
				}
				return nil
			},
		},
	}

	if cfg.Captures.Enabled {
		// Connect to PostgreSQL
		log.Info("connecting to PostgreSQL")
		pool, err := pgxpool.New(ctx, cfg.Captures.DatabaseURL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.RegisterSimple("postgres", pool.Close)
		if err := pool.Ping(ctx); err != nil {
			log.LogFatal("failed to ping PostgreSQL", err)
		}
		log.Info("PostgreSQL connected")

		// Connect to Redis
		log.Info("connecting to Redis")
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Captures.RedisAddr})
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		log.Info("Redis connected")

		// Initialize storage provider
		sp, err := storage.NewProvider(ctx, cfg.Storage)
		if err != nil {
			log.LogFatal("failed to initialize storage provider", err)
		}
		log.Info("storage provider initialized", "provider", sp.Provider())

		repo := repositories.NewCaptureRepository(pool)
		q := queue.NewRedisQueue(rdb, cfg.Captures.Queue)

		hd.Captures = repo
		hd.Queue = q
		hd.Storage = sp
		hd.Checks["postgres"] = repo.Ping
		hd.Checks["redis"] = q.Ping
		hd.Checks["storage"] = sp.Check
	}

	var rateLimit *middleware.RateLimitConfig
	if cfg.RateLimit.Enabled {
		rateLimit = &middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers:  hd,
		Log:       log,
		Metrics:   rec,
		RateLimit: rateLimit,
	})

	// A scrape may call the provider twice with a pause in between.
	writeTimeout := 2*cfg.Browserless.Timeout + cfg.Retry.Delay + 10*time.Second

	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Registered last so it stops first.
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	if err := shutdownMgr.Wait(ctx); err != nil {
		log.WithError(err).Error("shutdown finished with errors")
	}
}
