package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"serenity/internal/config"
	"serenity/internal/pkg/logger"
	"serenity/internal/pkg/metrics"
	"serenity/internal/pkg/shutdown"
	"serenity/internal/renderer"
	"serenity/internal/repositories"
	"serenity/internal/storage"
	"serenity/internal/worker"
	"serenity/internal/worker/processor"
	"serenity/internal/worker/queue"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{ServiceName: "serenity-worker"}).LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "serenity-worker",
		AddSource:   cfg.Log.AddSource,
	})

	if !cfg.Captures.Enabled {
		log.LogFatal("worker requires the capture archive", errors.New("CAPTURES_ENABLED must be true"))
	}
	if cfg.Browserless.APIKey == "" {
		log.Warn("BROWSERLESS_API_KEY is not set; captures will fail")
	}

	log.Info("starting serenity worker", "version", version, "queue", cfg.Captures.Queue)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	pool, err := pgxpool.New(ctx, cfg.Captures.DatabaseURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.RegisterSimple("postgres", pool.Close)
	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Captures.RedisAddr})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("dependencies ready", "storage", sp.Provider())

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

	proc := processor.New(processor.Deps{
		Store:    repositories.NewCaptureRepository(pool),
		Renderer: svc,
		Storage:  sp,
		Metrics:  rec,
		Log:      log,
	})

	if addr := cfg.Worker.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rec.Handler())
		metricsSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		shutdownMgr.Register("metrics-server", metricsSrv.Shutdown)
		go func() {
			log.Info("metrics listening", "addr", addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	// Shutdown cancels runCtx first; the handler then waits for the
	// in-flight capture before Redis and Postgres close.
	runCtx := shutdownMgr.Context()
	stopped := make(chan struct{})
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		err := worker.Run(runCtx, worker.Deps{
			Queue:      queue.NewRedisQueue(rdb, cfg.Captures.Queue),
			Processor:  proc,
			Log:        log,
			PopTimeout: cfg.Worker.PopTimeout,
		})
		close(stopped)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("worker stopped")
		}
		// A worker that stops on its own takes the process down with it.
		_ = shutdownMgr.Shutdown()
	}()

	if err := shutdownMgr.Wait(ctx); err != nil {
		log.WithError(err).Error("shutdown finished with errors")
	}
}
