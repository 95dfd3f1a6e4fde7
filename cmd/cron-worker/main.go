package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/forestcarbon-backend/api/routes"
	"github.com/angelmondragon/forestcarbon-backend/internal/cron"
	"github.com/angelmondragon/forestcarbon-backend/pkg/config"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/instance"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
	"github.com/angelmondragon/forestcarbon-backend/pkg/migrate"
	"github.com/angelmondragon/forestcarbon-backend/pkg/pubsub"
	"github.com/angelmondragon/forestcarbon-backend/pkg/redis"
)

const (
	lockKeyName     = "cron-worker"
	shutdownTimeout = 10 * time.Second
)

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	checks := map[string]db.Pinger{"database": dbClient, "redis": redisClient}

	var psClient *pubsub.Client
	if cfg.FeatureFlags.PublishNotifications {
		psClient, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		requireResource(ctx, logg, "pubsub", err)
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		checks["pubsub"] = psClient
	}

	registerer := prometheus.DefaultRegisterer
	cronMetrics := metrics.NewCronJobMetrics(registerer)
	carbonMetrics := metrics.NewCarbonMetrics(registerer)

	deps, err := buildServices(cfg, logg, dbClient, psClient, carbonMetrics)
	requireResource(ctx, logg, "services", err)

	registry, err := buildRegistry(logg, cronMetrics, deps)
	requireResource(ctx, logg, "cron jobs", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKeyName), cfg.Cron.LockTTL)
	requireResource(ctx, logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Recorder: redisClient,
		Interval: cfg.Cron.Interval,
	})
	requireResource(ctx, logg, "cron service", err)

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		return
	}

	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Metrics.Port),
		Handler:           routes.NewOpsRouter(cfg, logg, prometheus.DefaultGatherer, checks),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logg.Info(logg.WithField(ctx, "addr", opsServer.Addr), "ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "ops server shutdown failed", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
