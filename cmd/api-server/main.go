package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/booking-engine/internal/api"
	"github.com/clinicdesk/booking-engine/internal/booking"
	"github.com/clinicdesk/booking-engine/internal/config"
	"github.com/clinicdesk/booking-engine/internal/db"
	"github.com/clinicdesk/booking-engine/internal/logger"
	redisclient "github.com/clinicdesk/booking-engine/internal/redis"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	migrateCtx, cancelMigrate := context.WithTimeout(rootCtx, 10*time.Second)
	err = db.Migrate(migrateCtx, pgPool)
	cancelMigrate()
	if err != nil {
		zlog.Fatal("schema migration error", zap.Error(err))
	}

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zlog.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Warn("error closing redis", zap.Error(err))
		}
	}()
	zlog.Info("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	cache := redisclient.NewAvailabilityCache(rdb, cfg.AvailabilityTTL)
	svc := booking.NewService(repo, cache, cfg, zlog)

	router := api.NewRouter(api.RouterConfig{
		Service:         svc,
		PgPool:          pgPool,
		Redis:           rdb,
		Logger:          zlog,
		Location:        cfg.Location,
		RateLimitPerSec: cfg.RateLimitPerSec,
		Env:             cfg.Env,
		Version:         version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zlog.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()

	zlog.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("graceful shutdown failed", zap.Error(err))
	}
}
