package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/booking-engine/internal/booking"
	"github.com/clinicdesk/booking-engine/internal/config"
	"github.com/clinicdesk/booking-engine/internal/db"
	"github.com/clinicdesk/booking-engine/internal/logger"
	redisclient "github.com/clinicdesk/booking-engine/internal/redis"
)

// The dayclose worker sweeps confirmed appointments whose date has passed
// and marks them completed, so past visits stop looking actionable in
// staff views. Transitions go through the regular service path.
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

	zlog.Info("dayclose-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

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

	// Run once at startup
	runOnce(rootCtx, svc, zlog)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping dayclose worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, zlog)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, zlog *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	closed, err := svc.CompletePastConfirmed(runCtx)
	if err != nil {
		zlog.Error("dayclose run error", zap.Error(err))
		return
	}

	zlog.Info("dayclose run finished",
		zap.Int("completed", closed),
		zap.Duration("took", time.Since(start)),
	)
}
