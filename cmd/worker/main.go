package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/directory"
	"qrattend/internal/logger"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker consumes reconciliation jobs from the Redis queue and upserts
// students into the directory.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	log := logger.WithComponent(logger.New(cfg.LogLevel, cfg.Env), "worker")
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != config.BackendRedis {
		log.Fatal("worker requires QUEUE_BACKEND=redis; the memory queue is consumed inside the api process")
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("invalid redis address", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	dir, closer, err := directory.Open(ctx, cfg)
	if err != nil {
		log.Fatal("student directory unavailable", zap.Error(err))
	}
	defer func() { _ = closer.Close() }()

	q := queue.NewRedisQueue(redisClient.Client, cfg.RedisPrefix+":jobs")
	worker := attendance.NewWorker(q, dir, log, cfg.ReconcileTimeout)
	if err := worker.Run(ctx); err != nil {
		log.Error("worker failed", zap.Error(err))
	}
}
