package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kioskscan/internal/config"
	"kioskscan/internal/logger"
	"kioskscan/internal/mirror"
	"kioskscan/internal/queue"
	"kioskscan/internal/store"
	"kioskscan/internal/student"
)

// Worker consumes visit messages and keeps each student's embedded visit
// list in step with the ledger.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.QueueBackend != "redis" {
		zl.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is consumed by the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		zl.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey, zl.Named("queue"))
	messages, err := q.Consume(ctx)
	if err != nil {
		zl.Fatal("queue consume init failed", zap.Error(err))
	}

	zl.Info("worker started", zap.String("queue", queue.DefaultKey))
	mirror.NewSyncer(student.NewRepository(db.Client), zl.Named("mirror")).Run(ctx, messages)
	zl.Info("worker stopped")
}
