package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kioskscan/internal/activity"
	"kioskscan/internal/attendance"
	"kioskscan/internal/auth"
	"kioskscan/internal/cloudinary"
	"kioskscan/internal/config"
	"kioskscan/internal/dashboard"
	"kioskscan/internal/export"
	"kioskscan/internal/handler"
	"kioskscan/internal/httpmiddleware"
	"kioskscan/internal/logger"
	"kioskscan/internal/mirror"
	"kioskscan/internal/queue"
	"kioskscan/internal/store"
	"kioskscan/internal/student"
)

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

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, zl); err != nil {
		zl.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(db.Client, zl); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey, zl.Named("queue"))
	}

	var revocations auth.RevocationStore
	if cfg.RevocationStore == "memory" {
		revocations = auth.NewMemoryRevocations()
	} else {
		revocations = auth.NewRedisRevocations(redisClient.Client)
	}

	var photos student.PhotoStore
	if cfg.CloudinaryConfigured() {
		photos = cloudinary.New(cfg.CloudName, cfg.CloudAPIKey, cfg.CloudAPISecret, cfg.CloudFolder)
		zl.Info("cloudinary configured", zap.String("cloud", cfg.CloudName))
	} else {
		zl.Info("cloudinary not configured, photo uploads accept external urls only")
	}

	studentRepo := student.NewRepository(db.Client)
	hub := activity.NewHub()
	defer hub.Close()

	att := attendance.NewService(
		student.NewResolver(studentRepo, cfg.FuzzyMaxPattern, zl.Named("resolver")),
		studentRepo,
		attendance.NewRepository(db.Client),
		attendance.Options{Sync: q, Events: hub, HistoryWindow: cfg.HistoryWindow, Logger: zl.Named("attendance")},
	)
	admins := auth.NewService(auth.NewRepository(db.Client), revocations, auth.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		TTL:        cfg.AccessTTL,
	}, zl.Named("auth"))

	// The in-memory queue only reaches consumers in this process.
	if cfg.QueueBackend == "memory" {
		messages, err := q.Consume(ctx)
		if err != nil {
			return fmt.Errorf("consume sync queue: %w", err)
		}
		go mirror.NewSyncer(studentRepo, zl.Named("mirror")).Run(ctx, messages)
	}

	h := handler.New(handler.Deps{
		Attendance: att,
		Students:   student.NewService(studentRepo, photos, loc, zl.Named("students")),
		Dashboard:  dashboard.NewService(dashboard.NewRepository(db.Client), loc),
		Export:     export.NewService(export.NewRepository(db.Client), loc),
		Admins:     admins,
		Events:     hub,
		Logger:     zl,
	})

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go pruneLimiter(ctx, limiter)

	r := gin.New()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(zl),
		httpmiddleware.Logger(zl.Named("http"), "/healthz", "/metrics"),
		httpmiddleware.CORS(cfg.Origins()),
		httpmiddleware.SecurityHeaders(),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || (!redisHealthy && needsRedis(cfg)) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "redis": redisHealthy, "db": dbHealthy})
	})

	api := r.Group("/api", limiter.Middleware(), httpmiddleware.BodyLimit(cfg.MaxBodyBytes))
	h.Register(api, auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer, revocations))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// no WriteTimeout: activity streams stay open
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("starting server", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	zl.Info("shutting down server")

	// Closing the hub ends open activity streams so Shutdown can drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server forced shutdown", zap.Error(err))
	}
	zl.Info("server exited")
	return nil
}

func needsRedis(cfg config.App) bool {
	return cfg.QueueBackend == "redis" || cfg.RevocationStore == "redis"
}

func pruneLimiter(ctx context.Context, l *httpmiddleware.TokenBucket) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune(10 * time.Minute)
		}
	}
}
