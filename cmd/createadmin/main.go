package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"kioskscan/internal/auth"
	"kioskscan/internal/config"
	"kioskscan/internal/logger"
	"kioskscan/internal/store"
)

// createadmin creates an admin account or resets an existing one's email
// and password.
func main() {
	username := flag.String("username", "admin", "admin username")
	email := flag.String("email", "", "admin email")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password (defaults to $ADMIN_PASSWORD)")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: createadmin -username NAME -email EMAIL -password PASSWORD")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()
	if err := store.Migrate(db.Client, zl); err != nil {
		zl.Fatal("migrate failed", zap.Error(err))
	}

	// Token settings are unused here; EnsureAdmin only writes the account.
	svc := auth.NewService(auth.NewRepository(db.Client), nil, auth.TokenConfig{}, zl)
	admin, err := svc.EnsureAdmin(ctx, *username, *email, *password)
	if err != nil {
		zl.Fatal("ensure admin failed", zap.Error(err))
	}
	zl.Info("admin ready", zap.String("admin_id", admin.ID), zap.String("username", admin.Username))
}
