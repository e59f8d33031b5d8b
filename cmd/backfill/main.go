package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kioskscan/internal/attendance"
	"kioskscan/internal/backfill"
	"kioskscan/internal/config"
	"kioskscan/internal/logger"
	"kioskscan/internal/store"
	"kioskscan/internal/student"
)

func main() {
	task := flag.String("task", "", "visits | middle-initials")
	dryRun := flag.Bool("dry-run", false, "report changes without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()
	if err := store.Migrate(db.Client, zl); err != nil {
		zl.Fatal("migrate failed", zap.Error(err))
	}

	students := student.NewRepository(db.Client)
	var res backfill.Result
	switch *task {
	case "visits":
		res, err = backfill.Visits(ctx, students, attendance.NewRepository(db.Client), *dryRun, zl)
	case "middle-initials":
		res, err = backfill.MiddleInitials(ctx, students, *dryRun, zl)
	default:
		fmt.Fprintln(os.Stderr, "usage: backfill -task visits|middle-initials [-dry-run]")
		os.Exit(2)
	}
	if err != nil {
		zl.Fatal("backfill failed", zap.String("task", *task), zap.Error(err))
	}
	fmt.Printf("%s: scanned=%d changed=%d skipped=%d\n", *task, res.Scanned, res.Changed, res.Skipped)
}
