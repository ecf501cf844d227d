package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	"autocmx/internal/config"
	"autocmx/internal/logging"
	"autocmx/internal/storage"
	"autocmx/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CMX_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: logging.Format(cfg.Log.Format)})

	if cfg.RedisAddr == "" {
		logger.Error("worker needs a queue", "error", errors.New("redis_addr is not configured"))
		os.Exit(1)
	}
	s3c, err := storage.New(context.Background(), cfg.S3)
	if err != nil {
		logger.Error("failed to set up object storage", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started", "redis", cfg.RedisAddr, "bucket", cfg.S3.Bucket)
	if err := worker.Run(cfg.RedisAddr, s3c, logger); err != nil {
		logger.Error("worker terminated", "error", err)
		os.Exit(1)
	}
}
