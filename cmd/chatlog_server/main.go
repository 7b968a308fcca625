package main

/*
chatlog_server exposes the analysis pipeline over HTTP.

Usage:
  CHATLOG_SERVER_HTTP_ADDR=:8080 go run ./cmd/chatlog_server --config config.yaml

Routes:
  POST /v1/analyze   analyze uploaded exports (oracle key in X-Oracle-Key)
  POST /v1/summary   summarize a result document
  POST /v1/records   store the privacy-reduced record of a result document
  POST /v1/compare   rank a result document against the stored population
  GET  /health       liveness
  GET  /metrics      prometheus metrics
*/

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tetraminz/chatlog_audit/internal/app"
	"github.com/tetraminz/chatlog_audit/internal/config"
	"github.com/tetraminz/chatlog_audit/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := flag.String("config", "", "optional YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close_failed", zap.Error(err))
		}
	}()
	return a.Serve(ctx)
}
