package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saorsa-labs/fae/internal/application"
	"github.com/saorsa-labs/fae/internal/infrastructure/config"
	"github.com/saorsa-labs/fae/internal/infrastructure/logger"
	"go.uber.org/zap"
)

const (
	appName    = "fae"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting fae runtime", zap.String("version", appVersion))

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize runtime", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- app.Start(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-runErr:
		if err != nil {
			log.Error("runtime exited with error", zap.Error(err))
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	log.Info("fae runtime stopped")
}

func printUsage() {
	fmt.Printf(`%s v%s

Runs the fae on-device runtime, speaking newline-delimited JSON command
and event envelopes over stdin/stdout.

Usage:
  fae           Start the runtime
  fae version   Show version
  fae help      Show this help

Environment:
  FAE_CONFIG_DIR   config.toml home (default ~/.fae)
  FAE_DATA_DIR     sessions, scheduler snapshot, memory db
  FAE_CACHE_DIR    transient scratch space
`, appName, appVersion)
}
