package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitsplit/internal/alert"
	"bitsplit/internal/config"
	"bitsplit/internal/core"
	"bitsplit/internal/store"
	"bitsplit/internal/supervisor"
	"bitsplit/pkg/logging"

	"github.com/joho/godotenv"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	statusFlag = flag.Bool("status", false, "Print per-market heartbeat summary and exit")
)

func main() {
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	zl, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	var logger core.ILogger = zl

	markets, err := config.LoadMarkets(cfg.System.MarketsConfig)
	if err != nil {
		logger.Fatal("Failed to load markets config", "error", err)
	}

	files, err := store.NewFileStore(cfg.System.LogsDir)
	if err != nil {
		logger.Fatal("Failed to prepare state directory", "error", err)
	}

	alerts := alert.NewAlertManager(logger)
	if creds, err := config.LoadCredentials(); err == nil && creds.TelegramToken != "" {
		alerts.AddChannel(alert.NewTelegramChannel(creds.TelegramToken, creds.TelegramChatID))
	}

	sup := supervisor.New(supervisor.Config{
		WorkerBin:        cfg.Supervisor.WorkerBin,
		CheckInterval:    time.Duration(cfg.Supervisor.CheckInterval) * time.Second,
		HeartbeatTimeout: time.Duration(cfg.Supervisor.HeartbeatTimeout) * time.Second,
		SummaryInterval:  time.Duration(cfg.Supervisor.SummaryInterval) * time.Second,
	}, markets, files, logger, alerts, nil)

	if *statusFlag {
		fmt.Print(sup.Status())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		logger.Error("Supervisor terminated with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Supervisor stopped cleanly")
}
