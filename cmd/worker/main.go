package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bitsplit/internal/alert"
	"bitsplit/internal/config"
	"bitsplit/internal/core"
	"bitsplit/internal/engine"
	"bitsplit/internal/exchange/bithumb"
	"bitsplit/internal/ladder"
	"bitsplit/internal/mock"
	"bitsplit/internal/reconcile"
	"bitsplit/internal/safety"
	"bitsplit/internal/store"
	"bitsplit/internal/tick"
	"bitsplit/pkg/logging"
	"bitsplit/pkg/telemetry"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	configFile  = flag.String("config", "configs/config.yaml", "Path to configuration file")
	marketFlag  = flag.String("market", "", "Market code, e.g. KRW-BTC")
	startPrice  = flag.String("start-price", "", "Ladder start price (level 1 buy)")
	krwAmount   = flag.String("krw-amount", "", "Quote currency amount per level")
	maxLevels   = flag.Int("max-levels", 0, "Number of ladder levels")
	buyGap      = flag.String("buy-gap", "", "Gap between consecutive buy levels")
	sellGap     = flag.String("sell-gap", "", "Gap from a level's buy to its sell")
	resumeLevel = flag.Int("resume-level", 0, "Restart ladder at this level (0 = normal start)")
	useMock     = flag.Bool("mock", false, "Trade against an in-memory exchange")
)

func main() {
	flag.Parse()

	// Secrets come from the environment; .env is a convenience for dev
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

	if *marketFlag == "" {
		zl.Fatal("Market must be provided via --market")
	}
	market := strings.ToUpper(*marketFlag)
	var logger core.ILogger = zl.WithField("market", market)

	// Ladder geometry: markets_config.json supplies defaults, flags override
	ladderCfg, err := buildLadderConfig(cfg, market)
	if err != nil {
		logger.Fatal("Invalid ladder parameters", "error", err)
	}

	// Alerting
	alerts := alert.NewAlertManager(logger)
	creds, credErr := config.LoadCredentials()
	if credErr == nil && creds.TelegramToken != "" {
		alerts.AddChannel(alert.NewTelegramChannel(creds.TelegramToken, creds.TelegramChatID))
	}

	// Exchange gateway
	var gateway core.IExchange
	if *useMock {
		logger.Info("Using MOCK exchange")
		m := mock.NewExchange()
		m.SetLastPrice(market, ladderCfg.StartPrice)
		m.SetBalance(strings.SplitN(market, "-", 2)[0], ladderCfg.QuoteAmount.Mul(decimal.NewFromInt(int64(ladderCfg.MaxLevels))), decimal.Zero)
		gateway = m
	} else {
		if credErr != nil {
			logger.Fatal("Missing exchange credentials", "error", credErr)
		}
		signer := bithumb.NewSigner(creds.APIKey, creds.APISecret, cfg.Exchange.BaseURL)
		gateway = bithumb.NewClient(cfg.Exchange.BaseURL, signer, logger)
	}

	files, err := store.NewFileStore(cfg.System.LogsDir)
	if err != nil {
		logger.Fatal("Failed to prepare state directory", "error", err)
	}

	ledger, err := store.NewTradeLedger(cfg.System.LedgerPath)
	if err != nil {
		logger.Fatal("Failed to open trade ledger", "error", err)
	}
	defer func() { _ = ledger.Close() }()

	feeRate := decimal.NewFromFloat(cfg.Exchange.FeeRate)
	baseCurrency := strings.SplitN(market, "-", 2)[1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := safety.NewSafetyChecker(logger)
	if err := checker.CheckAccountSafety(ctx, gateway, ladderCfg, feeRate); err != nil {
		alerts.SendMessage(fmt.Sprintf("🚨 %s pre-start safety check failed: %v", market, err))
		logger.Fatal("Safety check failed", "error", err)
	}

	reconciler := reconcile.New(reconcile.Config{
		Market:       market,
		BaseCurrency: baseCurrency,
		FeeRate:      feeRate,
	}, gateway, files, logger, alerts)

	eng := engine.New(engine.Config{
		Market:              market,
		BaseCurrency:        baseCurrency,
		FeeRate:             feeRate,
		SleepInterval:       cfg.SleepInterval(),
		PairDelay:           cfg.PairDelay(),
		HealthCheckInterval: cfg.Timing.HealthCheckInterval,
		ResumeLevel:         *resumeLevel,
		CallTimeout:         cfg.CallTimeout(),
	}, ladderCfg, gateway, files, ledger, reconciler, logger, alerts)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Telemetry.EnableMetrics {
		metrics := telemetry.NewServer(cfg.Telemetry.MetricsPort, logger)
		g.Go(func() error { return metrics.Start(gctx) })
	}

	g.Go(func() error { return eng.Run(gctx) })

	alerts.SendMessage(fmt.Sprintf("🚀 %s worker started (start %s, %d levels)",
		market, ladderCfg.StartPrice, ladderCfg.MaxLevels))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Worker terminated with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped cleanly")
}

// buildLadderConfig merges markets_config.json defaults with flag overrides
func buildLadderConfig(cfg *config.Config, market string) (ladder.Config, error) {
	markets, err := config.LoadMarkets(cfg.System.MarketsConfig)
	if err != nil {
		return ladder.Config{}, err
	}
	mc := markets[market]

	lc := ladder.Config{
		Market:      market,
		StartPrice:  mc.StartPrice,
		QuoteAmount: mc.QuoteAmount,
		MaxLevels:   mc.MaxLevels,
		BuyGap:      mc.BuyGap,
		BuyMode:     ladder.GapMode(mc.BuyMode),
		SellGap:     mc.SellGap,
		SellMode:    ladder.GapMode(mc.SellMode),
	}
	if lc.BuyMode == "" {
		lc.BuyMode = ladder.GapPercent
	}
	if lc.SellMode == "" {
		lc.SellMode = ladder.GapPercent
	}

	if *startPrice != "" {
		if lc.StartPrice, err = decimal.NewFromString(*startPrice); err != nil {
			return ladder.Config{}, fmt.Errorf("invalid --start-price: %w", err)
		}
	}
	if *krwAmount != "" {
		if lc.QuoteAmount, err = decimal.NewFromString(*krwAmount); err != nil {
			return ladder.Config{}, fmt.Errorf("invalid --krw-amount: %w", err)
		}
	}
	if *maxLevels > 0 {
		lc.MaxLevels = *maxLevels
	}
	if *buyGap != "" {
		if lc.BuyGap, err = decimal.NewFromString(*buyGap); err != nil {
			return ladder.Config{}, fmt.Errorf("invalid --buy-gap: %w", err)
		}
	}
	if *sellGap != "" {
		if lc.SellGap, err = decimal.NewFromString(*sellGap); err != nil {
			return ladder.Config{}, fmt.Errorf("invalid --sell-gap: %w", err)
		}
	}

	// An unregistered symbol is fatal before any order goes out
	lc.Tick, err = tick.Size(market)
	if err != nil {
		return ladder.Config{}, err
	}
	return lc, nil
}
