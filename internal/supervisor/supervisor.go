// Package supervisor watches per-market workers through their heartbeat
// files, respawns stalled ones, and emits periodic summary reports. It never
// touches worker state files; restart is safe because a fresh worker
// reconciles against the exchange before trading.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"bitsplit/internal/config"
	"bitsplit/internal/core"
	"bitsplit/internal/store"
	"bitsplit/pkg/concurrency"

	"github.com/shopspring/decimal"
)

// Config holds the supervisor's runtime parameters
type Config struct {
	WorkerBin        string
	CheckInterval    time.Duration
	HeartbeatTimeout time.Duration
	SummaryInterval  time.Duration
}

type workerProc struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	restarts  int
}

// Supervisor oversees one worker process per enabled market
type Supervisor struct {
	cfg      Config
	markets  map[string]config.MarketConfig
	files    *store.FileStore
	logger   core.ILogger
	notifier core.INotifier
	gateway  core.IExchange
	pool     *concurrency.WorkerPool

	mu        sync.Mutex
	procs     map[string]*workerProc
	startedAt time.Time
}

// New wires a supervisor. The gateway is optional and only enriches summary
// reports with live orders; the notifier is optional.
func New(
	cfg Config,
	markets map[string]config.MarketConfig,
	files *store.FileStore,
	logger core.ILogger,
	notifier core.INotifier,
	gateway core.IExchange,
) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		markets:   markets,
		files:     files,
		logger:    logger.WithField("component", "supervisor"),
		notifier:  notifier,
		gateway:   gateway,
		procs:     make(map[string]*workerProc),
		startedAt: time.Now(),
	}
	s.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "supervisor_checks",
		MaxWorkers: 4,
	}, logger)
	return s
}

// Run starts every enabled market's worker and loops until cancelled
func (s *Supervisor) Run(ctx context.Context) error {
	enabled := config.EnabledMarkets(s.markets)
	sort.Strings(enabled)
	if len(enabled) == 0 {
		return fmt.Errorf("no enabled markets in configuration")
	}
	s.logger.Info("Supervisor starting", "markets", strings.Join(enabled, ","))

	for _, market := range enabled {
		if err := s.spawn(market); err != nil {
			s.logger.Error("Initial worker spawn failed", "market", market, "error", err)
		}
	}

	checkTicker := time.NewTicker(s.cfg.CheckInterval)
	defer checkTicker.Stop()
	summaryTicker := time.NewTicker(s.cfg.SummaryInterval)
	defer summaryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.pool.Stop()
			return nil
		case <-checkTicker.C:
			s.checkAll(enabled)
		case <-summaryTicker.C:
			s.summarize(ctx, enabled)
		}
	}
}

// checkAll fans the per-market staleness checks out to the pool
func (s *Supervisor) checkAll(markets []string) {
	var wg sync.WaitGroup
	for _, market := range markets {
		market := market
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			s.checkOne(market)
		}); err != nil {
			wg.Done()
			s.logger.Error("Failed to submit check", "market", market, "error", err)
		}
	}
	wg.Wait()
}

func (s *Supervisor) checkOne(market string) {
	stale, reason := s.isStale(market)
	if !stale {
		return
	}

	s.logger.Warn("Worker heartbeat stale, restarting", "market", market, "reason", reason)
	s.notify(fmt.Sprintf("🚨 %s worker stale (%s), restarting", market, reason))

	s.mu.Lock()
	if proc, ok := s.procs[market]; ok && proc.cmd != nil && proc.cmd.Process != nil {
		// A hung process may still hold the exchange session; kill it
		// before the replacement reconciles.
		_ = proc.cmd.Process.Kill()
	}
	s.mu.Unlock()

	if err := s.spawn(market); err != nil {
		s.logger.Error("Worker respawn failed", "market", market, "error", err)
		s.notify(fmt.Sprintf("❌ %s worker respawn failed: %v", market, err))
	}
}

// isStale reports whether the market's heartbeat is missing, unreadable, or
// older than the timeout
func (s *Supervisor) isStale(market string) (bool, string) {
	hb, err := s.files.ReadHeartbeat(market)
	if err != nil {
		return true, fmt.Sprintf("unreadable heartbeat: %v", err)
	}
	if hb == nil {
		// Grace period: a freshly spawned worker has not written yet
		s.mu.Lock()
		proc, ok := s.procs[market]
		s.mu.Unlock()
		if ok && time.Since(proc.startedAt) < s.cfg.HeartbeatTimeout {
			return false, ""
		}
		return true, "heartbeat missing"
	}

	ts, err := store.ParseHeartbeatTime(hb.Timestamp)
	if err != nil {
		return true, err.Error()
	}
	if age := time.Since(ts); age > s.cfg.HeartbeatTimeout {
		return true, fmt.Sprintf("last heartbeat %s ago", age.Round(time.Second))
	}
	return false, ""
}

// spawn starts a worker subprocess with the market's configured parameters
func (s *Supervisor) spawn(market string) error {
	mc, ok := s.markets[market]
	if !ok {
		return fmt.Errorf("market %s not in configuration", market)
	}

	args := []string{
		"--market", market,
		"--start-price", mc.StartPrice.String(),
		"--krw-amount", mc.QuoteAmount.String(),
		"--max-levels", strconv.Itoa(mc.MaxLevels),
		"--buy-gap", mc.BuyGap.String(),
		"--sell-gap", mc.SellGap.String(),
		"--resume-level", strconv.Itoa(mc.Resume),
	}
	cmd := exec.Command(s.cfg.WorkerBin, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	s.mu.Lock()
	restarts := 0
	if prev, ok := s.procs[market]; ok {
		restarts = prev.restarts + 1
	}
	s.procs[market] = &workerProc{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		restarts:  restarts,
	}
	s.mu.Unlock()

	// Reap the child so a dead worker never lingers as a zombie
	go func() {
		err := cmd.Wait()
		s.logger.Info("Worker exited", "market", market, "pid", cmd.Process.Pid, "error", err)
	}()

	s.logger.Info("Worker started", "market", market, "pid", cmd.Process.Pid, "restarts", restarts)
	return nil
}

// summarize emits the periodic aggregated report
func (s *Supervisor) summarize(ctx context.Context, markets []string) {
	report := s.Summary(ctx, markets)
	s.logger.Info("Periodic summary", "report", report)
	s.notify(report)
}

// Summary builds a human readable report of every market's heartbeat state
func (s *Supervisor) Summary(ctx context.Context, markets []string) string {
	var b strings.Builder
	total := decimal.Zero
	var unhealthy []string

	fmt.Fprintf(&b, "📊 Grid supervisor report (uptime %s)\n", time.Since(s.startedAt).Round(time.Second))
	for _, market := range markets {
		hb, err := s.files.ReadHeartbeat(market)
		if err != nil || hb == nil {
			unhealthy = append(unhealthy, market)
			fmt.Fprintf(&b, "• %s: no heartbeat\n", market)
			continue
		}
		if stale, _ := s.isStale(market); stale {
			unhealthy = append(unhealthy, market)
		}

		total = total.Add(hb.RealizedProfit)
		fmt.Fprintf(&b, "• %s: level %d, profit %s, %d pending orders\n",
			market, hb.AnchorLevel, hb.RealizedProfit.StringFixed(0), hb.PendingOrders)

		if s.gateway != nil {
			if open, err := s.gateway.GetOpenOrders(ctx, market, 5); err == nil {
				for _, o := range open {
					fmt.Fprintf(&b, "    %s %s @ %s\n", o.Side, o.Volume, o.Price)
				}
			}
		}
	}

	fmt.Fprintf(&b, "Total profit: %s\n", total.StringFixed(0))
	if len(unhealthy) > 0 {
		fmt.Fprintf(&b, "Unhealthy: %s\n", strings.Join(unhealthy, ", "))
	}
	return b.String()
}

// Status renders a one-shot per-market heartbeat summary for the CLI
func (s *Supervisor) Status() string {
	enabled := config.EnabledMarkets(s.markets)
	sort.Strings(enabled)

	var b strings.Builder
	for _, market := range enabled {
		hb, err := s.files.ReadHeartbeat(market)
		switch {
		case err != nil:
			fmt.Fprintf(&b, "%-10s heartbeat unreadable: %v\n", market, err)
		case hb == nil:
			fmt.Fprintf(&b, "%-10s no heartbeat\n", market)
		default:
			age := "?"
			if ts, err := store.ParseHeartbeatTime(hb.Timestamp); err == nil {
				age = time.Since(ts).Round(time.Second).String()
			}
			fmt.Fprintf(&b, "%-10s level %-3d profit %-12s pending %-2d age %s\n",
				market, hb.AnchorLevel, hb.RealizedProfit.StringFixed(0), hb.PendingOrders, age)
		}
	}
	if b.Len() == 0 {
		return "no enabled markets\n"
	}
	return b.String()
}

func (s *Supervisor) notify(text string) {
	if s.notifier != nil {
		s.notifier.SendMessage(text)
	}
}
