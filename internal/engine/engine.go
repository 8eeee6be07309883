// Package engine drives the per-market grid state machine: polling fills,
// cancelling stale orders on every fill, and registering the canonical
// (sell at filled level, buy at next level) pair. The loop is strictly
// single threaded; every mutation is persisted before the next external
// side effect so a crash at any point is recoverable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bitsplit/internal/core"
	"bitsplit/internal/exchange"
	"bitsplit/internal/ladder"
	"bitsplit/internal/reconcile"
	"bitsplit/internal/store"
	apperrors "bitsplit/pkg/errors"
	"bitsplit/pkg/retry"
	"bitsplit/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Config holds the runtime parameters of one worker's engine
type Config struct {
	Market              string
	BaseCurrency        string
	FeeRate             decimal.Decimal
	SleepInterval       time.Duration
	PairDelay           time.Duration
	HealthCheckInterval int
	ResumeLevel         int
	CallTimeout         time.Duration
}

// Engine is the grid state machine for a single market
type Engine struct {
	cfg        Config
	ladderCfg  ladder.Config
	gateway    core.IExchange
	files      *store.FileStore
	ledger     *store.TradeLedger
	reconciler *reconcile.Reconciler
	logger     core.ILogger
	notifier   core.INotifier

	snap  *ladder.Snapshot
	ticks int
}

// New wires an engine. The ledger and notifier may be nil.
func New(
	cfg Config,
	ladderCfg ladder.Config,
	gateway core.IExchange,
	files *store.FileStore,
	ledger *store.TradeLedger,
	reconciler *reconcile.Reconciler,
	logger core.ILogger,
	notifier core.INotifier,
) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 12
	}
	return &Engine{
		cfg:        cfg,
		ladderCfg:  ladderCfg,
		gateway:    gateway,
		files:      files,
		ledger:     ledger,
		reconciler: reconciler,
		logger:     logger.WithField("component", "engine").WithField("market", cfg.Market),
		notifier:   notifier,
	}
}

// Snapshot exposes the live state for tests and status reporting
func (e *Engine) Snapshot() *ladder.Snapshot {
	return e.snap
}

// Run bootstraps the ladder and enters the main loop until the context is
// cancelled. Open orders are left in place on clean shutdown; the next start
// reconciles them.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return e.shutdown()
		default:
		}

		if err := e.Tick(ctx); err != nil {
			if isFatal(err) {
				e.notify(fmt.Sprintf("🚨 %s worker stopping: %v", e.cfg.Market, err))
				return err
			}
			// Persist whatever we know and keep looping; the health
			// checker will converge the order set.
			e.logger.Error("Loop iteration failed", "error", err)
			if perr := e.persist(); perr != nil {
				e.logger.Error("Persist after failure also failed", "error", perr)
			}
		}

		select {
		case <-ctx.Done():
			return e.shutdown()
		case <-time.After(e.cfg.SleepInterval):
		}
	}
}

// Bootstrap decides between cold start, warm start and manual resume
func (e *Engine) Bootstrap(ctx context.Context) error {
	prev, err := e.files.LoadSnapshot(e.cfg.Market)
	if err != nil {
		// Refusing to run on a corrupt snapshot protects the accumulated
		// profit record from a silent reset.
		return err
	}

	if e.cfg.ResumeLevel > 0 {
		return e.manualResume(ctx)
	}

	if prev == nil {
		e.logger.Info("No snapshot found, cold start")
		return e.coldStart(ctx)
	}
	if !prev.Config.Matches(e.ladderCfg) {
		// The stale file is moved aside, not destroyed, so the operator
		// can recover the old profit record.
		e.logger.Warn("Snapshot config differs from current parameters, ignoring old snapshot")
		if err := e.files.BackupSnapshot(e.cfg.Market); err != nil {
			return err
		}
		e.notify(fmt.Sprintf("⚠️ %s configuration changed, starting a fresh ladder", e.cfg.Market))
		return e.coldStart(ctx)
	}

	e.logger.Info("Snapshot loaded, warm start",
		"levels", len(prev.Levels), "realized_profit", prev.RealizedProfit)
	e.snap = prev
	if err := e.reconciler.Run(ctx, e.snap); err != nil {
		return err
	}
	if err := e.ensureDesired(ctx); err != nil {
		return err
	}
	return e.persist()
}

func (e *Engine) coldStart(ctx context.Context) error {
	snap, err := ladder.Build(e.ladderCfg)
	if err != nil {
		return err
	}
	e.snap = snap
	if err := e.persist(); err != nil {
		return err
	}

	first := e.snap.LevelAt(1)
	if !e.placePair(ctx, nil, first) {
		return fmt.Errorf("%w: initial buy at level 1 not registered", apperrors.ErrOrderRejected)
	}
	return e.persist()
}

// manualResume restarts the ladder at level K: everything above is marked
// complete, K-1 becomes the anchor awaiting its sell, and a fresh buy goes
// in at K.
func (e *Engine) manualResume(ctx context.Context) error {
	k := e.cfg.ResumeLevel
	snap, err := ladder.Build(e.ladderCfg)
	if err != nil {
		return err
	}
	if snap.LevelAt(k) == nil {
		return fmt.Errorf("%w: resume level %d outside ladder of %d levels",
			apperrors.ErrInvalidOrderParameter, k, len(snap.Levels))
	}
	e.snap = snap

	for i := 1; i < k; i++ {
		l := e.snap.LevelAt(i)
		l.BuyFilled = true
		l.SellFilled = true
	}
	if err := e.persist(); err != nil {
		return err
	}

	if err := e.cancelAll(ctx); err != nil {
		e.logger.Warn("Cancel-all during manual resume failed", "error", err)
	}

	var sellTarget *ladder.GridLevel
	if anchor := e.snap.LevelAt(k - 1); anchor != nil {
		anchor.SellFilled = false
		sellTarget = anchor
	}
	buyTarget := e.snap.LevelAt(k)
	if !e.placePair(ctx, sellTarget, buyTarget) || buyTarget.BuyOrderID == "" {
		e.notify(fmt.Sprintf("🚨 %s manual resume at level %d failed: buy not registered", e.cfg.Market, k))
		return fmt.Errorf("%w: resume buy at level %d not registered", apperrors.ErrOrderRejected, k)
	}
	e.notify(fmt.Sprintf("🔄 %s resumed at level %d", e.cfg.Market, k))
	return e.persist()
}

// Tick runs one loop iteration: poll tracked orders, react to fills, run the
// periodic health check, refresh the heartbeat.
func (e *Engine) Tick(ctx context.Context) error {
	e.ticks++
	telemetry.LoopTicks.WithLabelValues(e.cfg.Market).Inc()

	for _, l := range e.snap.Levels {
		if l.BuyOrderID != "" && !l.BuyFilled {
			filled, err := e.pollFill(ctx, l.BuyOrderID)
			if err != nil {
				if errors.Is(err, apperrors.ErrOrderNotFound) {
					e.logger.Warn("Tracked buy vanished, clearing for repair", "level", l.Level)
					l.BuyOrderID = ""
					continue
				}
				return err
			}
			if filled {
				if err := e.onBuyFilled(ctx, l); err != nil {
					return err
				}
			}
		}

		if l.SellOrderID != "" && l.BuyFilled && !l.SellFilled {
			filled, err := e.pollFill(ctx, l.SellOrderID)
			if err != nil {
				if errors.Is(err, apperrors.ErrOrderNotFound) {
					e.logger.Warn("Tracked sell vanished, clearing for repair", "level", l.Level)
					l.SellOrderID = ""
					continue
				}
				return err
			}
			if filled {
				if err := e.onSellFilled(ctx, l); err != nil {
					return err
				}
			}
		}
	}

	if e.ticks%e.cfg.HealthCheckInterval == 0 {
		if err := e.HealthCheck(ctx); err != nil {
			return err
		}
	}

	e.writeHeartbeat()
	return nil
}

// onBuyFilled handles a buy fill at level L: the level becomes the anchor,
// every other live order is cancelled, and the canonical pair
// (sell at L, buy at L+1) is registered.
func (e *Engine) onBuyFilled(ctx context.Context, l *ladder.GridLevel) error {
	e.logger.Info("Buy filled", "level", l.Level, "price", l.BuyPrice)
	telemetry.Fills.WithLabelValues(e.cfg.Market, string(core.SideBuy)).Inc()

	l.BuyFilled = true
	if err := e.persist(); err != nil {
		return err
	}

	e.cancelAllExcept(ctx, l)
	if err := e.persist(); err != nil {
		return err
	}

	next := e.snap.LevelAt(l.Level + 1)
	e.placePair(ctx, l, next)
	e.notify(fmt.Sprintf("📈 %s level %d buy filled @ %s", e.cfg.Market, l.Level, l.BuyPrice))
	return e.persist()
}

// onSellFilled books the completed cycle, recycles the level, and re-arms it
// with a fresh buy. If the rung one below still holds inventory from an
// earlier round, its sell is pre-staged alongside.
func (e *Engine) onSellFilled(ctx context.Context, l *ladder.GridLevel) error {
	level := l.Level
	rec := e.snap.ApplyTrade(l, e.cfg.FeeRate, time.Now())
	e.logger.Info("Sell filled, trade complete",
		"level", level, "profit", rec.Profit, "realized_profit", e.snap.RealizedProfit)
	telemetry.Fills.WithLabelValues(e.cfg.Market, string(core.SideSell)).Inc()
	telemetry.RealizedProfit.WithLabelValues(e.cfg.Market).Set(e.snap.RealizedProfit.InexactFloat64())

	if e.ledger != nil {
		if err := e.ledger.Append(ctx, e.cfg.Market, rec); err != nil {
			e.logger.Error("Failed to append trade to ledger", "error", err)
		}
	}

	e.cancelAllExcept(ctx, l)
	if err := e.persist(); err != nil {
		return err
	}

	var sellTarget *ladder.GridLevel
	if below := e.snap.LevelAt(level - 1); below != nil && below.BuyFilled && !below.SellFilled {
		sellTarget = below
	}
	e.placePair(ctx, sellTarget, l)
	e.notify(fmt.Sprintf("💰 %s level %d cycle closed, profit %s (total %s)",
		e.cfg.Market, level, rec.Profit.StringFixed(0), e.snap.RealizedProfit.StringFixed(0)))
	return e.persist()
}

// cancelAllExcept cancels every tracked unfilled order on other levels and
// clears their IDs. IDs are cleared even when the cancel call fails: the
// orphan sweep is the safety net for a cancel that did not take.
func (e *Engine) cancelAllExcept(ctx context.Context, self *ladder.GridLevel) {
	for _, other := range e.snap.Levels {
		if other == self {
			continue
		}
		if other.BuyOrderID != "" && !other.BuyFilled {
			e.cancelOrder(ctx, other.BuyOrderID)
			other.BuyOrderID = ""
		}
		if other.SellOrderID != "" && !other.SellFilled {
			e.cancelOrder(ctx, other.SellOrderID)
			other.SellOrderID = ""
		}
	}
}

// placePair registers the sell leg first so the freed base asset is parked
// in an ask before a new bid consumes quote currency. Both legs are verified
// against the venue's open order list; a missing leg triggers one cancel-all
// and retry. Returns false when a desired leg is still missing afterwards.
func (e *Engine) placePair(ctx context.Context, sellTarget, buyTarget *ladder.GridLevel) bool {
	e.registerPair(ctx, sellTarget, buyTarget)

	if e.verifyPair(ctx, sellTarget, buyTarget) {
		return true
	}

	e.logger.Warn("Registered pair not visible at venue, retrying once")
	telemetry.Repairs.WithLabelValues(e.cfg.Market, "pair_retry").Inc()
	if err := e.cancelAll(ctx); err != nil {
		e.logger.Error("Cancel-all before pair retry failed", "error", err)
	}
	if sellTarget != nil {
		sellTarget.SellOrderID = ""
	}
	if buyTarget != nil {
		buyTarget.BuyOrderID = ""
	}
	if err := e.persist(); err != nil {
		e.logger.Error("Persist before pair retry failed", "error", err)
	}

	e.registerPair(ctx, sellTarget, buyTarget)
	if e.verifyPair(ctx, sellTarget, buyTarget) {
		return true
	}

	e.notify(fmt.Sprintf("⚠️ %s order pair incomplete after retry (sell@%s buy@%s)",
		e.cfg.Market, levelLabel(sellTarget), levelLabel(buyTarget)))
	return false
}

func (e *Engine) registerPair(ctx context.Context, sellTarget, buyTarget *ladder.GridLevel) {
	if sellTarget != nil && sellTarget.SellOrderID == "" {
		if err := e.persist(); err != nil {
			e.logger.Error("Persist before sell placement failed", "error", err)
		}
		id, err := e.placeOrder(ctx, core.SideSell, sellTarget.Volume, sellTarget.SellPrice)
		if err != nil {
			e.logger.Error("Sell placement failed", "level", sellTarget.Level, "error", err)
			e.notify(fmt.Sprintf("❌ %s level %d sell placement failed: %v", e.cfg.Market, sellTarget.Level, err))
		} else {
			sellTarget.SellOrderID = id
			if err := e.persist(); err != nil {
				e.logger.Error("Persist after sell placement failed", "error", err)
			}
		}
		time.Sleep(e.cfg.PairDelay)
	}

	if buyTarget != nil && buyTarget.BuyOrderID == "" {
		if err := e.persist(); err != nil {
			e.logger.Error("Persist before buy placement failed", "error", err)
		}
		id, err := e.placeOrder(ctx, core.SideBuy, buyTarget.Volume, buyTarget.BuyPrice)
		if err != nil {
			e.logger.Error("Buy placement failed", "level", buyTarget.Level, "error", err)
			e.notify(fmt.Sprintf("❌ %s level %d buy placement failed: %v", e.cfg.Market, buyTarget.Level, err))
		} else {
			buyTarget.BuyOrderID = id
			if err := e.persist(); err != nil {
				e.logger.Error("Persist after buy placement failed", "error", err)
			}
		}
	}
}

// verifyPair confirms each desired leg is visible in the venue's open order
// list within the price and volume tolerances
func (e *Engine) verifyPair(ctx context.Context, sellTarget, buyTarget *ladder.GridLevel) bool {
	if sellTarget == nil && buyTarget == nil {
		return true
	}

	open, err := e.openOrders(ctx)
	if err != nil {
		e.logger.Error("Failed to list open orders for verification", "error", err)
		return false
	}

	ok := true
	if sellTarget != nil && !present(open, core.SideSell, sellTarget.SellPrice, sellTarget.Volume, e.snap.Config.Tick) {
		ok = false
	}
	if buyTarget != nil && !present(open, core.SideBuy, buyTarget.BuyPrice, buyTarget.Volume, e.snap.Config.Tick) {
		ok = false
	}
	return ok
}

func present(open []core.OpenOrder, side core.Side, price, volume, tick decimal.Decimal) bool {
	for _, o := range open {
		if o.Side == side && ladder.WithinPrice(price, o.Price, tick) && ladder.WithinVolume(volume, o.Volume) {
			return true
		}
	}
	return false
}

// ensureDesired registers whatever sides of the desired order set are not
// already tracked. Used after warm-start reconciliation.
func (e *Engine) ensureDesired(ctx context.Context) error {
	sellTarget, buyTarget := e.desiredOrders()
	if sellTarget != nil && sellTarget.SellOrderID != "" {
		sellTarget = nil
	}
	if buyTarget != nil && buyTarget.BuyOrderID != "" {
		buyTarget = nil
	}
	if sellTarget == nil && buyTarget == nil {
		return nil
	}
	e.logger.Info("Registering missing desired orders",
		"sell_level", levelLabel(sellTarget), "buy_level", levelLabel(buyTarget))
	e.placePair(ctx, sellTarget, buyTarget)
	return e.persist()
}

func (e *Engine) shutdown() error {
	e.logger.Info("Shutting down, persisting final snapshot")
	return e.persist()
}

// writeHeartbeat refreshes the liveness file; failures are logged only
func (e *Engine) writeHeartbeat() {
	anchorLevel := 0
	if anchor := e.snap.Anchor(); anchor != nil {
		anchorLevel = anchor.Level
	}
	hb := store.Heartbeat{
		PID:            os.Getpid(),
		AnchorLevel:    anchorLevel,
		RealizedProfit: e.snap.RealizedProfit,
		PendingOrders:  len(e.snap.PendingOrders()),
	}
	if err := e.files.WriteHeartbeat(e.cfg.Market, hb); err != nil {
		e.logger.Error("Failed to write heartbeat", "error", err)
	}
}

func (e *Engine) persist() error {
	return e.files.SaveSnapshot(e.cfg.Market, e.snap)
}

func (e *Engine) notify(text string) {
	if e.notifier != nil {
		e.notifier.SendMessage(text)
	}
}

// pollFill fetches and normalizes one order's detail payload
func (e *Engine) pollFill(ctx context.Context, orderID string) (bool, error) {
	var detail map[string]interface{}
	err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		var err error
		detail, err = e.gateway.GetOrderDetail(callCtx, orderID)
		return err
	})
	if err != nil {
		return false, err
	}
	return exchange.ParseFill(detail).Filled, nil
}

func (e *Engine) placeOrder(ctx context.Context, side core.Side, volume, price decimal.Decimal) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	id, err := e.gateway.PlaceLimitOrder(callCtx, e.cfg.Market, side, volume, price)
	if err == nil {
		telemetry.OrdersPlaced.WithLabelValues(e.cfg.Market, string(side)).Inc()
	}
	return id, err
}

func (e *Engine) cancelOrder(ctx context.Context, orderID string) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if err := e.gateway.CancelOrder(callCtx, orderID); err != nil && !errors.Is(err, apperrors.ErrOrderNotFound) {
		e.logger.Warn("Cancel failed", "order_id", orderID, "error", err)
	}
	telemetry.OrdersCanceled.WithLabelValues(e.cfg.Market).Inc()
}

func (e *Engine) cancelAll(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return e.gateway.CancelAllOrders(callCtx, e.cfg.Market)
}

func (e *Engine) openOrders(ctx context.Context) ([]core.OpenOrder, error) {
	var open []core.OpenOrder
	err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		var err error
		open, err = e.gateway.GetOpenOrders(callCtx, e.cfg.Market, 100)
		return err
	})
	return open, err
}

func isTransient(err error) bool {
	return errors.Is(err, apperrors.ErrNetwork) || errors.Is(err, apperrors.ErrRateLimitExceeded)
}

func isFatal(err error) bool {
	return errors.Is(err, apperrors.ErrUnknownSymbol) || errors.Is(err, apperrors.ErrCorruptSnapshot)
}

func levelLabel(l *ladder.GridLevel) string {
	if l == nil {
		return "-"
	}
	return fmt.Sprintf("%d", l.Level)
}
