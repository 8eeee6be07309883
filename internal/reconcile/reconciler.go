// Package reconcile rebuilds authoritative ladder state from three
// independent sources of truth: the persisted snapshot, the exchange's open
// order list, and the on-exchange base asset balance. It runs on warm start
// and whenever the engine suspects drift.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitsplit/internal/core"
	"bitsplit/internal/exchange"
	"bitsplit/internal/ladder"
	"bitsplit/internal/store"
	apperrors "bitsplit/pkg/errors"
	"bitsplit/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// driftThreshold is the relative balance divergence that triggers recovery
var (
	driftThreshold = decimal.RequireFromString("0.1")
	ownershipRatio = decimal.RequireFromString("0.99")
	driftEpsilon   = decimal.RequireFromString("0.0000000001")
)

// Config wires a Reconciler to one market
type Config struct {
	Market       string
	BaseCurrency string
	FeeRate      decimal.Decimal
}

// Reconciler repairs a snapshot against the exchange
type Reconciler struct {
	cfg      Config
	gateway  core.IExchange
	files    *store.FileStore
	logger   core.ILogger
	notifier core.INotifier
}

// New creates a reconciler. The notifier may be nil.
func New(cfg Config, gateway core.IExchange, files *store.FileStore, logger core.ILogger, notifier core.INotifier) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		gateway:  gateway,
		files:    files,
		logger:   logger.WithField("component", "reconciler").WithField("market", cfg.Market),
		notifier: notifier,
	}
}

// Run executes the three reconciliation passes in order, persisting after
// each. Running it twice against an unchanged exchange is a no-op the second
// time.
func (r *Reconciler) Run(ctx context.Context, snap *ladder.Snapshot) error {
	if err := r.syncOrderIDs(ctx, snap); err != nil {
		return fmt.Errorf("order sync failed: %w", err)
	}
	if err := r.persist(snap); err != nil {
		return err
	}

	if err := r.recoverFromBalance(ctx, snap); err != nil {
		return fmt.Errorf("balance recovery failed: %w", err)
	}
	if err := r.persist(snap); err != nil {
		return err
	}

	if err := r.sweepOrphans(ctx, snap); err != nil {
		return fmt.Errorf("orphan sweep failed: %w", err)
	}
	if err := r.persist(snap); err != nil {
		return err
	}

	// The profit scalar can lag the history if a crash landed between the
	// two writes. The history is the source of truth.
	if snap.RealizedProfit.Sub(snap.HistoryProfit()).Abs().GreaterThan(decimal.NewFromInt(1)) {
		r.logger.Warn("Realized profit diverged from trade history, rebuilding",
			"scalar", snap.RealizedProfit, "history", snap.HistoryProfit())
		snap.RecoverProfit()
		if err := r.persist(snap); err != nil {
			return err
		}
	}

	return nil
}

// syncOrderIDs polls every tracked unfilled order. A filled buy sets the
// flag; a filled sell books the completed cycle; an unknown order clears the
// ID so later passes can repopulate it.
func (r *Reconciler) syncOrderIDs(ctx context.Context, snap *ladder.Snapshot) error {
	for _, l := range snap.Levels {
		if l.BuyOrderID != "" && !l.BuyFilled {
			detail, err := r.gateway.GetOrderDetail(ctx, l.BuyOrderID)
			if errors.Is(err, apperrors.ErrOrderNotFound) {
				r.logger.Info("Tracked buy order unknown at venue, clearing", "level", l.Level, "order_id", l.BuyOrderID)
				l.BuyOrderID = ""
			} else if err != nil {
				return err
			} else if exchange.ParseFill(detail).Filled {
				r.logger.Info("Buy fill discovered during reconciliation", "level", l.Level)
				l.BuyFilled = true
				telemetry.Fills.WithLabelValues(r.cfg.Market, string(core.SideBuy)).Inc()
			}
		}

		if l.SellOrderID != "" && !l.SellFilled {
			detail, err := r.gateway.GetOrderDetail(ctx, l.SellOrderID)
			if errors.Is(err, apperrors.ErrOrderNotFound) {
				r.logger.Info("Tracked sell order unknown at venue, clearing", "level", l.Level, "order_id", l.SellOrderID)
				l.SellOrderID = ""
			} else if err != nil {
				return err
			} else if exchange.ParseFill(detail).Filled {
				r.logger.Info("Sell fill discovered during reconciliation, booking trade", "level", l.Level)
				rec := snap.ApplyTrade(l, r.cfg.FeeRate, time.Now())
				telemetry.Fills.WithLabelValues(r.cfg.Market, string(core.SideSell)).Inc()
				telemetry.RealizedProfit.WithLabelValues(r.cfg.Market).Set(snap.RealizedProfit.InexactFloat64())
				r.notify(fmt.Sprintf("✅ %s level %d sell fill recovered on restart, profit %s",
					r.cfg.Market, rec.Level, rec.Profit.StringFixed(0)))
			}
		}
	}
	return nil
}

// recoverFromBalance reassigns filled-buy ownership when the on-exchange
// base balance disagrees with the snapshot by more than the drift threshold.
// Ownership is granted greedily from the deepest level up, since later fills
// correspond to deeper drops and larger accumulated holdings.
func (r *Reconciler) recoverFromBalance(ctx context.Context, snap *ladder.Snapshot) error {
	balances, err := r.gateway.GetBalance(ctx)
	if err != nil {
		return err
	}

	balance := decimal.Zero
	for _, b := range balances {
		if b.Currency == r.cfg.BaseCurrency {
			balance = b.Total()
			break
		}
	}

	expected := decimal.Zero
	for _, l := range snap.Levels {
		if l.BuyFilled && !l.SellFilled {
			expected = expected.Add(l.Volume)
		}
	}

	denom := expected
	if driftEpsilon.GreaterThan(denom) {
		denom = driftEpsilon
	}
	drift := balance.Sub(expected).Abs().Div(denom)
	if drift.LessThanOrEqual(driftThreshold) {
		return nil
	}

	r.logger.Warn("Base balance diverged from snapshot, reconstructing ownership",
		"balance", balance, "expected", expected, "drift", drift)

	// Clear current ownership, leaving completed (manual resume) markers
	for _, l := range snap.Levels {
		if l.BuyFilled && !l.SellFilled {
			l.BuyFilled = false
		}
	}

	remaining := balance
	var reconstructed []int
	for i := len(snap.Levels) - 1; i >= 0; i-- {
		l := snap.Levels[i]
		if l.BuyFilled && l.SellFilled {
			continue
		}
		if remaining.GreaterThanOrEqual(l.Volume.Mul(ownershipRatio)) {
			l.BuyFilled = true
			l.SellFilled = false
			l.BuyOrderID = ""
			l.SellOrderID = ""
			remaining = remaining.Sub(l.Volume)
			reconstructed = append(reconstructed, l.Level)
		}
	}

	telemetry.Repairs.WithLabelValues(r.cfg.Market, "balance").Inc()
	r.notify(fmt.Sprintf("⚠️ %s balance-based recovery: balance %s vs expected %s, reconstructed levels %v",
		r.cfg.Market, balance, expected, reconstructed))
	return nil
}

// sweepOrphans reattaches live orders that match an untracked level side and
// cancels whatever remains unclaimed.
func (r *Reconciler) sweepOrphans(ctx context.Context, snap *ladder.Snapshot) error {
	open, err := r.gateway.GetOpenOrders(ctx, r.cfg.Market, 100)
	if err != nil {
		return err
	}

	tracked := make(map[string]bool)
	for _, p := range snap.PendingOrders() {
		tracked[p.OrderID] = true
	}

	tick := snap.Config.Tick
	var orphans []core.OpenOrder
	for _, order := range open {
		if tracked[order.OrderID] {
			continue
		}
		if l := r.matchLevel(snap, order, tick); l != nil {
			r.logger.Info("Reattached live order to level",
				"level", l.Level, "side", order.Side, "order_id", order.OrderID)
			if order.Side == core.SideBuy {
				l.BuyOrderID = order.OrderID
			} else {
				l.SellOrderID = order.OrderID
			}
			tracked[order.OrderID] = true
			continue
		}
		orphans = append(orphans, order)
	}

	for _, order := range orphans {
		r.logger.Warn("Cancelling orphan order",
			"order_id", order.OrderID, "side", order.Side, "price", order.Price)
		if err := r.gateway.CancelOrder(ctx, order.OrderID); err != nil && !errors.Is(err, apperrors.ErrOrderNotFound) {
			r.logger.Error("Failed to cancel orphan", "order_id", order.OrderID, "error", err)
		}
		telemetry.OrdersCanceled.WithLabelValues(r.cfg.Market).Inc()
		telemetry.Repairs.WithLabelValues(r.cfg.Market, "orphan").Inc()
		r.notify(fmt.Sprintf("🗑️ %s cancelled orphan %s %s @ %s",
			r.cfg.Market, order.Side, order.OrderID, order.Price))
	}
	return nil
}

// matchLevel finds a level whose untracked side matches the order within the
// price and volume tolerances
func (r *Reconciler) matchLevel(snap *ladder.Snapshot, order core.OpenOrder, tick decimal.Decimal) *ladder.GridLevel {
	for _, l := range snap.Levels {
		if !ladder.WithinVolume(l.Volume, order.Volume) {
			continue
		}
		switch order.Side {
		case core.SideBuy:
			if l.BuyOrderID == "" && !l.BuyFilled && ladder.WithinPrice(l.BuyPrice, order.Price, tick) {
				return l
			}
		case core.SideSell:
			if l.SellOrderID == "" && l.BuyFilled && !l.SellFilled && ladder.WithinPrice(l.SellPrice, order.Price, tick) {
				return l
			}
		}
	}
	return nil
}

func (r *Reconciler) persist(snap *ladder.Snapshot) error {
	return r.files.SaveSnapshot(r.cfg.Market, snap)
}

func (r *Reconciler) notify(text string) {
	if r.notifier != nil {
		r.notifier.SendMessage(text)
	}
}
