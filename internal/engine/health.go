package engine

import (
	"context"
	"fmt"

	"bitsplit/internal/core"
	"bitsplit/internal/ladder"
	"bitsplit/pkg/telemetry"
)

// desiredOrders infers the canonical order set from level state:
// a live sell at L implies {sell@L, buy@L+1}; a live buy at M implies
// {buy@M, sell@M-1 when M-1 holds inventory}; bare inventory at the anchor
// implies {sell@anchor, buy@anchor+1}; otherwise a single buy at the first
// unfilled level.
func (e *Engine) desiredOrders() (sellTarget, buyTarget *ladder.GridLevel) {
	for _, l := range e.snap.Levels {
		if l.SellOrderID != "" && !l.SellFilled {
			return l, e.snap.LevelAt(l.Level + 1)
		}
	}

	for _, l := range e.snap.Levels {
		if l.BuyOrderID != "" && !l.BuyFilled {
			if below := e.snap.LevelAt(l.Level - 1); below != nil && below.BuyFilled && !below.SellFilled {
				return below, l
			}
			return nil, l
		}
	}

	if anchor := e.snap.Anchor(); anchor != nil {
		return anchor, e.snap.LevelAt(anchor.Level + 1)
	}

	for _, l := range e.snap.Levels {
		if !l.BuyFilled {
			return nil, l
		}
	}
	return nil, nil
}

// HealthCheck compares the venue's live orders with the desired set and, on
// any mismatch, rebuilds the order universe from scratch: cancel everything,
// clear tracked IDs, re-register the desired pair.
func (e *Engine) HealthCheck(ctx context.Context) error {
	sellTarget, buyTarget := e.desiredOrders()

	open, err := e.openOrders(ctx)
	if err != nil {
		return err
	}

	if e.matchesDesired(open, sellTarget, buyTarget) {
		return nil
	}

	e.logger.Warn("Live orders diverge from desired set, repairing",
		"live", len(open), "sell_level", levelLabel(sellTarget), "buy_level", levelLabel(buyTarget))
	telemetry.Repairs.WithLabelValues(e.cfg.Market, "health").Inc()

	if err := e.cancelAll(ctx); err != nil {
		e.logger.Error("Cancel-all during repair failed", "error", err)
	}
	for _, l := range e.snap.Levels {
		if !l.BuyFilled {
			l.BuyOrderID = ""
		}
		if !l.SellFilled {
			l.SellOrderID = ""
		}
	}
	if err := e.persist(); err != nil {
		return err
	}

	e.placePair(ctx, sellTarget, buyTarget)
	e.notify(fmt.Sprintf("🔧 %s health check repaired order set (sell@%s buy@%s)",
		e.cfg.Market, levelLabel(sellTarget), levelLabel(buyTarget)))
	return e.persist()
}

// matchesDesired is an exact set comparison: every desired leg present, no
// live order beyond the desired legs
func (e *Engine) matchesDesired(open []core.OpenOrder, sellTarget, buyTarget *ladder.GridLevel) bool {
	want := 0
	if sellTarget != nil {
		if !present(open, core.SideSell, sellTarget.SellPrice, sellTarget.Volume, e.snap.Config.Tick) {
			return false
		}
		want++
	}
	if buyTarget != nil {
		if !present(open, core.SideBuy, buyTarget.BuyPrice, buyTarget.Volume, e.snap.Config.Tick) {
			return false
		}
		want++
	}
	return len(open) == want
}
