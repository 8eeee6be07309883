package ladder

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one completed buy/sell cycle
type TradeRecord struct {
	Level     int             `json:"level"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	Volume    decimal.Decimal `json:"volume"`
	Profit    decimal.Decimal `json:"profit"`
	Timestamp time.Time       `json:"timestamp"`
}

// Snapshot is the full persisted state of one market's ladder. It is the
// unit of crash recovery: everything the engine needs to resume lives here.
type Snapshot struct {
	Config         Config          `json:"config"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
	Levels         []*GridLevel    `json:"levels"`
	TradeHistory   []TradeRecord   `json:"trade_history"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// LevelAt returns the level with the given 1-based number, or nil
func (s *Snapshot) LevelAt(n int) *GridLevel {
	if n < 1 || n > len(s.Levels) {
		return nil
	}
	return s.Levels[n-1]
}

// Anchor returns the level holding inventory: buy filled, sell not yet
// filled. Normally unique; after balance recovery several levels may hold,
// in which case the deepest one drives the next pair. Nil when none holds.
func (s *Snapshot) Anchor() *GridLevel {
	for i := len(s.Levels) - 1; i >= 0; i-- {
		if s.Levels[i].BuyFilled && !s.Levels[i].SellFilled {
			return s.Levels[i]
		}
	}
	return nil
}

// PendingOrder is an order ID the snapshot still tracks as live
type PendingOrder struct {
	Level   int
	IsBuy   bool
	OrderID string
}

// PendingOrders lists every tracked order ID whose side has not filled.
// Filled sides keep their IDs for audit but are no longer pending.
func (s *Snapshot) PendingOrders() []PendingOrder {
	var pending []PendingOrder
	for _, l := range s.Levels {
		if l.BuyOrderID != "" && !l.BuyFilled {
			pending = append(pending, PendingOrder{Level: l.Level, IsBuy: true, OrderID: l.BuyOrderID})
		}
		if l.SellOrderID != "" && !l.SellFilled {
			pending = append(pending, PendingOrder{Level: l.Level, IsBuy: false, OrderID: l.SellOrderID})
		}
	}
	return pending
}

// ApplyTrade books a completed cycle at the level: accumulates realized
// profit, appends to history, and recycles the level to IDLE.
func (s *Snapshot) ApplyTrade(l *GridLevel, feeRate decimal.Decimal, at time.Time) TradeRecord {
	rec := TradeRecord{
		Level:     l.Level,
		BuyPrice:  l.BuyPrice,
		SellPrice: l.SellPrice,
		Volume:    l.Volume,
		Profit:    Profit(l.BuyPrice, l.SellPrice, l.Volume, feeRate),
		Timestamp: at,
	}
	s.RealizedProfit = s.RealizedProfit.Add(rec.Profit)
	s.TradeHistory = append(s.TradeHistory, rec)
	l.Reset()
	return rec
}

// HistoryProfit sums the profit of every recorded trade
func (s *Snapshot) HistoryProfit() decimal.Decimal {
	total := decimal.Zero
	for _, rec := range s.TradeHistory {
		total = total.Add(rec.Profit)
	}
	return total
}

// RecoverProfit rebuilds the realized profit counter from the trade history.
// Used when the scalar and the history disagree after a crash.
func (s *Snapshot) RecoverProfit() {
	s.RealizedProfit = s.HistoryProfit()
}

// Touch stamps the snapshot with the current time before persisting
func (s *Snapshot) Touch() {
	s.LastUpdated = time.Now()
}
