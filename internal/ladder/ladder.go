// Package ladder holds the grid geometry: the fixed sequence of price rungs
// derived from the start price and the buy/sell gap parameters, plus the
// per-level order lifecycle flags the engine drives.
package ladder

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GapMode selects how a gap parameter is applied to a price
type GapMode string

const (
	GapPercent GapMode = "percent"
	GapPrice   GapMode = "price"
)

// Valid reports whether the mode is one of the two known variants
func (m GapMode) Valid() bool {
	return m == GapPercent || m == GapPrice
}

// GridLevel is one rung of the ladder. A non-empty order ID means this side
// has a live or terminal order we are tracking. A sell fill resets both
// flags so the level recycles for the next iteration.
type GridLevel struct {
	Level       int             `json:"level"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	SellPrice   decimal.Decimal `json:"sell_price"`
	Volume      decimal.Decimal `json:"volume"`
	BuyOrderID  string          `json:"buy_order_id,omitempty"`
	SellOrderID string          `json:"sell_order_id,omitempty"`
	BuyFilled   bool            `json:"buy_filled"`
	SellFilled  bool            `json:"sell_filled"`
}

// Reset returns the level to IDLE: no tracked orders, no fills
func (l *GridLevel) Reset() {
	l.BuyOrderID = ""
	l.SellOrderID = ""
	l.BuyFilled = false
	l.SellFilled = false
}

// Config defines the ladder geometry. It is persisted with the snapshot so
// a restart can detect configuration drift.
type Config struct {
	Market      string          `json:"market"`
	StartPrice  decimal.Decimal `json:"start_price"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	MaxLevels   int             `json:"max_levels"`
	BuyGap      decimal.Decimal `json:"buy_gap"`
	BuyMode     GapMode         `json:"buy_mode"`
	SellGap     decimal.Decimal `json:"sell_gap"`
	SellMode    GapMode         `json:"sell_mode"`
	Tick        decimal.Decimal `json:"tick"`
}

// Matches reports whether two configs describe the same ladder geometry
func (c Config) Matches(other Config) bool {
	return c.Market == other.Market &&
		c.StartPrice.Equal(other.StartPrice) &&
		c.QuoteAmount.Equal(other.QuoteAmount) &&
		c.MaxLevels == other.MaxLevels &&
		c.BuyGap.Equal(other.BuyGap) &&
		c.BuyMode == other.BuyMode &&
		c.SellGap.Equal(other.SellGap) &&
		c.SellMode == other.SellMode &&
		c.Tick.Equal(other.Tick)
}

func (c Config) validate() error {
	if c.Market == "" {
		return fmt.Errorf("market is required")
	}
	if c.StartPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("start price must be positive: %s", c.StartPrice)
	}
	if c.QuoteAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("quote amount must be positive: %s", c.QuoteAmount)
	}
	if c.MaxLevels <= 0 {
		return fmt.Errorf("max levels must be positive: %d", c.MaxLevels)
	}
	if !c.BuyMode.Valid() {
		return fmt.Errorf("buy mode must be percent or price: %q", c.BuyMode)
	}
	if !c.SellMode.Valid() {
		return fmt.Errorf("sell mode must be percent or price: %q", c.SellMode)
	}
	if c.BuyGap.LessThan(decimal.Zero) || c.SellGap.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("gaps must be positive: buy=%s sell=%s", c.BuyGap, c.SellGap)
	}
	if c.Tick.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("tick must be positive: %s", c.Tick)
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

// stepDown lowers a price by i gap multiples
func stepDown(price, gap decimal.Decimal, mode GapMode) decimal.Decimal {
	if mode == GapPercent {
		return price.Mul(decimal.NewFromInt(1).Sub(gap.Div(hundred)))
	}
	return price.Sub(gap)
}

// stepUp raises a price by one gap
func stepUp(price, gap decimal.Decimal, mode GapMode) decimal.Decimal {
	if mode == GapPercent {
		return price.Mul(decimal.NewFromInt(1).Add(gap.Div(hundred)))
	}
	return price.Add(gap)
}

// Quantize floors a price to the tick grid
func Quantize(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Floor().Mul(tick)
}

// Build constructs a fresh ladder from the geometry. Level i (1-based) buys
// at start price lowered by (i-1) gap multiples; each sell sits one sell-gap
// above its buy. Prices are floor-quantized to the tick and volumes sized so
// volume*buy_price approximates the configured quote amount.
func Build(cfg Config) (*Snapshot, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid ladder config: %w", err)
	}

	levels := make([]*GridLevel, 0, cfg.MaxLevels)
	for i := 0; i < cfg.MaxLevels; i++ {
		mult := decimal.NewFromInt(int64(i))
		rawBuy := stepDown(cfg.StartPrice, cfg.BuyGap.Mul(mult), cfg.BuyMode)
		rawSell := stepUp(rawBuy, cfg.SellGap, cfg.SellMode)

		buyPrice := Quantize(rawBuy, cfg.Tick)
		sellPrice := Quantize(rawSell, cfg.Tick)
		if buyPrice.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("level %d buy price not positive: %s", i+1, buyPrice)
		}
		if sellPrice.LessThanOrEqual(buyPrice) {
			return nil, fmt.Errorf("level %d sell price %s not above buy price %s after tick quantization", i+1, sellPrice, buyPrice)
		}

		volume := cfg.QuoteAmount.Div(buyPrice).Round(8)
		levels = append(levels, &GridLevel{
			Level:     i + 1,
			BuyPrice:  buyPrice,
			SellPrice: sellPrice,
			Volume:    volume,
		})
	}

	return &Snapshot{
		Config:      cfg,
		Levels:      levels,
		LastUpdated: time.Now(),
	}, nil
}

// Profit computes the realized profit of one completed buy/sell cycle with
// the venue fee applied to both legs, using the tick-quantized prices.
func Profit(buyPrice, sellPrice, volume, feeRate decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	sellIncome := sellPrice.Mul(one.Sub(feeRate))
	buyCost := buyPrice.Mul(one.Add(feeRate))
	return sellIncome.Sub(buyCost).Mul(volume)
}
