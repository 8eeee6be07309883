package ladder

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Market:      "KRW-TST",
		StartPrice:  decimal.NewFromInt(10000),
		QuoteAmount: decimal.NewFromInt(1000000),
		MaxLevels:   3,
		BuyGap:      decimal.NewFromInt(1),
		BuyMode:     GapPercent,
		SellGap:     decimal.NewFromInt(2),
		SellMode:    GapPercent,
		Tick:        decimal.NewFromInt(1),
	}
}

func TestBuildPercentMode(t *testing.T) {
	snap, err := Build(testConfig())
	require.NoError(t, err)
	require.Len(t, snap.Levels, 3)

	l1 := snap.Levels[0]
	assert.Equal(t, 1, l1.Level)
	assert.True(t, l1.BuyPrice.Equal(decimal.NewFromInt(10000)), "l1 buy: %s", l1.BuyPrice)
	assert.True(t, l1.SellPrice.Equal(decimal.NewFromInt(10200)), "l1 sell: %s", l1.SellPrice)
	assert.Equal(t, "100", l1.Volume.String())

	l2 := snap.Levels[1]
	assert.True(t, l2.BuyPrice.Equal(decimal.NewFromInt(9900)), "l2 buy: %s", l2.BuyPrice)
	assert.True(t, l2.SellPrice.Equal(decimal.NewFromInt(10098)), "l2 sell: %s", l2.SellPrice)
	assert.Equal(t, "101.01010101", l2.Volume.String())

	l3 := snap.Levels[2]
	assert.True(t, l3.BuyPrice.Equal(decimal.NewFromInt(9800)), "l3 buy: %s", l3.BuyPrice)
}

func TestBuildPriceMode(t *testing.T) {
	cfg := testConfig()
	cfg.BuyMode = GapPrice
	cfg.SellMode = GapPrice
	cfg.BuyGap = decimal.NewFromInt(100)
	cfg.SellGap = decimal.NewFromInt(150)

	snap, err := Build(cfg)
	require.NoError(t, err)

	assert.True(t, snap.Levels[0].BuyPrice.Equal(decimal.NewFromInt(10000)))
	assert.True(t, snap.Levels[0].SellPrice.Equal(decimal.NewFromInt(10150)))
	assert.True(t, snap.Levels[1].BuyPrice.Equal(decimal.NewFromInt(9900)))
	assert.True(t, snap.Levels[2].BuyPrice.Equal(decimal.NewFromInt(9800)))
}

func TestBuildTickQuantizationFloors(t *testing.T) {
	cfg := testConfig()
	cfg.Tick = decimal.NewFromInt(100)

	snap, err := Build(cfg)
	require.NoError(t, err)

	// 10098 floors to 10000 at tick 100
	assert.True(t, snap.Levels[1].BuyPrice.Equal(decimal.NewFromInt(9900)))
	assert.True(t, snap.Levels[1].SellPrice.Equal(decimal.NewFromInt(10000)))
}

func TestBuildInvariants(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLevels = 60
	cfg.Tick = decimal.NewFromInt(1)

	snap, err := Build(cfg)
	require.NoError(t, err)

	for i, l := range snap.Levels {
		assert.True(t, l.SellPrice.GreaterThan(l.BuyPrice), "level %d sell must exceed buy", l.Level)
		if i > 0 {
			prev := snap.Levels[i-1]
			assert.True(t, l.BuyPrice.LessThanOrEqual(prev.BuyPrice), "buy prices must be non-increasing")
		}
		// volume * buy_price stays within one tick of the budget
		notional := l.Volume.Mul(l.BuyPrice)
		assert.True(t, notional.Sub(cfg.QuoteAmount).Abs().LessThanOrEqual(cfg.Tick),
			"level %d notional %s too far from %s", l.Level, notional, cfg.QuoteAmount)
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty market", func(c *Config) { c.Market = "" }},
		{"zero start price", func(c *Config) { c.StartPrice = decimal.Zero }},
		{"zero quote amount", func(c *Config) { c.QuoteAmount = decimal.Zero }},
		{"zero levels", func(c *Config) { c.MaxLevels = 0 }},
		{"bad buy mode", func(c *Config) { c.BuyMode = "linear" }},
		{"zero sell gap", func(c *Config) { c.SellGap = decimal.Zero }},
		{"zero tick", func(c *Config) { c.Tick = decimal.Zero }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := Build(cfg)
			assert.Error(t, err)
		})
	}
}

func TestBuildRejectsSellNotAboveBuyAfterQuantization(t *testing.T) {
	cfg := testConfig()
	// A 0.5% sell gap collapses into the buy price at tick 100
	cfg.SellGap = decimal.RequireFromString("0.5")
	cfg.Tick = decimal.NewFromInt(100)
	_, err := Build(cfg)
	assert.Error(t, err)
}

func TestBuildRejectsCollapseDeepInLadder(t *testing.T) {
	// The absolute sell gap shrinks as the ladder descends: at tick 100 a
	// 2% gap holds up top but collapses onto the buy at level 52
	// (buy 4900, raw sell 4998 floors to 4900).
	cfg := testConfig()
	cfg.MaxLevels = 60
	cfg.Tick = decimal.NewFromInt(100)

	_, err := Build(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "level 52")
}

func TestConfigMatches(t *testing.T) {
	a := testConfig()
	b := testConfig()
	assert.True(t, a.Matches(b))

	b.MaxLevels = 5
	assert.False(t, a.Matches(b))

	c := testConfig()
	c.StartPrice = decimal.RequireFromString("10000.0")
	assert.True(t, a.Matches(c), "decimal equality must ignore representation")
}

func TestProfitFormula(t *testing.T) {
	fee := decimal.RequireFromString("0.0004")
	profit := Profit(
		decimal.NewFromInt(10000),
		decimal.NewFromInt(10200),
		decimal.NewFromInt(100),
		fee,
	)
	// (10200*0.9996 - 10000*1.0004) * 100 = 19192
	assert.Equal(t, "19192", profit.String())
}

func TestApplyTradeResetsLevelAndBooksProfit(t *testing.T) {
	snap, err := Build(testConfig())
	require.NoError(t, err)

	l := snap.Levels[0]
	l.BuyOrderID = "b1"
	l.SellOrderID = "s1"
	l.BuyFilled = true

	fee := decimal.RequireFromString("0.0004")
	rec := snap.ApplyTrade(l, fee, time.Now())

	assert.Equal(t, 1, rec.Level)
	assert.False(t, l.BuyFilled)
	assert.False(t, l.SellFilled)
	assert.Empty(t, l.BuyOrderID)
	assert.Empty(t, l.SellOrderID)
	assert.True(t, snap.RealizedProfit.Equal(rec.Profit))
	require.Len(t, snap.TradeHistory, 1)
	assert.True(t, snap.HistoryProfit().Equal(snap.RealizedProfit))
}

func TestRecoverProfitRebuildsFromHistory(t *testing.T) {
	snap, err := Build(testConfig())
	require.NoError(t, err)

	fee := decimal.RequireFromString("0.0004")
	snap.ApplyTrade(snap.Levels[0], fee, time.Now())
	snap.ApplyTrade(snap.Levels[1], fee, time.Now())

	want := snap.HistoryProfit()
	snap.RealizedProfit = decimal.Zero
	snap.RecoverProfit()
	assert.True(t, snap.RealizedProfit.Equal(want))
}

func TestAnchorReturnsDeepestHolder(t *testing.T) {
	snap, err := Build(testConfig())
	require.NoError(t, err)

	assert.Nil(t, snap.Anchor())

	snap.Levels[0].BuyFilled = true
	snap.Levels[1].BuyFilled = true
	anchor := snap.Anchor()
	require.NotNil(t, anchor)
	assert.Equal(t, 2, anchor.Level)

	snap.Levels[1].SellFilled = true
	anchor = snap.Anchor()
	require.NotNil(t, anchor)
	assert.Equal(t, 1, anchor.Level)
}

func TestPendingOrdersSkipsFilledSides(t *testing.T) {
	snap, err := Build(testConfig())
	require.NoError(t, err)

	snap.Levels[0].BuyOrderID = "b1"
	snap.Levels[0].BuyFilled = true
	snap.Levels[0].SellOrderID = "s1"
	snap.Levels[1].BuyOrderID = "b2"

	pending := snap.PendingOrders()
	require.Len(t, pending, 2)
	assert.Equal(t, "s1", pending[0].OrderID)
	assert.False(t, pending[0].IsBuy)
	assert.Equal(t, "b2", pending[1].OrderID)
	assert.True(t, pending[1].IsBuy)
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap, err := Build(testConfig())
	require.NoError(t, err)

	snap.Levels[0].BuyOrderID = "b1"
	snap.Levels[0].BuyFilled = true
	snap.ApplyTrade(snap.Levels[1], decimal.RequireFromString("0.0004"), time.Now())

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))

	assert.True(t, snap.Config.Matches(back.Config))
	assert.True(t, back.RealizedProfit.Equal(snap.RealizedProfit))
	require.Len(t, back.Levels, len(snap.Levels))
	assert.Equal(t, "b1", back.Levels[0].BuyOrderID)
	assert.True(t, back.Levels[0].BuyFilled)
	require.Len(t, back.TradeHistory, 1)
	assert.True(t, back.TradeHistory[0].Profit.Equal(snap.TradeHistory[0].Profit))
}

func TestPriceTolerance(t *testing.T) {
	tick := decimal.NewFromInt(100)
	price := decimal.NewFromInt(10000)

	assert.True(t, WithinPrice(price, decimal.NewFromInt(10100), tick), "one tick off is a match")
	assert.False(t, WithinPrice(price, decimal.NewFromInt(10201), tick))

	// At a small tick the relative bound dominates
	smallTick := decimal.NewFromInt(1)
	assert.True(t, WithinPrice(price, decimal.NewFromInt(10010), smallTick))
	assert.False(t, WithinPrice(price, decimal.NewFromInt(10011), smallTick))
}

func TestVolumeTolerance(t *testing.T) {
	vol := decimal.NewFromInt(100)
	assert.True(t, WithinVolume(vol, decimal.NewFromInt(102)))
	assert.False(t, WithinVolume(vol, decimal.NewFromInt(103)))

	// Near-zero volumes fall back to the absolute floor
	tiny := decimal.RequireFromString("0.000000001")
	assert.True(t, WithinVolume(tiny, decimal.RequireFromString("0.0000000011")))
}
