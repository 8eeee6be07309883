package engine

import (
	"context"
	"testing"

	"bitsplit/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDesiredOrdersLiveSell(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, 0)
	require.NoError(t, eng.Bootstrap(context.Background()))

	snap := eng.Snapshot()
	snap.LevelAt(1).BuyOrderID = ""
	snap.LevelAt(1).BuyFilled = true
	snap.LevelAt(1).SellOrderID = "s1"

	sell, buy := eng.desiredOrders()
	require.NotNil(t, sell)
	require.NotNil(t, buy)
	assert.Equal(t, 1, sell.Level)
	assert.Equal(t, 2, buy.Level)
}

func TestDesiredOrdersLiveSellAtLastLevel(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, 0)
	require.NoError(t, eng.Bootstrap(context.Background()))

	snap := eng.Snapshot()
	snap.LevelAt(1).BuyOrderID = ""
	l3 := snap.LevelAt(3)
	l3.BuyFilled = true
	l3.SellOrderID = "s3"

	sell, buy := eng.desiredOrders()
	require.NotNil(t, sell)
	assert.Equal(t, 3, sell.Level)
	assert.Nil(t, buy, "no level below the last rung")
}

func TestDesiredOrdersLiveBuyWithHoldingBelow(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, 0)
	require.NoError(t, eng.Bootstrap(context.Background()))

	snap := eng.Snapshot()
	snap.LevelAt(1).BuyOrderID = ""
	snap.LevelAt(1).BuyFilled = true // holding with no live sell
	snap.LevelAt(2).BuyOrderID = "b2"

	sell, buy := eng.desiredOrders()
	require.NotNil(t, sell)
	require.NotNil(t, buy)
	assert.Equal(t, 1, sell.Level)
	assert.Equal(t, 2, buy.Level)
}

func TestDesiredOrdersLiveBuyAlone(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, 0)
	require.NoError(t, eng.Bootstrap(context.Background()))

	sell, buy := eng.desiredOrders()
	assert.Nil(t, sell)
	require.NotNil(t, buy)
	assert.Equal(t, 1, buy.Level)
}

func TestDesiredOrdersBareAnchor(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, 0)
	require.NoError(t, eng.Bootstrap(context.Background()))

	snap := eng.Snapshot()
	snap.LevelAt(1).BuyOrderID = ""
	snap.LevelAt(1).BuyFilled = true

	sell, buy := eng.desiredOrders()
	require.NotNil(t, sell)
	require.NotNil(t, buy)
	assert.Equal(t, 1, sell.Level)
	assert.Equal(t, 2, buy.Level)
}

func TestDesiredOrdersNothingTracked(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, 0)
	require.NoError(t, eng.Bootstrap(context.Background()))

	snap := eng.Snapshot()
	snap.LevelAt(1).BuyOrderID = ""
	// Manual-resume markers are skipped
	snap.LevelAt(1).BuyFilled = true
	snap.LevelAt(1).SellFilled = true

	sell, buy := eng.desiredOrders()
	assert.Nil(t, sell)
	require.NotNil(t, buy)
	assert.Equal(t, 2, buy.Level)
}

func TestHealthCheckNoopWhenConverged(t *testing.T) {
	eng, m, _, _ := newTestEngine(t, 0)
	ctx := context.Background()
	require.NoError(t, eng.Bootstrap(ctx))

	placed := len(m.Placed)
	require.NoError(t, eng.HealthCheck(ctx))
	assert.Len(t, m.Placed, placed, "converged state must not be touched")
	assert.Empty(t, m.Canceled)
}

func TestHealthCheckRepairsExtraOrder(t *testing.T) {
	eng, m, _, notifier := newTestEngine(t, 0)
	ctx := context.Background()
	require.NoError(t, eng.Bootstrap(ctx))

	// A stray order appears that no level tracks
	m.InjectOpenOrder("KRW-TST", core.OpenOrder{
		OrderID: "stray",
		Side:    core.SideSell,
		Price:   decimal.NewFromInt(20000),
		Volume:  decimal.NewFromInt(1),
	})

	require.NoError(t, eng.HealthCheck(ctx))

	assert.True(t, m.IsCanceled("stray"))
	assert.Equal(t, 1, m.OpenCount("KRW-TST"))
	assert.NotEmpty(t, eng.Snapshot().LevelAt(1).BuyOrderID)
	assert.NotEmpty(t, notifier.Messages())
}

func TestHealthCheckRepairsMissingOrder(t *testing.T) {
	eng, m, _, _ := newTestEngine(t, 0)
	ctx := context.Background()
	require.NoError(t, eng.Bootstrap(ctx))

	// The tracked buy vanishes at the venue without the engine noticing
	l1 := eng.Snapshot().LevelAt(1)
	require.NoError(t, m.CancelOrder(ctx, l1.BuyOrderID))
	m.Canceled = nil

	require.NoError(t, eng.HealthCheck(ctx))

	assert.Equal(t, 1, m.OpenCount("KRW-TST"))
	assert.NotEmpty(t, l1.BuyOrderID)

	open, err := m.GetOpenOrders(ctx, "KRW-TST", 100)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, core.SideBuy, open[0].Side)
	assert.Equal(t, "10000", open[0].Price.String())
}
