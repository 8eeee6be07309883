package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"bitsplit/internal/core"
	"bitsplit/internal/ladder"
	"bitsplit/internal/mock"
	"bitsplit/internal/store"
	"bitsplit/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) SendMessage(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return true
}

func (r *recordingNotifier) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func testLadderConfig() ladder.Config {
	return ladder.Config{
		Market:      "KRW-TST",
		StartPrice:  decimal.NewFromInt(10000),
		QuoteAmount: decimal.NewFromInt(1000000),
		MaxLevels:   3,
		BuyGap:      decimal.NewFromInt(1),
		BuyMode:     ladder.GapPercent,
		SellGap:     decimal.NewFromInt(2),
		SellMode:    ladder.GapPercent,
		Tick:        decimal.NewFromInt(1),
	}
}

func newTestReconciler(t *testing.T) (*Reconciler, *mock.Exchange, *ladder.Snapshot, *recordingNotifier) {
	t.Helper()
	files, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m := mock.NewExchange()
	m.SetBalance("TST", decimal.Zero, decimal.Zero)

	snap, err := ladder.Build(testLadderConfig())
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	r := New(Config{
		Market:       "KRW-TST",
		BaseCurrency: "TST",
		FeeRate:      decimal.RequireFromString("0.0004"),
	}, m, files, logging.NopLogger{}, notifier)
	return r, m, snap, notifier
}

func TestSyncDiscoversBuyFill(t *testing.T) {
	r, m, snap, _ := newTestReconciler(t)
	ctx := context.Background()

	id, err := m.PlaceLimitOrder(ctx, "KRW-TST", core.SideBuy, snap.Levels[0].Volume, snap.Levels[0].BuyPrice)
	require.NoError(t, err)
	snap.Levels[0].BuyOrderID = id
	m.FillOrder(id)
	m.SetBalance("TST", snap.Levels[0].Volume, decimal.Zero)

	require.NoError(t, r.Run(ctx, snap))
	assert.True(t, snap.Levels[0].BuyFilled)
}

func TestSyncClearsUnknownOrder(t *testing.T) {
	r, m, snap, _ := newTestReconciler(t)

	snap.Levels[0].BuyOrderID = "never-existed"
	_ = m

	require.NoError(t, r.Run(context.Background(), snap))
	assert.Empty(t, snap.Levels[0].BuyOrderID)
}

func TestSyncBooksSellFill(t *testing.T) {
	r, m, snap, notifier := newTestReconciler(t)
	ctx := context.Background()

	l1 := snap.Levels[0]
	l1.BuyFilled = true
	id, err := m.PlaceLimitOrder(ctx, "KRW-TST", core.SideSell, l1.Volume, l1.SellPrice)
	require.NoError(t, err)
	l1.SellOrderID = id
	m.FillOrder(id)

	require.NoError(t, r.Run(ctx, snap))

	require.Len(t, snap.TradeHistory, 1)
	assert.Equal(t, "19192", snap.TradeHistory[0].Profit.String())
	assert.False(t, l1.BuyFilled, "level recycled after booking")
	assert.False(t, l1.SellFilled)
	assert.Empty(t, l1.SellOrderID)
	assert.NotEmpty(t, notifier.Messages())
}

func TestBalanceRecoveryReconstructsOwnership(t *testing.T) {
	r, m, snap, notifier := newTestReconciler(t)
	ctx := context.Background()

	// Snapshot says nothing is held, but the venue holds one level's worth
	m.SetBalance("TST", snap.Levels[1].Volume, decimal.Zero)

	require.NoError(t, r.Run(ctx, snap))

	// Greedy from the deepest rung that fits: level 3 needs more than the
	// balance, level 2 fits exactly.
	assert.False(t, snap.Levels[2].BuyFilled)
	assert.True(t, snap.Levels[1].BuyFilled)
	assert.False(t, snap.Levels[1].SellFilled)
	assert.False(t, snap.Levels[0].BuyFilled)
	assert.NotEmpty(t, notifier.Messages())
}

func TestBalanceRecoverySkipsSmallDrift(t *testing.T) {
	r, m, snap, notifier := newTestReconciler(t)
	ctx := context.Background()

	l1 := snap.Levels[0]
	l1.BuyFilled = true
	// 5% off: inside the 10% tolerance
	m.SetBalance("TST", l1.Volume.Mul(decimal.RequireFromString("0.95")), decimal.Zero)

	require.NoError(t, r.Run(ctx, snap))
	assert.True(t, l1.BuyFilled)
	assert.Empty(t, notifier.Messages())
}

func TestBalanceRecoveryIgnoresCompletedMarkers(t *testing.T) {
	r, m, snap, _ := newTestReconciler(t)
	ctx := context.Background()

	// Manual-resume marker: completed, holds nothing
	snap.Levels[2].BuyFilled = true
	snap.Levels[2].SellFilled = true
	m.SetBalance("TST", snap.Levels[1].Volume, decimal.Zero)

	require.NoError(t, r.Run(ctx, snap))

	assert.True(t, snap.Levels[2].BuyFilled, "marker untouched")
	assert.True(t, snap.Levels[2].SellFilled)
	assert.True(t, snap.Levels[1].BuyFilled)
}

func TestOrphanOrderCancelled(t *testing.T) {
	r, m, snap, notifier := newTestReconciler(t)
	ctx := context.Background()

	m.InjectOpenOrder("KRW-TST", core.OpenOrder{
		OrderID: "orphan",
		Side:    core.SideSell,
		Price:   decimal.NewFromInt(55555),
		Volume:  decimal.NewFromInt(3),
	})

	require.NoError(t, r.Run(ctx, snap))

	assert.True(t, m.IsCanceled("orphan"))
	assert.NotEmpty(t, notifier.Messages())
}

func TestOrphanSweepReattachesMatchingOrder(t *testing.T) {
	r, m, snap, _ := newTestReconciler(t)
	ctx := context.Background()

	// Crash after placing the level 2 buy but before persisting its ID
	l2 := snap.Levels[1]
	m.InjectOpenOrder("KRW-TST", core.OpenOrder{
		OrderID: "lost-buy",
		Side:    core.SideBuy,
		Price:   l2.BuyPrice,
		Volume:  l2.Volume,
	})

	require.NoError(t, r.Run(ctx, snap))

	assert.Equal(t, "lost-buy", l2.BuyOrderID)
	assert.False(t, m.IsCanceled("lost-buy"))
}

func TestReattachToleratesSmallPriceSkew(t *testing.T) {
	r, m, snap, _ := newTestReconciler(t)
	ctx := context.Background()

	l1 := snap.Levels[0]
	l1.BuyFilled = true
	m.SetBalance("TST", l1.Volume, decimal.Zero)
	// One tick above the expected sell price
	m.InjectOpenOrder("KRW-TST", core.OpenOrder{
		OrderID: "skewed-sell",
		Side:    core.SideSell,
		Price:   l1.SellPrice.Add(decimal.NewFromInt(1)),
		Volume:  l1.Volume,
	})

	require.NoError(t, r.Run(ctx, snap))
	assert.Equal(t, "skewed-sell", l1.SellOrderID)
}

func TestReconcilerIsIdempotent(t *testing.T) {
	r, m, snap, _ := newTestReconciler(t)
	ctx := context.Background()

	m.SetBalance("TST", snap.Levels[1].Volume, decimal.Zero)
	m.InjectOpenOrder("KRW-TST", core.OpenOrder{
		OrderID: "orphan",
		Side:    core.SideBuy,
		Price:   decimal.NewFromInt(12345),
		Volume:  decimal.NewFromInt(9),
	})

	require.NoError(t, r.Run(ctx, snap))
	first, err := json.Marshal(snap.Levels)
	require.NoError(t, err)
	cancels := len(m.Canceled)

	require.NoError(t, r.Run(ctx, snap))
	second, err := json.Marshal(snap.Levels)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, cancels, len(m.Canceled), "second run must not cancel anything new")
}

func TestProfitRebuiltFromHistory(t *testing.T) {
	r, _, snap, _ := newTestReconciler(t)
	ctx := context.Background()

	snap.TradeHistory = []ladder.TradeRecord{
		{Level: 1, Profit: decimal.NewFromInt(500), Timestamp: time.Now()},
		{Level: 2, Profit: decimal.NewFromInt(300), Timestamp: time.Now()},
	}
	snap.RealizedProfit = decimal.Zero

	require.NoError(t, r.Run(ctx, snap))
	assert.Equal(t, "800", snap.RealizedProfit.String())
}
