package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bitsplit/internal/ladder"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T) *TradeLedger {
	t.Helper()
	ledger, err := NewTradeLedger(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func record(level int, profit int64, at time.Time) ladder.TradeRecord {
	return ladder.TradeRecord{
		Level:     level,
		BuyPrice:  decimal.NewFromInt(10000),
		SellPrice: decimal.NewFromInt(10200),
		Volume:    decimal.NewFromInt(100),
		Profit:    decimal.NewFromInt(profit),
		Timestamp: at,
	}
}

func TestLedgerAppendAndRecent(t *testing.T) {
	ledger := openLedger(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, ledger.Append(ctx, "KRW-TST", record(1, 19192, base)))
	require.NoError(t, ledger.Append(ctx, "KRW-TST", record(2, 11960, base.Add(time.Minute))))
	require.NoError(t, ledger.Append(ctx, "KRW-ETH", record(1, 777, base)))

	recent, err := ledger.Recent(ctx, "KRW-TST", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest first
	assert.Equal(t, 2, recent[0].Level)
	assert.Equal(t, "11960", recent[0].Profit.String())
	assert.Equal(t, 1, recent[1].Level)
}

func TestLedgerRecentHonorsLimit(t *testing.T) {
	ledger := openLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.Append(ctx, "KRW-TST", record(i+1, int64(i*100), time.Now().Add(time.Duration(i)*time.Second))))
	}

	recent, err := ledger.Recent(ctx, "KRW-TST", 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestLedgerTotalProfit(t *testing.T) {
	ledger := openLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Append(ctx, "KRW-TST", record(1, 100, time.Now())))
	require.NoError(t, ledger.Append(ctx, "KRW-TST", record(2, 250, time.Now())))
	require.NoError(t, ledger.Append(ctx, "KRW-ETH", record(1, 999, time.Now())))

	total, err := ledger.TotalProfit(ctx, "KRW-TST")
	require.NoError(t, err)
	assert.Equal(t, "350", total.String())

	empty, err := ledger.TotalProfit(ctx, "KRW-NONE")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}
