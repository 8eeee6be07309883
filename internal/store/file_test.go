package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bitsplit/internal/ladder"
	apperrors "bitsplit/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(t *testing.T) *ladder.Snapshot {
	t.Helper()
	snap, err := ladder.Build(ladder.Config{
		Market:      "KRW-TST",
		StartPrice:  decimal.NewFromInt(10000),
		QuoteAmount: decimal.NewFromInt(1000000),
		MaxLevels:   3,
		BuyGap:      decimal.NewFromInt(1),
		BuyMode:     ladder.GapPercent,
		SellGap:     decimal.NewFromInt(2),
		SellMode:    ladder.GapPercent,
		Tick:        decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	return snap
}

func TestSnapshotRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	snap := testSnapshot(t)
	snap.Levels[0].BuyOrderID = "b1"
	snap.Levels[0].BuyFilled = true
	snap.ApplyTrade(snap.Levels[1], decimal.RequireFromString("0.0004"), time.Now())

	require.NoError(t, fs.SaveSnapshot("KRW-TST", snap))

	back, err := fs.LoadSnapshot("KRW-TST")
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.True(t, back.Config.Matches(snap.Config))
	assert.Equal(t, "b1", back.Levels[0].BuyOrderID)
	assert.True(t, back.Levels[0].BuyFilled)
	assert.True(t, back.RealizedProfit.Equal(snap.RealizedProfit))
	require.Len(t, back.TradeHistory, 1)
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	snap, err := fs.LoadSnapshot("KRW-TST")
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestLoadSnapshotCorruptFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(fs.SnapshotPath("KRW-TST"), []byte(`{"config": tru`), 0o644))

	_, err = fs.LoadSnapshot("KRW-TST")
	assert.ErrorIs(t, err, apperrors.ErrCorruptSnapshot)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.SaveSnapshot("KRW-TST", testSnapshot(t)))
	require.NoError(t, fs.SaveSnapshot("KRW-TST", testSnapshot(t)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "autotrade_state_KRW_TST.json", entries[0].Name())
}

func TestFileTagSanitizesMarket(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "KRW_BTC", FileTag("KRW-BTC"))
	assert.Equal(t, "heartbeat_KRW_BTC.json", filepath.Base(fs.HeartbeatPath("KRW-BTC")))
	assert.Equal(t, "autotrade_state_KRW_BTC.json", filepath.Base(fs.SnapshotPath("KRW-BTC")))
}

func TestHeartbeatRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.WriteHeartbeat("KRW-TST", Heartbeat{
		PID:            1234,
		AnchorLevel:    2,
		RealizedProfit: decimal.NewFromInt(5000),
		PendingOrders:  2,
	}))

	hb, err := fs.ReadHeartbeat("KRW-TST")
	require.NoError(t, err)
	require.NotNil(t, hb)
	assert.Equal(t, "KRW-TST", hb.Market)
	assert.Equal(t, 1234, hb.PID)
	assert.Equal(t, 2, hb.AnchorLevel)

	ts, err := ParseHeartbeatTime(hb.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestReadHeartbeatMissing(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	hb, err := fs.ReadHeartbeat("KRW-TST")
	assert.NoError(t, err)
	assert.Nil(t, hb)
}

func TestParseHeartbeatTimeFormats(t *testing.T) {
	for _, s := range []string{
		"2026-08-24T10:30:00",
		"2026-08-24T10:30:00.123456",
		"2026-08-24T10:30:00+09:00",
	} {
		_, err := ParseHeartbeatTime(s)
		assert.NoError(t, err, "layout %s", s)
	}

	_, err := ParseHeartbeatTime("yesterday")
	assert.Error(t, err)
}
