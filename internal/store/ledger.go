package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bitsplit/internal/ladder"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// TradeLedger is an append-only record of completed cycles across restarts.
// The JSON snapshot truncates nothing, but the ledger survives snapshot
// resets (config changes, manual restarts) and feeds long-horizon reporting.
type TradeLedger struct {
	db *sql.DB
}

// NewTradeLedger opens (or creates) the ledger database
func NewTradeLedger(dbPath string) (*TradeLedger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		market TEXT NOT NULL,
		level INTEGER NOT NULL,
		buy_price TEXT NOT NULL,
		sell_price TEXT NOT NULL,
		volume TEXT NOT NULL,
		profit TEXT NOT NULL,
		executed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &TradeLedger{db: db}, nil
}

// Append records one completed cycle
func (l *TradeLedger) Append(ctx context.Context, market string, rec ladder.TradeRecord) error {
	query := `INSERT INTO trades (market, level, buy_price, sell_price, volume, profit, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, query,
		market, rec.Level,
		rec.BuyPrice.String(), rec.SellPrice.String(),
		rec.Volume.String(), rec.Profit.String(),
		rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append trade: %w", err)
	}
	return nil
}

// Recent returns the most recent trades for a market, newest first
func (l *TradeLedger) Recent(ctx context.Context, market string, limit int) ([]ladder.TradeRecord, error) {
	query := `SELECT level, buy_price, sell_price, volume, profit, executed_at
		FROM trades WHERE market = ? ORDER BY executed_at DESC LIMIT ?`
	rows, err := l.db.QueryContext(ctx, query, market, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []ladder.TradeRecord
	for rows.Next() {
		var rec ladder.TradeRecord
		var buy, sell, vol, profit string
		var executedAt int64
		if err := rows.Scan(&rec.Level, &buy, &sell, &vol, &profit, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		rec.BuyPrice, err = decimal.NewFromString(buy)
		if err != nil {
			return nil, fmt.Errorf("failed to parse buy price: %w", err)
		}
		rec.SellPrice, err = decimal.NewFromString(sell)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sell price: %w", err)
		}
		rec.Volume, err = decimal.NewFromString(vol)
		if err != nil {
			return nil, fmt.Errorf("failed to parse volume: %w", err)
		}
		rec.Profit, err = decimal.NewFromString(profit)
		if err != nil {
			return nil, fmt.Errorf("failed to parse profit: %w", err)
		}
		rec.Timestamp = time.Unix(0, executedAt)
		trades = append(trades, rec)
	}
	return trades, rows.Err()
}

// TotalProfit sums the recorded profit for a market over the ledger's life
func (l *TradeLedger) TotalProfit(ctx context.Context, market string) (decimal.Decimal, error) {
	query := `SELECT profit FROM trades WHERE market = ?`
	rows, err := l.db.QueryContext(ctx, query, market)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query profits: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var profit string
		if err := rows.Scan(&profit); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan profit: %w", err)
		}
		p, err := decimal.NewFromString(profit)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse profit: %w", err)
		}
		total = total.Add(p)
	}
	return total, rows.Err()
}

func (l *TradeLedger) Close() error {
	return l.db.Close()
}
