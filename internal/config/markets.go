package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// MarketConfig is one market's ladder parameters from markets_config.json.
// The same file drives both the supervisor (which markets to run) and the
// worker (ladder geometry defaults, overridable per flag).
type MarketConfig struct {
	Enabled     bool            `json:"enabled"`
	StartPrice  decimal.Decimal `json:"start_price"`
	QuoteAmount decimal.Decimal `json:"krw_amount"`
	MaxLevels   int             `json:"max_levels"`
	Resume      int             `json:"resume"`
	BuyGap      decimal.Decimal `json:"buy_gap"`
	BuyMode     string          `json:"buy_mode"`
	SellGap     decimal.Decimal `json:"sell_gap"`
	SellMode    string          `json:"sell_mode"`
}

// LoadMarkets reads markets_config.json keyed by market code.
// A missing file returns an empty map so single-market flag-driven runs work.
func LoadMarkets(path string) (map[string]MarketConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]MarketConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read markets config: %w", err)
	}

	var markets map[string]MarketConfig
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, fmt.Errorf("failed to parse markets config: %w", err)
	}
	return markets, nil
}

// EnabledMarkets returns the market codes flagged enabled
func EnabledMarkets(markets map[string]MarketConfig) []string {
	var enabled []string
	for market, cfg := range markets {
		if cfg.Enabled {
			enabled = append(enabled, market)
		}
	}
	return enabled
}
