// Package tick maps market codes to their minimum price increment.
// Prices are always floor-quantized to the tick before hitting the wire;
// a market without a registered tick is refused outright.
package tick

import (
	"fmt"
	"sync"

	apperrors "bitsplit/pkg/errors"

	"github.com/shopspring/decimal"
)

var (
	mu    sync.RWMutex
	table = map[string]decimal.Decimal{
		"KRW-BTC":  decimal.NewFromInt(1000),
		"KRW-ETH":  decimal.NewFromInt(1000),
		"KRW-SOL":  decimal.NewFromInt(100),
		"KRW-BCH":  decimal.NewFromInt(100),
		"KRW-AVAX": decimal.NewFromInt(50),
		"KRW-LINK": decimal.NewFromInt(50),
		"KRW-ETC":  decimal.NewFromInt(10),
		"KRW-DOT":  decimal.NewFromInt(5),
		"KRW-XRP":  decimal.NewFromInt(1),
		"KRW-USDT": decimal.NewFromInt(1),
		"KRW-ADA":  decimal.NewFromInt(1),
		"KRW-TRX":  decimal.NewFromInt(1),
		"KRW-DOGE": decimal.RequireFromString("0.1"),
	}
)

// Size returns the minimum price increment for a market
func Size(market string) (decimal.Decimal, error) {
	mu.RLock()
	defer mu.RUnlock()
	size, ok := table[market]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrUnknownSymbol, market)
	}
	return size, nil
}

// Register adds or overrides a tick size; used by tests and venue overrides
func Register(market string, size decimal.Decimal) {
	mu.Lock()
	defer mu.Unlock()
	table[market] = size
}
