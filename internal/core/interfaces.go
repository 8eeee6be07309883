// Package core defines the shared interfaces for the grid trading system
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange defines the gateway contract to a spot exchange. Order detail
// payloads are returned untyped because their shape varies across endpoints;
// the fill poller (internal/exchange) is the sole translator into FillVerdict.
type IExchange interface {
	GetName() string

	// Order operations
	PlaceLimitOrder(ctx context.Context, market string, side Side, volume, price decimal.Decimal) (string, error)
	GetOrderDetail(ctx context.Context, orderID string) (map[string]interface{}, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context, market string) error
	GetOpenOrders(ctx context.Context, market string, limit int) ([]OpenOrder, error)

	// Account operations
	GetBalance(ctx context.Context) ([]Balance, error)

	// Market data
	GetLastTradePrice(ctx context.Context, market string) (decimal.Decimal, error)
}

// INotifier is the outbound chat-notification capability. Sends are
// best-effort: failures are reported through the boolean and never
// propagate as errors into the trading path.
type INotifier interface {
	SendMessage(text string) bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
