// Package exchange holds venue-independent helpers shared by gateways and
// the trading engine, chiefly the fill verdict extracted from order detail
// payloads whose field names vary between venues and API versions.
package exchange

import (
	"encoding/json"
	"strings"

	"bitsplit/internal/core"

	"github.com/shopspring/decimal"
)

var (
	executedKeys  = []string{"executed_volume", "executed_qty", "acc_trade_volume", "traded_volume"}
	remainingKeys = []string{"remaining_volume", "remaining_qty", "remain_qty", "remain_volume"}
	stateKeys     = []string{"state", "ord_state", "order_state", "status_text"}

	terminalStates = map[string]bool{
		"done":         true,
		"completed":    true,
		"filled":       true,
		"fully_filled": true,
		"terminated":   true,
	}

	fillEpsilon = decimal.RequireFromString("0.000000000001")
)

// ParseFill normalizes an order detail payload into a fill verdict. The
// order is considered filled when its state string is terminal, or when the
// numeric fields agree: executed volume positive and remaining volume at
// (or within rounding noise of) zero. Some venues nest the real payload
// under a "data" key; that level is unwrapped first.
func ParseFill(detail map[string]interface{}) core.FillVerdict {
	if nested, ok := detail["data"].(map[string]interface{}); ok {
		detail = nested
	}

	verdict := core.FillVerdict{
		Executed:  firstDecimal(detail, executedKeys),
		Remaining: firstDecimal(detail, remainingKeys),
	}

	if state := firstString(detail, stateKeys); state != "" && terminalStates[strings.ToLower(state)] {
		verdict.Filled = true
		return verdict
	}

	if verdict.Executed.GreaterThan(decimal.Zero) && verdict.Remaining.LessThanOrEqual(fillEpsilon) {
		verdict.Filled = true
	}
	return verdict
}

func firstDecimal(m map[string]interface{}, keys []string) decimal.Decimal {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return toDecimal(v)
		}
	}
	return decimal.Zero
}

func firstString(m map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// toDecimal converts whatever json.Unmarshal produced. Unparseable values
// count as zero rather than failing the poll.
func toDecimal(v interface{}) decimal.Decimal {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(t)
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case int:
		return decimal.NewFromInt(int64(t))
	case int64:
		return decimal.NewFromInt(t)
	default:
		return decimal.Zero
	}
}
