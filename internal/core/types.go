package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order side in the venue's vocabulary
type Side string

const (
	SideBuy  Side = "bid"
	SideSell Side = "ask"
)

// OpenOrder is one live order as reported by the exchange
type OpenOrder struct {
	OrderID   string
	Side      Side
	Price     decimal.Decimal
	Volume    decimal.Decimal
	CreatedAt time.Time
}

// Balance is one currency row from the account endpoint
type Balance struct {
	Currency string
	Free     decimal.Decimal
	Locked   decimal.Decimal
}

// Total returns free plus locked holdings
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// FillVerdict is the normalized result of polling an order, regardless of
// which endpoint produced the payload.
type FillVerdict struct {
	Filled    bool
	Executed  decimal.Decimal
	Remaining decimal.Decimal
}
