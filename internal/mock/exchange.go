// Package mock provides a scriptable in-memory exchange for tests
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitsplit/internal/core"
	apperrors "bitsplit/pkg/errors"

	"github.com/shopspring/decimal"
)

type mockOrder struct {
	core.OpenOrder
	Market   string
	Filled   bool
	Canceled bool
}

// Exchange is an in-memory core.IExchange. Tests script fills, balances and
// failure modes, then assert on the recorded order flow.
type Exchange struct {
	mu        sync.Mutex
	seq       int
	orders    map[string]*mockOrder
	balances  map[string]core.Balance
	lastPrice map[string]decimal.Decimal

	// swallowNext makes the next PlaceLimitOrder return an ID for an order
	// the venue silently drops, simulating an accepted-then-vanished order.
	swallowNext bool

	// Placed and Canceled record every request in arrival order
	Placed   []core.OpenOrder
	Canceled []string
}

func NewExchange() *Exchange {
	return &Exchange{
		orders:    make(map[string]*mockOrder),
		balances:  make(map[string]core.Balance),
		lastPrice: make(map[string]decimal.Decimal),
	}
}

func (m *Exchange) GetName() string { return "mock" }

func (m *Exchange) PlaceLimitOrder(_ context.Context, market string, side core.Side, volume, price decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("mock-%d", m.seq)
	order := core.OpenOrder{
		OrderID:   id,
		Side:      side,
		Price:     price,
		Volume:    volume,
		CreatedAt: time.Now(),
	}
	m.Placed = append(m.Placed, order)

	if m.swallowNext {
		m.swallowNext = false
		return id, nil
	}
	m.orders[id] = &mockOrder{OpenOrder: order, Market: market}
	return id, nil
}

func (m *Exchange) GetOrderDetail(_ context.Context, orderID string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}

	state := "wait"
	executed := decimal.Zero
	remaining := order.Volume
	if order.Filled {
		state = "done"
		executed = order.Volume
		remaining = decimal.Zero
	} else if order.Canceled {
		state = "cancel"
	}
	return map[string]interface{}{
		"uuid":             orderID,
		"side":             string(order.Side),
		"state":            state,
		"executed_volume":  executed.String(),
		"remaining_volume": remaining.String(),
	}, nil
}

func (m *Exchange) CancelOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Canceled = append(m.Canceled, orderID)
	order, ok := m.orders[orderID]
	if !ok || order.Filled || order.Canceled {
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	order.Canceled = true
	return nil
}

func (m *Exchange) CancelAllOrders(ctx context.Context, market string) error {
	m.mu.Lock()
	var ids []string
	for id, order := range m.orders {
		if order.Market == market && !order.Filled && !order.Canceled {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.CancelOrder(ctx, id)
	}
	return nil
}

func (m *Exchange) GetOpenOrders(_ context.Context, market string, limit int) ([]core.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var open []core.OpenOrder
	for _, order := range m.orders {
		if order.Market == market && !order.Filled && !order.Canceled {
			open = append(open, order.OpenOrder)
		}
		if limit > 0 && len(open) >= limit {
			break
		}
	}
	return open, nil
}

func (m *Exchange) GetBalance(_ context.Context) ([]core.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balances := make([]core.Balance, 0, len(m.balances))
	for _, b := range m.balances {
		balances = append(balances, b)
	}
	return balances, nil
}

func (m *Exchange) GetLastTradePrice(_ context.Context, market string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.lastPrice[market]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrUnknownSymbol, market)
	}
	return price, nil
}

// FillOrder marks a tracked order as fully executed
func (m *Exchange) FillOrder(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.orders[orderID]; ok {
		order.Filled = true
	}
}

// SetBalance scripts the balance for one currency
func (m *Exchange) SetBalance(currency string, free, locked decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[currency] = core.Balance{Currency: currency, Free: free, Locked: locked}
}

// SetLastPrice scripts the ticker price for a market
func (m *Exchange) SetLastPrice(market string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPrice[market] = price
}

// SwallowNextPlace makes the next placement return an ID the venue forgets
func (m *Exchange) SwallowNextPlace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swallowNext = true
}

// InjectOpenOrder adds an untracked live order, e.g. an orphan from a crash
func (m *Exchange) InjectOpenOrder(market string, order core.OpenOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.OrderID == "" {
		m.seq++
		order.OrderID = fmt.Sprintf("mock-%d", m.seq)
	}
	m.orders[order.OrderID] = &mockOrder{OpenOrder: order, Market: market}
}

// OpenCount reports live orders on a market
func (m *Exchange) OpenCount(market string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, order := range m.orders {
		if order.Market == market && !order.Filled && !order.Canceled {
			n++
		}
	}
	return n
}

// IsCanceled reports whether the order was canceled
func (m *Exchange) IsCanceled(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	return ok && order.Canceled
}
