// Package bithumb implements the exchange gateway for Bithumb's v1 REST API.
// Private endpoints are JWT-signed; an expired token triggers a clock resync
// and one transparent retry.
package bithumb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bitsplit/internal/core"
	apperrors "bitsplit/pkg/errors"
	pkghttp "bitsplit/pkg/http"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// BaseURL is the production API endpoint
	BaseURL = "https://api.bithumb.com"

	requestTimeout = 10 * time.Second
)

// Client implements core.IExchange against the Bithumb REST API
type Client struct {
	http    *pkghttp.Client
	public  *pkghttp.Client
	signer  *Signer
	logger  core.ILogger
	limiter *rate.Limiter
}

// NewClient builds a gateway. The cancel rate limiter matches the venue's
// private endpoint allowance so bulk cancels do not trip 429s.
func NewClient(baseURL string, signer *Signer, logger core.ILogger) *Client {
	return &Client{
		http:    pkghttp.NewClient(baseURL, requestTimeout, signer),
		public:  pkghttp.NewClient(baseURL, requestTimeout, nil),
		signer:  signer,
		logger:  logger.WithField("exchange", "bithumb"),
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

func (c *Client) GetName() string {
	return "bithumb"
}

// PlaceLimitOrder registers a limit order and returns the venue order ID
func (c *Client) PlaceLimitOrder(ctx context.Context, market string, side core.Side, volume, price decimal.Decimal) (string, error) {
	body := map[string]string{
		"market":   market,
		"side":     string(side),
		"volume":   volume.String(),
		"price":    price.String(),
		"ord_type": "limit",
	}

	data, err := c.signedPost(ctx, "/v1/orders", body)
	if err != nil {
		return "", err
	}

	payload := unwrap(data)
	orderID, _ := payload["uuid"].(string)
	if orderID == "" {
		return "", fmt.Errorf("%w: order response missing uuid: %s", apperrors.ErrOrderRejected, truncate(data))
	}
	return orderID, nil
}

// GetOrderDetail fetches the raw detail payload for one order
func (c *Client) GetOrderDetail(ctx context.Context, orderID string) (map[string]interface{}, error) {
	data, err := c.signedGet(ctx, "/v1/order", map[string]string{"uuid": orderID})
	if err != nil {
		return nil, err
	}
	var detail map[string]interface{}
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("failed to parse order detail: %w", err)
	}
	return detail, nil
}

// CancelOrder cancels one order by ID
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.signedDelete(ctx, "/v1/order", map[string]string{"uuid": orderID})
	return err
}

// CancelAllOrders cancels every open order on the market, rate limited
func (c *Client) CancelAllOrders(ctx context.Context, market string) error {
	orders, err := c.GetOpenOrders(ctx, market, 100)
	if err != nil {
		return fmt.Errorf("failed to list open orders: %w", err)
	}

	var firstErr error
	for _, order := range orders {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.CancelOrder(ctx, order.OrderID); err != nil && !errors.Is(err, apperrors.ErrOrderNotFound) {
			c.logger.Warn("Cancel failed", "market", market, "order_id", order.OrderID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// GetOpenOrders lists unfilled orders on a market, newest first
func (c *Client) GetOpenOrders(ctx context.Context, market string, limit int) ([]core.OpenOrder, error) {
	params := map[string]string{
		"market":   market,
		"state":    "wait",
		"limit":    strconv.Itoa(limit),
		"page":     "1",
		"order_by": "desc",
	}
	data, err := c.signedGet(ctx, "/v1/orders", params)
	if err != nil {
		return nil, err
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		// Some error payloads arrive as an object rather than a list
		return nil, fmt.Errorf("failed to parse open orders: %s", truncate(data))
	}

	orders := make([]core.OpenOrder, 0, len(raw))
	for _, o := range raw {
		order := core.OpenOrder{
			OrderID: str(o, "uuid", "order_id"),
			Side:    core.Side(str(o, "side")),
			Price:   dec(o, "price"),
			Volume:  dec(o, "remaining_volume", "volume"),
		}
		if created := str(o, "created_at"); created != "" {
			if t, err := time.Parse(time.RFC3339, created); err == nil {
				order.CreatedAt = t
			}
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// GetBalance lists the account balances for every currency
func (c *Client) GetBalance(ctx context.Context) ([]core.Balance, error) {
	data, err := c.signedGet(ctx, "/v1/accounts", nil)
	if err != nil {
		return nil, err
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse accounts: %s", truncate(data))
	}

	balances := make([]core.Balance, 0, len(raw))
	for _, b := range raw {
		balances = append(balances, core.Balance{
			Currency: str(b, "currency"),
			Free:     dec(b, "balance"),
			Locked:   dec(b, "locked"),
		})
	}
	return balances, nil
}

// GetLastTradePrice reads the latest trade price from the public ticker
func (c *Client) GetLastTradePrice(ctx context.Context, market string) (decimal.Decimal, error) {
	data, err := c.public.Get(ctx, "/public/ticker/"+market, nil)
	if err != nil {
		return decimal.Zero, mapError(err)
	}

	var payload struct {
		Status string `json:"status"`
		Data   struct {
			ClosingPrice json.Number `json:"closing_price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse ticker: %w", err)
	}
	if payload.Status != "0000" {
		return decimal.Zero, fmt.Errorf("ticker request failed for %s: status %s", market, payload.Status)
	}
	price, err := decimal.NewFromString(payload.Data.ClosingPrice.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse closing price: %w", err)
	}
	return price, nil
}

// signedGet runs a GET with expired-token recovery
func (c *Client) signedGet(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.withTokenRetry(func() ([]byte, error) {
		return c.http.Get(ctx, path, params)
	})
}

func (c *Client) signedPost(ctx context.Context, path string, body map[string]string) ([]byte, error) {
	return c.withTokenRetry(func() ([]byte, error) {
		return c.http.Post(ctx, path, body)
	})
}

func (c *Client) signedDelete(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.withTokenRetry(func() ([]byte, error) {
		return c.http.Delete(ctx, path, params)
	})
}

// withTokenRetry resyncs the server clock and retries once when the venue
// reports an expired token. All other errors map to sentinel errors.
func (c *Client) withTokenRetry(call func() ([]byte, error)) ([]byte, error) {
	data, err := call()
	if err != nil && isExpiredJWT(err) {
		c.logger.Warn("Token rejected as expired, resyncing server clock")
		c.signer.ForceSync()
		data, err = call()
	}
	if err != nil {
		return nil, mapError(err)
	}
	return data, nil
}

type apiErrorBody struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorName(err error) string {
	var apiErr *pkghttp.APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	var body apiErrorBody
	if json.Unmarshal(apiErr.Body, &body) != nil {
		return ""
	}
	return body.Error.Name
}

func isExpiredJWT(err error) bool {
	return errorName(err) == "expired_jwt"
}

// mapError folds venue and transport failures into sentinel errors
func mapError(err error) error {
	var apiErr *pkghttp.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %v", apperrors.ErrOrderNotFound, err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", apperrors.ErrAuthenticationFailed, err)
		}
		switch errorName(err) {
		case "insufficient_funds_bid", "insufficient_funds_ask":
			return fmt.Errorf("%w: %v", apperrors.ErrInsufficientFunds, err)
		case "order_not_found":
			return fmt.Errorf("%w: %v", apperrors.ErrOrderNotFound, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
}

// unwrap hoists a nested "data" object when present
func unwrap(data []byte) map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{}
	}
	if nested, ok := m["data"].(map[string]interface{}); ok {
		return nested
	}
	return m
}

func str(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func dec(m map[string]interface{}, keys ...string) decimal.Decimal {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if d, err := decimal.NewFromString(t); err == nil {
				return d
			}
		case float64:
			return decimal.NewFromFloat(t)
		}
	}
	return decimal.Zero
}

func truncate(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
