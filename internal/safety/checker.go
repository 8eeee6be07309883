// Package safety provides pre-start validation checks
package safety

import (
	"context"
	"fmt"
	"strings"

	"bitsplit/internal/core"
	"bitsplit/internal/ladder"

	"github.com/shopspring/decimal"
)

// SafetyChecker validates the account and ladder geometry before trading
type SafetyChecker struct {
	logger core.ILogger
}

// NewSafetyChecker creates a new safety checker
func NewSafetyChecker(logger core.ILogger) *SafetyChecker {
	return &SafetyChecker{
		logger: logger,
	}
}

// CheckAccountSafety verifies connectivity, funding and profitability before
// the engine places its first order.
func (s *SafetyChecker) CheckAccountSafety(
	ctx context.Context,
	exchange core.IExchange,
	cfg ladder.Config,
	feeRate decimal.Decimal,
) error {
	s.logger.Info("Starting account safety check", "market", cfg.Market)

	// 1. Connectivity: both a public and a signed endpoint must answer
	price, err := exchange.GetLastTradePrice(ctx, cfg.Market)
	if err != nil {
		return fmt.Errorf("price access failed: %w", err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid price received: %s", price)
	}

	balances, err := exchange.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("account access failed: %w", err)
	}

	// 2. Funding: the quote currency must hold at least one level's budget
	quoteCurrency := strings.SplitN(cfg.Market, "-", 2)[0]
	available := decimal.Zero
	for _, b := range balances {
		if strings.EqualFold(b.Currency, quoteCurrency) {
			available = b.Free
			break
		}
	}
	if available.LessThan(cfg.QuoteAmount) {
		return fmt.Errorf("insufficient %s balance: have %s, one level needs %s",
			quoteCurrency, available, cfg.QuoteAmount)
	}

	// 3. Profitability: every level must net a positive profit after fees.
	// The gap shrinks in absolute terms down the ladder in price mode, so
	// check the worst (deepest) level rather than the first.
	snap, err := ladder.Build(cfg)
	if err != nil {
		return err
	}
	for _, l := range snap.Levels {
		net := ladder.Profit(l.BuyPrice, l.SellPrice, l.Volume, feeRate)
		if net.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("level %d nets %s per cycle after fees: widen the sell gap or reduce the fee rate",
				l.Level, net)
		}
	}

	s.logger.Info("Account safety check completed successfully",
		"market", cfg.Market,
		"price", price,
		"available", available)
	return nil
}
