package ladder

import "github.com/shopspring/decimal"

var (
	relPriceTol  = decimal.RequireFromString("0.001")
	relVolumeTol = decimal.RequireFromString("0.02")
	absVolumeTol = decimal.RequireFromString("0.0000000001")
)

// WithinPrice reports whether two prices match within one tick or 0.1% of
// the expected price, whichever is larger. Exchanges round quantized prices
// slightly differently, so exact equality is too strict for matching.
func WithinPrice(expected, actual, tick decimal.Decimal) bool {
	tol := expected.Mul(relPriceTol)
	if tick.GreaterThan(tol) {
		tol = tick
	}
	return actual.Sub(expected).Abs().LessThanOrEqual(tol)
}

// WithinVolume reports whether two volumes match within 2% of the expected
// volume, floored at a tiny absolute tolerance for near-zero volumes.
func WithinVolume(expected, actual decimal.Decimal) bool {
	tol := expected.Mul(relVolumeTol)
	if absVolumeTol.GreaterThan(tol) {
		tol = absVolumeTol
	}
	return actual.Sub(expected).Abs().LessThanOrEqual(tol)
}
