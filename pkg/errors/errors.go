package apperrors

import "errors"

// Standardized exchange and engine errors
var (
	ErrUnknownSymbol         = errors.New("unknown symbol")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderRejected         = errors.New("order rejected")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrCorruptSnapshot       = errors.New("corrupt snapshot")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
)
