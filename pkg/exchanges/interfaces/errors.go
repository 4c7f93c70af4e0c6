package interfaces

import (
	"errors"
	"fmt"
)

// Common error variables that exchange connectors may return
var (
	// ErrNotConnected is returned when an operation is attempted on a connector
	// that hasn't been connected yet or lost connection
	ErrNotConnected = errors.New("exchange connector not connected")

	// ErrInvalidSymbol is returned when an invalid trading pair symbol is provided
	ErrInvalidSymbol = errors.New("invalid trading pair symbol")

	// ErrInvalidInterval is returned when an unsupported kline interval is provided
	ErrInvalidInterval = errors.New("invalid time interval")

	// ErrMissingCredentials is returned when an authenticated operation is
	// attempted on a connector constructed without API credentials
	ErrMissingCredentials = errors.New("authenticated operation requires API credentials")

	// ErrInvalidCredentials is returned when the provided API credentials are malformed
	ErrInvalidCredentials = errors.New("invalid API credentials")

	// ErrSubscriptionFailed is returned when a WebSocket subscription cannot be established
	ErrSubscriptionFailed = errors.New("failed to establish subscription")

	// ErrSubscriptionNotFound is returned when trying to unsubscribe from a non-existent subscription
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriptionClosed releases pending waiters when their subscription is
	// torn down; it signals cancellation, not a value
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrBookNotReady is returned when a book read is requested for a symbol
	// that has not received its first depth message yet
	ErrBookNotReady = errors.New("order book not initialized")

	// ErrExchangeUnavailable is returned when the exchange API is unavailable
	ErrExchangeUnavailable = errors.New("exchange API unavailable")
)

// MarketError represents a market-specific error condition
type MarketError struct {
	Symbol  string
	Message string
	Err     error
}

// Error implements the error interface
func (e *MarketError) Error() string {
	return fmt.Sprintf("market error for %s: %s", e.Symbol, e.Message)
}

// Unwrap returns the underlying error
func (e *MarketError) Unwrap() error {
	return e.Err
}

// NewMarketError creates a new market-specific error
func NewMarketError(symbol, message string, err error) error {
	return &MarketError{
		Symbol:  symbol,
		Message: message,
		Err:     err,
	}
}
