package interfaces

import "time"

// ExchangeOptions defines configuration options for exchange connectors.
type ExchangeOptions struct {
	// APIKey is the base64-encoded ED25519 verifying key identifying the account.
	// Required for authenticated endpoints and private stream channels.
	APIKey string

	// APISecret is the base64-encoded ED25519 private key (32-byte seed or
	// 64-byte key) paired with APIKey. Used to sign request payloads.
	APISecret string

	// RESTEndpoint overrides the default REST base URL.
	RESTEndpoint string

	// WSEndpoint overrides the default WebSocket stream URL.
	WSEndpoint string

	// HTTPTimeout specifies the maximum duration to wait for HTTP requests.
	HTTPTimeout time.Duration

	// MaxRequestsPerSecond controls client-side rate limiting for REST calls.
	MaxRequestsPerSecond int

	// SignatureWindow is the validity window embedded in signed payloads.
	// The exchange rejects requests whose timestamp is outside this window.
	SignatureWindow time.Duration

	// WSReconnectInterval is the delay between reconnect attempts for a
	// dropped WebSocket connection.
	WSReconnectInterval time.Duration

	// WSHeartbeatInterval is the frequency of client pings; the read deadline
	// is a multiple of it, so missing exchange heartbeats surfaces as a
	// transport error.
	WSHeartbeatInterval time.Duration

	// WSMaxRetries bounds connection attempts per connect/reconnect cycle.
	WSMaxRetries int

	// DepthGapDetection enables continuity validation between an incoming
	// delta's first-update-id and the locally held book nonce. On a detected
	// gap the book is logged and re-bootstrapped instead of merged. Off by
	// default: the exchange offers no in-band resync signal.
	DepthGapDetection bool

	// CacheSize bounds the rolling trade/kline/order/position caches per scope.
	CacheSize int

	// LogLevel controls the verbosity of connector logging.
	// Common values include: "debug", "info", "warn", "error"
	LogLevel string
}

// NewExchangeOptions returns default exchange options with reasonable values.
//
// Example usage:
//
//	options := NewExchangeOptions().WithCredentials("your-api-key", "your-api-secret")
//	connector := backpack.NewConnector(options)
func NewExchangeOptions() *ExchangeOptions {
	return &ExchangeOptions{
		HTTPTimeout:          15 * time.Second,
		MaxRequestsPerSecond: 10,
		SignatureWindow:      5 * time.Second,
		WSReconnectInterval:  5 * time.Second,
		WSHeartbeatInterval:  20 * time.Second,
		WSMaxRetries:         3,
		CacheSize:            256,
		LogLevel:             "info",
	}
}

// WithCredentials sets the API key pair and returns the options for chaining.
func (o *ExchangeOptions) WithCredentials(apiKey, apiSecret string) *ExchangeOptions {
	o.APIKey = apiKey
	o.APISecret = apiSecret
	return o
}
