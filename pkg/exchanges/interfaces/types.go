// Package interfaces defines the normalized domain objects and the options
// shared by exchange connector implementations. Market metadata (symbol to
// exchange-id mapping, precision) is supplied by an external registry and is
// never computed here.
package interfaces

import (
	"github.com/shopspring/decimal"
)

// PriceLevel is one order book level: a price and the quantity resting at it.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBookSnapshot is a consistent read view of one symbol's book. Bids are
// sorted descending by price, asks ascending. LastUpdateID is the update id
// of the last applied delta; Timestamp is the engine time of that delta in
// milliseconds.
type OrderBookSnapshot struct {
	Symbol       string
	Bids         []PriceLevel
	Asks         []PriceLevel
	LastUpdateID uint64
	Timestamp    int64
}

// Ticker is a 24h rolling market summary for one symbol.
type Ticker struct {
	Symbol      string
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	LastPrice   decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	Trades      int64
	// Timestamp is the engine time in milliseconds.
	Timestamp int64
}

// Trade is a single public fill.
type Trade struct {
	Symbol     string
	ID         int64
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	BuyerMaker bool
	// Timestamp is the engine time in milliseconds.
	Timestamp int64
}

// Kline is one OHLCV candle for a symbol and interval.
type Kline struct {
	Symbol    string
	Interval  string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Trades    int64
	Closed    bool
	StartTime int64
	// Timestamp is the engine time in milliseconds.
	Timestamp int64
}

// Order side values as reported by the exchange.
const (
	SideBid = "Bid"
	SideAsk = "Ask"
)

// Order is a normalized view of one account order, updated by order-update
// stream events.
type Order struct {
	ID             string
	ClientID       string
	Symbol         string
	Side           string
	OrderType      string
	Status         string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	// Timestamp is the engine time in milliseconds.
	Timestamp int64
}

// Position is a normalized view of one open position.
type Position struct {
	Symbol        string
	NetQuantity   decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	// Timestamp is the engine time in milliseconds.
	Timestamp int64
}

// Balance is one asset balance on the account.
type Balance struct {
	Asset     string
	Available decimal.Decimal
	Locked    decimal.Decimal
	Staked    decimal.Decimal
}

// Handler types for streaming callbacks. Handlers are invoked from
// goroutines owned by the connector; within one channel invocations are
// sequential, across channels they are concurrent.
type (
	// TickerHandler processes real-time ticker updates.
	TickerHandler func(Ticker)

	// TradeHandler processes real-time public trades.
	TradeHandler func(Trade)

	// KlineHandler processes real-time candle updates.
	KlineHandler func(Kline)

	// OrderBookHandler receives the fully-merged book after each applied delta.
	OrderBookHandler func(OrderBookSnapshot)

	// OrderHandler processes private order-update events.
	OrderHandler func(Order)

	// PositionHandler processes private position-update events.
	PositionHandler func(Position)
)
