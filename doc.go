// Package backpackconnector provides a Go client for the Backpack exchange:
// signed REST operations, real-time WebSocket streaming, and locally
// maintained market state.
//
// Core Features:
//
//   - ED25519 instruction-based request signing for all authenticated endpoints
//   - WebSocket subscriptions for tickers, trades, depth, klines, and private
//     account events, multiplexed over one connection
//   - Incremental order-book reconstruction with consistent point-in-time reads
//   - Rolling caches for recent trades, klines, order states, and positions
//   - Automatic reconnection with subscription replay and stale-book rebuild
//   - Rate limiting protection for REST calls
//
// The library is built around the backpack.Connector type. Streaming methods
// register callbacks; within one channel callbacks run sequentially in
// arrival order, across channels they run concurrently, and a slow callback
// on one channel never delays another.
//
// # Standard Errors
//
// The interfaces package defines standardized errors for consistent
// handling:
//
//   - ErrNotConnected: an operation needs a live stream connection
//
//   - ErrInvalidSymbol: an empty or malformed trading pair symbol was provided
//
//   - ErrInvalidInterval: an unsupported kline interval was provided
//
//   - ErrMissingCredentials: a private operation was attempted without API keys
//
//   - ErrInvalidCredentials: the configured API keys cannot be decoded
//
//   - ErrSubscriptionFailed: a stream subscription could not be established
//
//   - ErrSubscriptionNotFound: unsubscribing from an unknown subscription
//
//   - ErrSubscriptionClosed: a blocked waiter was released by teardown
//
//   - ErrBookNotReady: the order book has no data since the last reconnect
//
//   - ErrExchangeUnavailable: the exchange API is unavailable
//
// Additionally, the library provides a MarketError type for market-specific
// error conditions, created with NewMarketError(symbol, message, err).
//
// # Examples
//
// Basic usage:
//
//	options := interfaces.NewExchangeOptions().WithCredentials("your-api-key", "your-api-secret")
//	connector, err := backpack.NewConnector(options)
//	if err != nil {
//	    log.Fatalf("Failed to build connector: %v", err)
//	}
//
//	ctx := context.Background()
//	if err := connector.Connect(ctx); err != nil {
//	    log.Fatalf("Failed to connect: %v", err)
//	}
//	defer connector.Close()
//
// # Streaming Examples
//
// Subscribing to public trades:
//
//	sub, err := connector.SubscribeTrades(ctx, []string{"SOL_USDC"}, func(trade interfaces.Trade) {
//	    fmt.Printf("%s %s @ %s\n", trade.Symbol, trade.Quantity, trade.Price)
//	})
//	if err != nil {
//	    log.Fatalf("Failed to subscribe: %v", err)
//	}
//	defer connector.Unsubscribe(sub)
//
// Maintaining an order book and reading it:
//
//	_, err = connector.SubscribeDepth(ctx, []string{"SOL_USDC"}, nil)
//	if err != nil {
//	    log.Fatalf("Failed to subscribe: %v", err)
//	}
//
//	// Later, read the top five levels per side.
//	snap, err := connector.OrderBook("SOL_USDC", 5)
//	if errors.Is(err, interfaces.ErrBookNotReady) {
//	    // No depth update received yet since connect/reconnect.
//	}
//
// Waiting for the next private order event:
//
//	_, err = connector.SubscribeOrderUpdates(ctx, "", nil)
//	if err != nil {
//	    log.Fatalf("Failed to subscribe: %v", err)
//	}
//
//	order, err := connector.NextOrder(ctx, "SOL_USDC")
//	if err == nil {
//	    fmt.Printf("order %s is now %s\n", order.ID, order.Status)
//	}
//
// # REST Examples
//
// Placing and cancelling an order:
//
//	placed, err := connector.ExecuteOrder(ctx, backpack.OrderRequest{
//	    Symbol:    "SOL_USDC",
//	    Side:      interfaces.SideBid,
//	    OrderType: "Limit",
//	    Price:     decimal.RequireFromString("18.50"),
//	    Quantity:  decimal.RequireFromString("2"),
//	})
//	if err != nil {
//	    log.Fatalf("Failed to place order: %v", err)
//	}
//
//	_, err = connector.CancelOrder(ctx, "SOL_USDC", placed.ID)
//
// Batch execution signs every order under a single timestamp:
//
//	placed, err := connector.ExecuteOrders(ctx, []backpack.OrderRequest{buy, sell})
package backpackconnector
