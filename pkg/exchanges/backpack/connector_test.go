package backpack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/backpack-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/backpack-connector/pkg/websocket"
)

func newStreamConnector(t *testing.T, withCreds bool) (*Connector, *websocket.MockServer) {
	t.Helper()

	mock := websocket.NewMockServer()
	t.Cleanup(mock.Close)

	options := interfaces.NewExchangeOptions()
	options.WSEndpoint = mock.URL()
	options.LogLevel = "error"
	if withCreds {
		apiKey, apiSecret, _ := testKeyPair()
		options = options.WithCredentials(apiKey, apiSecret)
	}

	connector, err := NewConnector(options)
	require.NoError(t, err)
	require.NoError(t, connector.Connect(context.Background()))
	t.Cleanup(func() {
		_ = connector.Close()
	})
	return connector, mock
}

func TestConnectorTradeFlow(t *testing.T) {
	connector, mock := newStreamConnector(t, false)

	received := make(chan interfaces.Trade, 1)
	sub, err := connector.SubscribeTrades(context.Background(), []string{"SOL_USDC"}, func(trade interfaces.Trade) {
		received <- trade
	})
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", sub.ID.String())
	assert.Equal(t, []string{"trades.SOL_USDC"}, sub.Channels)

	waitFor(t, func() bool {
		return len(mock.SubscribedChannels()) == 1
	})

	require.NoError(t, mock.PublishStream("trades.SOL_USDC", tradePayload{
		Event:     "trade",
		Symbol:    "SOL_USDC",
		Price:     "18.68",
		Quantity:  "0.52",
		TradeID:   9001,
		TradeTime: 1694687965940999,
	}))

	trade := <-received
	assert.Equal(t, int64(9001), trade.ID)
	assert.Equal(t, int64(1694687965940), trade.Timestamp)

	waitFor(t, func() bool {
		return len(connector.RecentTrades("SOL_USDC")) == 1
	})
}

func TestConnectorDepthBuildsBook(t *testing.T) {
	connector, mock := newStreamConnector(t, false)

	snapshots := make(chan interfaces.OrderBookSnapshot, 4)
	_, err := connector.SubscribeDepth(context.Background(), []string{"SOL_USDC"}, func(snap interfaces.OrderBookSnapshot) {
		snapshots <- snap
	})
	require.NoError(t, err)

	_, err = connector.OrderBook("SOL_USDC", 0)
	assert.ErrorIs(t, err, interfaces.ErrBookNotReady)

	require.NoError(t, mock.PublishStream("depth.SOL_USDC", depthPayload{
		Symbol:        "SOL_USDC",
		Bids:          [][2]string{{"18.50", "1.0"}},
		Asks:          [][2]string{{"18.70", "2.0"}},
		FirstUpdateID: 1,
		LastUpdateID:  1,
		TradeTime:     1694687965940999,
	}))
	first := <-snapshots
	require.Len(t, first.Bids, 1)

	require.NoError(t, mock.PublishStream("depth.SOL_USDC", depthPayload{
		Symbol:        "SOL_USDC",
		Bids:          [][2]string{{"18.50", "0"}, {"18.45", "3.0"}},
		FirstUpdateID: 2,
		LastUpdateID:  2,
		TradeTime:     1694687966000000,
	}))
	second := <-snapshots
	require.Len(t, second.Bids, 1)
	assert.Equal(t, "18.45", second.Bids[0].Price.String())
	assert.Equal(t, uint64(2), second.LastUpdateID)

	snap, err := connector.OrderBook("SOL_USDC", 1)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, "18.7", snap.Asks[0].Price.String())
}

func TestConnectorKlineFlow(t *testing.T) {
	connector, mock := newStreamConnector(t, false)

	received := make(chan interfaces.Kline, 1)
	_, err := connector.SubscribeKlines(context.Background(), []string{"SOL_USDC"}, "1m", func(k interfaces.Kline) {
		received <- k
	})
	require.NoError(t, err)

	require.NoError(t, mock.PublishStream("kline.1m.SOL_USDC", klinePayload{
		Symbol:    "SOL_USDC",
		StartTime: 1694687940000,
		Open:      "18.10",
		Close:     "18.30",
		High:      "18.35",
		Low:       "18.05",
		Volume:    "312.8",
	}))

	kline := <-received
	assert.Equal(t, "1m", kline.Interval)
	assert.Equal(t, "18.3", kline.Close.String())

	waitFor(t, func() bool {
		return len(connector.RecentKlines("SOL_USDC", "1m")) == 1
	})
}

func TestConnectorNextTradeWaiter(t *testing.T) {
	connector, mock := newStreamConnector(t, false)

	_, err := connector.SubscribeTrades(context.Background(), []string{"SOL_USDC"}, func(interfaces.Trade) {})
	require.NoError(t, err)

	type result struct {
		trade interfaces.Trade
		err   error
	}
	scoped := make(chan result, 1)
	anySymbol := make(chan result, 1)
	go func() {
		trade, err := connector.NextTrade(context.Background(), "SOL_USDC")
		scoped <- result{trade, err}
	}()
	go func() {
		trade, err := connector.NextTrade(context.Background(), "")
		anySymbol <- result{trade, err}
	}()

	waitFor(t, func() bool {
		connector.hub.mu.Lock()
		defer connector.hub.mu.Unlock()
		return len(connector.hub.waiters["trades:SOL_USDC"]) == 1 &&
			len(connector.hub.waiters["trades"]) == 1
	})

	require.NoError(t, mock.PublishStream("trades.SOL_USDC", tradePayload{
		Symbol: "SOL_USDC", Price: "18.68", Quantity: "1", TradeID: 7,
	}))

	// One message resolves both granularities.
	got := <-scoped
	require.NoError(t, got.err)
	assert.Equal(t, int64(7), got.trade.ID)
	got = <-anySymbol
	require.NoError(t, got.err)
	assert.Equal(t, int64(7), got.trade.ID)
}

func TestConnectorUnsubscribeCancelsWaiters(t *testing.T) {
	connector, mock := newStreamConnector(t, false)

	sub, err := connector.SubscribeTrades(context.Background(), []string{"SOL_USDC"}, func(interfaces.Trade) {})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := connector.NextTrade(context.Background(), "SOL_USDC")
		errCh <- err
	}()
	waitFor(t, func() bool {
		connector.hub.mu.Lock()
		defer connector.hub.mu.Unlock()
		return len(connector.hub.waiters["trades:SOL_USDC"]) == 1
	})

	require.NoError(t, connector.Unsubscribe(sub))
	assert.ErrorIs(t, <-errCh, interfaces.ErrSubscriptionClosed)

	waitFor(t, func() bool {
		for _, req := range mock.Requests() {
			if req.Method == "UNSUBSCRIBE" {
				return true
			}
		}
		return false
	})
}

func TestConnectorPrivateSubscribeRequiresCredentials(t *testing.T) {
	connector, _ := newStreamConnector(t, false)

	_, err := connector.SubscribeOrderUpdates(context.Background(), "", func(interfaces.Order) {})
	assert.ErrorIs(t, err, interfaces.ErrMissingCredentials)
	_, err = connector.SubscribePositionUpdates(context.Background(), "", func(interfaces.Position) {})
	assert.ErrorIs(t, err, interfaces.ErrMissingCredentials)
}

func TestConnectorOrderUpdateCachesLatestState(t *testing.T) {
	connector, mock := newStreamConnector(t, true)

	received := make(chan interfaces.Order, 2)
	_, err := connector.SubscribeOrderUpdates(context.Background(), "", func(order interfaces.Order) {
		received <- order
	})
	require.NoError(t, err)

	require.NoError(t, mock.PublishStream("account.orderUpdate", orderUpdatePayload{
		Symbol: "SOL_USDC", OrderID: "111", Status: "New",
		Quantity: "2", Price: "18.50",
	}))
	first := <-received
	assert.Equal(t, "New", first.Status)

	require.NoError(t, mock.PublishStream("account.orderUpdate", orderUpdatePayload{
		Symbol: "SOL_USDC", OrderID: "111", Status: "Filled",
		Quantity: "2", Price: "18.50", FilledQuantity: "2",
	}))
	second := <-received
	assert.Equal(t, "Filled", second.Status)

	// Same order id: one cache entry holding the latest state.
	orders := connector.CachedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, "Filled", orders[0].Status)
	assert.Equal(t, "2", orders[0].FilledQuantity.String())
}

func TestConnectorPositionUpdateFlow(t *testing.T) {
	connector, mock := newStreamConnector(t, true)

	received := make(chan interfaces.Position, 1)
	_, err := connector.SubscribePositionUpdates(context.Background(), "SOL_USDC_PERP", func(p interfaces.Position) {
		received <- p
	})
	require.NoError(t, err)

	require.NoError(t, mock.PublishStream("account.positionUpdate.SOL_USDC_PERP", positionUpdatePayload{
		Symbol: "SOL_USDC_PERP", NetQuantity: "10", EntryPrice: "18.2", MarkPrice: "18.4",
	}))

	position := <-received
	assert.Equal(t, "10", position.NetQuantity.String())

	positions := connector.CachedPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "SOL_USDC_PERP", positions[0].Symbol)
}

func TestConnectorPrivateSubscribeSendsSignature(t *testing.T) {
	connector, mock := newStreamConnector(t, true)

	_, err := connector.SubscribeOrderUpdates(context.Background(), "SOL_USDC", func(interfaces.Order) {})
	require.NoError(t, err)

	waitFor(t, func() bool {
		return len(mock.Requests()) == 1
	})
	req := mock.Requests()[0]
	assert.Equal(t, "SUBSCRIBE", req.Method)
	assert.Equal(t, []string{"account.orderUpdate.SOL_USDC"}, req.Params)
	require.Len(t, req.Signature, 4)
	apiKey, _, _ := testKeyPair()
	assert.Equal(t, apiKey, req.Signature[0])
}

func TestConnectorCloseReleasesWaiters(t *testing.T) {
	connector, _ := newStreamConnector(t, false)

	_, err := connector.SubscribeTrades(context.Background(), []string{"SOL_USDC"}, func(interfaces.Trade) {})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := connector.NextTrade(context.Background(), "SOL_USDC")
		errCh <- err
	}()
	waitFor(t, func() bool {
		connector.hub.mu.Lock()
		defer connector.hub.mu.Unlock()
		return len(connector.hub.waiters["trades:SOL_USDC"]) == 1
	})

	require.NoError(t, connector.Close())
	assert.ErrorIs(t, <-errCh, interfaces.ErrSubscriptionClosed)
}

func TestConnectorSubscribeWithoutSymbols(t *testing.T) {
	connector, _ := newStreamConnector(t, false)

	_, err := connector.SubscribeTrades(context.Background(), nil, func(interfaces.Trade) {})
	assert.ErrorIs(t, err, interfaces.ErrInvalidSymbol)
	_, err = connector.SubscribeKlines(context.Background(), []string{"SOL_USDC"}, "", func(interfaces.Kline) {})
	assert.ErrorIs(t, err, interfaces.ErrInvalidInterval)
}

func TestConnectorSubscribeBeforeConnect(t *testing.T) {
	options := interfaces.NewExchangeOptions()
	options.LogLevel = "error"
	connector, err := NewConnector(options)
	require.NoError(t, err)

	_, err = connector.SubscribeTicker(context.Background(), []string{"SOL_USDC"}, func(interfaces.Ticker) {})
	assert.ErrorIs(t, err, interfaces.ErrNotConnected)
}

func TestConnectorCloseBeforeConnect(t *testing.T) {
	options := interfaces.NewExchangeOptions()
	options.LogLevel = "error"
	connector, err := NewConnector(options)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		require.NoError(t, connector.Close())
	})
}

func TestConnectorUnsubscribeKeepsSharedWaiters(t *testing.T) {
	connector, mock := newStreamConnector(t, false)

	solSub, err := connector.SubscribeTrades(context.Background(), []string{"SOL_USDC"}, func(interfaces.Trade) {})
	require.NoError(t, err)
	_, err = connector.SubscribeTrades(context.Background(), []string{"BTC_USDC"}, func(interfaces.Trade) {})
	require.NoError(t, err)

	scopedErr := make(chan error, 1)
	go func() {
		_, err := connector.NextTrade(context.Background(), "SOL_USDC")
		scopedErr <- err
	}()
	type result struct {
		trade interfaces.Trade
		err   error
	}
	anySymbol := make(chan result, 1)
	go func() {
		trade, err := connector.NextTrade(context.Background(), "")
		anySymbol <- result{trade, err}
	}()
	waitFor(t, func() bool {
		connector.hub.mu.Lock()
		defer connector.hub.mu.Unlock()
		return len(connector.hub.waiters["trades:SOL_USDC"]) == 1 &&
			len(connector.hub.waiters["trades"]) == 1
	})

	// Dropping SOL_USDC cancels its scoped waiter but the account-wide
	// key is still fed by the BTC_USDC subscription.
	require.NoError(t, connector.Unsubscribe(solSub))
	assert.ErrorIs(t, <-scopedErr, interfaces.ErrSubscriptionClosed)

	connector.hub.mu.Lock()
	remaining := len(connector.hub.waiters["trades"])
	connector.hub.mu.Unlock()
	require.Equal(t, 1, remaining)

	require.NoError(t, mock.PublishStream("trades.BTC_USDC", tradePayload{
		Symbol: "BTC_USDC", Price: "64000.5", Quantity: "0.01", TradeID: 42,
	}))
	got := <-anySymbol
	require.NoError(t, got.err)
	assert.Equal(t, int64(42), got.trade.ID)
}
