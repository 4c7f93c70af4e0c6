// Package backpack implements the Backpack exchange connector: ED25519
// instruction signing for the REST API, a multiplexed websocket stream
// client, incremental order-book maintenance and rolling caches for
// trades, klines, orders and positions.
package backpack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veiloq/backpack-connector/pkg/auth"
	"github.com/veiloq/backpack-connector/pkg/common"
	"github.com/veiloq/backpack-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/backpack-connector/pkg/logging"
	"github.com/veiloq/backpack-connector/pkg/ratelimit"
	"github.com/veiloq/backpack-connector/pkg/websocket"
)

const (
	defaultRESTEndpoint = "https://api.backpack.exchange"
	defaultWSEndpoint   = "wss://ws.backpack.exchange"
)

// Subscription is the handle returned by the Subscribe* methods. It is
// passed back to Unsubscribe to tear down the underlying stream channels.
type Subscription struct {
	ID       uuid.UUID
	Channels []string
}

// Connector is the public entry point for the Backpack exchange. All
// methods are safe for concurrent use.
type Connector struct {
	options *interfaces.ExchangeOptions
	logger  logging.Logger

	cred     *auth.Credential
	windowMs int64
	http     common.HTTPClient
	ws       websocket.Stream

	restURL string

	books *bookSet
	hub   *waiterHub

	mu               sync.RWMutex
	connected        bool
	tickerHandlers   map[string]interfaces.TickerHandler
	tradeHandlers    map[string]interfaces.TradeHandler
	depthHandlers    map[string]interfaces.OrderBookHandler
	klineHandlers    map[string]interfaces.KlineHandler
	orderHandlers    map[string]interfaces.OrderHandler
	positionHandlers map[string]interfaces.PositionHandler

	trades    map[string]*ringCache[interfaces.Trade]
	klines    map[string]*ringCache[interfaces.Kline]
	orders    *keyedCache[interfaces.Order]
	positions *keyedCache[interfaces.Position]
}

// NewConnector builds a Backpack connector from the given options.
// Credentials are optional: without them every public market-data method
// works and the private ones return ErrMissingCredentials.
func NewConnector(options *interfaces.ExchangeOptions) (*Connector, error) {
	if options == nil {
		options = interfaces.NewExchangeOptions()
	}

	logger := logging.NewLoggerWithLevel(logging.ParseLevel(options.LogLevel))

	var cred *auth.Credential
	if options.APIKey != "" || options.APISecret != "" {
		var err error
		cred, err = auth.NewCredential(options.APIKey, options.APISecret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidCredentials, err)
		}
	}

	windowMs := auth.DefaultWindow.Milliseconds()
	if options.SignatureWindow > 0 {
		windowMs = options.SignatureWindow.Milliseconds()
	}

	restURL := options.RESTEndpoint
	if restURL == "" {
		restURL = defaultRESTEndpoint
	}
	wsURL := options.WSEndpoint
	if wsURL == "" {
		wsURL = defaultWSEndpoint
	}

	httpClient := common.NewHTTPClient(&common.ClientConfig{
		Timeout: options.HTTPTimeout,
		RateLimit: ratelimit.Rate{
			Limit:    options.MaxRequestsPerSecond,
			Interval: time.Second,
		},
		MaxRetries: 3,
		RetryDelay: time.Second,
		Logger:     logger,
	})

	c := &Connector{
		options:  options,
		logger:   logger,
		cred:     cred,
		windowMs: windowMs,
		http:     httpClient,
		restURL:  restURL,

		books: newBookSet(),
		hub:   newWaiterHub(),

		tickerHandlers:   make(map[string]interfaces.TickerHandler),
		tradeHandlers:    make(map[string]interfaces.TradeHandler),
		depthHandlers:    make(map[string]interfaces.OrderBookHandler),
		klineHandlers:    make(map[string]interfaces.KlineHandler),
		orderHandlers:    make(map[string]interfaces.OrderHandler),
		positionHandlers: make(map[string]interfaces.PositionHandler),

		trades:    make(map[string]*ringCache[interfaces.Trade]),
		klines:    make(map[string]*ringCache[interfaces.Kline]),
		orders:    newKeyedCache[interfaces.Order](options.CacheSize),
		positions: newKeyedCache[interfaces.Position](options.CacheSize),
	}

	wsConfig := websocket.Config{
		URL:               wsURL,
		HeartbeatInterval: options.WSHeartbeatInterval,
		ReconnectInterval: options.WSReconnectInterval,
		MaxRetries:        options.WSMaxRetries,
		Logger:            logger,
		OnConnectionLost:  c.onConnectionLost,
	}
	if cred != nil {
		wsConfig.Signer = cred
	}
	c.ws = websocket.NewConnector(wsConfig)

	return c, nil
}

// Connect establishes the websocket session. REST methods do not require
// it; only the Subscribe* methods do.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.ws.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Close tears down the websocket session and releases every blocked
// waiter with ErrSubscriptionClosed.
func (c *Connector) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.hub.shutdown()
	return c.ws.Close()
}

func (c *Connector) IsConnected() bool {
	return c.ws.IsConnected()
}

// onConnectionLost runs the moment the read loop exits, before any
// reconnect attempt: every book is stale until its stream resumes.
func (c *Connector) onConnectionLost() {
	c.books.markAllStale()
}

func (c *Connector) requireCredentials() error {
	if c.cred == nil {
		return interfaces.ErrMissingCredentials
	}
	return nil
}

// SubscribeTicker streams ticker updates for the given symbols.
func (c *Connector) SubscribeTicker(ctx context.Context, symbols []string, handler interfaces.TickerHandler) (*Subscription, error) {
	if len(symbols) == 0 {
		return nil, interfaces.ErrInvalidSymbol
	}
	channels := make([]string, 0, len(symbols))
	c.mu.Lock()
	for _, symbol := range symbols {
		ch := tickerChannel(symbol)
		c.tickerHandlers[ch] = handler
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	return c.subscribe(ctx, channels, false)
}

// SubscribeTrades streams public trades and feeds the per-symbol rolling
// trade cache.
func (c *Connector) SubscribeTrades(ctx context.Context, symbols []string, handler interfaces.TradeHandler) (*Subscription, error) {
	if len(symbols) == 0 {
		return nil, interfaces.ErrInvalidSymbol
	}
	channels := make([]string, 0, len(symbols))
	c.mu.Lock()
	for _, symbol := range symbols {
		ch := tradesChannel(symbol)
		c.tradeHandlers[ch] = handler
		if _, ok := c.trades[symbol]; !ok {
			c.trades[symbol] = newRingCache[interfaces.Trade](c.options.CacheSize)
		}
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	return c.subscribe(ctx, channels, false)
}

// SubscribeDepth streams incremental depth updates and maintains a local
// order book per symbol. The handler receives a snapshot after each
// applied update; OrderBook serves point-in-time reads.
func (c *Connector) SubscribeDepth(ctx context.Context, symbols []string, handler interfaces.OrderBookHandler) (*Subscription, error) {
	if len(symbols) == 0 {
		return nil, interfaces.ErrInvalidSymbol
	}
	channels := make([]string, 0, len(symbols))
	c.mu.Lock()
	for _, symbol := range symbols {
		ch := depthChannel(symbol)
		c.depthHandlers[ch] = handler
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	return c.subscribe(ctx, channels, false)
}

// SubscribeKlines streams candlesticks for one interval across the given
// symbols. The interval uses the exchange grammar ("1m", "1h", "1d").
func (c *Connector) SubscribeKlines(ctx context.Context, symbols []string, interval string, handler interfaces.KlineHandler) (*Subscription, error) {
	if len(symbols) == 0 {
		return nil, interfaces.ErrInvalidSymbol
	}
	if interval == "" {
		return nil, interfaces.ErrInvalidInterval
	}
	channels := make([]string, 0, len(symbols))
	c.mu.Lock()
	for _, symbol := range symbols {
		ch := klineChannel(interval, symbol)
		c.klineHandlers[ch] = handler
		if _, ok := c.klines[ch]; !ok {
			c.klines[ch] = newRingCache[interfaces.Kline](c.options.CacheSize)
		}
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	return c.subscribe(ctx, channels, false)
}

// SubscribeOrderUpdates streams private order lifecycle events. With an
// empty symbol the subscription covers the whole account.
func (c *Connector) SubscribeOrderUpdates(ctx context.Context, symbol string, handler interfaces.OrderHandler) (*Subscription, error) {
	if err := c.requireCredentials(); err != nil {
		return nil, err
	}
	ch := accountChannel("orderUpdate", symbol)
	c.mu.Lock()
	c.orderHandlers[ch] = handler
	c.mu.Unlock()
	return c.subscribe(ctx, []string{ch}, true)
}

// SubscribePositionUpdates streams private position events. With an
// empty symbol the subscription covers the whole account.
func (c *Connector) SubscribePositionUpdates(ctx context.Context, symbol string, handler interfaces.PositionHandler) (*Subscription, error) {
	if err := c.requireCredentials(); err != nil {
		return nil, err
	}
	ch := accountChannel("positionUpdate", symbol)
	c.mu.Lock()
	c.positionHandlers[ch] = handler
	c.mu.Unlock()
	return c.subscribe(ctx, []string{ch}, true)
}

func (c *Connector) subscribe(ctx context.Context, channels []string, private bool) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.ws.IsConnected() {
		c.dropHandlers(channels)
		return nil, interfaces.ErrNotConnected
	}
	for i, channel := range channels {
		ch := channel
		if err := c.ws.Subscribe(ch, private, func(data []byte) {
			c.route(ch, data)
		}); err != nil {
			for _, done := range channels[:i] {
				_ = c.ws.Unsubscribe(done)
			}
			c.dropHandlers(channels)
			return nil, err
		}
	}
	return &Subscription{ID: uuid.New(), Channels: channels}, nil
}

// Unsubscribe tears down every channel behind the handle and cancels
// waiters parked on those channels. Keys that a surviving subscription
// still feeds, such as the account-wide key shared by per-symbol
// channels of the same family, are left alone.
func (c *Connector) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return interfaces.ErrSubscriptionNotFound
	}
	var firstErr error
	for _, channel := range sub.Channels {
		if err := c.ws.Unsubscribe(channel); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.dropHandlers(sub.Channels)

	served := make(map[string]bool)
	for _, channel := range c.activeChannels() {
		for _, key := range waitKeysForChannel(channel) {
			served[key] = true
		}
	}
	for _, channel := range sub.Channels {
		var stale []string
		for _, key := range waitKeysForChannel(channel) {
			if !served[key] {
				stale = append(stale, key)
			}
		}
		c.hub.cancel(stale...)
	}
	return firstErr
}

// activeChannels lists every channel that still has a registered handler.
func (c *Connector) activeChannels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var channels []string
	for channel := range c.tickerHandlers {
		channels = append(channels, channel)
	}
	for channel := range c.tradeHandlers {
		channels = append(channels, channel)
	}
	for channel := range c.depthHandlers {
		channels = append(channels, channel)
	}
	for channel := range c.klineHandlers {
		channels = append(channels, channel)
	}
	for channel := range c.orderHandlers {
		channels = append(channels, channel)
	}
	for channel := range c.positionHandlers {
		channels = append(channels, channel)
	}
	return channels
}

func (c *Connector) dropHandlers(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, channel := range channels {
		delete(c.tickerHandlers, channel)
		delete(c.tradeHandlers, channel)
		delete(c.depthHandlers, channel)
		delete(c.klineHandlers, channel)
		delete(c.orderHandlers, channel)
		delete(c.positionHandlers, channel)
	}
}

// waitKeysForChannel maps a stream channel onto the waiter keys its
// messages resolve, both account-wide and symbol-scoped.
func waitKeysForChannel(channel string) []string {
	family, scope := parseChannel(channel)
	switch family {
	case familyTicker:
		if len(scope) == 1 {
			return []string{"ticker", "ticker:" + scope[0]}
		}
	case familyTrades:
		if len(scope) == 1 {
			return []string{"trades", "trades:" + scope[0]}
		}
	case familyDepth:
		if len(scope) == 1 {
			return []string{"depth", "depth:" + scope[0]}
		}
	case familyKline:
		if len(scope) == 2 {
			return []string{"klines", "klines:" + scope[1]}
		}
	case familyAccount:
		if len(scope) == 0 {
			return nil
		}
		var kind string
		switch {
		case strings.Contains(scope[0], "orderUpdate"):
			kind = "orders"
		case strings.Contains(scope[0], "positionUpdate"):
			kind = "positions"
		default:
			return nil
		}
		if len(scope) > 1 {
			return []string{kind, kind + ":" + scope[1]}
		}
		return []string{kind}
	}
	return nil
}

// handleTicker parses and fans out one ticker event.
func (c *Connector) handleTicker(channel string, data []byte) {
	ticker, err := parseTicker(data)
	if err != nil {
		c.logger.Warn("dropping malformed ticker",
			logging.String("channel", channel), logging.Error(err))
		return
	}
	c.hub.publish(ticker, "ticker", "ticker:"+ticker.Symbol)
	c.mu.RLock()
	handler := c.tickerHandlers[channel]
	c.mu.RUnlock()
	if handler != nil {
		handler(ticker)
	}
}

func (c *Connector) handleTrade(channel string, data []byte) {
	trade, err := parseTrade(data)
	if err != nil {
		c.logger.Warn("dropping malformed trade",
			logging.String("channel", channel), logging.Error(err))
		return
	}
	c.mu.Lock()
	if cache, ok := c.trades[trade.Symbol]; ok {
		cache.append(trade)
	}
	handler := c.tradeHandlers[channel]
	c.mu.Unlock()
	c.hub.publish(trade, "trades", "trades:"+trade.Symbol)
	if handler != nil {
		handler(trade)
	}
}

func (c *Connector) handleDepth(channel string, data []byte) {
	update, err := parseDepth(data)
	if err != nil {
		c.logger.Warn("dropping malformed depth update",
			logging.String("channel", channel), logging.Error(err))
		return
	}
	book := c.books.get(update.Symbol)
	book.applyUpdate(update, c.options.DepthGapDetection, c.logger)
	snapshot := book.limit(0)
	c.hub.publish(snapshot, "depth", "depth:"+update.Symbol)
	c.mu.RLock()
	handler := c.depthHandlers[channel]
	c.mu.RUnlock()
	if handler != nil {
		handler(snapshot)
	}
}

func (c *Connector) handleKline(channel string, scope []string, data []byte) {
	interval := ""
	if len(scope) > 0 {
		interval = scope[0]
	}
	kline, err := parseKline(data, interval)
	if err != nil {
		c.logger.Warn("dropping malformed kline",
			logging.String("channel", channel), logging.Error(err))
		return
	}
	c.mu.Lock()
	if cache, ok := c.klines[channel]; ok {
		cache.append(kline)
	}
	handler := c.klineHandlers[channel]
	c.mu.Unlock()
	c.hub.publish(kline, "klines", "klines:"+kline.Symbol)
	if handler != nil {
		handler(kline)
	}
}

func (c *Connector) handleOrderUpdate(channel string, data []byte) {
	order, err := parseOrderUpdate(data)
	if err != nil {
		c.logger.Warn("dropping malformed order update",
			logging.String("channel", channel), logging.Error(err))
		return
	}
	c.orders.upsert(order.ID, order)
	c.hub.publish(order, "orders", "orders:"+order.Symbol)
	c.mu.RLock()
	handler := c.orderHandlers[channel]
	c.mu.RUnlock()
	if handler != nil {
		handler(order)
	}
}

func (c *Connector) handlePositionUpdate(channel string, data []byte) {
	position, err := parsePositionUpdate(data)
	if err != nil {
		c.logger.Warn("dropping malformed position update",
			logging.String("channel", channel), logging.Error(err))
		return
	}
	c.positions.upsert(position.Symbol, position)
	c.hub.publish(position, "positions", "positions:"+position.Symbol)
	c.mu.RLock()
	handler := c.positionHandlers[channel]
	c.mu.RUnlock()
	if handler != nil {
		handler(position)
	}
}

// OrderBook returns the current book for symbol, truncated to depth
// levels per side (depth <= 0 returns the full book). It fails with
// ErrBookNotReady until the symbol's depth stream has delivered at
// least one update since the last reconnect.
func (c *Connector) OrderBook(symbol string, depth int) (interfaces.OrderBookSnapshot, error) {
	book, ok := c.books.lookup(symbol)
	if !ok || !book.isReady() {
		return interfaces.OrderBookSnapshot{}, interfaces.ErrBookNotReady
	}
	return book.limit(depth), nil
}

// RecentTrades returns the cached trades for symbol, oldest first.
func (c *Connector) RecentTrades(symbol string) []interfaces.Trade {
	c.mu.RLock()
	cache, ok := c.trades[symbol]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return cache.snapshot()
}

// RecentKlines returns the cached klines for one interval and symbol,
// oldest first.
func (c *Connector) RecentKlines(symbol, interval string) []interfaces.Kline {
	c.mu.RLock()
	cache, ok := c.klines[klineChannel(interval, symbol)]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return cache.snapshot()
}

// CachedOrders returns the latest known state of recently updated
// orders, oldest update first.
func (c *Connector) CachedOrders() []interfaces.Order {
	return c.orders.snapshot()
}

// CachedPositions returns the latest known state per position symbol.
func (c *Connector) CachedPositions() []interfaces.Position {
	return c.positions.snapshot()
}

// NextOrder blocks until the next order update arrives, scoped to one
// symbol when symbol is non-empty. It returns ErrSubscriptionClosed
// when the matching subscription or the connector is torn down.
func (c *Connector) NextOrder(ctx context.Context, symbol string) (interfaces.Order, error) {
	key := "orders"
	if symbol != "" {
		key = "orders:" + symbol
	}
	v, err := c.hub.wait(ctx, key)
	if err != nil {
		return interfaces.Order{}, err
	}
	return v.(interfaces.Order), nil
}

// NextPosition blocks until the next position update arrives.
func (c *Connector) NextPosition(ctx context.Context, symbol string) (interfaces.Position, error) {
	key := "positions"
	if symbol != "" {
		key = "positions:" + symbol
	}
	v, err := c.hub.wait(ctx, key)
	if err != nil {
		return interfaces.Position{}, err
	}
	return v.(interfaces.Position), nil
}

// NextTrade blocks until the next public trade arrives.
func (c *Connector) NextTrade(ctx context.Context, symbol string) (interfaces.Trade, error) {
	key := "trades"
	if symbol != "" {
		key = "trades:" + symbol
	}
	v, err := c.hub.wait(ctx, key)
	if err != nil {
		return interfaces.Trade{}, err
	}
	return v.(interfaces.Trade), nil
}

// NextTicker blocks until the next ticker update arrives.
func (c *Connector) NextTicker(ctx context.Context, symbol string) (interfaces.Ticker, error) {
	key := "ticker"
	if symbol != "" {
		key = "ticker:" + symbol
	}
	v, err := c.hub.wait(ctx, key)
	if err != nil {
		return interfaces.Ticker{}, err
	}
	return v.(interfaces.Ticker), nil
}

// NextBook blocks until the next applied depth update and returns the
// resulting snapshot.
func (c *Connector) NextBook(ctx context.Context, symbol string) (interfaces.OrderBookSnapshot, error) {
	key := "depth"
	if symbol != "" {
		key = "depth:" + symbol
	}
	v, err := c.hub.wait(ctx, key)
	if err != nil {
		return interfaces.OrderBookSnapshot{}, err
	}
	return v.(interfaces.OrderBookSnapshot), nil
}
