// Package websocket owns the physical stream connection: dialing,
// reconnection, heartbeats, and fan-out of inbound stream envelopes to
// per-channel handlers. Several logical subscriptions share one connection;
// dispatch never blocks one channel on another's slow consumer, while
// messages within a single channel stay in arrival order.
package websocket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/veiloq/backpack-connector/pkg/logging"
)

// MessageHandler is a callback invoked with the data payload of each
// inbound message on a subscribed channel.
type MessageHandler func(data []byte)

// SubscribeSigner produces the signature tuple attached to private
// subscribe frames. The tuple is built at send time so queued or replayed
// frames always carry a fresh timestamp.
type SubscribeSigner interface {
	SubscribeSignature() ([]string, error)
}

// Stream defines the interface for managing the WebSocket stream connection
type Stream interface {
	// Connect establishes the WebSocket connection
	Connect(ctx context.Context) error

	// Close cleanly closes the WebSocket connection
	Close() error

	// Subscribe registers a handler for a channel and sends the subscribe
	// frame. Private channels carry a fresh signature tuple.
	Subscribe(channel string, private bool, handler MessageHandler) error

	// Unsubscribe sends the unsubscribe frame and removes the channel handler
	Unsubscribe(channel string) error

	// IsConnected returns the current connection status
	IsConnected() bool
}

// Config holds WebSocket connection configuration
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	MaxRetries        int

	// Signer is required for private channel subscriptions.
	Signer SubscribeSigner

	// OnConnectionLost is invoked when the connection drops outside an
	// explicit Close. Active subscriptions are replayed automatically on
	// reconnect; the owner uses this hook to mark derived state (order
	// books) stale until fresh data re-establishes it.
	OnConnectionLost func()

	Logger logging.Logger
}

// Metrics holds connection and message statistics
type Metrics struct {
	ConnectedTime  time.Time
	MessageCount   int64
	DroppedCount   int64
	ReconnectCount int64
	ErrorCount     int64
}

// request is the outbound frame shape for subscribe/unsubscribe calls.
type request struct {
	Method    string   `json:"method"`
	Params    []string `json:"params"`
	Signature []string `json:"signature,omitempty"`
}

// envelope is the inbound frame shape: the channel name plus its payload.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// connector implements the Stream interface
type connector struct {
	config Config
	conn   *websocket.Conn

	subs    map[string]*subscription
	subsMu  sync.RWMutex
	writeMu sync.Mutex

	connected bool
	done      chan struct{}
	doneMu    sync.Mutex
	closed    bool

	reconnectMu  sync.Mutex
	reconnecting bool

	metrics   Metrics
	metricsMu sync.RWMutex

	logger logging.Logger
}

const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultReconnectInterval = 5 * time.Second
	defaultMaxRetries        = 3
)

// NewConnector creates a new stream connector with the given configuration.
// Zero heartbeat, reconnect, and retry settings fall back to the defaults above.
func NewConnector(config Config) Stream {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaultHeartbeatInterval
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = defaultReconnectInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &connector{
		config: config,
		subs:   make(map[string]*subscription),
		logger: logger,
	}
}

// GetMetrics returns the current connection metrics
func (c *connector) GetMetrics() Metrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

// Connect establishes the WebSocket connection and starts background routines
func (c *connector) Connect(ctx context.Context) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.connected {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("context already cancelled: %w", ctx.Err())
	}

	c.logger.Debug("attempting websocket connection",
		logging.String("url", c.config.URL),
		logging.Duration("heartbeat", c.config.HeartbeatInterval),
		logging.Duration("reconnect", c.config.ReconnectInterval),
	)

	var lastErr error
	attempt := 0

	for {
		attempt++
		if attempt > c.config.MaxRetries {
			return fmt.Errorf("max retries exceeded: %w", lastErr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		dialer := websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		}
		conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
		if err != nil {
			lastErr = err
			c.countError()
			c.logger.Warn("connection attempt failed",
				logging.Int("attempt", attempt),
				logging.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.ReconnectInterval):
				continue
			}
		}

		c.conn = conn
		c.connected = true
		c.metricsMu.Lock()
		c.metrics.ConnectedTime = time.Now()
		c.metricsMu.Unlock()

		c.doneMu.Lock()
		c.done = make(chan struct{})
		c.closed = false
		c.doneMu.Unlock()

		go c.readPump(ctx)
		go c.heartbeat()

		go func() {
			select {
			case <-ctx.Done():
				c.logger.Info("context cancelled, closing connection")
				c.Close()
			case <-c.done:
			}
		}()

		c.logger.Info("websocket connected")

		// Replay every active subscription with a fresh frame (and a fresh
		// signature for private channels).
		if err := c.resubscribe(); err != nil {
			c.logger.Warn("failed to resubscribe", logging.Error(err))
		}

		return nil
	}
}

// readPump continuously reads messages from the WebSocket
func (c *connector) readPump(ctx context.Context) {
	defer func() {
		c.connected = false
		if c.conn != nil {
			_ = c.conn.Close()
		}

		c.doneMu.Lock()
		explicitClose := c.closed
		if !c.closed {
			close(c.done)
			c.closed = true
		}
		c.doneMu.Unlock()

		c.logger.Info("readPump stopped")

		if !explicitClose && ctx.Err() == nil {
			if c.config.OnConnectionLost != nil {
				c.config.OnConnectionLost()
			}
			if !c.isReconnecting() {
				go c.reconnect(ctx)
			}
		}
	}()

	deadline := c.config.HeartbeatInterval * 3
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})
	// Exchange-initiated heartbeats: answering within the interval is a
	// liveness contract, so the pong goes out on the write path immediately.
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, closing readPump")
			return
		default:
			c.conn.SetReadDeadline(time.Now().Add(deadline))
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Warn("read error", logging.Error(err))
					c.countError()
				}
				return
			}

			c.metricsMu.Lock()
			c.metrics.MessageCount++
			c.metricsMu.Unlock()

			c.dispatch(message)
		}
	}
}

// dispatch decodes the inbound envelope and hands the payload to the
// channel's subscription queue. Unroutable or malformed messages are
// dropped: one bad message must not take down the stream.
func (c *connector) dispatch(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Warn("failed to decode stream envelope", logging.Error(err))
		c.countDropped()
		return
	}
	if env.Stream == "" {
		// Subscription acks and other control responses have no stream field.
		c.logger.Debug("non-stream message", logging.String("raw", truncate(message, 256)))
		return
	}

	c.subsMu.RLock()
	sub, exists := c.subs[env.Stream]
	c.subsMu.RUnlock()

	if !exists {
		c.logger.Debug("dropping message for unknown channel",
			logging.String("channel", env.Stream))
		c.countDropped()
		return
	}

	sub.enqueue(env.Data)
}

// heartbeat sends periodic ping messages to keep the connection alive
func (c *connector) heartbeat() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			if !c.connected {
				c.writeMu.Unlock()
				return
			}
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connector) isReconnecting() bool {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	return c.reconnecting
}

// reconnect attempts to reestablish the connection
func (c *connector) reconnect(parent context.Context) {
	c.reconnectMu.Lock()
	if c.reconnecting {
		c.reconnectMu.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMu.Unlock()

	defer func() {
		c.reconnectMu.Lock()
		c.reconnecting = false
		c.reconnectMu.Unlock()
	}()

	// Attempts are bounded by MaxRetries with backoff; the parent context
	// keeps governing the restarted connection's lifetime.
	ctx := parent

	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()

	err := retry.Do(
		func() error {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			return c.Connect(ctx)
		},
		retry.Attempts(uint(c.config.MaxRetries)),
		retry.Delay(c.config.ReconnectInterval),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("reconnection attempt failed",
				logging.Int("attempt", int(n+1)),
				logging.Error(err))
		}),
	)

	if err != nil {
		c.logger.Error("reconnection failed", logging.Error(err))
		c.countError()
		return
	}

	c.logger.Info("reconnection successful")
}

// Subscribe implements Stream interface
func (c *connector) Subscribe(channel string, private bool, handler MessageHandler) error {
	if !c.IsConnected() {
		return fmt.Errorf("websocket not connected")
	}
	if private && c.config.Signer == nil {
		return fmt.Errorf("private channel %q requires a subscribe signer", channel)
	}

	sub := newSubscription(channel, private, handler)

	c.subsMu.Lock()
	if prev, exists := c.subs[channel]; exists {
		prev.stop()
	}
	c.subs[channel] = sub
	c.subsMu.Unlock()

	go sub.run()

	if err := c.sendRequest("SUBSCRIBE", sub); err != nil {
		c.subsMu.Lock()
		delete(c.subs, channel)
		c.subsMu.Unlock()
		sub.stop()
		return err
	}
	return nil
}

// Unsubscribe implements Stream interface
func (c *connector) Unsubscribe(channel string) error {
	c.subsMu.Lock()
	sub, exists := c.subs[channel]
	delete(c.subs, channel)
	c.subsMu.Unlock()

	if !exists {
		return fmt.Errorf("not subscribed to channel %q", channel)
	}
	sub.stop()

	if c.IsConnected() {
		return c.send(request{Method: "UNSUBSCRIBE", Params: []string{channel}})
	}
	return nil
}

// sendRequest builds and sends a subscribe/unsubscribe frame for one
// subscription, attaching a signature tuple generated at send time for
// private channels.
func (c *connector) sendRequest(method string, sub *subscription) error {
	req := request{Method: method, Params: []string{sub.channel}}
	if sub.private {
		sig, err := c.config.Signer.SubscribeSignature()
		if err != nil {
			return fmt.Errorf("failed to sign %s frame: %w", method, err)
		}
		req.Signature = sig
	}
	return c.send(req)
}

func (c *connector) send(message interface{}) error {
	if !c.connected {
		return fmt.Errorf("websocket not connected")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// IsConnected implements Stream interface
func (c *connector) IsConnected() bool {
	return c.connected
}

// Close implements Stream interface
func (c *connector) Close() error {
	c.doneMu.Lock()
	wasClosed := c.closed
	if !c.closed {
		// done is only allocated once Connect succeeds
		if c.done != nil {
			close(c.done)
		}
		c.closed = true
	}
	c.doneMu.Unlock()

	if wasClosed {
		return nil
	}

	c.connected = false

	c.subsMu.Lock()
	for channel, sub := range c.subs {
		sub.stop()
		delete(c.subs, channel)
	}
	c.subsMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"))

		// Give the close frame a moment on the wire before tearing down.
		time.Sleep(100 * time.Millisecond)

		err := c.conn.Close()
		if err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			return err
		}
	}

	return nil
}

// resubscribe replays the subscribe frame for every registered channel.
func (c *connector) resubscribe() error {
	c.subsMu.RLock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subsMu.RUnlock()

	var failed int
	for _, sub := range subs {
		if err := c.sendRequest("SUBSCRIBE", sub); err != nil {
			c.logger.Error("failed to resubscribe",
				logging.String("channel", sub.channel),
				logging.Error(err),
			)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to resubscribe to %d channels", failed)
	}
	return nil
}

func (c *connector) countError() {
	c.metricsMu.Lock()
	c.metrics.ErrorCount++
	c.metricsMu.Unlock()
}

func (c *connector) countDropped() {
	c.metricsMu.Lock()
	c.metrics.DroppedCount++
	c.metricsMu.Unlock()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
