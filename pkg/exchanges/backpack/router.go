package backpack

import (
	"strings"

	"github.com/veiloq/backpack-connector/pkg/logging"
)

// channelFamily enumerates the channel families this connector understands.
// Routing is a closed switch over these values with an explicit unknown
// arm: new families the exchange introduces are dropped, not crashed on.
type channelFamily int

const (
	familyUnknown channelFamily = iota
	familyTicker
	familyTrades
	familyDepth
	familyKline
	familyAccount
)

// Channel name grammar: family.<scope...>, e.g. "ticker.SOL_USDC",
// "kline.1m.SOL_USDC", "account.orderUpdate.SOL_USDC".
func parseChannel(name string) (channelFamily, []string) {
	parts := strings.Split(name, ".")
	scope := parts[1:]
	switch parts[0] {
	case "ticker":
		return familyTicker, scope
	case "trades", "trade":
		return familyTrades, scope
	case "depth":
		return familyDepth, scope
	case "kline":
		return familyKline, scope
	case "account":
		return familyAccount, scope
	default:
		return familyUnknown, scope
	}
}

func tickerChannel(symbol string) string { return "ticker." + symbol }
func tradesChannel(symbol string) string { return "trades." + symbol }
func depthChannel(symbol string) string  { return "depth." + symbol }
func klineChannel(interval, symbol string) string {
	return "kline." + interval + "." + symbol
}

func accountChannel(event, symbol string) string {
	name := "account." + event
	if symbol != "" {
		name += "." + symbol
	}
	return name
}

// route dispatches one inbound payload by channel name. It runs on the
// subscription's dispatch goroutine: invocations for one channel are
// sequential, so per-symbol book mutation stays ordered.
func (c *Connector) route(channel string, data []byte) {
	family, scope := parseChannel(channel)
	switch family {
	case familyTicker:
		c.handleTicker(channel, data)
	case familyTrades:
		c.handleTrade(channel, data)
	case familyDepth:
		c.handleDepth(channel, data)
	case familyKline:
		c.handleKline(channel, scope, data)
	case familyAccount:
		c.routeAccount(channel, scope, data)
	case familyUnknown:
		c.logger.Debug("dropping message for unknown channel family",
			logging.String("channel", channel))
	}
}

// routeAccount performs the second-level dispatch for the private account
// stream, keyed on the event-type substring in the sub-stream name.
func (c *Connector) routeAccount(channel string, scope []string, data []byte) {
	if len(scope) == 0 {
		c.logger.Debug("account message without event scope",
			logging.String("channel", channel))
		return
	}
	switch {
	case strings.Contains(scope[0], "orderUpdate"):
		c.handleOrderUpdate(channel, data)
	case strings.Contains(scope[0], "positionUpdate"):
		c.handlePositionUpdate(channel, data)
	default:
		c.logger.Debug("dropping unknown account event type",
			logging.String("channel", channel))
	}
}
