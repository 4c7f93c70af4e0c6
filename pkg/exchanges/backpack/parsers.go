package backpack

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/veiloq/backpack-connector/pkg/exchanges/interfaces"
)

// The exchange publishes engine timestamps on data-plane streams in
// microseconds while every other field uses milliseconds. All normalized
// types expose milliseconds.
func microsToMillis(us int64) int64 {
	return us / 1000
}

// fieldParser accumulates the first decimal conversion error across a
// payload so each parser stays a straight-line field mapping.
type fieldParser struct {
	err error
}

func (p *fieldParser) decimal(field, value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", field, err)
	}
	return d
}

type tickerPayload struct {
	Event       string `json:"e"`
	EngineTime  int64  `json:"E"`
	Symbol      string `json:"s"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"V"`
	Trades      int64  `json:"n"`
}

func parseTicker(data []byte) (interfaces.Ticker, error) {
	var raw tickerPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return interfaces.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	var p fieldParser
	ticker := interfaces.Ticker{
		Symbol:      raw.Symbol,
		Open:        p.decimal("o", raw.Open),
		High:        p.decimal("h", raw.High),
		Low:         p.decimal("l", raw.Low),
		LastPrice:   p.decimal("c", raw.Close),
		Volume:      p.decimal("v", raw.Volume),
		QuoteVolume: p.decimal("V", raw.QuoteVolume),
		Trades:      raw.Trades,
		Timestamp:   microsToMillis(raw.EngineTime),
	}
	if p.err != nil {
		return interfaces.Ticker{}, fmt.Errorf("parse ticker %s: %w", raw.Symbol, p.err)
	}
	return ticker, nil
}

type tradePayload struct {
	Event      string `json:"e"`
	EngineTime int64  `json:"E"`
	Symbol     string `json:"s"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeID    int64  `json:"t"`
	TradeTime  int64  `json:"T"`
	BuyerMaker bool   `json:"m"`
}

func parseTrade(data []byte) (interfaces.Trade, error) {
	var raw tradePayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return interfaces.Trade{}, fmt.Errorf("decode trade: %w", err)
	}
	var p fieldParser
	trade := interfaces.Trade{
		Symbol:     raw.Symbol,
		ID:         raw.TradeID,
		Price:      p.decimal("p", raw.Price),
		Quantity:   p.decimal("q", raw.Quantity),
		BuyerMaker: raw.BuyerMaker,
		Timestamp:  microsToMillis(raw.TradeTime),
	}
	if p.err != nil {
		return interfaces.Trade{}, fmt.Errorf("parse trade %s: %w", raw.Symbol, p.err)
	}
	return trade, nil
}

type klinePayload struct {
	Event      string `json:"e"`
	EngineTime int64  `json:"E"`
	Symbol     string `json:"s"`
	StartTime  int64  `json:"t"`
	CloseTime  int64  `json:"T"`
	Open       string `json:"o"`
	Close      string `json:"c"`
	High       string `json:"h"`
	Low        string `json:"l"`
	Volume     string `json:"v"`
	Trades     int64  `json:"n"`
	Closed     bool   `json:"X"`
}

func parseKline(data []byte, interval string) (interfaces.Kline, error) {
	var raw klinePayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return interfaces.Kline{}, fmt.Errorf("decode kline: %w", err)
	}
	var p fieldParser
	kline := interfaces.Kline{
		Symbol:    raw.Symbol,
		Interval:  interval,
		Open:      p.decimal("o", raw.Open),
		High:      p.decimal("h", raw.High),
		Low:       p.decimal("l", raw.Low),
		Close:     p.decimal("c", raw.Close),
		Volume:    p.decimal("v", raw.Volume),
		Trades:    raw.Trades,
		Closed:    raw.Closed,
		StartTime: raw.StartTime,
		Timestamp: microsToMillis(raw.EngineTime),
	}
	if p.err != nil {
		return interfaces.Kline{}, fmt.Errorf("parse kline %s: %w", raw.Symbol, p.err)
	}
	return kline, nil
}

// depthPayload is an incremental book delta. There is no separate snapshot
// message type on this stream: the book is built from the first delta on.
type depthPayload struct {
	Event         string      `json:"e"`
	EngineTime    int64       `json:"E"`
	Symbol        string      `json:"s"`
	Asks          [][2]string `json:"a"`
	Bids          [][2]string `json:"b"`
	FirstUpdateID uint64      `json:"U"`
	LastUpdateID  uint64      `json:"u"`
	TradeTime     int64       `json:"T"`
}

func parseDepth(data []byte) (depthPayload, error) {
	var raw depthPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return depthPayload{}, fmt.Errorf("decode depth: %w", err)
	}
	return raw, nil
}

type orderUpdatePayload struct {
	Event          string `json:"e"`
	EngineTime     int64  `json:"E"`
	Symbol         string `json:"s"`
	ClientID       string `json:"c"`
	Side           string `json:"S"`
	OrderType      string `json:"o"`
	Quantity       string `json:"q"`
	Price          string `json:"p"`
	Status         string `json:"X"`
	OrderID        string `json:"i"`
	FilledQuantity string `json:"z"`
	TradeTime      int64  `json:"T"`
}

func parseOrderUpdate(data []byte) (interfaces.Order, error) {
	var raw orderUpdatePayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return interfaces.Order{}, fmt.Errorf("decode order update: %w", err)
	}
	var p fieldParser
	order := interfaces.Order{
		ID:             raw.OrderID,
		ClientID:       raw.ClientID,
		Symbol:         raw.Symbol,
		Side:           raw.Side,
		OrderType:      raw.OrderType,
		Status:         raw.Status,
		Price:          p.decimal("p", raw.Price),
		Quantity:       p.decimal("q", raw.Quantity),
		FilledQuantity: p.decimal("z", raw.FilledQuantity),
		Timestamp:      microsToMillis(raw.EngineTime),
	}
	if p.err != nil {
		return interfaces.Order{}, fmt.Errorf("parse order update %s: %w", raw.Symbol, p.err)
	}
	return order, nil
}

type positionUpdatePayload struct {
	Event         string `json:"e"`
	EngineTime    int64  `json:"E"`
	Symbol        string `json:"s"`
	EntryPrice    string `json:"B"`
	MarkPrice     string `json:"M"`
	NetQuantity   string `json:"q"`
	UnrealizedPnL string `json:"P"`
	RealizedPnL   string `json:"p"`
}

func parsePositionUpdate(data []byte) (interfaces.Position, error) {
	var raw positionUpdatePayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return interfaces.Position{}, fmt.Errorf("decode position update: %w", err)
	}
	var p fieldParser
	position := interfaces.Position{
		Symbol:        raw.Symbol,
		NetQuantity:   p.decimal("q", raw.NetQuantity),
		EntryPrice:    p.decimal("B", raw.EntryPrice),
		MarkPrice:     p.decimal("M", raw.MarkPrice),
		UnrealizedPnL: p.decimal("P", raw.UnrealizedPnL),
		RealizedPnL:   p.decimal("p", raw.RealizedPnL),
		Timestamp:     microsToMillis(raw.EngineTime),
	}
	if p.err != nil {
		return interfaces.Position{}, fmt.Errorf("parse position update %s: %w", raw.Symbol, p.err)
	}
	return position, nil
}
