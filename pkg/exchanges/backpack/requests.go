package backpack

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/veiloq/backpack-connector/pkg/auth"
	"github.com/veiloq/backpack-connector/pkg/exchanges/interfaces"
)

// OrderRequest describes one order to place. Zero-valued optional fields
// are omitted from both the request body and the signing payload.
type OrderRequest struct {
	Symbol      string
	Side        string
	OrderType   string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	TimeInForce string
	ClientID    string
	PostOnly    bool
	ReduceOnly  bool
}

// values returns the request parameters in the canonical form shared by
// the signing payload and the request body.
func (r OrderRequest) values() url.Values {
	params := url.Values{}
	params.Set("symbol", r.Symbol)
	params.Set("side", r.Side)
	params.Set("orderType", r.OrderType)
	if !r.Price.IsZero() {
		params.Set("price", r.Price.String())
	}
	if !r.Quantity.IsZero() {
		params.Set("quantity", r.Quantity.String())
	}
	if r.TimeInForce != "" {
		params.Set("timeInForce", r.TimeInForce)
	}
	if r.ClientID != "" {
		params.Set("clientId", r.ClientID)
	}
	if r.PostOnly {
		params.Set("postOnly", "true")
	}
	if r.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	return params
}

// WithdrawRequest describes one withdrawal to submit.
type WithdrawRequest struct {
	Asset      string
	Blockchain string
	Address    string
	Quantity   decimal.Decimal
	TwoFactor  string
}

func (r WithdrawRequest) values() url.Values {
	params := url.Values{}
	params.Set("symbol", r.Asset)
	params.Set("blockchain", r.Blockchain)
	params.Set("address", r.Address)
	params.Set("quantity", r.Quantity.String())
	if r.TwoFactor != "" {
		params.Set("twoFactorToken", r.TwoFactor)
	}
	return params
}

// Deposit is one on-chain deposit record.
type Deposit struct {
	ID          int64           `json:"id"`
	Asset       string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	ToAddress   string          `json:"toAddress"`
	FromAddress string          `json:"fromAddress"`
	Status      string          `json:"status"`
	CreatedAt   string          `json:"createdAt"`
}

// Withdrawal is one withdrawal record.
type Withdrawal struct {
	ID         int64           `json:"id"`
	Asset      string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	Fee        decimal.Decimal `json:"fee"`
	Blockchain string          `json:"blockchain"`
	Address    string          `json:"address"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"createdAt"`
}

// Fill is one account trade from fill history.
type Fill struct {
	TradeID   int64           `json:"tradeId"`
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	FeeSymbol string          `json:"feeSymbol"`
	IsMaker   bool            `json:"isMaker"`
	Timestamp string          `json:"timestamp"`
}

// restOrder is the REST wire shape of an order, shared by execute,
// cancel and query responses.
type restOrder struct {
	ID               string          `json:"id"`
	ClientID         int64           `json:"clientId"`
	Symbol           string          `json:"symbol"`
	Side             string          `json:"side"`
	OrderType        string          `json:"orderType"`
	Status           string          `json:"status"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	ExecutedQuantity decimal.Decimal `json:"executedQuantity"`
	CreatedAt        int64           `json:"createdAt"`
}

func (o restOrder) toOrder() interfaces.Order {
	clientID := ""
	if o.ClientID != 0 {
		clientID = strconv.FormatInt(o.ClientID, 10)
	}
	return interfaces.Order{
		ID:             o.ID,
		ClientID:       clientID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		OrderType:      o.OrderType,
		Status:         o.Status,
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.ExecutedQuantity,
		Timestamp:      o.CreatedAt,
	}
}

type restPosition struct {
	Symbol        string          `json:"symbol"`
	NetQuantity   decimal.Decimal `json:"netQuantity"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
	UnrealizedPnL decimal.Decimal `json:"pnlUnrealized"`
	RealizedPnL   decimal.Decimal `json:"pnlRealized"`
}

func (p restPosition) toPosition() interfaces.Position {
	return interfaces.Position{
		Symbol:        p.Symbol,
		NetQuantity:   p.NetQuantity,
		EntryPrice:    p.EntryPrice,
		MarkPrice:     p.MarkPrice,
		UnrealizedPnL: p.UnrealizedPnL,
		RealizedPnL:   p.RealizedPnL,
	}
}

type restBalance struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Staked    decimal.Decimal `json:"staked"`
}

// signedRequest builds an authenticated request. The params must be the
// exact request parameters: they are embedded in the signing payload,
// and for GET requests also in the query string. A non-nil body is JSON
// encoded; it must carry the same parameters the payload was built from.
func (c *Connector) signedRequest(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Request, error) {
	if err := c.requireCredentials(); err != nil {
		return nil, err
	}
	instruction, err := auth.ResolveInstruction(method, path)
	if err != nil {
		return nil, err
	}
	payload := auth.NewPayload(instruction, params, time.Now().UnixMilli(), c.windowMs)
	return c.buildRequest(ctx, method, path, params, body, payload)
}

// signedBatchRequest builds an authenticated request whose payload signs
// every element of the batch under a single timestamp.
func (c *Connector) signedBatchRequest(ctx context.Context, method, path string, batch []url.Values, body interface{}) (*http.Request, error) {
	if err := c.requireCredentials(); err != nil {
		return nil, err
	}
	instruction, err := auth.ResolveInstruction(method, path)
	if err != nil {
		return nil, err
	}
	payload := auth.NewBatchPayload(instruction, batch, time.Now().UnixMilli(), c.windowMs)
	return c.buildRequest(ctx, method, path, nil, body, payload)
}

func (c *Connector) buildRequest(ctx context.Context, method, path string, query url.Values, body interface{}, payload auth.Payload) (*http.Request, error) {
	endpoint := c.restURL + path
	if method == http.MethodGet && len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.cred.Headers(payload) {
		req.Header.Set(key, value)
	}
	return req, nil
}

// bodyFromValues converts canonical request parameters into the JSON
// body shape. Boolean parameters travel as JSON booleans while their
// signing representation stays the query-string literal.
func bodyFromValues(params url.Values) map[string]interface{} {
	body := make(map[string]interface{}, len(params))
	for key := range params {
		value := params.Get(key)
		switch value {
		case "true":
			body[key] = true
		case "false":
			body[key] = false
		default:
			body[key] = value
		}
	}
	return body
}

// GetBalances fetches all asset balances on the account.
func (c *Connector) GetBalances(ctx context.Context) ([]interfaces.Balance, error) {
	req, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/capital", nil, nil)
	if err != nil {
		return nil, err
	}
	var raw map[string]restBalance
	if err := c.http.DoJSON(ctx, req, &raw); err != nil {
		return nil, err
	}
	balances := make([]interfaces.Balance, 0, len(raw))
	for asset, b := range raw {
		balances = append(balances, interfaces.Balance{
			Asset:     asset,
			Available: b.Available,
			Locked:    b.Locked,
			Staked:    b.Staked,
		})
	}
	return balances, nil
}

// ExecuteOrder places a single order and returns its accepted state.
func (c *Connector) ExecuteOrder(ctx context.Context, order OrderRequest) (*interfaces.Order, error) {
	params := order.values()
	req, err := c.signedRequest(ctx, http.MethodPost, "/api/v1/order", params, bodyFromValues(params))
	if err != nil {
		return nil, err
	}
	var placed restOrder
	if err := c.http.DoJSON(ctx, req, &placed); err != nil {
		return nil, err
	}
	result := placed.toOrder()
	return &result, nil
}

// ExecuteOrders places a batch of orders atomically signed under one
// timestamp. The response preserves request order.
func (c *Connector) ExecuteOrders(ctx context.Context, orders []OrderRequest) ([]interfaces.Order, error) {
	batch := make([]url.Values, 0, len(orders))
	body := make([]map[string]interface{}, 0, len(orders))
	for _, order := range orders {
		params := order.values()
		batch = append(batch, params)
		body = append(body, bodyFromValues(params))
	}
	req, err := c.signedBatchRequest(ctx, http.MethodPost, "/api/v1/orders", batch, body)
	if err != nil {
		return nil, err
	}
	var placed []restOrder
	if err := c.http.DoJSON(ctx, req, &placed); err != nil {
		return nil, err
	}
	results := make([]interfaces.Order, 0, len(placed))
	for _, o := range placed {
		results = append(results, o.toOrder())
	}
	return results, nil
}

// CancelOrder cancels one order by exchange order id.
func (c *Connector) CancelOrder(ctx context.Context, symbol, orderID string) (*interfaces.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	req, err := c.signedRequest(ctx, http.MethodDelete, "/api/v1/order", params, bodyFromValues(params))
	if err != nil {
		return nil, err
	}
	var cancelled restOrder
	if err := c.http.DoJSON(ctx, req, &cancelled); err != nil {
		return nil, err
	}
	result := cancelled.toOrder()
	return &result, nil
}

// CancelOpenOrders cancels every open order on one symbol.
func (c *Connector) CancelOpenOrders(ctx context.Context, symbol string) ([]interfaces.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	req, err := c.signedRequest(ctx, http.MethodDelete, "/api/v1/orders", params, bodyFromValues(params))
	if err != nil {
		return nil, err
	}
	var cancelled []restOrder
	if err := c.http.DoJSON(ctx, req, &cancelled); err != nil {
		return nil, err
	}
	results := make([]interfaces.Order, 0, len(cancelled))
	for _, o := range cancelled {
		results = append(results, o.toOrder())
	}
	return results, nil
}

// GetOpenOrders fetches the open orders, optionally scoped to a symbol.
func (c *Connector) GetOpenOrders(ctx context.Context, symbol string) ([]interfaces.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	req, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/orders", params, nil)
	if err != nil {
		return nil, err
	}
	var open []restOrder
	if err := c.http.DoJSON(ctx, req, &open); err != nil {
		return nil, err
	}
	results := make([]interfaces.Order, 0, len(open))
	for _, o := range open {
		results = append(results, o.toOrder())
	}
	return results, nil
}

// GetPositions fetches the open positions on the account.
func (c *Connector) GetPositions(ctx context.Context) ([]interfaces.Position, error) {
	req, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/position", nil, nil)
	if err != nil {
		return nil, err
	}
	var raw []restPosition
	if err := c.http.DoJSON(ctx, req, &raw); err != nil {
		return nil, err
	}
	positions := make([]interfaces.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, p.toPosition())
	}
	return positions, nil
}

// GetDeposits pages through deposit history.
func (c *Connector) GetDeposits(ctx context.Context, limit, offset int) ([]Deposit, error) {
	params := pagingParams(limit, offset)
	req, err := c.signedRequest(ctx, http.MethodGet, "/wapi/v1/capital/deposits", params, nil)
	if err != nil {
		return nil, err
	}
	var deposits []Deposit
	if err := c.http.DoJSON(ctx, req, &deposits); err != nil {
		return nil, err
	}
	return deposits, nil
}

// GetWithdrawals pages through withdrawal history.
func (c *Connector) GetWithdrawals(ctx context.Context, limit, offset int) ([]Withdrawal, error) {
	params := pagingParams(limit, offset)
	req, err := c.signedRequest(ctx, http.MethodGet, "/wapi/v1/capital/withdrawals", params, nil)
	if err != nil {
		return nil, err
	}
	var withdrawals []Withdrawal
	if err := c.http.DoJSON(ctx, req, &withdrawals); err != nil {
		return nil, err
	}
	return withdrawals, nil
}

// RequestWithdrawal submits an on-chain withdrawal.
func (c *Connector) RequestWithdrawal(ctx context.Context, withdraw WithdrawRequest) (*Withdrawal, error) {
	params := withdraw.values()
	req, err := c.signedRequest(ctx, http.MethodPost, "/wapi/v1/capital/withdrawals", params, bodyFromValues(params))
	if err != nil {
		return nil, err
	}
	var submitted Withdrawal
	if err := c.http.DoJSON(ctx, req, &submitted); err != nil {
		return nil, err
	}
	return &submitted, nil
}

// GetFillHistory pages through the account's trade fills, optionally
// scoped to a symbol.
func (c *Connector) GetFillHistory(ctx context.Context, symbol string, limit, offset int) ([]Fill, error) {
	params := pagingParams(limit, offset)
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	req, err := c.signedRequest(ctx, http.MethodGet, "/wapi/v1/history/fills", params, nil)
	if err != nil {
		return nil, err
	}
	var fills []Fill
	if err := c.http.DoJSON(ctx, req, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

func pagingParams(limit, offset int) url.Values {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	return params
}
