package backpack

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/backpack-connector/pkg/auth"
	"github.com/veiloq/backpack-connector/pkg/exchanges/interfaces"
)

var testSeed = bytes.Repeat([]byte{0x42}, ed25519.SeedSize)

func testKeyPair() (apiKey, apiSecret string, pub ed25519.PublicKey) {
	key := ed25519.NewKeyFromSeed(testSeed)
	pub = key.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub),
		base64.StdEncoding.EncodeToString(testSeed),
		pub
}

// recordedRequest captures one REST call for post-hoc assertions.
type recordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

func newRESTConnector(t *testing.T, handler http.HandlerFunc) (*Connector, *[]recordedRequest) {
	t.Helper()

	var recorded []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		recorded = append(recorded, recordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Headers: r.Header.Clone(),
			Body:    body,
		})
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	apiKey, apiSecret, _ := testKeyPair()
	options := interfaces.NewExchangeOptions().WithCredentials(apiKey, apiSecret)
	options.RESTEndpoint = server.URL
	options.LogLevel = "error"

	connector, err := NewConnector(options)
	require.NoError(t, err)
	return connector, &recorded
}

// verifySignature rebuilds the canonical payload from the recorded request
// and checks the X-Signature header against it.
func verifySignature(t *testing.T, req recordedRequest, instruction, sortedParams string) {
	t.Helper()

	_, _, pub := testKeyPair()
	ts := req.Headers.Get("X-Timestamp")
	window := req.Headers.Get("X-Window")
	require.NotEmpty(t, ts)
	require.NotEmpty(t, window)

	payload := "instruction=" + instruction
	if sortedParams != "" {
		payload += "&" + sortedParams
	}
	payload += "&timestamp=" + ts + "&window=" + window

	sig, err := base64.StdEncoding.DecodeString(req.Headers.Get("X-Signature"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, []byte(payload), sig),
		"signature does not cover payload %q", payload)
}

func TestGetBalancesSignsAndDecodes(t *testing.T) {
	connector, recorded := newRESTConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"SOL":{"available":"10.5","locked":"1.25","staked":"0"}}`)
	})

	balances, err := connector.GetBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "SOL", balances[0].Asset)
	assert.Equal(t, "10.5", balances[0].Available.String())
	assert.Equal(t, "1.25", balances[0].Locked.String())

	require.Len(t, *recorded, 1)
	req := (*recorded)[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/v1/capital", req.Path)

	apiKey, _, _ := testKeyPair()
	assert.Equal(t, apiKey, req.Headers.Get("X-API-Key"))
	assert.Equal(t, "5000", req.Headers.Get("X-Window"))
	verifySignature(t, req, auth.InstructionBalanceQuery, "")
}

func TestExecuteOrderSignsSortedParams(t *testing.T) {
	connector, recorded := newRESTConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"111","symbol":"SOL_USDC","side":"Bid","orderType":"Limit",`+
			`"status":"New","price":"18.50","quantity":"2","createdAt":1694687965940}`)
	})

	order, err := connector.ExecuteOrder(context.Background(), OrderRequest{
		Symbol:    "SOL_USDC",
		Side:      interfaces.SideBid,
		OrderType: "Limit",
		Price:     decimal.RequireFromString("18.50"),
		Quantity:  decimal.RequireFromString("2"),
		PostOnly:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "111", order.ID)
	assert.Equal(t, "New", order.Status)

	require.Len(t, *recorded, 1)
	req := (*recorded)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v1/order", req.Path)
	assert.Equal(t, "application/json", req.Headers.Get("Content-Type"))

	// Params are signed in sorted key order.
	verifySignature(t, req, auth.InstructionOrderExecute,
		"orderType=Limit&postOnly=true&price=18.5&quantity=2&side=Bid&symbol=SOL_USDC")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "SOL_USDC", body["symbol"])
	assert.Equal(t, true, body["postOnly"])
}

func TestExecuteOrdersBatchSignsOnce(t *testing.T) {
	connector, recorded := newRESTConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"1","symbol":"SOL_USDC"},{"id":"2","symbol":"SOL_USDC"}]`)
	})

	orders := []OrderRequest{
		{Symbol: "SOL_USDC", Side: interfaces.SideBid, OrderType: "Limit",
			Price: decimal.RequireFromString("18.1"), Quantity: decimal.RequireFromString("1")},
		{Symbol: "SOL_USDC", Side: interfaces.SideAsk, OrderType: "Limit",
			Price: decimal.RequireFromString("19.2"), Quantity: decimal.RequireFromString("2")},
	}
	placed, err := connector.ExecuteOrders(context.Background(), orders)
	require.NoError(t, err)
	require.Len(t, placed, 2)
	assert.Equal(t, "1", placed[0].ID)
	assert.Equal(t, "2", placed[1].ID)

	require.Len(t, *recorded, 1)
	req := (*recorded)[0]
	assert.Equal(t, "/api/v1/orders", req.Path)

	// One instruction segment per order, one trailing timestamp/window pair.
	verifySignature(t, req, auth.InstructionOrderExecute,
		"orderType=Limit&price=18.1&quantity=1&side=Bid&symbol=SOL_USDC"+
			"&instruction="+auth.InstructionOrderExecute+
			"&orderType=Limit&price=19.2&quantity=2&side=Ask&symbol=SOL_USDC")

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	require.Len(t, body, 2)
	assert.Equal(t, "Ask", body[1]["side"])
}

func TestCancelOrder(t *testing.T) {
	connector, recorded := newRESTConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"111","symbol":"SOL_USDC","status":"Cancelled"}`)
	})

	cancelled, err := connector.CancelOrder(context.Background(), "SOL_USDC", "111")
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", cancelled.Status)

	require.Len(t, *recorded, 1)
	req := (*recorded)[0]
	assert.Equal(t, http.MethodDelete, req.Method)
	verifySignature(t, req, auth.InstructionOrderCancel, "orderId=111&symbol=SOL_USDC")
}

func TestGetOpenOrdersCarriesQuery(t *testing.T) {
	connector, recorded := newRESTConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	_, err := connector.GetOpenOrders(context.Background(), "SOL_USDC")
	require.NoError(t, err)

	require.Len(t, *recorded, 1)
	req := (*recorded)[0]
	assert.Equal(t, "symbol=SOL_USDC", req.Query)
	verifySignature(t, req, auth.InstructionOrderQueryAll, "symbol=SOL_USDC")
}

func TestGetPositions(t *testing.T) {
	connector, recorded := newRESTConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"symbol":"SOL_USDC_PERP","netQuantity":"10",`+
			`"entryPrice":"18.2","markPrice":"18.4","pnlUnrealized":"2","pnlRealized":"0"}]`)
	})

	positions, err := connector.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "SOL_USDC_PERP", positions[0].Symbol)
	assert.Equal(t, "10", positions[0].NetQuantity.String())

	verifySignature(t, (*recorded)[0], auth.InstructionPositionQuery, "")
}

func TestGetFillHistoryPaging(t *testing.T) {
	connector, recorded := newRESTConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"tradeId":7,"orderId":"111","symbol":"SOL_USDC",`+
			`"side":"Bid","price":"18.5","quantity":"1","fee":"0.01","feeSymbol":"USDC","isMaker":true}]`)
	})

	fills, err := connector.GetFillHistory(context.Background(), "SOL_USDC", 50, 100)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(7), fills[0].TradeID)
	assert.True(t, fills[0].IsMaker)

	req := (*recorded)[0]
	assert.Equal(t, "/wapi/v1/history/fills", req.Path)
	verifySignature(t, req, auth.InstructionFillHistoryQueryAll,
		"limit=50&offset=100&symbol=SOL_USDC")
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	options := interfaces.NewExchangeOptions()
	options.LogLevel = "error"
	connector, err := NewConnector(options)
	require.NoError(t, err)

	_, err = connector.GetBalances(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrMissingCredentials)
}

func TestSignatureWindowOverride(t *testing.T) {
	apiKey, apiSecret, _ := testKeyPair()

	var recorded []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded = append(recorded, recordedRequest{Headers: r.Header.Clone()})
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(server.Close)

	options := interfaces.NewExchangeOptions().WithCredentials(apiKey, apiSecret)
	options.RESTEndpoint = server.URL
	options.SignatureWindow = 10 * time.Second
	options.LogLevel = "error"
	connector, err := NewConnector(options)
	require.NoError(t, err)

	_, err = connector.GetBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "10000", recorded[0].Headers.Get("X-Window"))
}
