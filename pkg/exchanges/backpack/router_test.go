package backpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		channel string
		family  channelFamily
		scope   []string
	}{
		{"ticker.SOL_USDC", familyTicker, []string{"SOL_USDC"}},
		{"trades.SOL_USDC", familyTrades, []string{"SOL_USDC"}},
		{"trade.SOL_USDC", familyTrades, []string{"SOL_USDC"}},
		{"depth.SOL_USDC", familyDepth, []string{"SOL_USDC"}},
		{"kline.1m.SOL_USDC", familyKline, []string{"1m", "SOL_USDC"}},
		{"account.orderUpdate", familyAccount, []string{"orderUpdate"}},
		{"account.orderUpdate.SOL_USDC", familyAccount, []string{"orderUpdate", "SOL_USDC"}},
		{"markPrice.SOL_USDC", familyUnknown, []string{"SOL_USDC"}},
		{"ticker", familyTicker, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			family, scope := parseChannel(tt.channel)
			assert.Equal(t, tt.family, family)
			assert.Equal(t, tt.scope, scope)
		})
	}
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "ticker.SOL_USDC", tickerChannel("SOL_USDC"))
	assert.Equal(t, "trades.SOL_USDC", tradesChannel("SOL_USDC"))
	assert.Equal(t, "depth.SOL_USDC", depthChannel("SOL_USDC"))
	assert.Equal(t, "kline.5m.SOL_USDC", klineChannel("5m", "SOL_USDC"))
	assert.Equal(t, "account.orderUpdate", accountChannel("orderUpdate", ""))
	assert.Equal(t, "account.orderUpdate.SOL_USDC", accountChannel("orderUpdate", "SOL_USDC"))
}

func TestWaitKeysForChannel(t *testing.T) {
	tests := []struct {
		channel string
		keys    []string
	}{
		{"ticker.SOL_USDC", []string{"ticker", "ticker:SOL_USDC"}},
		{"trades.SOL_USDC", []string{"trades", "trades:SOL_USDC"}},
		{"depth.SOL_USDC", []string{"depth", "depth:SOL_USDC"}},
		{"kline.1m.SOL_USDC", []string{"klines", "klines:SOL_USDC"}},
		{"account.orderUpdate", []string{"orders"}},
		{"account.orderUpdate.SOL_USDC", []string{"orders", "orders:SOL_USDC"}},
		{"account.positionUpdate", []string{"positions"}},
		{"account.positionUpdate.SOL_USDC", []string{"positions", "positions:SOL_USDC"}},
		{"bogus.SOL_USDC", nil},
		{"account.margin", nil},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			assert.Equal(t, tt.keys, waitKeysForChannel(tt.channel))
		})
	}
}
