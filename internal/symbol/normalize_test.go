package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cryptoSignalBot/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		exchange domain.Exchange
		in       string
		want     string
	}{
		{domain.BingX, "BTCUSDT", "BTC-USDT"},
		{domain.BingX, "btcusdt.p", "BTC-USDT"},
		{domain.BingX, "BTC/USDT", "BTC-USDT"},
		{domain.BingX, "BTC-USDT", "BTC-USDT"},
		{domain.BingX, "ETH:USDT", "ETH-USDT"},
		{domain.BingX, "BTC/USDT:USDT", "BTC-USDT"},

		{domain.OKX, "BTCUSDT", "BTC-USDT-SWAP"},
		{domain.OKX, "BTCUSDT.P", "BTC-USDT-SWAP"},
		{domain.OKX, "BTC/USDT", "BTC-USDT-SWAP"},
		{domain.OKX, "btc-usdt-swap", "BTC-USDT-SWAP"},
		{domain.OKX, "ETH:USDT", "ETH-USDT-SWAP"},

		{domain.Bybit, "BTC-USDT", "BTCUSDT"},
		{domain.Bybit, "BTCUSDT.P", "BTCUSDT"},
		{domain.Bitget, "BTC/USDT", "BTCUSDT"},
		{domain.Bitget, "BTC-USDT-SWAP", "BTCUSDT"},

		{domain.Exchange("kraken"), "xbtusd", "XBTUSD"},
	}
	for _, tt := range tests {
		t.Run(string(tt.exchange)+"/"+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.exchange, tt.in))
		})
	}
}
