// Package symbol converts alerting-tool tickers into each venue's instrument id.
package symbol

import (
	"strings"

	"cryptoSignalBot/internal/domain"
)

const (
	perpSuffix = ".P"
	swapSuffix = "-SWAP"
	quote      = "USDT"
)

// Normalize returns raw in the canonical form of exchange. Unknown venues get
// the upper-cased input back.
func Normalize(exchange domain.Exchange, raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch exchange {
	case domain.BingX:
		return bingx(s)
	case domain.OKX:
		return okx(s)
	case domain.Bybit, domain.Bitget:
		return compact(s)
	default:
		return s
	}
}

// bingx: BTC-USDT
func bingx(s string) string {
	s = strings.NewReplacer(":", "/", "-", "/").Replace(s)
	s = strings.TrimSuffix(s, perpSuffix)
	if base, q, ok := strings.Cut(s, "/"); ok {
		// Only the first two segments matter; "BTC/USDT/USDT" style inputs drop the tail.
		if i := strings.Index(q, "/"); i >= 0 {
			q = q[:i]
		}
		return base + "-" + q
	}
	return strings.Replace(s, quote, "-"+quote, 1)
}

// okx: BTC-USDT-SWAP
func okx(s string) string {
	s = strings.TrimSuffix(s, perpSuffix)
	s = strings.NewReplacer(":", "-", "/", "-").Replace(s)
	if !strings.Contains(s, "-") && strings.HasSuffix(s, quote) {
		s = strings.TrimSuffix(s, quote) + "-" + quote
	}
	if !strings.HasSuffix(s, swapSuffix) {
		s += swapSuffix
	}
	return s
}

// compact: BTCUSDT
func compact(s string) string {
	s = strings.TrimSuffix(s, perpSuffix)
	s = strings.TrimSuffix(s, swapSuffix)
	return strings.NewReplacer(":", "", "-", "", "/", "").Replace(s)
}
