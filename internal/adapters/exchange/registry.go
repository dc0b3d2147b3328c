// Package exchange builds the venue adapters the engine routes users to.
package exchange

import (
	"fmt"
	"net/http"
	"time"

	"cryptoSignalBot/internal/adapters/exchange/bingx"
	"cryptoSignalBot/internal/adapters/exchange/bitget"
	"cryptoSignalBot/internal/adapters/exchange/bybit"
	"cryptoSignalBot/internal/adapters/exchange/okx"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// Config holds shared transport settings and per-venue base URLs.
type Config struct {
	BingXBaseURL  string
	OKXBaseURL    string
	BybitBaseURL  string
	BitgetBaseURL string
	OKXDemo       bool

	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            ports.Logger
}

// Registry maps a venue to its adapter.
type Registry map[domain.Exchange]ports.ExchangeAdapter

// NewRegistry creates one adapter per supported venue.
func NewRegistry(cfg Config) (Registry, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for exchange registry")
	}

	bx, err := bingx.New(bingx.Config{
		BaseURL: cfg.BingXBaseURL, Timeout: cfg.Timeout, MaxAttempts: cfg.MaxAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond, HTTPClient: cfg.HTTPClient, Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create BingX adapter: %w", err)
	}
	ox, err := okx.New(okx.Config{
		BaseURL: cfg.OKXBaseURL, Demo: cfg.OKXDemo, Timeout: cfg.Timeout, MaxAttempts: cfg.MaxAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond, HTTPClient: cfg.HTTPClient, Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OKX adapter: %w", err)
	}
	by, err := bybit.New(bybit.Config{
		BaseURL: cfg.BybitBaseURL, Timeout: cfg.Timeout, MaxAttempts: cfg.MaxAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond, HTTPClient: cfg.HTTPClient, Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Bybit adapter: %w", err)
	}
	bg, err := bitget.New(bitget.Config{
		BaseURL: cfg.BitgetBaseURL, Timeout: cfg.Timeout, MaxAttempts: cfg.MaxAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond, HTTPClient: cfg.HTTPClient, Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Bitget adapter: %w", err)
	}

	return Registry{
		domain.BingX:  bx,
		domain.OKX:    ox,
		domain.Bybit:  by,
		domain.Bitget: bg,
	}, nil
}

// Adapter returns the adapter for ex or ErrUnsupportedExchange.
func (r Registry) Adapter(ex domain.Exchange) (ports.ExchangeAdapter, error) {
	a, ok := r[ex]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ports.ErrUnsupportedExchange, ex)
	}
	return a, nil
}
