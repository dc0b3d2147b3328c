// Package bingx implements ports.ExchangeAdapter for BingX perpetual swaps (hedge mode).
package bingx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/adapters/exchange/rest"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

const (
	DefaultBaseURL = "https://open-api.bingx.com"

	pathServerTime = "/openApi/swap/v2/server/time"
	pathBalance    = "/openApi/swap/v2/user/balance"
	pathPositions  = "/openApi/swap/v2/user/positions"
	pathPrice      = "/openApi/swap/v2/quote/price"
	pathContracts  = "/openApi/swap/v2/quote/contracts"
	pathLeverage   = "/openApi/swap/v2/trade/leverage"
	pathOrder      = "/openApi/swap/v2/trade/order"
)

// Config holds configuration for the BingX adapter.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            ports.Logger
}

// Client talks to the BingX swap v2 API.
type Client struct {
	rest   *rest.Client
	logger ports.Logger
}

var _ ports.ExchangeAdapter = (*Client)(nil)

// New creates a BingX adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for BingX client")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	rc, err := rest.NewClient(rest.Config{
		Name:              string(domain.BingX),
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		MaxAttempts:       cfg.MaxAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond,
		HTTPClient:        cfg.HTTPClient,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	c := &Client{rest: rc, logger: cfg.Logger}
	rc.Clock().SetSource(c.serverTime)
	return c, nil
}

func (c *Client) Exchange() domain.Exchange { return domain.BingX }

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func classify(status int, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return rest.StatusError(status, body)
	}
	if env.Code == 0 {
		return nil
	}
	apiErr := &ports.APIError{Exchange: domain.BingX, Code: strconv.Itoa(env.Code), Message: env.Msg}
	return fmt.Errorf("%w: %w", mapCode(env.Code, env.Msg), apiErr)
}

// mapCode translates BingX response codes into ports errors.
func mapCode(code int, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case (code == 109414 || code == 109500) && strings.Contains(lower, "timestamp is invalid"):
		return ports.ErrTimestampDesync
	case code == 80018 || code == 109421 || strings.Contains(lower, "order not exist"):
		return ports.ErrOrderNotFound
	case strings.Contains(lower, "position not exist"):
		return ports.ErrPositionNotFound
	case code == 100001 || code == 100413 || code == 100419:
		// signature mismatch, bad api key, ip not whitelisted
		return ports.ErrAuthenticationFailed
	case code == 100410:
		return ports.ErrRateLimited
	case code == 101204 || code == 80012:
		return ports.ErrInsufficientFunds
	case code == 100400 || code == 109400:
		return ports.ErrInvalidRequest
	case code == 100500 || code == 100503:
		return ports.ErrExchangeUnavailable
	default:
		return ports.ErrUnknown
	}
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	body, err := c.rest.Send(ctx, func(ctx context.Context, _ int64) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.rest.BaseURL()+pathServerTime, nil)
	}, classify)
	if err != nil {
		return 0, err
	}
	var env envelope
	if err := rest.Decode(body, &env); err != nil {
		return 0, err
	}
	var data struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := rest.Decode(env.Data, &data); err != nil {
		return 0, err
	}
	return data.ServerTime, nil
}

// signed sends a request signed over the sorted query string. out receives the data field.
func (c *Client) signed(ctx context.Context, op string, acct domain.Account, method, path string, params map[string]string, out interface{}) error {
	build := func(ctx context.Context, ts int64) (*http.Request, error) {
		query := make(map[string]string, len(params)+1)
		for k, v := range params {
			query[k] = v
		}
		query["timestamp"] = strconv.FormatInt(ts, 10)
		payload := rest.SortedQuery(query)
		url := c.rest.BaseURL() + path + "?" + payload + "&signature=" + rest.SignHex(acct.APISecret, payload)
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-BX-APIKEY", acct.APIKey)
		return req, nil
	}
	return c.decode(c.rest.Do(ctx, op, build, classify))(out)
}

func (c *Client) public(ctx context.Context, op, path string, params map[string]string, out interface{}) error {
	build := func(ctx context.Context, _ int64) (*http.Request, error) {
		url := c.rest.BaseURL() + path
		if len(params) > 0 {
			url += "?" + rest.EncodedQuery(params)
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
	return c.decode(c.rest.Do(ctx, op, build, classify))(out)
}

func (c *Client) decode(body []byte, err error) func(out interface{}) error {
	return func(out interface{}) error {
		if err != nil {
			return err
		}
		var env envelope
		if err := rest.Decode(body, &env); err != nil {
			return err
		}
		return rest.Decode(env.Data, out)
	}
}

// GetBalance returns the available USDT margin.
func (c *Client) GetBalance(ctx context.Context, acct domain.Account) (decimal.Decimal, error) {
	op := "GetBalance"
	var data struct {
		Balance struct {
			Asset           string      `json:"asset"`
			AvailableMargin rest.Number `json:"availableMargin"`
		} `json:"balance"`
	}
	if err := c.signed(ctx, op, acct, http.MethodGet, pathBalance, nil, &data); err != nil {
		return decimal.Zero, c.rest.HandleError(ctx, err, op)
	}
	return data.Balance.AvailableMargin.Decimal, nil
}

// GetPrice returns the last price of symbol.
func (c *Client) GetPrice(ctx context.Context, acct domain.Account, symbol string) (decimal.Decimal, error) {
	op := "GetPrice"
	var data struct {
		Price     rest.Number `json:"price"`
		LastPrice rest.Number `json:"lastPrice"`
	}
	if err := c.public(ctx, op, pathPrice, map[string]string{"symbol": symbol}, &data); err != nil {
		return decimal.Zero, c.rest.HandleError(ctx, err, op)
	}
	price := data.Price.Decimal
	if price.IsZero() {
		price = data.LastPrice.Decimal
	}
	if !price.IsPositive() {
		return decimal.Zero, c.rest.HandleError(ctx, fmt.Errorf("%w: no price for %s", ports.ErrUnknown, symbol), op)
	}
	return price, nil
}

// GetSymbolInfo reads the contract list. The step is 10^-quantityPrecision
// and the price tick 10^-pricePrecision.
func (c *Client) GetSymbolInfo(ctx context.Context, acct domain.Account, symbol string) (domain.SymbolInfo, error) {
	op := "GetSymbolInfo"
	var contracts []struct {
		Symbol            string      `json:"symbol"`
		QuantityPrecision int32       `json:"quantityPrecision"`
		PricePrecision    *int32      `json:"pricePrecision"`
		TradeMinQuantity  rest.Number `json:"tradeMinQuantity"`
	}
	if err := c.public(ctx, op, pathContracts, map[string]string{"symbol": symbol}, &contracts); err != nil {
		return domain.SymbolInfo{}, c.rest.HandleError(ctx, err, op)
	}
	for _, ct := range contracts {
		if ct.Symbol != symbol {
			continue
		}
		step := decimal.New(1, -ct.QuantityPrecision)
		minQty := ct.TradeMinQuantity.Decimal
		if !minQty.IsPositive() {
			minQty = step
		}
		info := domain.SymbolInfo{
			Symbol:        symbol,
			MinQty:        minQty,
			QtyStep:       step,
			ContractValue: decimal.NewFromInt(1),
		}
		if ct.PricePrecision != nil {
			info.PriceTick = decimal.New(1, -*ct.PricePrecision)
		}
		return info, nil
	}
	return domain.SymbolInfo{}, c.rest.HandleError(ctx, fmt.Errorf("%w: symbol %s", ports.ErrNotFound, symbol), op)
}

// SetLeverage sets leverage for one hedge-mode side.
func (c *Client) SetLeverage(ctx context.Context, acct domain.Account, symbol string, leverage int, side domain.PositionSide) error {
	op := "SetLeverage"
	params := map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
		"side":     string(side),
	}
	if err := c.signed(ctx, op, acct, http.MethodPost, pathLeverage, params, nil); err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	return nil
}

type orderData struct {
	Order struct {
		OrderID rest.ID `json:"orderId"`
		Status  string  `json:"status"`
	} `json:"order"`
}

func (c *Client) placeOrder(ctx context.Context, op string, acct domain.Account, params map[string]string) (string, error) {
	params["clientOrderID"] = rest.NewClientOrderID()
	var data orderData
	if err := c.signed(ctx, op, acct, http.MethodPost, pathOrder, params, &data); err != nil {
		return "", c.rest.HandleError(ctx, err, op)
	}
	if data.Order.OrderID == "" {
		return "", c.rest.HandleError(ctx, fmt.Errorf("%w: empty order id", ports.ErrOrderPlacementFailed), op)
	}
	return data.Order.OrderID.String(), nil
}

// PlaceMarketOrder places a hedge-mode market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, acct domain.Account, symbol string, side domain.OrderSide, posSide domain.PositionSide, qty decimal.Decimal) (string, error) {
	return c.placeOrder(ctx, "PlaceMarketOrder", acct, map[string]string{
		"symbol":       symbol,
		"side":         string(side),
		"positionSide": string(posSide),
		"type":         "MARKET",
		"quantity":     qty.String(),
	})
}

// PlaceStopOrder places a STOP_MARKET or TAKE_PROFIT_MARKET exit.
func (c *Client) PlaceStopOrder(ctx context.Context, acct domain.Account, symbol string, side domain.OrderSide, posSide domain.PositionSide, qty, trigger decimal.Decimal, kind domain.StopKind) (string, error) {
	orderType := "STOP_MARKET"
	if kind == domain.TakeProfitKind {
		orderType = "TAKE_PROFIT_MARKET"
	}
	return c.placeOrder(ctx, "PlaceStopOrder", acct, map[string]string{
		"symbol":       symbol,
		"side":         string(side),
		"positionSide": string(posSide),
		"type":         orderType,
		"quantity":     qty.String(),
		"stopPrice":    trigger.String(),
	})
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, acct domain.Account, symbol, orderID string) error {
	op := "CancelOrder"
	params := map[string]string{"symbol": symbol, "orderId": orderID}
	if err := c.signed(ctx, op, acct, http.MethodDelete, pathOrder, params, nil); err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	return nil
}

// GetOrderStatus queries a single order.
func (c *Client) GetOrderStatus(ctx context.Context, acct domain.Account, symbol, orderID string) (domain.OrderStatus, error) {
	op := "GetOrderStatus"
	var data orderData
	params := map[string]string{"symbol": symbol, "orderId": orderID}
	if err := c.signed(ctx, op, acct, http.MethodGet, pathOrder, params, &data); err != nil {
		return domain.OrderUnknown, c.rest.HandleError(ctx, err, op)
	}
	return mapOrderStatus(data.Order.Status), nil
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PENDING":
		return domain.OrderNew
	case "PARTIALLY_FILLED":
		return domain.OrderPartiallyFilled
	case "FILLED":
		return domain.OrderFilled
	case "CANCELED", "CANCELLED", "EXPIRED", "FAILED":
		return domain.OrderCanceled
	case "TRIGGERED":
		return domain.OrderTriggered
	default:
		return domain.OrderUnknown
	}
}

type position struct {
	Symbol       string      `json:"symbol"`
	PositionSide string      `json:"positionSide"`
	PositionAmt  rest.Number `json:"positionAmt"`
	AvgPrice     rest.Number `json:"avgPrice"`
}

// GetOpenPositions lists non-empty positions of symbol.
func (c *Client) GetOpenPositions(ctx context.Context, acct domain.Account, symbol string) ([]domain.Position, error) {
	op := "GetOpenPositions"
	var raw []position
	if err := c.signed(ctx, op, acct, http.MethodGet, pathPositions, map[string]string{"symbol": symbol}, &raw); err != nil {
		return nil, c.rest.HandleError(ctx, err, op)
	}
	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		qty := p.PositionAmt.Abs()
		if qty.IsZero() {
			continue
		}
		positions = append(positions, domain.Position{
			Symbol:       p.Symbol,
			PositionSide: domain.PositionSide(strings.ToUpper(p.PositionSide)),
			Quantity:     qty,
			EntryPrice:   p.AvgPrice.Decimal,
		})
	}
	return positions, nil
}

// ClosePosition sends an opposite market order for the full position size.
func (c *Client) ClosePosition(ctx context.Context, acct domain.Account, symbol string, posSide domain.PositionSide) error {
	op := "ClosePosition"
	positions, err := c.GetOpenPositions(ctx, acct, symbol)
	if err != nil {
		return err
	}
	pos, ok := domain.FindPosition(positions, posSide)
	if !ok {
		c.logger.Info(ctx, "No open position to close", map[string]interface{}{"symbol": symbol, "positionSide": posSide})
		return nil
	}
	_, err = c.placeOrder(ctx, op, acct, map[string]string{
		"symbol":       symbol,
		"side":         string(posSide.ExitSide()),
		"positionSide": string(posSide),
		"type":         "MARKET",
		"quantity":     pos.Quantity.String(),
	})
	if errors.Is(err, ports.ErrPositionNotFound) || errors.Is(err, ports.ErrOrderNotFound) {
		return nil
	}
	return err
}
