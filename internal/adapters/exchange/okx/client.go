// Package okx implements ports.ExchangeAdapter for OKX USDT swaps in long/short mode.
package okx

import (
	"bytes"
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
	DefaultBaseURL = "https://www.okx.com"

	pathTime        = "/api/v5/public/time"
	pathInstruments = "/api/v5/public/instruments"
	pathTicker      = "/api/v5/market/ticker"
	pathBalance     = "/api/v5/account/balance"
	pathPositions   = "/api/v5/account/positions"
	pathLeverage    = "/api/v5/account/set-leverage"
	pathOrder       = "/api/v5/trade/order"
	pathOrderAlgo   = "/api/v5/trade/order-algo"
	pathCancel      = "/api/v5/trade/cancel-order"
	pathCancelAlgos = "/api/v5/trade/cancel-algos"
	pathClose       = "/api/v5/trade/close-position"

	marginMode = "isolated"
	instType   = "SWAP"
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// Config holds configuration for the OKX adapter.
type Config struct {
	BaseURL           string
	Demo              bool // Sends x-simulated-trading for demo accounts
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            ports.Logger
}

// Client talks to the OKX v5 API.
type Client struct {
	rest   *rest.Client
	demo   bool
	logger ports.Logger
}

var _ ports.ExchangeAdapter = (*Client)(nil)

// New creates an OKX adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for OKX client")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	rc, err := rest.NewClient(rest.Config{
		Name:              string(domain.OKX),
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
	c := &Client{rest: rc, demo: cfg.Demo, logger: cfg.Logger}
	rc.Clock().SetSource(c.serverTime)
	return c, nil
}

func (c *Client) Exchange() domain.Exchange { return domain.OKX }

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// itemResult is the per-item status OKX attaches to trade responses.
type itemResult struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

func classify(status int, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Code == "" {
		return rest.StatusError(status, body)
	}
	if env.Code == "0" {
		return nil
	}
	code, msg := env.Code, env.Msg
	var items []itemResult
	if json.Unmarshal(env.Data, &items) == nil && len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
		code, msg = items[0].SCode, items[0].SMsg
	}
	apiErr := &ports.APIError{Exchange: domain.OKX, Code: code, Message: msg}
	return fmt.Errorf("%w: %w", mapCode(code), apiErr)
}

// mapCode translates OKX response codes into ports errors.
func mapCode(code string) error {
	switch code {
	case "50102", "50112":
		return ports.ErrTimestampDesync
	case "50103", "50104", "50105", "50111", "50113", "50114":
		return ports.ErrAuthenticationFailed
	case "50011", "50061":
		return ports.ErrRateLimited
	case "50001", "50013", "50026":
		return ports.ErrExchangeUnavailable
	case "51603", "51400", "51401", "51402":
		return ports.ErrOrderNotFound
	case "51023":
		return ports.ErrPositionNotFound
	case "51008", "51004":
		return ports.ErrInsufficientFunds
	case "50014", "51000", "51001":
		return ports.ErrInvalidRequest
	default:
		return ports.ErrUnknown
	}
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	body, err := c.rest.Send(ctx, func(ctx context.Context, _ int64) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.rest.BaseURL()+pathTime, nil)
	}, classify)
	if err != nil {
		return 0, err
	}
	var data []struct {
		TS string `json:"ts"`
	}
	if err := c.decode(body, nil)(&data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty server time", ports.ErrUnknown)
	}
	return strconv.ParseInt(data[0].TS, 10, 64)
}

// call sends a request. Private calls are signed over ts+METHOD+path+body.
// out receives the data array.
func (c *Client) call(ctx context.Context, op string, acct *domain.Account, method, path string, query map[string]string, payload interface{}, out interface{}) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + rest.EncodedQuery(query)
	}
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("%w: encode request: %w", ports.ErrInvalidRequest, err)
		}
	}

	build := func(ctx context.Context, ts int64) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.rest.BaseURL()+requestPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.demo {
			req.Header.Set("x-simulated-trading", "1")
		}
		if acct != nil {
			stamp := time.UnixMilli(ts).UTC().Format(timeLayout)
			req.Header.Set("OK-ACCESS-KEY", acct.APIKey)
			req.Header.Set("OK-ACCESS-PASSPHRASE", acct.Passphrase)
			req.Header.Set("OK-ACCESS-TIMESTAMP", stamp)
			req.Header.Set("OK-ACCESS-SIGN", rest.SignBase64(acct.APISecret, stamp+method+requestPath+string(body)))
		}
		return req, nil
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

func side(s domain.OrderSide) string { return strings.ToLower(string(s)) }

func posSide(p domain.PositionSide) string { return strings.ToLower(string(p)) }

// GetBalance returns availBal (or availEq) of USDT.
func (c *Client) GetBalance(ctx context.Context, acct domain.Account) (decimal.Decimal, error) {
	op := "GetBalance"
	var data []struct {
		Details []struct {
			Ccy      string      `json:"ccy"`
			AvailBal rest.Number `json:"availBal"`
			AvailEq  rest.Number `json:"availEq"`
		} `json:"details"`
	}
	if err := c.call(ctx, op, &acct, http.MethodGet, pathBalance, map[string]string{"ccy": "USDT"}, nil, &data); err != nil {
		return decimal.Zero, c.rest.HandleError(ctx, err, op)
	}
	for _, acc := range data {
		for _, d := range acc.Details {
			if d.Ccy != "USDT" {
				continue
			}
			if !d.AvailBal.IsZero() {
				return d.AvailBal.Decimal, nil
			}
			return d.AvailEq.Decimal, nil
		}
	}
	return decimal.Zero, nil
}

// GetPrice returns the last traded price.
func (c *Client) GetPrice(ctx context.Context, acct domain.Account, symbol string) (decimal.Decimal, error) {
	op := "GetPrice"
	var data []struct {
		Last rest.Number `json:"last"`
	}
	if err := c.call(ctx, op, nil, http.MethodGet, pathTicker, map[string]string{"instId": symbol}, nil, &data); err != nil {
		return decimal.Zero, c.rest.HandleError(ctx, err, op)
	}
	if len(data) == 0 || !data[0].Last.IsPositive() {
		return decimal.Zero, c.rest.HandleError(ctx, fmt.Errorf("%w: no price for %s", ports.ErrUnknown, symbol), op)
	}
	return data[0].Last.Decimal, nil
}

// GetSymbolInfo reads lot size, min size, tick size and contract value of a swap instrument.
func (c *Client) GetSymbolInfo(ctx context.Context, acct domain.Account, symbol string) (domain.SymbolInfo, error) {
	op := "GetSymbolInfo"
	var data []struct {
		InstID string      `json:"instId"`
		LotSz  rest.Number `json:"lotSz"`
		MinSz  rest.Number `json:"minSz"`
		CtVal  rest.Number `json:"ctVal"`
		TickSz rest.Number `json:"tickSz"`
		Lever  rest.Number `json:"lever"`
	}
	query := map[string]string{"instType": instType, "instId": symbol}
	if err := c.call(ctx, op, nil, http.MethodGet, pathInstruments, query, nil, &data); err != nil {
		return domain.SymbolInfo{}, c.rest.HandleError(ctx, err, op)
	}
	for _, inst := range data {
		if inst.InstID != symbol {
			continue
		}
		return domain.SymbolInfo{
			Symbol:        symbol,
			MinQty:        inst.MinSz.Decimal,
			QtyStep:       inst.LotSz.Decimal,
			ContractValue: inst.CtVal.Decimal,
			PriceTick:     inst.TickSz.Decimal,
			MaxLeverage:   int(inst.Lever.IntPart()),
		}, nil
	}
	return domain.SymbolInfo{}, c.rest.HandleError(ctx, fmt.Errorf("%w: instrument %s", ports.ErrNotFound, symbol), op)
}

// SetLeverage sets isolated leverage for one side.
func (c *Client) SetLeverage(ctx context.Context, acct domain.Account, symbol string, leverage int, side domain.PositionSide) error {
	op := "SetLeverage"
	payload := map[string]string{
		"instId":  symbol,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": marginMode,
		"posSide": posSide(side),
	}
	if err := c.call(ctx, op, &acct, http.MethodPost, pathLeverage, nil, payload, nil); err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	return nil
}

// PlaceMarketOrder places an isolated market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, acct domain.Account, symbol string, s domain.OrderSide, ps domain.PositionSide, qty decimal.Decimal) (string, error) {
	op := "PlaceMarketOrder"
	payload := map[string]string{
		"instId":  symbol,
		"tdMode":  marginMode,
		"side":    side(s),
		"posSide": posSide(ps),
		"ordType": "market",
		"sz":      qty.String(),
		"clOrdId": rest.NewClientOrderID(),
	}
	var data []struct {
		OrdID string `json:"ordId"`
	}
	if err := c.call(ctx, op, &acct, http.MethodPost, pathOrder, nil, payload, &data); err != nil {
		return "", c.rest.HandleError(ctx, err, op)
	}
	if len(data) == 0 || data[0].OrdID == "" {
		return "", c.rest.HandleError(ctx, fmt.Errorf("%w: empty order id", ports.ErrOrderPlacementFailed), op)
	}
	return data[0].OrdID, nil
}

// PlaceStopOrder places a conditional algo order that exits at market.
func (c *Client) PlaceStopOrder(ctx context.Context, acct domain.Account, symbol string, s domain.OrderSide, ps domain.PositionSide, qty, trigger decimal.Decimal, kind domain.StopKind) (string, error) {
	op := "PlaceStopOrder"
	payload := map[string]string{
		"instId":      symbol,
		"tdMode":      marginMode,
		"side":        side(s),
		"posSide":     posSide(ps),
		"ordType":     "conditional",
		"sz":          qty.String(),
		"algoClOrdId": rest.NewClientOrderID(),
	}
	if kind == domain.TakeProfitKind {
		payload["tpTriggerPx"] = trigger.String()
		payload["tpOrdPx"] = "-1"
	} else {
		payload["slTriggerPx"] = trigger.String()
		payload["slOrdPx"] = "-1"
	}
	var data []struct {
		AlgoID string `json:"algoId"`
	}
	if err := c.call(ctx, op, &acct, http.MethodPost, pathOrderAlgo, nil, payload, &data); err != nil {
		return "", c.rest.HandleError(ctx, err, op)
	}
	if len(data) == 0 || data[0].AlgoID == "" {
		return "", c.rest.HandleError(ctx, fmt.Errorf("%w: empty algo id", ports.ErrOrderPlacementFailed), op)
	}
	return data[0].AlgoID, nil
}

// CancelOrder cancels a regular order and falls back to the algo endpoint,
// since bracket legs are algo orders.
func (c *Client) CancelOrder(ctx context.Context, acct domain.Account, symbol, orderID string) error {
	op := "CancelOrder"
	err := c.call(ctx, op, &acct, http.MethodPost, pathCancel, nil, map[string]string{"instId": symbol, "ordId": orderID}, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ports.ErrOrderNotFound) {
		return c.rest.HandleError(ctx, err, op)
	}

	algo := []map[string]string{{"instId": symbol, "algoId": orderID}}
	if err := c.call(ctx, op+"Algo", &acct, http.MethodPost, pathCancelAlgos, nil, algo, nil); err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	return nil
}

// GetOrderStatus checks the regular order book and then algo orders.
func (c *Client) GetOrderStatus(ctx context.Context, acct domain.Account, symbol, orderID string) (domain.OrderStatus, error) {
	op := "GetOrderStatus"
	var orders []struct {
		State string `json:"state"`
	}
	err := c.call(ctx, op, &acct, http.MethodGet, pathOrder, map[string]string{"instId": symbol, "ordId": orderID}, nil, &orders)
	if err == nil && len(orders) > 0 {
		return mapOrderState(orders[0].State), nil
	}
	if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		return domain.OrderUnknown, c.rest.HandleError(ctx, err, op)
	}

	var algos []struct {
		State string `json:"state"`
	}
	if err := c.call(ctx, op+"Algo", &acct, http.MethodGet, pathOrderAlgo, map[string]string{"algoId": orderID}, nil, &algos); err != nil {
		return domain.OrderUnknown, c.rest.HandleError(ctx, err, op)
	}
	if len(algos) == 0 {
		return domain.OrderUnknown, c.rest.HandleError(ctx, fmt.Errorf("%w: order %s", ports.ErrOrderNotFound, orderID), op)
	}
	return mapOrderState(algos[0].State), nil
}

func mapOrderState(s string) domain.OrderStatus {
	switch s {
	case "live", "pause":
		return domain.OrderNew
	case "partially_filled", "partially_effective":
		return domain.OrderPartiallyFilled
	case "filled", "effective":
		return domain.OrderFilled
	case "canceled", "mmp_canceled", "order_failed":
		return domain.OrderCanceled
	default:
		return domain.OrderUnknown
	}
}

// GetOpenPositions lists non-empty positions of symbol.
func (c *Client) GetOpenPositions(ctx context.Context, acct domain.Account, symbol string) ([]domain.Position, error) {
	op := "GetOpenPositions"
	var data []struct {
		InstID  string      `json:"instId"`
		PosSide string      `json:"posSide"`
		Pos     rest.Number `json:"pos"`
		AvgPx   rest.Number `json:"avgPx"`
	}
	query := map[string]string{"instType": instType, "instId": symbol}
	if err := c.call(ctx, op, &acct, http.MethodGet, pathPositions, query, nil, &data); err != nil {
		return nil, c.rest.HandleError(ctx, err, op)
	}
	positions := make([]domain.Position, 0, len(data))
	for _, p := range data {
		if p.Pos.IsZero() {
			continue
		}
		ps := domain.PositionSide(strings.ToUpper(p.PosSide))
		if p.PosSide == "net" {
			// net mode encodes direction in the sign
			ps = domain.Long
			if p.Pos.IsNegative() {
				ps = domain.Short
			}
		}
		positions = append(positions, domain.Position{
			Symbol:       p.InstID,
			PositionSide: ps,
			Quantity:     p.Pos.Abs(),
			EntryPrice:   p.AvgPx.Decimal,
		})
	}
	return positions, nil
}

// ClosePosition closes one side at market. A missing position is success.
func (c *Client) ClosePosition(ctx context.Context, acct domain.Account, symbol string, ps domain.PositionSide) error {
	op := "ClosePosition"
	payload := map[string]string{
		"instId":  symbol,
		"mgnMode": marginMode,
		"posSide": posSide(ps),
	}
	err := c.call(ctx, op, &acct, http.MethodPost, pathClose, nil, payload, nil)
	if errors.Is(err, ports.ErrPositionNotFound) {
		c.logger.Info(ctx, "No open position to close", map[string]interface{}{"symbol": symbol, "positionSide": ps})
		return nil
	}
	if err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	return nil
}
