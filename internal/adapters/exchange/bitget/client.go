// Package bitget implements ports.ExchangeAdapter for Bitget USDT-M futures in hedge mode.
package bitget

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
	DefaultBaseURL = "https://api.bitget.com"

	pathTime           = "/api/v2/public/time"
	pathAccounts       = "/api/v2/mix/account/accounts"
	pathLeverage       = "/api/v2/mix/account/set-leverage"
	pathTicker         = "/api/v2/mix/market/ticker"
	pathContracts      = "/api/v2/mix/market/contracts"
	pathPosition       = "/api/v2/mix/position/single-position"
	pathPlaceOrder     = "/api/v2/mix/order/place-order"
	pathPlaceTPSL      = "/api/v2/mix/order/place-tpsl-order"
	pathCancelOrder    = "/api/v2/mix/order/cancel-order"
	pathCancelPlan     = "/api/v2/mix/order/cancel-plan-order"
	pathOrderDetail    = "/api/v2/mix/order/detail"
	pathPlanPending    = "/api/v2/mix/order/orders-plan-pending"
	pathPlanHistory    = "/api/v2/mix/order/orders-plan-history"
	pathClosePositions = "/api/v2/mix/order/close-positions"

	productType = "USDT-FUTURES"
	marginCoin  = "USDT"
	marginMode  = "isolated"
	planTPSL    = "profit_loss"
	successCode = "00000"
)

// Config holds configuration for the Bitget adapter.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            ports.Logger
}

// Client talks to the Bitget v2 mix API.
type Client struct {
	rest   *rest.Client
	logger ports.Logger
}

var _ ports.ExchangeAdapter = (*Client)(nil)

// New creates a Bitget adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Bitget client")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	rc, err := rest.NewClient(rest.Config{
		Name:              string(domain.Bitget),
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

func (c *Client) Exchange() domain.Exchange { return domain.Bitget }

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func classify(status int, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Code == "" {
		return rest.StatusError(status, body)
	}
	if env.Code == successCode {
		return nil
	}
	apiErr := &ports.APIError{Exchange: domain.Bitget, Code: env.Code, Message: env.Msg}
	return fmt.Errorf("%w: %w", mapCode(env.Code), apiErr)
}

// mapCode translates Bitget response codes into ports errors.
func mapCode(code string) error {
	switch code {
	case "40008":
		return ports.ErrTimestampDesync
	case "40006", "40009", "40012", "40014", "40037":
		return ports.ErrAuthenticationFailed
	case "40010", "429":
		return ports.ErrRateLimited
	case "40768", "43001", "43025", "40109":
		return ports.ErrOrderNotFound
	case "22002", "40774":
		return ports.ErrPositionNotFound
	case "40762", "43012":
		return ports.ErrInsufficientFunds
	case "40017", "40034", "40019":
		return ports.ErrInvalidRequest
	case "40015", "45001":
		return ports.ErrExchangeUnavailable
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
	var data struct {
		ServerTime string `json:"serverTime"`
	}
	if err := c.decode(body, nil)(&data); err != nil {
		return 0, err
	}
	return strconv.ParseInt(data.ServerTime, 10, 64)
}

// call sends a request signed over ts+METHOD+path(+?query)+body when acct is set.
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
		req.Header.Set("locale", "en-US")
		if acct != nil {
			stamp := strconv.FormatInt(ts, 10)
			req.Header.Set("ACCESS-KEY", acct.APIKey)
			req.Header.Set("ACCESS-PASSPHRASE", acct.Passphrase)
			req.Header.Set("ACCESS-TIMESTAMP", stamp)
			req.Header.Set("ACCESS-SIGN", rest.SignBase64(acct.APISecret, stamp+method+requestPath+string(body)))
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

func holdSide(p domain.PositionSide) string { return strings.ToLower(string(p)) }

// GetBalance returns the available USDT of the futures account.
func (c *Client) GetBalance(ctx context.Context, acct domain.Account) (decimal.Decimal, error) {
	op := "GetBalance"
	var data []struct {
		MarginCoin string      `json:"marginCoin"`
		Available  rest.Number `json:"available"`
	}
	if err := c.call(ctx, op, &acct, http.MethodGet, pathAccounts, map[string]string{"productType": productType}, nil, &data); err != nil {
		return decimal.Zero, c.rest.HandleError(ctx, err, op)
	}
	for _, a := range data {
		if strings.EqualFold(a.MarginCoin, marginCoin) {
			return a.Available.Decimal, nil
		}
	}
	return decimal.Zero, nil
}

// GetPrice returns the last traded price.
func (c *Client) GetPrice(ctx context.Context, acct domain.Account, symbol string) (decimal.Decimal, error) {
	op := "GetPrice"
	var data []struct {
		LastPr rest.Number `json:"lastPr"`
	}
	query := map[string]string{"symbol": symbol, "productType": productType}
	if err := c.call(ctx, op, nil, http.MethodGet, pathTicker, query, nil, &data); err != nil {
		return decimal.Zero, c.rest.HandleError(ctx, err, op)
	}
	if len(data) == 0 || !data[0].LastPr.IsPositive() {
		return decimal.Zero, c.rest.HandleError(ctx, fmt.Errorf("%w: no price for %s", ports.ErrUnknown, symbol), op)
	}
	return data[0].LastPr.Decimal, nil
}

// GetSymbolInfo reads minTradeNum, sizeMultiplier and the price step of a contract.
func (c *Client) GetSymbolInfo(ctx context.Context, acct domain.Account, symbol string) (domain.SymbolInfo, error) {
	op := "GetSymbolInfo"
	var data []struct {
		Symbol         string      `json:"symbol"`
		MinTradeNum    rest.Number `json:"minTradeNum"`
		SizeMultiplier rest.Number `json:"sizeMultiplier"`
		VolumePlace    rest.Number `json:"volumePlace"`
		PricePlace     rest.Number `json:"pricePlace"`
		PriceEndStep   rest.Number `json:"priceEndStep"`
		MaxLever       rest.Number `json:"maxLever"`
	}
	query := map[string]string{"symbol": symbol, "productType": productType}
	if err := c.call(ctx, op, nil, http.MethodGet, pathContracts, query, nil, &data); err != nil {
		return domain.SymbolInfo{}, c.rest.HandleError(ctx, err, op)
	}
	for _, ct := range data {
		if ct.Symbol != symbol {
			continue
		}
		step := ct.SizeMultiplier.Decimal
		if !step.IsPositive() {
			step = decimal.New(1, -int32(ct.VolumePlace.IntPart()))
		}
		// The tick is priceEndStep units of the last price place.
		endStep := ct.PriceEndStep.Decimal
		if !endStep.IsPositive() {
			endStep = decimal.NewFromInt(1)
		}
		return domain.SymbolInfo{
			Symbol:        symbol,
			MinQty:        ct.MinTradeNum.Decimal,
			QtyStep:       step,
			ContractValue: decimal.NewFromInt(1),
			PriceTick:     endStep.Mul(decimal.New(1, -int32(ct.PricePlace.IntPart()))),
			MaxLeverage:   int(ct.MaxLever.IntPart()),
		}, nil
	}
	return domain.SymbolInfo{}, c.rest.HandleError(ctx, fmt.Errorf("%w: symbol %s", ports.ErrNotFound, symbol), op)
}

// SetLeverage sets isolated leverage for one hold side.
func (c *Client) SetLeverage(ctx context.Context, acct domain.Account, symbol string, leverage int, side domain.PositionSide) error {
	op := "SetLeverage"
	payload := map[string]string{
		"symbol":      symbol,
		"productType": productType,
		"marginCoin":  marginCoin,
		"leverage":    strconv.Itoa(leverage),
		"holdSide":    holdSide(side),
	}
	if err := c.call(ctx, op, &acct, http.MethodPost, pathLeverage, nil, payload, nil); err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	return nil
}

type orderResult struct {
	OrderID string `json:"orderId"`
}

// PlaceMarketOrder places a hedge-mode market order. Bitget's side names the
// position direction; tradeSide says whether the order opens or reduces it.
func (c *Client) PlaceMarketOrder(ctx context.Context, acct domain.Account, symbol string, side domain.OrderSide, posSide domain.PositionSide, qty decimal.Decimal) (string, error) {
	op := "PlaceMarketOrder"
	tradeSide := "open"
	if side != posSide.EntrySide() {
		tradeSide = "close"
	}
	payload := map[string]string{
		"symbol":      symbol,
		"productType": productType,
		"marginMode":  marginMode,
		"marginCoin":  marginCoin,
		"size":        qty.String(),
		"side":        strings.ToLower(string(posSide.EntrySide())),
		"tradeSide":   tradeSide,
		"orderType":   "market",
		"clientOid":   rest.NewClientOrderID(),
	}
	var result orderResult
	if err := c.call(ctx, op, &acct, http.MethodPost, pathPlaceOrder, nil, payload, &result); err != nil {
		return "", c.rest.HandleError(ctx, err, op)
	}
	if result.OrderID == "" {
		return "", c.rest.HandleError(ctx, fmt.Errorf("%w: empty order id", ports.ErrOrderPlacementFailed), op)
	}
	return result.OrderID, nil
}

// PlaceStopOrder places a loss_plan or profit_plan trigger that exits at market.
func (c *Client) PlaceStopOrder(ctx context.Context, acct domain.Account, symbol string, _ domain.OrderSide, posSide domain.PositionSide, qty, trigger decimal.Decimal, kind domain.StopKind) (string, error) {
	op := "PlaceStopOrder"
	planType := "loss_plan"
	if kind == domain.TakeProfitKind {
		planType = "profit_plan"
	}
	payload := map[string]string{
		"symbol":       symbol,
		"productType":  productType,
		"marginCoin":   marginCoin,
		"planType":     planType,
		"triggerPrice": trigger.String(),
		"triggerType":  "fill_price",
		"executePrice": "0",
		"holdSide":     holdSide(posSide),
		"size":         qty.String(),
		"clientOid":    rest.NewClientOrderID(),
	}
	var result orderResult
	if err := c.call(ctx, op, &acct, http.MethodPost, pathPlaceTPSL, nil, payload, &result); err != nil {
		return "", c.rest.HandleError(ctx, err, op)
	}
	if result.OrderID == "" {
		return "", c.rest.HandleError(ctx, fmt.Errorf("%w: empty plan order id", ports.ErrOrderPlacementFailed), op)
	}
	return result.OrderID, nil
}

// CancelOrder cancels a regular order and falls back to plan orders.
func (c *Client) CancelOrder(ctx context.Context, acct domain.Account, symbol, orderID string) error {
	op := "CancelOrder"
	err := c.call(ctx, op, &acct, http.MethodPost, pathCancelOrder, nil, map[string]string{
		"symbol":      symbol,
		"productType": productType,
		"marginCoin":  marginCoin,
		"orderId":     orderID,
	}, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ports.ErrOrderNotFound) {
		return c.rest.HandleError(ctx, err, op)
	}

	var result struct {
		SuccessList []orderResult `json:"successList"`
		FailureList []struct {
			OrderID  string `json:"orderId"`
			ErrorMsg string `json:"errorMsg"`
		} `json:"failureList"`
	}
	payload := map[string]interface{}{
		"symbol":      symbol,
		"productType": productType,
		"marginCoin":  marginCoin,
		"planType":    planTPSL,
		"orderIdList": []map[string]string{{"orderId": orderID}},
	}
	if err := c.call(ctx, op+"Plan", &acct, http.MethodPost, pathCancelPlan, nil, payload, &result); err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	if len(result.SuccessList) == 0 {
		return c.rest.HandleError(ctx, fmt.Errorf("%w: plan order %s", ports.ErrOrderNotFound, orderID), op)
	}
	return nil
}

type planList struct {
	EntrustedList []struct {
		OrderID    string `json:"orderId"`
		PlanStatus string `json:"planStatus"`
	} `json:"entrustedList"`
}

// GetOrderStatus checks the order book, then pending and historical plan orders.
func (c *Client) GetOrderStatus(ctx context.Context, acct domain.Account, symbol, orderID string) (domain.OrderStatus, error) {
	op := "GetOrderStatus"
	var detail struct {
		State string `json:"state"`
	}
	query := map[string]string{"symbol": symbol, "productType": productType, "orderId": orderID}
	err := c.call(ctx, op, &acct, http.MethodGet, pathOrderDetail, query, nil, &detail)
	if err == nil && detail.State != "" {
		return mapOrderState(detail.State), nil
	}
	if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		return domain.OrderUnknown, c.rest.HandleError(ctx, err, op)
	}

	planQuery := map[string]string{"symbol": symbol, "productType": productType, "planType": planTPSL, "orderId": orderID}
	for _, path := range []string{pathPlanPending, pathPlanHistory} {
		var plans planList
		if err := c.call(ctx, op+"Plan", &acct, http.MethodGet, path, planQuery, nil, &plans); err != nil {
			return domain.OrderUnknown, c.rest.HandleError(ctx, err, op)
		}
		for _, p := range plans.EntrustedList {
			if p.OrderID == orderID {
				return mapPlanStatus(p.PlanStatus), nil
			}
		}
	}
	return domain.OrderUnknown, c.rest.HandleError(ctx, fmt.Errorf("%w: order %s", ports.ErrOrderNotFound, orderID), op)
}

func mapOrderState(s string) domain.OrderStatus {
	switch s {
	case "live", "new", "init":
		return domain.OrderNew
	case "partially_filled":
		return domain.OrderPartiallyFilled
	case "filled":
		return domain.OrderFilled
	case "canceled", "cancelled":
		return domain.OrderCanceled
	default:
		return domain.OrderUnknown
	}
}

func mapPlanStatus(s string) domain.OrderStatus {
	switch s {
	case "live", "not_trigger":
		return domain.OrderNew
	case "executed", "triggered":
		return domain.OrderFilled
	case "cancelled", "canceled", "fail_trigger", "fail_execute":
		return domain.OrderCanceled
	default:
		return domain.OrderUnknown
	}
}

// GetOpenPositions lists non-empty hold sides of symbol.
func (c *Client) GetOpenPositions(ctx context.Context, acct domain.Account, symbol string) ([]domain.Position, error) {
	op := "GetOpenPositions"
	var data []struct {
		Symbol       string      `json:"symbol"`
		HoldSide     string      `json:"holdSide"`
		Total        rest.Number `json:"total"`
		OpenPriceAvg rest.Number `json:"openPriceAvg"`
	}
	query := map[string]string{"symbol": symbol, "productType": productType, "marginCoin": marginCoin}
	if err := c.call(ctx, op, &acct, http.MethodGet, pathPosition, query, nil, &data); err != nil {
		return nil, c.rest.HandleError(ctx, err, op)
	}
	positions := make([]domain.Position, 0, len(data))
	for _, p := range data {
		if p.Total.IsZero() {
			continue
		}
		positions = append(positions, domain.Position{
			Symbol:       p.Symbol,
			PositionSide: domain.PositionSide(strings.ToUpper(p.HoldSide)),
			Quantity:     p.Total.Abs(),
			EntryPrice:   p.OpenPriceAvg.Decimal,
		})
	}
	return positions, nil
}

// ClosePosition flash-closes one hold side at market.
func (c *Client) ClosePosition(ctx context.Context, acct domain.Account, symbol string, posSide domain.PositionSide) error {
	op := "ClosePosition"
	payload := map[string]string{
		"symbol":      symbol,
		"productType": productType,
		"holdSide":    holdSide(posSide),
	}
	err := c.call(ctx, op, &acct, http.MethodPost, pathClosePositions, nil, payload, nil)
	if errors.Is(err, ports.ErrPositionNotFound) {
		c.logger.Info(ctx, "No open position to close", map[string]interface{}{"symbol": symbol, "positionSide": posSide})
		return nil
	}
	if err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	return nil
}
