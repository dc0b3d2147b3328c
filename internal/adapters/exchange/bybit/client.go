// Package bybit implements ports.ExchangeAdapter for Bybit linear perpetuals in one-way mode.
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/adapters/exchange/rest"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

const (
	DefaultBaseURL = "https://api.bybit.com"

	pathTime        = "/v5/market/time"
	pathTickers     = "/v5/market/tickers"
	pathInstruments = "/v5/market/instruments-info"
	pathWallet      = "/v5/account/wallet-balance"
	pathLeverage    = "/v5/position/set-leverage"
	pathPositions   = "/v5/position/list"
	pathCreate      = "/v5/order/create"
	pathCancel      = "/v5/order/cancel"
	pathRealtime    = "/v5/order/realtime"
	pathHistory     = "/v5/order/history"

	category   = "linear"
	recvWindow = "5000"

	// triggerDirection values
	triggerRise = 1
	triggerFall = 2
)

// Config holds configuration for the Bybit adapter.
type Config struct {
	BaseURL           string
	AccountType       string // Wallet type, UNIFIED by default
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            ports.Logger
}

// Client talks to the Bybit v5 API.
type Client struct {
	rest        *rest.Client
	accountType string
	logger      ports.Logger
}

var _ ports.ExchangeAdapter = (*Client)(nil)

// New creates a Bybit adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Bybit client")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AccountType == "" {
		cfg.AccountType = "UNIFIED"
	}
	rc, err := rest.NewClient(rest.Config{
		Name:              string(domain.Bybit),
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
	c := &Client{rest: rc, accountType: cfg.AccountType, logger: cfg.Logger}
	rc.Clock().SetSource(c.serverTime)
	return c, nil
}

func (c *Client) Exchange() domain.Exchange { return domain.Bybit }

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func classify(status int, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return rest.StatusError(status, body)
	}
	if env.RetCode == 0 {
		return nil
	}
	apiErr := &ports.APIError{Exchange: domain.Bybit, Code: strconv.Itoa(env.RetCode), Message: env.RetMsg}
	return fmt.Errorf("%w: %w", mapCode(env.RetCode), apiErr)
}

// errLeverageNotModified is 110043; the engine wants it as success.
const errLeverageNotModified = 110043

// mapCode translates Bybit retCodes into ports errors.
func mapCode(code int) error {
	switch code {
	case 10002:
		return ports.ErrTimestampDesync
	case 10003, 10004, 10005, 10007, 10010:
		return ports.ErrAuthenticationFailed
	case 10006, 10018:
		return ports.ErrRateLimited
	case 10016:
		return ports.ErrExchangeUnavailable
	case 110001, 170213:
		return ports.ErrOrderNotFound
	case 110017:
		return ports.ErrPositionNotFound
	case 110004, 110007, 110012:
		return ports.ErrInsufficientFunds
	case 10001, 110003, 110094:
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
	var data struct {
		TimeNano string `json:"timeNano"`
	}
	if err := c.decode(body, nil)(&data); err != nil {
		return 0, err
	}
	nanos, err := strconv.ParseInt(data.TimeNano, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: server time: %w", ports.ErrUnknown, err)
	}
	return nanos / int64(time.Millisecond), nil
}

// get sends a GET, signing the query string when acct is set.
func (c *Client) get(ctx context.Context, op string, acct *domain.Account, path string, query map[string]string, out interface{}) error {
	q := rest.EncodedQuery(query)
	build := func(ctx context.Context, ts int64) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rest.BaseURL()+path+"?"+q, nil)
		if err != nil {
			return nil, err
		}
		if acct != nil {
			c.sign(req, *acct, ts, q)
		}
		return req, nil
	}
	return c.decode(c.rest.Do(ctx, op, build, classify))(out)
}

// post sends a signed JSON body.
func (c *Client) post(ctx context.Context, op string, acct domain.Account, path string, payload map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode request: %w", ports.ErrInvalidRequest, err)
	}
	build := func(ctx context.Context, ts int64) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rest.BaseURL()+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.sign(req, acct, ts, string(body))
		return req, nil
	}
	return c.decode(c.rest.Do(ctx, op, build, classify))(out)
}

func (c *Client) sign(req *http.Request, acct domain.Account, ts int64, payload string) {
	stamp := strconv.FormatInt(ts, 10)
	req.Header.Set("X-BAPI-API-KEY", acct.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", stamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", rest.SignHex(acct.APISecret, stamp+acct.APIKey+recvWindow+payload))
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
		return rest.Decode(env.Result, out)
	}
}

func side(s domain.OrderSide) string {
	if s == domain.Buy {
		return "Buy"
	}
	return "Sell"
}

// triggerDirection: SL of a long and TP of a short fire on a falling price.
func triggerDirection(ps domain.PositionSide, kind domain.StopKind) int {
	falling := (ps == domain.Long) == (kind == domain.StopLossKind)
	if falling {
		return triggerFall
	}
	return triggerRise
}

// GetBalance returns the withdrawable USDT of the wallet.
func (c *Client) GetBalance(ctx context.Context, acct domain.Account) (decimal.Decimal, error) {
	op := "GetBalance"
	var result struct {
		List []struct {
			TotalAvailableBalance rest.Number `json:"totalAvailableBalance"`
			Coin                  []struct {
				Coin                string      `json:"coin"`
				AvailableToWithdraw rest.Number `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	query := map[string]string{"accountType": c.accountType, "coin": "USDT"}
	if err := c.get(ctx, op, &acct, pathWallet, query, &result); err != nil {
		return decimal.Zero, c.rest.HandleError(ctx, err, op)
	}
	for _, w := range result.List {
		for _, coin := range w.Coin {
			if coin.Coin == "USDT" && !coin.AvailableToWithdraw.IsZero() {
				return coin.AvailableToWithdraw.Decimal, nil
			}
		}
		if !w.TotalAvailableBalance.IsZero() {
			return w.TotalAvailableBalance.Decimal, nil
		}
	}
	return decimal.Zero, nil
}

// GetPrice returns the last traded price.
func (c *Client) GetPrice(ctx context.Context, acct domain.Account, symbol string) (decimal.Decimal, error) {
	op := "GetPrice"
	var result struct {
		List []struct {
			LastPrice rest.Number `json:"lastPrice"`
		} `json:"list"`
	}
	if err := c.get(ctx, op, nil, pathTickers, map[string]string{"category": category, "symbol": symbol}, &result); err != nil {
		return decimal.Zero, c.rest.HandleError(ctx, err, op)
	}
	if len(result.List) == 0 || !result.List[0].LastPrice.IsPositive() {
		return decimal.Zero, c.rest.HandleError(ctx, fmt.Errorf("%w: no price for %s", ports.ErrUnknown, symbol), op)
	}
	return result.List[0].LastPrice.Decimal, nil
}

// GetSymbolInfo reads the lot size and price filters of a linear contract.
func (c *Client) GetSymbolInfo(ctx context.Context, acct domain.Account, symbol string) (domain.SymbolInfo, error) {
	op := "GetSymbolInfo"
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				QtyStep     rest.Number `json:"qtyStep"`
				MinOrderQty rest.Number `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize rest.Number `json:"tickSize"`
			} `json:"priceFilter"`
			LeverageFilter struct {
				MaxLeverage rest.Number `json:"maxLeverage"`
			} `json:"leverageFilter"`
		} `json:"list"`
	}
	if err := c.get(ctx, op, nil, pathInstruments, map[string]string{"category": category, "symbol": symbol}, &result); err != nil {
		return domain.SymbolInfo{}, c.rest.HandleError(ctx, err, op)
	}
	for _, inst := range result.List {
		if inst.Symbol != symbol {
			continue
		}
		return domain.SymbolInfo{
			Symbol:        symbol,
			MinQty:        inst.LotSizeFilter.MinOrderQty.Decimal,
			QtyStep:       inst.LotSizeFilter.QtyStep.Decimal,
			ContractValue: decimal.NewFromInt(1),
			PriceTick:     inst.PriceFilter.TickSize.Decimal,
			MaxLeverage:   int(inst.LeverageFilter.MaxLeverage.IntPart()),
		}, nil
	}
	return domain.SymbolInfo{}, c.rest.HandleError(ctx, fmt.Errorf("%w: symbol %s", ports.ErrNotFound, symbol), op)
}

// SetLeverage sets buy and sell leverage. "Not modified" is success.
func (c *Client) SetLeverage(ctx context.Context, acct domain.Account, symbol string, leverage int, _ domain.PositionSide) error {
	op := "SetLeverage"
	lev := strconv.Itoa(leverage)
	err := c.post(ctx, op, acct, pathLeverage, map[string]interface{}{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}, nil)
	var apiErr *ports.APIError
	if errors.As(err, &apiErr) && apiErr.Code == strconv.Itoa(errLeverageNotModified) {
		return nil
	}
	if err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	return nil
}

func (c *Client) create(ctx context.Context, op string, acct domain.Account, payload map[string]interface{}) (string, error) {
	payload["category"] = category
	payload["orderType"] = "Market"
	payload["positionIdx"] = 0
	payload["orderLinkId"] = rest.NewClientOrderID()
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := c.post(ctx, op, acct, pathCreate, payload, &result); err != nil {
		return "", c.rest.HandleError(ctx, err, op)
	}
	if result.OrderID == "" {
		return "", c.rest.HandleError(ctx, fmt.Errorf("%w: empty order id", ports.ErrOrderPlacementFailed), op)
	}
	return result.OrderID, nil
}

// PlaceMarketOrder places a market order. posSide is implied in one-way mode.
func (c *Client) PlaceMarketOrder(ctx context.Context, acct domain.Account, symbol string, s domain.OrderSide, _ domain.PositionSide, qty decimal.Decimal) (string, error) {
	return c.create(ctx, "PlaceMarketOrder", acct, map[string]interface{}{
		"symbol": symbol,
		"side":   side(s),
		"qty":    qty.String(),
	})
}

// PlaceStopOrder places a reduce-only conditional market order.
func (c *Client) PlaceStopOrder(ctx context.Context, acct domain.Account, symbol string, s domain.OrderSide, ps domain.PositionSide, qty, trigger decimal.Decimal, kind domain.StopKind) (string, error) {
	return c.create(ctx, "PlaceStopOrder", acct, map[string]interface{}{
		"symbol":           symbol,
		"side":             side(s),
		"qty":              qty.String(),
		"triggerPrice":     trigger.String(),
		"triggerDirection": triggerDirection(ps, kind),
		"triggerBy":        "LastPrice",
		"reduceOnly":       true,
	})
}

// CancelOrder cancels an active or untriggered order.
func (c *Client) CancelOrder(ctx context.Context, acct domain.Account, symbol, orderID string) error {
	op := "CancelOrder"
	err := c.post(ctx, op, acct, pathCancel, map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}, nil)
	if err != nil {
		return c.rest.HandleError(ctx, err, op)
	}
	return nil
}

type orderList struct {
	List []struct {
		OrderID     string `json:"orderId"`
		OrderStatus string `json:"orderStatus"`
	} `json:"list"`
}

// GetOrderStatus checks open orders, then history.
func (c *Client) GetOrderStatus(ctx context.Context, acct domain.Account, symbol, orderID string) (domain.OrderStatus, error) {
	op := "GetOrderStatus"
	query := map[string]string{"category": category, "symbol": symbol, "orderId": orderID}
	for _, path := range []string{pathRealtime, pathHistory} {
		var result orderList
		if err := c.get(ctx, op, &acct, path, query, &result); err != nil {
			return domain.OrderUnknown, c.rest.HandleError(ctx, err, op)
		}
		if len(result.List) > 0 {
			return mapOrderStatus(result.List[0].OrderStatus), nil
		}
	}
	return domain.OrderUnknown, c.rest.HandleError(ctx, fmt.Errorf("%w: order %s", ports.ErrOrderNotFound, orderID), op)
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "New", "Untriggered", "Created":
		return domain.OrderNew
	case "PartiallyFilled":
		return domain.OrderPartiallyFilled
	case "Filled":
		return domain.OrderFilled
	case "Triggered":
		return domain.OrderTriggered
	case "Cancelled", "Rejected", "Deactivated", "PartiallyFilledCanceled":
		return domain.OrderCanceled
	default:
		return domain.OrderUnknown
	}
}

// GetOpenPositions lists the non-empty position of symbol.
func (c *Client) GetOpenPositions(ctx context.Context, acct domain.Account, symbol string) ([]domain.Position, error) {
	op := "GetOpenPositions"
	var result struct {
		List []struct {
			Symbol   string      `json:"symbol"`
			Side     string      `json:"side"`
			Size     rest.Number `json:"size"`
			AvgPrice rest.Number `json:"avgPrice"`
		} `json:"list"`
	}
	if err := c.get(ctx, op, &acct, pathPositions, map[string]string{"category": category, "symbol": symbol}, &result); err != nil {
		return nil, c.rest.HandleError(ctx, err, op)
	}
	positions := make([]domain.Position, 0, len(result.List))
	for _, p := range result.List {
		if p.Size.IsZero() || p.Side == "" || p.Side == "None" {
			continue
		}
		ps := domain.Long
		if p.Side == "Sell" {
			ps = domain.Short
		}
		positions = append(positions, domain.Position{
			Symbol:       p.Symbol,
			PositionSide: ps,
			Quantity:     p.Size.Abs(),
			EntryPrice:   p.AvgPrice.Decimal,
		})
	}
	return positions, nil
}

// ClosePosition sends a reduce-only market order for the full size.
func (c *Client) ClosePosition(ctx context.Context, acct domain.Account, symbol string, ps domain.PositionSide) error {
	positions, err := c.GetOpenPositions(ctx, acct, symbol)
	if err != nil {
		return err
	}
	pos, ok := domain.FindPosition(positions, ps)
	if !ok {
		c.logger.Info(ctx, "No open position to close", map[string]interface{}{"symbol": symbol, "positionSide": ps})
		return nil
	}
	_, err = c.create(ctx, "ClosePosition", acct, map[string]interface{}{
		"symbol":     symbol,
		"side":       side(ps.ExitSide()),
		"qty":        pos.Quantity.String(),
		"reduceOnly": true,
	})
	if errors.Is(err, ports.ErrPositionNotFound) {
		return nil
	}
	return err
}
