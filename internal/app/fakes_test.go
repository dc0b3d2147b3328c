package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// call records one adapter invocation.
type call struct {
	Method  string
	UserID  int64
	Symbol  string
	Side    domain.OrderSide
	PosSide domain.PositionSide
	Qty     decimal.Decimal
	Trigger decimal.Decimal
	Kind    domain.StopKind
	OrderID string
	Lev     int
}

type fakeExchange struct {
	mu sync.Mutex

	balance   decimal.Decimal
	prices    []decimal.Decimal // Served in order; the last one repeats
	info      domain.SymbolInfo
	positions []domain.Position
	statuses  map[string]domain.OrderStatus

	failUser    int64            // Every call for this user fails
	failMethod  map[string]error // Method name -> error
	failTrigger map[string]error // Stop trigger price -> error
	cancelErr   map[string]error // Order id -> error

	calls []call
	seq   int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balance:     d("1000"),
		prices:      []decimal.Decimal{d("50000")},
		info:        domain.SymbolInfo{Symbol: "BTC-USDT", MinQty: d("0.001"), QtyStep: d("0.001"), ContractValue: decimal.NewFromInt(1), MaxLeverage: 125},
		statuses:    map[string]domain.OrderStatus{},
		failMethod:  map[string]error{},
		failTrigger: map[string]error{},
		cancelErr:   map[string]error{},
	}
}

func (f *fakeExchange) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.failUser != 0 && c.UserID == f.failUser {
		return fmt.Errorf("%s: %w", c.Method, ports.ErrExchangeUnavailable)
	}
	return f.failMethod[c.Method]
}

func (f *fakeExchange) nextID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeExchange) callsOf(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeExchange) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeExchange) Exchange() domain.Exchange { return domain.BingX }

func (f *fakeExchange) GetBalance(ctx context.Context, acct domain.Account) (decimal.Decimal, error) {
	if err := f.record(call{Method: "GetBalance", UserID: acct.UserID}); err != nil {
		return decimal.Zero, err
	}
	return f.balance, nil
}

func (f *fakeExchange) GetPrice(ctx context.Context, acct domain.Account, symbol string) (decimal.Decimal, error) {
	if err := f.record(call{Method: "GetPrice", UserID: acct.UserID, Symbol: symbol}); err != nil {
		return decimal.Zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.prices[0]
	if len(f.prices) > 1 {
		f.prices = f.prices[1:]
	}
	return p, nil
}

func (f *fakeExchange) GetSymbolInfo(ctx context.Context, acct domain.Account, symbol string) (domain.SymbolInfo, error) {
	if err := f.record(call{Method: "GetSymbolInfo", UserID: acct.UserID, Symbol: symbol}); err != nil {
		return domain.SymbolInfo{}, err
	}
	return f.info, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, acct domain.Account, symbol string, leverage int, side domain.PositionSide) error {
	return f.record(call{Method: "SetLeverage", UserID: acct.UserID, Symbol: symbol, PosSide: side, Lev: leverage})
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, acct domain.Account, symbol string, side domain.OrderSide, posSide domain.PositionSide, qty decimal.Decimal) (string, error) {
	if err := f.record(call{Method: "PlaceMarketOrder", UserID: acct.UserID, Symbol: symbol, Side: side, PosSide: posSide, Qty: qty}); err != nil {
		return "", err
	}
	return f.nextID("mkt"), nil
}

func (f *fakeExchange) PlaceStopOrder(ctx context.Context, acct domain.Account, symbol string, side domain.OrderSide, posSide domain.PositionSide, qty, trigger decimal.Decimal, kind domain.StopKind) (string, error) {
	if err := f.record(call{Method: "PlaceStopOrder", UserID: acct.UserID, Symbol: symbol, Side: side, PosSide: posSide, Qty: qty, Trigger: trigger, Kind: kind}); err != nil {
		return "", err
	}
	f.mu.Lock()
	err := f.failTrigger[trigger.String()]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.nextID(string(kind)), nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, acct domain.Account, symbol, orderID string) error {
	if err := f.record(call{Method: "CancelOrder", UserID: acct.UserID, Symbol: symbol, OrderID: orderID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelErr[orderID]
}

func (f *fakeExchange) GetOrderStatus(ctx context.Context, acct domain.Account, symbol, orderID string) (domain.OrderStatus, error) {
	if err := f.record(call{Method: "GetOrderStatus", UserID: acct.UserID, Symbol: symbol, OrderID: orderID}); err != nil {
		return domain.OrderUnknown, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.statuses[orderID]; ok {
		return s, nil
	}
	return domain.OrderNew, nil
}

func (f *fakeExchange) GetOpenPositions(ctx context.Context, acct domain.Account, symbol string) ([]domain.Position, error) {
	if err := f.record(call{Method: "GetOpenPositions", UserID: acct.UserID, Symbol: symbol}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Position(nil), f.positions...), nil
}

func (f *fakeExchange) ClosePosition(ctx context.Context, acct domain.Account, symbol string, posSide domain.PositionSide) error {
	return f.record(call{Method: "ClosePosition", UserID: acct.UserID, Symbol: symbol, PosSide: posSide})
}

type fakeRegistry map[domain.Exchange]ports.ExchangeAdapter

func (r fakeRegistry) Adapter(ex domain.Exchange) (ports.ExchangeAdapter, error) {
	a, ok := r[ex]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnsupportedExchange, ex)
	}
	return a, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Notification
}

func (p *recordingPublisher) Publish(n domain.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, n)
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Action)
	}
	return out
}

func account(id int64, ex domain.Exchange) domain.Account {
	return domain.Account{
		UserID:           id,
		Exchange:         ex,
		APIKey:           fmt.Sprintf("key-%d", id),
		APISecret:        fmt.Sprintf("secret-%d", id),
		SubscriptionType: domain.SubscriptionRegular,
		SubscriptionEnd:  time.Now().Add(24 * time.Hour),
	}
}

func buySignal() domain.Signal {
	return domain.Signal{
		Action:      domain.ActionBuy,
		Symbol:      "BTC-USDT",
		Price:       d("50000"),
		StopLoss:    d("49000"),
		TakeProfits: []decimal.Decimal{d("53000"), d("51000"), d("52000")},
	}
}
