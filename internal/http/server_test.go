package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/adapters/memory"
	"cryptoSignalBot/internal/app"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeDispatcher struct {
	got    []domain.Signal
	report *app.Report
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, sig domain.Signal) (*app.Report, error) {
	f.got = append(f.got, sig)
	if f.err != nil {
		return nil, f.err
	}
	if err := app.ValidateSignal(sig); err != nil {
		return nil, err
	}
	return f.report, nil
}

const jwtSecret = "test-secret"

func newTestServer(t *testing.T, disp Dispatcher, token string, ledger TradeLister) *httptest.Server {
	t.Helper()
	srv := NewServer(Config{WebhookToken: token, JWTSecret: jwtSecret, Logger: &mockLogger{}}, disp, ledger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func okReport() *app.Report {
	return &app.Report{Action: domain.ActionBuy, Symbol: "BTC-USDT", Results: []app.UserResult{
		{UserID: 1, Status: app.ResultSucceeded},
		{UserID: 2, Status: app.ResultFailed, ErrorKind: "InsufficientMargin", Error: "insufficient margin"},
	}}
}

func post(t *testing.T, url, contentType, body string, header map[string]string) (*http.Response, webhookResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out webhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

const validBody = `{"action":"long","symbol":"BTCUSDT.P","price":"50000","stop_loss":49000,
	"take_profit_1":51000,"take_profit_2":"52000","take_profit_3":53000}`

func TestWebhook_StatusCodes(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		disp        *fakeDispatcher
		wantCode    int
		wantStatus  string
	}{
		{"partial success", "application/json", validBody, &fakeDispatcher{report: okReport()}, http.StatusOK, "success"},
		{"charset suffix", "application/json; charset=utf-8", validBody, &fakeDispatcher{report: okReport()}, http.StatusOK, "success"},
		{"plain text body", "text/plain", validBody, &fakeDispatcher{report: okReport()}, http.StatusOK, "success"},
		{"wrong content type", "application/xml", validBody, &fakeDispatcher{}, http.StatusBadRequest, "error"},
		{"missing content type", "", validBody, &fakeDispatcher{}, http.StatusBadRequest, "error"},
		{"malformed json", "application/json", `{"action":`, &fakeDispatcher{}, http.StatusBadRequest, "error"},
		{"unknown action", "application/json", `{"action":"HOLD","symbol":"BTCUSDT"}`, &fakeDispatcher{}, http.StatusBadRequest, "error"},
		{"NaN take profit", "application/json",
			`{"action":"BUY","symbol":"BTCUSDT","price":1,"stop_loss":1,"take_profit_1":NaN,"take_profit_2":2,"take_profit_3":3}`,
			&fakeDispatcher{report: okReport()}, http.StatusBadRequest, "error"},
		{"NaN take profit as plain text", "text/plain; charset=utf-8",
			`{"action":"BUY","symbol":"BTCUSDT","price":1,"stop_loss":1,"take_profit_1":2,"take_profit_2":3,"take_profit_3": NaN}`,
			&fakeDispatcher{report: okReport()}, http.StatusBadRequest, "error"},
		{"quoted NaN is not a number", "application/json",
			`{"action":"BUY","symbol":"BTCUSDT","price":"NaN","stop_loss":1,"take_profit_1":2,"take_profit_2":3,"take_profit_3":4}`,
			&fakeDispatcher{report: okReport()}, http.StatusBadRequest, "error"},
		{"no eligible users", "application/json", validBody, &fakeDispatcher{err: ports.ErrNoEligibleUsers}, http.StatusBadRequest, "error"},
		{"dispatch error", "application/json", validBody, &fakeDispatcher{err: errors.New("db down")}, http.StatusInternalServerError, "error"},
		{"all users failed", "application/json", validBody, &fakeDispatcher{report: &app.Report{Results: []app.UserResult{{UserID: 1, Status: app.ResultFailed}}}},
			http.StatusInternalServerError, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.disp, "", nil)
			resp, out := post(t, ts.URL+"/webhook", tt.contentType, tt.body, nil)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.NotEmpty(t, out.Message)
		})
	}
}

func TestWebhook_ParsesSignal(t *testing.T) {
	disp := &fakeDispatcher{report: okReport()}
	ts := newTestServer(t, disp, "", nil)

	resp, out := post(t, ts.URL+"/webhook", "application/json", validBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, disp.got, 1)

	sig := disp.got[0]
	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.Equal(t, "BTCUSDT.P", sig.Symbol)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(50000)))
	assert.True(t, sig.TakeProfit(1).Equal(decimal.NewFromInt(52000)))
	assert.Len(t, out.Results, 2)
	assert.Equal(t, "signal executed for 1 of 2 users", out.Message)
}

func TestWebhook_MoveStopLossNeedsNoPrices(t *testing.T) {
	disp := &fakeDispatcher{report: okReport()}
	ts := newTestServer(t, disp, "", nil)

	resp, _ := post(t, ts.URL+"/webhook", "application/json", `{"action":"move_sl","symbol":"ETHUSDT","price":NaN}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, disp.got, 1)
	assert.Equal(t, domain.ActionMoveSL, disp.got[0].Action)
	assert.Nil(t, disp.got[0].TakeProfits)
}

func TestWebhook_NaNHandling(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantCode    int
		wantMessage string
		wantSymbol  string
	}{
		{
			name:        "unset take profit from a plain text alert",
			contentType: "text/plain; charset=utf-8",
			body:        `{"action":"BUY","symbol":"BTCUSDT","price":1,"stop_loss":1,"take_profit_1":2,"take_profit_2":3,"take_profit_3":NaN}`,
			wantCode:    http.StatusBadRequest,
			wantMessage: "take_profit_3 must be positive",
			wantSymbol:  "BTCUSDT",
		},
		{
			name:        "NaN inside a string value is kept",
			contentType: "text/plain",
			body:        `{"action":"MOVE_SL","symbol":"NaN-USDT","price":NaN}`,
			wantCode:    http.StatusOK,
			wantSymbol:  "NaN-USDT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp := &fakeDispatcher{report: okReport()}
			ts := newTestServer(t, disp, "", nil)

			resp, out := post(t, ts.URL+"/webhook", tt.contentType, tt.body, nil)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Contains(t, out.Message, tt.wantMessage)
			require.Len(t, disp.got, 1, "content type accepted and body parsed")
			assert.Equal(t, tt.wantSymbol, disp.got[0].Symbol)
		})
	}
}

func TestWebhook_Token(t *testing.T) {
	ts := newTestServer(t, &fakeDispatcher{report: okReport()}, "s3cret", nil)

	resp, _ := post(t, ts.URL+"/webhook", "application/json", validBody, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = post(t, ts.URL+"/webhook?token=wrong", "application/json", validBody, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = post(t, ts.URL+"/webhook?token=s3cret", "application/json", validBody, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = post(t, ts.URL+"/webhook", "application/json", validBody, map[string]string{tokenHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeDispatcher{}, "", nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminTrades(t *testing.T) {
	ledger := memory.NewLedger()
	ctx := context.Background()
	for _, tr := range []domain.Trade{
		{UserID: 1, Symbol: "BTC-USDT", Side: domain.Buy, PositionSide: domain.Long, Quantity: decimal.RequireFromString("0.01")},
		{UserID: 2, Symbol: "BTC-USDT", Side: domain.Sell, PositionSide: domain.Short},
		{UserID: 2, Symbol: "ETH-USDT", Side: domain.Buy, PositionSide: domain.Long},
	} {
		_, err := ledger.Open(ctx, &tr)
		require.NoError(t, err)
	}
	ts := newTestServer(t, &fakeDispatcher{}, "", ledger)

	get := func(path, token string) (*http.Response, map[string]json.RawMessage) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp, body
	}

	resp, _ := get("/admin/trades", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad, _, err := SignAdminToken("other-secret", "ops", time.Hour)
	require.NoError(t, err)
	resp, _ = get("/admin/trades", bad)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, _, err := SignAdminToken(jwtSecret, "ops", -time.Minute)
	require.NoError(t, err)
	resp, _ = get("/admin/trades", expired)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, _, err := SignAdminToken(jwtSecret, "ops", time.Hour)
	require.NoError(t, err)

	resp, body := get("/admin/trades?user_id=2", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", string(body["count"]))

	var trades []tradeView
	require.NoError(t, json.Unmarshal(body["trades"], &trades))
	assert.Equal(t, "ETH-USDT", trades[0].Symbol, "newest first")

	resp, _ = get("/admin/trades?status=bogus", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = get("/admin/trades?limit=1", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", string(body["count"]))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}
