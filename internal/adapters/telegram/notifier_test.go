package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		n        domain.Notification
		contains []string
	}{
		{
			name: "open long",
			n: domain.Notification{Action: "BUY", Symbol: "BTC-USDT", Exchange: domain.BingX, Price: d("50000"),
				StopLoss: d("49000"), TakeProfits: []decimal.Decimal{d("51000"), d("52000")}},
			contains: []string{"🟢 LONG BTC-USDT", "Entry: <code>50000</code>", "TP2: <code>52000</code>", "TP3: <code>-</code>", "SL: <code>49000</code>"},
		},
		{
			name:     "open short",
			n:        domain.Notification{Action: "SELL", Symbol: "ETH-USDT", Price: d("3000"), StopLoss: d("3100")},
			contains: []string{"🔴 SHORT ETH-USDT", "TP1: <code>-</code>"},
		},
		{
			name:     "close",
			n:        domain.Notification{Action: domain.CloseAction(domain.Long), Symbol: "BTC-USDT"},
			contains: []string{"LONG closed on BTC-USDT"},
		},
		{
			name:     "move sl",
			n:        domain.Notification{Action: "MOVE_SL", Symbol: "BTC-USDT", StopLoss: d("49950")},
			contains: []string{"breakeven", "New SL: <code>49950</code>"},
		},
		{
			name:     "failure escapes html",
			n:        domain.Notification{Action: domain.NotifyFailure, Symbol: "BTC-USDT", Message: "required <60> USDT"},
			contains: []string{"Signal not executed", "required &lt;60&gt; USDT"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := Render(tt.n)
			require.NoError(t, err)
			for _, c := range tt.contains {
				assert.Contains(t, text, c)
			}
		})
	}

	_, err := Render(domain.Notification{Action: "WAT"})
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))
}

func TestNotifier_Notify(t *testing.T) {
	var got sendMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	n, err := NewNotifier(Config{BotToken: "TOKEN", SupportContact: "@help", BaseURL: srv.URL, Logger: &mockLogger{}})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), domain.Notification{UserID: 42, Action: "BUY", Symbol: "BTC-USDT", Price: d("1")}))

	assert.Equal(t, int64(42), got.ChatID, "falls back to user id")
	assert.Equal(t, "HTML", got.ParseMode)
	require.NotNil(t, got.ReplyMarkup)
	assert.Equal(t, "https://t.me/help", got.ReplyMarkup.InlineKeyboard[0][0].URL)
}

func TestNotifier_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	n, err := NewNotifier(Config{BotToken: "T", BaseURL: srv.URL, Logger: &mockLogger{}})
	require.NoError(t, err)
	err = n.Notify(context.Background(), domain.Notification{UserID: 1, ChatID: 5, Action: "MOVE_SL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot was blocked")
}

func TestNewNotifier_RequiresToken(t *testing.T) {
	_, err := NewNotifier(Config{Logger: &mockLogger{}})
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))
}
