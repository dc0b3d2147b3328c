// Package telegram delivers trade notifications through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

const defaultBaseURL = "https://api.telegram.org"

// Config holds Bot API settings.
type Config struct {
	BotToken       string
	SupportContact string // "@handle" shown as an inline button
	BaseURL        string
	HTTPClient     *http.Client
	Logger         ports.Logger
}

// Notifier implements ports.Notifier.
type Notifier struct {
	token   string
	support string
	baseURL string
	client  *http.Client
	logger  ports.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier creates a Telegram notifier.
func NewNotifier(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for telegram notifier")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is required", ports.ErrConfigurationError)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Notifier{
		token:   cfg.BotToken,
		support: strings.TrimPrefix(cfg.SupportContact, "@"),
		baseURL: baseURL,
		client:  client,
		logger:  cfg.Logger,
	}, nil
}

type button struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type replyMarkup struct {
	InlineKeyboard [][]button `json:"inline_keyboard"`
}

type sendMessage struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Notify renders n and sends it to the user's chat.
func (t *Notifier) Notify(ctx context.Context, n domain.Notification) error {
	op := "Notify"
	text, err := Render(n)
	if err != nil {
		return fmt.Errorf("%s failed: render: %w", op, err)
	}
	chatID := n.ChatID
	if chatID == 0 {
		chatID = n.UserID
	}
	msg := sendMessage{ChatID: chatID, Text: text, ParseMode: "HTML"}
	if t.support != "" {
		msg.ReplyMarkup = &replyMarkup{InlineKeyboard: [][]button{{
			{Text: "📞 Support", URL: "https://t.me/" + t.support},
		}}}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil || !out.OK {
		return fmt.Errorf("%s failed: telegram status %d: %s", op, resp.StatusCode, out.Description)
	}
	t.logger.Debug(ctx, "Telegram message sent", map[string]interface{}{"userID": n.UserID, "action": n.Action})
	return nil
}

var funcs = template.FuncMap{
	"num": func(d decimal.Decimal) string { return d.String() },
	"tp": func(tps []decimal.Decimal, i int) string {
		if i < len(tps) && !tps[i].IsZero() {
			return tps[i].String()
		}
		return "-"
	},
}

var (
	openTmpl = template.Must(template.New("open").Funcs(funcs).Parse(
		`<b>{{.Icon}} {{.Side}} {{.N.Symbol}}</b>
Exchange: {{.N.Exchange}}
Entry: <code>{{num .N.Price}}</code>
TP1: <code>{{tp .N.TakeProfits 0}}</code>
TP2: <code>{{tp .N.TakeProfits 1}}</code>
TP3: <code>{{tp .N.TakeProfits 2}}</code>
SL: <code>{{num .N.StopLoss}}</code>`))

	closeTmpl = template.Must(template.New("close").Funcs(funcs).Parse(
		`<b>⚪ {{.Side}} closed on {{.N.Symbol}}</b>
Exchange: {{.N.Exchange}}
The opposite position was closed before the new entry.`))

	moveSLTmpl = template.Must(template.New("movesl").Funcs(funcs).Parse(
		`<b>🛡 Stop-loss moved to breakeven</b>
{{.N.Symbol}} on {{.N.Exchange}}
New SL: <code>{{num .N.StopLoss}}</code>`))

	failureTmpl = template.Must(template.New("failure").Funcs(funcs).Parse(
		`<b>⚠️ Signal not executed</b>
{{.N.Symbol}} on {{.N.Exchange}}
Reason: {{.N.Message}}`))
)

type view struct {
	N    domain.Notification
	Side string
	Icon string
}

// Render returns the HTML message for n.
func Render(n domain.Notification) (string, error) {
	v := view{N: n}
	var tmpl *template.Template
	switch {
	case n.Action == string(domain.ActionBuy):
		v.Side, v.Icon, tmpl = "LONG", "🟢", openTmpl
	case n.Action == string(domain.ActionSell):
		v.Side, v.Icon, tmpl = "SHORT", "🔴", openTmpl
	case strings.HasPrefix(n.Action, "CLOSE_"):
		v.Side, tmpl = strings.TrimPrefix(n.Action, "CLOSE_"), closeTmpl
	case n.Action == string(domain.ActionMoveSL):
		tmpl = moveSLTmpl
	case n.Action == domain.NotifyFailure:
		tmpl = failureTmpl
	default:
		return "", fmt.Errorf("%w: unknown notification action %q", ports.ErrInvalidRequest, n.Action)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}
