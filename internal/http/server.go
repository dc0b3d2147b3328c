// Package http exposes the signal webhook and the operator endpoints.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/app"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 100
	maxListLimit     = 1000
	tokenHeader      = "X-Webhook-Token"
)

// nanValue matches a bare NaN in value position, as alerting tools emit for
// unset plots. NaN inside a string is left alone.
var nanValue = regexp.MustCompile(`(:\s*)NaN\b`)

// webhookMediaTypes are the accepted Content-Types. TradingView sends alert
// bodies as text/plain even when they hold JSON.
var webhookMediaTypes = map[string]bool{"application/json": true, "text/plain": true}

// Dispatcher runs a validated signal for every eligible user.
type Dispatcher interface {
	Dispatch(ctx context.Context, sig domain.Signal) (*app.Report, error)
}

// TradeLister is the read side of the ledger used by the admin endpoints.
type TradeLister interface {
	ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error)
}

// Config holds server settings.
type Config struct {
	WebhookToken    string        // Optional shared secret for POST /webhook
	JWTSecret       string        // HS256 key for admin bearer tokens; admin routes are disabled when empty
	DispatchTimeout time.Duration // Upper bound for one signal across all users
	Logger          ports.Logger
}

// Server wires HTTP handlers to the signal engine.
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	trades     TradeLister
	logger     ports.Logger
}

// NewServer creates a server. trades may be nil when admin routes are not needed.
func NewServer(cfg Config, dispatcher Dispatcher, trades TradeLister) *Server {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 2 * time.Minute
	}
	return &Server{cfg: cfg, dispatcher: dispatcher, trades: trades, logger: cfg.Logger}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)

	if s.cfg.JWTSecret != "" && s.trades != nil {
		r.Group(func(protected chi.Router) {
			protected.Use(s.requireAdmin)
			protected.Get("/admin/trades", s.handleListTrades)
		})
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// webhookRequest accepts numbers either as JSON numbers or numeric strings.
type webhookRequest struct {
	Action      string              `json:"action"`
	Symbol      string              `json:"symbol"`
	Price       decimal.NullDecimal `json:"price"`
	StopLoss    decimal.NullDecimal `json:"stop_loss"`
	TakeProfit1 decimal.NullDecimal `json:"take_profit_1"`
	TakeProfit2 decimal.NullDecimal `json:"take_profit_2"`
	TakeProfit3 decimal.NullDecimal `json:"take_profit_3"`
}

type webhookResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Symbol  string           `json:"symbol,omitempty"`
	Results []app.UserResult `json:"results,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	op := "handleWebhook"
	ctx := r.Context()

	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || !webhookMediaTypes[mt] {
		writeWebhookError(w, http.StatusBadRequest, "Content-Type must be application/json or text/plain")
		return
	}
	if !s.webhookAuthorized(r) {
		s.logger.Warn(ctx, op+": Rejected webhook with invalid token", map[string]interface{}{"remote": r.RemoteAddr})
		writeWebhookError(w, http.StatusUnauthorized, "invalid webhook token")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeWebhookError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	sig, err := parseSignal(nanValue.ReplaceAll(raw, []byte("${1}null")))
	if err != nil {
		s.logger.Warn(ctx, op+": Malformed signal", map[string]interface{}{"error": err.Error()})
		writeWebhookError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info(ctx, op+": Signal received", map[string]interface{}{
		"action": sig.Action, "symbol": sig.Symbol, "price": sig.Price.String(),
	})

	// Orders already sent must be followed by their protective legs even if the caller hangs up.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
	defer cancel()
	report, err := s.dispatcher.Dispatch(dctx, sig)
	switch {
	case errors.Is(err, ports.ErrInvalidSignal), errors.Is(err, ports.ErrNoEligibleUsers):
		writeJSON(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: err.Error(), Symbol: sig.Symbol})
		return
	case err != nil:
		s.logger.Error(ctx, err, op+": Dispatch failed", map[string]interface{}{"symbol": sig.Symbol})
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Status: "error", Message: "signal processing failed", Symbol: sig.Symbol})
		return
	}

	resp := webhookResponse{Symbol: sig.Symbol, Results: report.Results}
	if !report.OK() {
		resp.Status = "error"
		resp.Message = fmt.Sprintf("signal failed for all %d users", len(report.Results))
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	resp.Status = "success"
	resp.Message = fmt.Sprintf("signal executed for %d of %d users", report.Succeeded(), len(report.Results))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) webhookAuthorized(r *http.Request) bool {
	if s.cfg.WebhookToken == "" {
		return true
	}
	got := r.Header.Get(tokenHeader)
	if got == "" {
		got = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookToken)) == 1
}

// parseSignal decodes a webhook body into a signal without validating values.
func parseSignal(body []byte) (domain.Signal, error) {
	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.Signal{}, fmt.Errorf("invalid JSON: %w", err)
	}
	action, ok := domain.ParseAction(req.Action)
	if !ok {
		return domain.Signal{}, fmt.Errorf("unknown action %q", req.Action)
	}
	sig := domain.Signal{
		Action:   action,
		Symbol:   strings.TrimSpace(req.Symbol),
		Price:    req.Price.Decimal,
		StopLoss: req.StopLoss.Decimal,
	}
	if sig.IsEntry() {
		sig.TakeProfits = []decimal.Decimal{req.TakeProfit1.Decimal, req.TakeProfit2.Decimal, req.TakeProfit3.Decimal}
	}
	return sig, nil
}

type tradeView struct {
	ID           string          `json:"id"`
	UserID       int64           `json:"user_id"`
	Exchange     domain.Exchange `json:"exchange"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	PositionSide string          `json:"position_side"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit1  decimal.Decimal `json:"take_profit_1"`
	TakeProfit2  decimal.Decimal `json:"take_profit_2"`
	TakeProfit3  decimal.Decimal `json:"take_profit_3"`
	OrderID      string          `json:"order_id"`
	SLOrderID    string          `json:"sl_order_id"`
	TP1OrderID   string          `json:"tp1_order_id"`
	TP2OrderID   string          `json:"tp2_order_id"`
	TP3OrderID   string          `json:"tp3_order_id"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

func newTradeView(t *domain.Trade) tradeView {
	v := tradeView{
		ID: t.ID, UserID: t.UserID, Exchange: t.Exchange, Symbol: t.Symbol,
		Side: string(t.Side), PositionSide: string(t.PositionSide),
		Quantity: t.Quantity, EntryPrice: t.EntryPrice, StopLoss: t.StopLoss,
		TakeProfit1: t.TakeProfit1, TakeProfit2: t.TakeProfit2, TakeProfit3: t.TakeProfit3,
		OrderID: t.OrderID, SLOrderID: t.SLOrderID, TP1OrderID: t.TP1OrderID, TP2OrderID: t.TP2OrderID, TP3OrderID: t.TP3OrderID,
		Status: string(t.Status), CreatedAt: t.CreatedAt,
	}
	if !t.ClosedAt.IsZero() {
		closed := t.ClosedAt
		v.ClosedAt = &closed
	}
	return v
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TradeFilter{Limit: defaultListLimit}
	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "user_id must be an integer")
			return
		}
		filter.UserID = id
	}
	switch status := domain.TradeStatus(q.Get("status")); status {
	case "", domain.StatusOpen, domain.StatusBreakeven, domain.StatusClosed:
		filter.Status = status
	default:
		writeError(w, http.StatusBadRequest, "status must be open, breakeven or closed")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		filter.Limit = n
	}

	trades, err := s.trades.ListTrades(r.Context(), filter)
	if err != nil {
		s.logger.Error(r.Context(), err, "handleListTrades: Failed to list trades")
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, newTradeView(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": out, "count": len(out)})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "HTTP request", map[string]interface{}{
			"requestID": middleware.GetReqID(r.Context()),
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"duration":  time.Since(start).String(),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeWebhookError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, webhookResponse{Status: "error", Message: msg})
}
