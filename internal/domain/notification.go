package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotifyFailure is the action of a per-user failure notice.
const NotifyFailure = "FAILED"

// CloseAction returns the notification action for a closed position side.
func CloseAction(side PositionSide) string {
	return "CLOSE_" + string(side)
}

// Notification is an outbound event for one user.
type Notification struct {
	UserID      int64             `json:"user_id"`
	ChatID      int64             `json:"chat_id"`
	Exchange    Exchange          `json:"exchange"`
	Action      string            `json:"action"`
	Symbol      string            `json:"symbol"`
	Price       decimal.Decimal   `json:"price"`
	StopLoss    decimal.Decimal   `json:"stop_loss"`
	TakeProfits []decimal.Decimal `json:"take_profits,omitempty"`
	TradeID     string            `json:"trade_id,omitempty"`
	Message     string            `json:"message,omitempty"`
	At          time.Time         `json:"at"`
}
