package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Action is the instruction carried by an inbound signal.
type Action string

const (
	ActionBuy    Action = "BUY"
	ActionSell   Action = "SELL"
	ActionMoveSL Action = "MOVE_SL"
)

// ParseAction maps the external spellings onto the core actions.
// LONG and SHORT are aliases of BUY and SELL.
func ParseAction(raw string) (Action, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return ActionBuy, true
	case "SELL", "SHORT":
		return ActionSell, true
	case "MOVE_SL":
		return ActionMoveSL, true
	default:
		return "", false
	}
}

// Signal is a normalized trading instruction. Symbol is in the
// exchange-agnostic form received from the alerting tool.
type Signal struct {
	Action      Action
	Symbol      string
	Price       decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfits []decimal.Decimal
}

// EntrySide returns the order side of an entry signal.
func (s Signal) EntrySide() OrderSide {
	if s.Action == ActionSell {
		return Sell
	}
	return Buy
}

// IsEntry reports whether the signal opens a position.
func (s Signal) IsEntry() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}

// TakeProfit returns the i-th (0-based) take-profit or zero when absent.
func (s Signal) TakeProfit(i int) decimal.Decimal {
	if i < 0 || i >= len(s.TakeProfits) {
		return decimal.Zero
	}
	return s.TakeProfits[i]
}
